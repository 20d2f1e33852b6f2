package domain

// Source column names as they appear in the export header.
const (
	ColDRNo              = "DR_NO"
	ColDateReported      = "Date Rptd"
	ColDateOccurred      = "DATE OCC"
	ColTimeOccurred      = "TIME OCC"
	ColAreaID            = "AREA"
	ColAreaName          = "AREA NAME"
	ColReportingDistrict = "Rpt Dist No"
	ColPart12            = "Part 1-2"
	ColCrimeCode         = "Crm Cd"
	ColCrimeCodeDesc     = "Crm Cd Desc"
	ColMOCodes           = "Mocodes"
	ColVictimAge         = "Vict Age"
	ColVictimSex         = "Vict Sex"
	ColVictimDescent     = "Vict Descent"
	ColPremiseCode       = "Premis Cd"
	ColPremiseDesc       = "Premis Desc"
	ColWeaponCode        = "Weapon Used Cd"
	ColWeaponDesc        = "Weapon Desc"
	ColStatus            = "Status"
	ColStatusDesc        = "Status Desc"
	ColCrimeCode1        = "Crm Cd 1"
	ColCrimeCode2        = "Crm Cd 2"
	ColCrimeCode3        = "Crm Cd 3"
	ColCrimeCode4        = "Crm Cd 4"
	ColLocation          = "LOCATION"
	ColCrossStreet       = "Cross Street"
	ColLat               = "LAT"
	ColLon               = "LON"
)

// ExpectedColumns is the full header of a crime export. Every name must be
// present; extra columns are ignored.
var ExpectedColumns = []string{
	ColDRNo, ColDateReported, ColDateOccurred, ColTimeOccurred,
	ColAreaID, ColAreaName, ColReportingDistrict, ColPart12,
	ColCrimeCode, ColCrimeCodeDesc, ColMOCodes,
	ColVictimAge, ColVictimSex, ColVictimDescent,
	ColPremiseCode, ColPremiseDesc, ColWeaponCode, ColWeaponDesc,
	ColStatus, ColStatusDesc,
	ColCrimeCode1, ColCrimeCode2, ColCrimeCode3, ColCrimeCode4,
	ColLocation, ColCrossStreet, ColLat, ColLon,
}
