package domain

import "time"

// Dataset represents one ingested export file.
type Dataset struct {
	ID        int64     `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	FilePath  string    `db:"file_path" json:"file_path"`
}

// DatasetSummary is a Dataset with its persisted incident count.
type DatasetSummary struct {
	Dataset
	IncidentCount int `db:"incident_count" json:"incident_count"`
}

// Incident is one normalized crime record. Field order and db tags match the
// persisted incident table.
type Incident struct {
	ID                int64     `db:"id" json:"id"`
	DatasetID         int64     `db:"dataset_id" json:"dataset_id"`
	DRNo              string    `db:"dr_no" json:"dr_no"`
	DateReported      time.Time `db:"date_rptd" json:"date_rptd"`
	OccurredAt        time.Time `db:"date_time_occ" json:"date_time_occ"`
	TimeOccurred      string    `db:"time_occ" json:"time_occ"` // HH:MM:SS
	AreaID            int64     `db:"area_id" json:"area_id"`
	AreaName          string    `db:"area_name" json:"area_name"`
	ReportingDistrict string    `db:"rpt_dist_no" json:"rpt_dist_no"`
	Part1             bool      `db:"part_1" json:"part_1"`
	CrimeCode         string    `db:"crime_code" json:"crime_code"`
	CrimeCodeDesc     string    `db:"crime_code_desc" json:"crime_code_desc"`
	MOCodes           string    `db:"mocodes" json:"mocodes"`
	VictimAge         *int64    `db:"vict_age" json:"vict_age"`
	VictimSex         string    `db:"vict_sex" json:"vict_sex"`
	VictimDescent     string    `db:"vict_descent" json:"vict_descent"`
	PremiseCode       *string   `db:"premis_cd" json:"premis_cd"`
	PremiseDesc       string    `db:"premis_desc" json:"premis_desc"`
	WeaponCode        *string   `db:"weapon_used_cd" json:"weapon_used_cd"`
	WeaponDesc        string    `db:"weapon_desc" json:"weapon_desc"`
	Status            string    `db:"status" json:"status"`
	StatusDesc        string    `db:"status_desc" json:"status_desc"`
	CrimeCode1        *string   `db:"crm_cd_1" json:"crm_cd_1"`
	CrimeCode2        *string   `db:"crm_cd_2" json:"crm_cd_2"`
	CrimeCode3        *string   `db:"crm_cd_3" json:"crm_cd_3"`
	CrimeCode4        *string   `db:"crm_cd_4" json:"crm_cd_4"`
	Location          string    `db:"location" json:"location"`
	CrossStreet       string    `db:"cross_street" json:"cross_street"`
	Lat               *float64  `db:"lat" json:"lat"`
	Lon               *float64  `db:"lon" json:"lon"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Geocoded reports whether both coordinates are present.
func (i Incident) Geocoded() bool {
	return i.Lat != nil && i.Lon != nil
}

// LocationStat counts the incidents sharing one (area, location, lat, lon) key.
type LocationStat struct {
	AreaName string  `db:"area_name"`
	Location string  `db:"location"`
	Lat      float64 `db:"lat"`
	Lon      float64 `db:"lon"`
	Count    int     `db:"incident_count"`
}

// AreaStat summarizes LocationStat counts across one area. Defined is false
// when the spread is degenerate (a single location or zero variance), in which
// case no z-score can be computed against it.
type AreaStat struct {
	AreaName  string
	Mean      float64
	StdDev    float64
	Locations int
	Defined   bool
}

// Anomaly is a location flagged as an outlier, described by a representative
// incident at that location.
type Anomaly struct {
	ID                 int64     `json:"id"`
	Lat                float64   `json:"lat"`
	Lon                float64   `json:"lon"`
	AreaName           string    `json:"area_name"`
	Location           string    `json:"location"`
	DateTimeOcc        time.Time `json:"date_time_occ"`
	TimeOcc            string    `json:"time_occ"`
	CrimeCodeDesc      string    `json:"crime_code_desc"`
	StatusDesc         string    `json:"status_desc"`
	CrimeCount         int       `json:"crime_count"`
	AreaAverage        float64   `json:"area_average"`
	ZScore             float64   `json:"z_score"`
	ConfidenceScore    float64   `json:"confidence_score"`
	AnomalyDescription string    `json:"anomaly_description"`
}

// AnomalyReport is the result of one detection pass over a dataset.
type AnomalyReport struct {
	DatasetID           int64     `json:"dataset_id"`
	Anomalies           []Anomaly `json:"anomalies"`
	TotalAnalyzed       int       `json:"total_analyzed"`
	AnomalyCount        int       `json:"anomaly_count"`
	AnalysisTimeSeconds float64   `json:"analysis_time_seconds"`
}
