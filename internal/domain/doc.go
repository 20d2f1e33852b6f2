// Package domain models municipal crime-incident exports and the records
// derived from them.
//
// # Data Source
//
// Incident files are CSV exports of the Los Angeles Police Department
// "Crime Data from 2020 to Present" dataset. Each row is one reported crime.
// Columns are addressed by header name; their order in the file is irrelevant.
// The expected header set is [ExpectedColumns].
//
// # Export Conventions
//
// Dates:
//
//	Two encodings appear in the wild, and a given file uses one of them:
//	  ISO:      "2024-03-05"
//	  US short: "03/05/2024 12:00:00 AM" (time part is always midnight)
//	The format is chosen once per file from the first row's "Date Rptd"
//	value: a hyphen means ISO. See [DetectDateFormat].
//
// Time of occurrence:
//
//	"TIME OCC" is HHMM in 24-hour notation with leading zeros dropped by
//	spreadsheet tooling, e.g. "930" = 09:30 and "5" = 00:05. Values are
//	zero-padded to four digits before parsing.
//
// Classification tier:
//
//	"Part 1-2" is 1 for Part I (serious) offenses and 2 otherwise.
//
// Codes:
//
//	Premise, weapon, and the four "Crm Cd N" columns are numeric codes that
//	spreadsheet exports sometimes render as floats ("510.0"). They are stored
//	as text with the float artifact removed and leading zeros preserved.
//	Crime code, reporting district, DR number, MO codes, and status are kept
//	verbatim.
//
// Coordinates:
//
//	"LAT"/"LON" are WGS-84 decimal degrees. Unparseable or empty values
//	become null; only incidents with both coordinates take part in anomaly
//	detection.
//
// # Temporal Scope
//
// Only incidents that occurred in [TargetYear] are ingested. Rows from other
// years are dropped without error.
package domain
