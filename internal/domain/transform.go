package domain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TargetYear is the only occurrence year ingested.
const TargetYear = 2024

// DateFormat is the encoding used by both date columns of one file.
type DateFormat int

const (
	DateFormatUnknown DateFormat = iota
	DateFormatISO
	DateFormatUS
)

const (
	isoLayout = "2006-01-02"
	usLayout  = "01/02/2006 03:04:05 PM"
)

// Example returns the human-readable pattern for error messages.
func (f DateFormat) Example() string {
	switch f {
	case DateFormatISO:
		return "YYYY-MM-DD"
	case DateFormatUS:
		return "MM/DD/YYYY hh:mm:ss AM/PM"
	default:
		return "unknown"
	}
}

func (f DateFormat) String() string {
	switch f {
	case DateFormatISO:
		return "iso"
	case DateFormatUS:
		return "us"
	default:
		return "unknown"
	}
}

// codeRe matches numeric codes, tolerating the ".0" suffix left by float
// exports: "510" and "510.0" both yield "510", "0510" keeps its zero.
var codeRe = regexp.MustCompile(`^(\d+)(?:\.0+)?$`)

// isoTimeSuffixRe matches the time part some ISO exports append to the date.
var isoTimeSuffixRe = regexp.MustCompile(`^(?:T\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?| \d{2}:\d{2}:\d{2}(?:\.\d+)?)$`)

var errEmpty = errors.New("empty value")

// Table is a parsed CSV export addressed by column name.
type Table struct {
	index map[string]int
	rows  [][]string
	lines []int
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Value returns the trimmed cell at row for the named column, or "" when the
// row is short.
func (t *Table) Value(row int, column string) string {
	idx, ok := t.index[column]
	if !ok || idx >= len(t.rows[row]) {
		return ""
	}
	return strings.TrimSpace(t.rows[row][idx])
}

// Line returns the 1-based source line on which row starts.
func (t *Table) Line(row int) int { return t.lines[row] }

// ReadTable parses a CSV export and verifies that every expected column is
// present in the header.
func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &SchemaError{Missing: append([]string(nil), ExpectedColumns...)}
	}
	if err != nil {
		return nil, &SchemaError{Reason: err.Error()}
	}

	t := &Table{index: make(map[string]int, len(header))}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := t.index[h]; !dup {
			t.index[h] = i
		}
	}

	var missing []string
	for _, col := range ExpectedColumns {
		if _, ok := t.index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &SchemaError{Reason: err.Error()}
		}
		line, _ := cr.FieldPos(0)
		t.rows = append(t.rows, rec)
		t.lines = append(t.lines, line)
	}
	return t, nil
}

// DetectDateFormat picks the file-wide date encoding from one sample value:
// a hyphen means ISO, anything else the US short-date form.
func DetectDateFormat(sample string) DateFormat {
	if strings.Contains(sample, "-") {
		return DateFormatISO
	}
	return DateFormatUS
}

// ParseDate parses raw in format f and returns the calendar day at UTC
// midnight.
func ParseDate(f DateFormat, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	var (
		t   time.Time
		err error
	)
	switch f {
	case DateFormatISO:
		if len(raw) > len(isoLayout) {
			if !isoTimeSuffixRe.MatchString(raw[len(isoLayout):]) {
				return time.Time{}, fmt.Errorf("does not match %s format", f.Example())
			}
			raw = raw[:len(isoLayout)]
		}
		t, err = time.Parse(isoLayout, raw)
	case DateFormatUS:
		t, err = time.Parse(usLayout, raw)
	default:
		return time.Time{}, errors.New("unknown date format")
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("does not match %s format", f.Example())
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// ParseHHMM parses a 24-hour HHMM value, zero-padding short inputs
// ("930" -> 09:30).
func ParseHHMM(raw string) (hour, minute int, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0, errEmpty
	}
	if len(raw) > 4 {
		return 0, 0, errors.New("expected at most 4 digits")
	}
	raw = strings.Repeat("0", 4-len(raw)) + raw

	hour, errH := strconv.Atoi(raw[:2])
	minute, errM := strconv.Atoi(raw[2:])
	if errH != nil || errM != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, errors.New("not a valid HHMM time")
	}
	return hour, minute, nil
}

// ParseOptionalInt parses an integer, accepting integral floats ("34.0").
// Empty input yields nil without error.
func ParseOptionalInt(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return &v, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return nil, errors.New("not an integer")
	}
	v := int64(f)
	return &v, nil
}

// ParseOptionalFloat parses a finite float. Empty input yields nil without
// error.
func ParseOptionalFloat(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, errors.New("not a number")
	}
	return &v, nil
}

// ParseCode normalizes a numeric code to its digit string. Empty input
// yields nil without error.
func ParseCode(raw string) (*string, error) {
	if raw == "" {
		return nil, nil
	}
	m := codeRe.FindStringSubmatch(raw)
	if m == nil {
		return nil, errors.New("not a numeric code")
	}
	return &m[1], nil
}

// Coercion converts one source column into its Incident field. Strict
// coercions abort the ingest on failure; the others leave the field null and
// the failure is counted.
type Coercion struct {
	Column string
	Strict bool
	Apply  func(inc *Incident, raw string) error
}

// Coercions is applied in order, column by column, to every kept row. Date
// columns are handled before the year filter and are not listed here.
var Coercions = []Coercion{
	{Column: ColTimeOccurred, Strict: true, Apply: applyTimeOccurred},
	{Column: ColAreaID, Strict: true, Apply: applyAreaID},
	{Column: ColDRNo, Apply: text(func(i *Incident) *string { return &i.DRNo })},
	{Column: ColAreaName, Apply: text(func(i *Incident) *string { return &i.AreaName })},
	{Column: ColReportingDistrict, Apply: text(func(i *Incident) *string { return &i.ReportingDistrict })},
	{Column: ColPart12, Apply: func(i *Incident, raw string) error {
		i.Part1 = raw == "1"
		return nil
	}},
	{Column: ColCrimeCode, Apply: text(func(i *Incident) *string { return &i.CrimeCode })},
	{Column: ColCrimeCodeDesc, Apply: text(func(i *Incident) *string { return &i.CrimeCodeDesc })},
	{Column: ColMOCodes, Apply: text(func(i *Incident) *string { return &i.MOCodes })},
	{Column: ColVictimAge, Apply: optionalInt(func(i *Incident) **int64 { return &i.VictimAge })},
	{Column: ColVictimSex, Apply: text(func(i *Incident) *string { return &i.VictimSex })},
	{Column: ColVictimDescent, Apply: text(func(i *Incident) *string { return &i.VictimDescent })},
	{Column: ColPremiseCode, Apply: code(func(i *Incident) **string { return &i.PremiseCode })},
	{Column: ColPremiseDesc, Apply: text(func(i *Incident) *string { return &i.PremiseDesc })},
	{Column: ColWeaponCode, Apply: code(func(i *Incident) **string { return &i.WeaponCode })},
	{Column: ColWeaponDesc, Apply: text(func(i *Incident) *string { return &i.WeaponDesc })},
	{Column: ColStatus, Apply: text(func(i *Incident) *string { return &i.Status })},
	{Column: ColStatusDesc, Apply: text(func(i *Incident) *string { return &i.StatusDesc })},
	{Column: ColCrimeCode1, Apply: code(func(i *Incident) **string { return &i.CrimeCode1 })},
	{Column: ColCrimeCode2, Apply: code(func(i *Incident) **string { return &i.CrimeCode2 })},
	{Column: ColCrimeCode3, Apply: code(func(i *Incident) **string { return &i.CrimeCode3 })},
	{Column: ColCrimeCode4, Apply: code(func(i *Incident) **string { return &i.CrimeCode4 })},
	{Column: ColLocation, Apply: text(func(i *Incident) *string { return &i.Location })},
	{Column: ColCrossStreet, Apply: text(func(i *Incident) *string { return &i.CrossStreet })},
	{Column: ColLat, Apply: optionalFloat(func(i *Incident) **float64 { return &i.Lat })},
	{Column: ColLon, Apply: optionalFloat(func(i *Incident) **float64 { return &i.Lon })},
}

// applyTimeOccurred expects OccurredAt to already hold the occurrence date.
func applyTimeOccurred(inc *Incident, raw string) error {
	hour, minute, err := ParseHHMM(raw)
	if err != nil {
		return err
	}
	y, m, d := inc.OccurredAt.Date()
	inc.OccurredAt = time.Date(y, m, d, hour, minute, 0, 0, time.UTC)
	inc.TimeOccurred = fmt.Sprintf("%02d:%02d:00", hour, minute)
	return nil
}

func applyAreaID(inc *Incident, raw string) error {
	v, err := ParseOptionalInt(raw)
	if err != nil {
		return err
	}
	if v == nil {
		return errEmpty
	}
	inc.AreaID = *v
	return nil
}

func text(field func(*Incident) *string) func(*Incident, string) error {
	return func(inc *Incident, raw string) error {
		*field(inc) = raw
		return nil
	}
}

func optionalInt(field func(*Incident) **int64) func(*Incident, string) error {
	return func(inc *Incident, raw string) error {
		v, err := ParseOptionalInt(raw)
		*field(inc) = v
		return err
	}
}

func optionalFloat(field func(*Incident) **float64) func(*Incident, string) error {
	return func(inc *Incident, raw string) error {
		v, err := ParseOptionalFloat(raw)
		*field(inc) = v
		return err
	}
}

func code(field func(*Incident) **string) func(*Incident, string) error {
	return func(inc *Incident, raw string) error {
		v, err := ParseCode(raw)
		*field(inc) = v
		return err
	}
}

// Normalized is the output of Normalize.
type Normalized struct {
	Incidents    []Incident
	RowsRead     int
	RowsFiltered int
	DateFormat   DateFormat
	NullCounts   map[string]int // non-strict coercion failures by column
	Geocoded     int            // incidents whose coordinates came from a geocoder
}

// Normalize converts every TargetYear row of t into an Incident stamped with
// createdAt. DatasetID is left zero for the loader to assign.
func Normalize(t *Table, createdAt time.Time) (Normalized, error) {
	out := Normalized{RowsRead: t.Len(), NullCounts: make(map[string]int)}
	if t.Len() == 0 {
		return out, nil
	}
	out.DateFormat = DetectDateFormat(t.Value(0, ColDateReported))

	occurred, err := parseDateColumn(t, ColDateOccurred, out.DateFormat)
	if err != nil {
		return Normalized{}, err
	}
	reported, err := parseDateColumn(t, ColDateReported, out.DateFormat)
	if err != nil {
		return Normalized{}, err
	}

	keep := make([]int, 0, t.Len())
	for i := range occurred {
		if occurred[i].Year() == TargetYear {
			keep = append(keep, i)
		}
	}
	out.RowsFiltered = t.Len() - len(keep)

	incidents := make([]Incident, len(keep))
	for j, i := range keep {
		incidents[j].OccurredAt = occurred[i]
		incidents[j].DateReported = reported[i]
		incidents[j].CreatedAt = createdAt
	}

	for _, c := range Coercions {
		for j, i := range keep {
			raw := t.Value(i, c.Column)
			if err := c.Apply(&incidents[j], raw); err != nil {
				if c.Strict {
					return Normalized{}, &ValidationError{Column: c.Column, Line: t.Line(i), Value: raw, Reason: err.Error()}
				}
				out.NullCounts[c.Column]++
			}
		}
	}

	out.Incidents = incidents
	return out, nil
}

func parseDateColumn(t *Table, column string, f DateFormat) ([]time.Time, error) {
	dates := make([]time.Time, t.Len())
	for i := range dates {
		raw := t.Value(i, column)
		d, err := ParseDate(f, raw)
		if err != nil {
			return nil, &ValidationError{Column: column, Line: t.Line(i), Value: raw, Reason: err.Error()}
		}
		dates[i] = d
	}
	return dates, nil
}
