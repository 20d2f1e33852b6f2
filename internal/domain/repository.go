package domain

import (
	"cmp"
	"context"
	"errors"
	"time"
)

// Repository is the persistence port for datasets and incidents.
type Repository interface {
	IncidentReader

	// DatasetExists reports whether a dataset with the given file path exists.
	DatasetExists(ctx context.Context, filePath string) (bool, error)

	// InTx runs fn inside a single write transaction. The transaction commits
	// only if fn returns nil; any error rolls back every write made through tx.
	InTx(ctx context.Context, fn func(ctx context.Context, tx IngestTx) error) error

	// ReadSnapshot runs fn against a consistent read-only view of the store.
	ReadSnapshot(ctx context.Context, fn func(ctx context.Context, r IncidentReader) error) error

	// CheckReadiness returns nil if the store is reachable.
	CheckReadiness(ctx context.Context) error
}

// IngestTx is the write surface available inside Repository.InTx.
type IngestTx interface {
	DatasetExists(ctx context.Context, filePath string) (bool, error)

	// InsertDataset persists d and returns it with its assigned ID. A file path
	// collision returns *ConflictError.
	InsertDataset(ctx context.Context, d Dataset) (Dataset, error)

	// BulkInsertIncidents inserts incidents under datasetID in chunks of at
	// most batchSize rows and returns the number inserted.
	BulkInsertIncidents(ctx context.Context, datasetID int64, incidents []Incident, batchSize int) (int, error)
}

// IncidentReader is the query surface over persisted incidents.
type IncidentReader interface {
	// GetDataset returns *NotFoundError for an unknown id.
	GetDataset(ctx context.Context, id int64) (Dataset, error)
	ListDatasets(ctx context.Context) ([]DatasetSummary, error)
	CountIncidents(ctx context.Context, datasetID int64) (int, error)

	// AggregateLocationCounts groups geocoded incidents by
	// (area name, location, lat, lon). Incidents with a null coordinate are
	// excluded.
	AggregateLocationCounts(ctx context.Context, datasetID int64) ([]LocationStat, error)

	// RepresentativeIncident returns the lowest-id incident recorded at the
	// given area and location.
	RepresentativeIncident(ctx context.Context, datasetID int64, areaName, location string) (Incident, error)

	QueryIncidents(ctx context.Context, q IncidentQuery) (IncidentPage, error)
	CountBy(ctx context.Context, datasetID int64, dim ChartDimension, r DateRange) ([]ChartBucket, error)
}

// DateRange bounds OccurredAt. Zero times are open ends; End is inclusive
// of the whole day it names.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.EndExclusive()) {
		return false
	}
	return true
}

// EndExclusive returns the first instant after End's day.
func (r DateRange) EndExclusive() time.Time {
	y, m, d := r.End.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, r.End.Location())
}

// IncidentQuery selects one page of a dataset's incidents ordered by
// occurrence time, newest first.
type IncidentQuery struct {
	DatasetID int64
	Range     DateRange
	Search    string // case-insensitive match on description, location, area
	Page      int    // 1-based
	PageSize  int
}

// IncidentPage is one page of QueryIncidents results.
type IncidentPage struct {
	Incidents []Incident `json:"crimes"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
}

// ChartDimension selects the grouping column for CountBy.
type ChartDimension string

const (
	ByArea ChartDimension = "area"
	ByType ChartDimension = "type"
	ByHour ChartDimension = "hour"
)

// ChartBucket is one group of a CountBy result.
type ChartBucket struct {
	Label string `db:"label" json:"label"`
	Count int    `db:"incident_count" json:"count"`
}

// ErrUnknownDimension is returned by CountBy for an unsupported dimension.
var ErrUnknownDimension = errors.New("unknown chart dimension")

// ParseChartDimension validates a dimension name.
func ParseChartDimension(s string) (ChartDimension, error) {
	switch d := ChartDimension(s); d {
	case ByArea, ByType, ByHour:
		return d, nil
	default:
		return "", ErrUnknownDimension
	}
}

// CompareBuckets orders CountBy results: hours chronologically, everything
// else by descending count then label.
func CompareBuckets(dim ChartDimension) func(a, b ChartBucket) int {
	if dim == ByHour {
		return func(a, b ChartBucket) int { return cmp.Compare(a.Label, b.Label) }
	}
	return func(a, b ChartBucket) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Label, b.Label))
	}
}

// HourLabel returns the two-digit hour of an HH:MM:SS time.
func HourLabel(timeOccurred string) string {
	if len(timeOccurred) < 2 {
		return ""
	}
	return timeOccurred[:2]
}
