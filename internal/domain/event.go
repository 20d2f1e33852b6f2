package domain

import (
	"context"
	"time"
)

// Dataset event types.
const (
	EventDatasetIngested = "dataset.ingested"
	EventDatasetAnalyzed = "dataset.analyzed"
)

// DatasetEvent announces a completed ingest or detection run. Count fields
// not relevant to Type are zero.
type DatasetEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	DatasetID  int64     `json:"dataset_id"`
	FilePath   string    `json:"file_path"`
	OccurredAt time.Time `json:"occurred_at"`

	RowsRead     int `json:"rows_read,omitempty"`
	RowsFiltered int `json:"rows_filtered,omitempty"`
	RowsInserted int `json:"rows_inserted,omitempty"`

	TotalAnalyzed int `json:"total_analyzed,omitempty"`
	AnomalyCount  int `json:"anomaly_count,omitempty"`
}

// EventPublisher delivers dataset events to downstream consumers. Delivery is
// best effort; callers log failures and carry on.
type EventPublisher interface {
	Publish(ctx context.Context, event DatasetEvent) error
}
