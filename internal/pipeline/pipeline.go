package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/couchcryptid/crime-data-service/internal/domain"
	"github.com/couchcryptid/crime-data-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Transformer converts a parsed export into incidents ready to load.
type Transformer interface {
	Transform(ctx context.Context, table *domain.Table, createdAt time.Time) (domain.Normalized, error)
}

// IngestResult summarizes one committed ingest.
type IngestResult struct {
	Dataset      domain.Dataset
	RowsRead     int
	RowsFiltered int
	RowsInserted int
	Geocoded     int
	DateFormat   domain.DateFormat
	NullCounts   map[string]int
}

// Pipeline orchestrates the extract-transform-load of one export file.
type Pipeline struct {
	repo        domain.Repository
	transformer Transformer
	publisher   domain.EventPublisher
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
	batchSize   int
}

// New creates a Pipeline. publisher may be nil to disable event publication.
func New(repo domain.Repository, t Transformer, publisher domain.EventPublisher, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		repo:        repo,
		transformer: t,
		publisher:   publisher,
		clock:       clock,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// CheckReadiness returns nil if the backing store is reachable.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	return p.repo.CheckReadiness(ctx)
}

// Ingest reads one CSV export from r and stores it as a new dataset named
// name. Either every kept row is committed or nothing is: a returned error
// means no dataset row exists for name as a result of this call.
func (p *Pipeline) Ingest(ctx context.Context, r io.Reader, name string) (IngestResult, error) {
	start := p.clock.Now()

	res, err := p.ingest(ctx, r, name, start)
	p.metrics.IngestRequests.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		p.logger.Warn("ingest failed", "file_path", name, "error", err)
		return IngestResult{}, err
	}

	elapsed := p.clock.Since(start)
	p.metrics.IngestDuration.Observe(elapsed.Seconds())
	p.metrics.IngestRows.WithLabelValues("read").Add(float64(res.RowsRead))
	p.metrics.IngestRows.WithLabelValues("filtered").Add(float64(res.RowsFiltered))
	p.metrics.IngestRows.WithLabelValues("inserted").Add(float64(res.RowsInserted))
	for col, n := range res.NullCounts {
		p.metrics.NullCoercions.WithLabelValues(col).Add(float64(n))
	}

	p.logger.Info("dataset ingested",
		"dataset_id", res.Dataset.ID,
		"file_path", name,
		"date_format", res.DateFormat.String(),
		"rows_read", res.RowsRead,
		"rows_filtered", res.RowsFiltered,
		"rows_inserted", res.RowsInserted,
		"geocoded", res.Geocoded,
		"duration", elapsed,
	)

	p.publish(ctx, domain.DatasetEvent{
		Type:         domain.EventDatasetIngested,
		DatasetID:    res.Dataset.ID,
		FilePath:     name,
		OccurredAt:   p.clock.Now(),
		RowsRead:     res.RowsRead,
		RowsFiltered: res.RowsFiltered,
		RowsInserted: res.RowsInserted,
	})
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, r io.Reader, name string, start time.Time) (IngestResult, error) {
	exists, err := p.repo.DatasetExists(ctx, name)
	if err != nil {
		return IngestResult{}, &domain.StorageError{Op: "check dataset", Err: err}
	}
	if exists {
		return IngestResult{}, &domain.ConflictError{FilePath: name}
	}

	table, err := domain.ReadTable(r)
	if err != nil {
		return IngestResult{}, err
	}

	norm, err := p.transformer.Transform(ctx, table, start)
	if err != nil {
		return IngestResult{}, fmt.Errorf("transform %s: %w", name, err)
	}

	res := IngestResult{
		RowsRead:     norm.RowsRead,
		RowsFiltered: norm.RowsFiltered,
		Geocoded:     norm.Geocoded,
		DateFormat:   norm.DateFormat,
		NullCounts:   norm.NullCounts,
	}

	err = p.repo.InTx(ctx, func(ctx context.Context, tx domain.IngestTx) error {
		exists, err := tx.DatasetExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			return &domain.ConflictError{FilePath: name}
		}

		ds, err := tx.InsertDataset(ctx, domain.Dataset{FilePath: name, CreatedAt: start})
		if err != nil {
			return err
		}
		n, err := tx.BulkInsertIncidents(ctx, ds.ID, norm.Incidents, p.batchSize)
		if err != nil {
			return err
		}
		res.Dataset = ds
		res.RowsInserted = n
		return nil
	})
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return IngestResult{}, err
		}
		return IngestResult{}, &domain.StorageError{Op: "load dataset", Err: err}
	}
	return res, nil
}

func (p *Pipeline) publish(ctx context.Context, event domain.DatasetEvent) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.Warn("publish event failed", "type", event.Type, "dataset_id", event.DatasetID, "error", err)
	}
}

// outcome maps an ingest error to its metrics label.
func outcome(err error) string {
	var (
		conflict   *domain.ConflictError
		schema     *domain.SchemaError
		validation *domain.ValidationError
		storage    *domain.StorageError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &schema):
		return "schema_error"
	case errors.As(err, &validation):
		return "validation_error"
	case errors.As(err, &storage):
		return "storage_error"
	default:
		return "error"
	}
}
