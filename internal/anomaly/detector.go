package anomaly

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/crime-data-service/internal/domain"
	"github.com/couchcryptid/crime-data-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Detector runs anomaly detection over persisted datasets.
type Detector struct {
	repo      domain.Repository
	publisher domain.EventPublisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewDetector creates a Detector. publisher may be nil.
func NewDetector(repo domain.Repository, publisher domain.EventPublisher, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Detector {
	return &Detector{
		repo:      repo,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Detect scores every geocoded location of the dataset against its area and
// returns the anomalous ones. All reads see one consistent snapshot.
//
// An unknown dataset returns *domain.NotFoundError; any other store failure
// returns *domain.AnalysisError.
func (d *Detector) Detect(ctx context.Context, datasetID int64) (domain.AnomalyReport, error) {
	start := d.clock.Now()

	var (
		report  domain.AnomalyReport
		dataset domain.Dataset
	)
	err := d.repo.ReadSnapshot(ctx, func(ctx context.Context, r domain.IncidentReader) error {
		var err error
		dataset, err = r.GetDataset(ctx, datasetID)
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return err
		}
		if err != nil {
			return &domain.AnalysisError{Op: "get dataset", Err: err}
		}
		report, err = detect(ctx, r, datasetID)
		return err
	})
	if err != nil {
		err = classify(err)
		d.metrics.DetectRuns.WithLabelValues(detectOutcome(err)).Inc()
		d.logger.Warn("anomaly detection failed", "dataset_id", datasetID, "error", err)
		return domain.AnomalyReport{}, err
	}

	elapsed := d.clock.Since(start)
	report.AnalysisTimeSeconds = elapsed.Seconds()

	d.metrics.DetectRuns.WithLabelValues("success").Inc()
	d.metrics.DetectDuration.Observe(elapsed.Seconds())
	d.metrics.AnomaliesFound.Observe(float64(report.AnomalyCount))
	d.logger.Info("anomaly detection complete",
		"dataset_id", datasetID,
		"total_analyzed", report.TotalAnalyzed,
		"anomaly_count", report.AnomalyCount,
		"duration", elapsed,
	)

	if d.publisher != nil {
		event := domain.DatasetEvent{
			Type:          domain.EventDatasetAnalyzed,
			DatasetID:     datasetID,
			FilePath:      dataset.FilePath,
			OccurredAt:    d.clock.Now(),
			TotalAnalyzed: report.TotalAnalyzed,
			AnomalyCount:  report.AnomalyCount,
		}
		if err := d.publisher.Publish(ctx, event); err != nil {
			d.logger.Warn("publish event failed", "type", event.Type, "dataset_id", datasetID, "error", err)
		}
	}
	return report, nil
}

func detect(ctx context.Context, r domain.IncidentReader, datasetID int64) (domain.AnomalyReport, error) {
	total, err := r.CountIncidents(ctx, datasetID)
	if err != nil {
		return domain.AnomalyReport{}, &domain.AnalysisError{Op: "count incidents", Err: err}
	}

	locs, err := r.AggregateLocationCounts(ctx, datasetID)
	if err != nil {
		return domain.AnomalyReport{}, &domain.AnalysisError{Op: "aggregate locations", Err: err}
	}

	candidates := Rank(locs)
	anomalies := make([]domain.Anomaly, 0, len(candidates))
	for _, c := range candidates {
		rep, err := r.RepresentativeIncident(ctx, datasetID, c.AreaName, c.Location)
		if err != nil {
			return domain.AnomalyReport{}, &domain.AnalysisError{Op: "representative incident", Err: err}
		}
		anomalies = append(anomalies, newAnomaly(c, rep))
	}

	return domain.AnomalyReport{
		DatasetID:     datasetID,
		Anomalies:     anomalies,
		TotalAnalyzed: total,
		AnomalyCount:  len(anomalies),
	}, nil
}

func newAnomaly(c Candidate, rep domain.Incident) domain.Anomaly {
	return domain.Anomaly{
		ID:                 rep.ID,
		Lat:                c.Lat,
		Lon:                c.Lon,
		AreaName:           c.AreaName,
		Location:           c.Location,
		DateTimeOcc:        rep.OccurredAt,
		TimeOcc:            rep.TimeOccurred,
		CrimeCodeDesc:      rep.CrimeCodeDesc,
		StatusDesc:         rep.StatusDesc,
		CrimeCount:         c.Count,
		AreaAverage:        c.Area.Mean,
		ZScore:             c.Score,
		ConfidenceScore:    Confidence(c.Score),
		AnomalyDescription: Describe(c.Count, c.Area),
	}
}

// classify keeps NotFoundError and AnalysisError as they are and wraps
// everything else.
func classify(err error) error {
	var (
		notFound *domain.NotFoundError
		analysis *domain.AnalysisError
	)
	if errors.As(err, &notFound) || errors.As(err, &analysis) {
		return err
	}
	return &domain.AnalysisError{Op: "read snapshot", Err: err}
}

func detectOutcome(err error) string {
	var analysis *domain.AnalysisError
	if errors.As(err, &analysis) {
		return "error"
	}
	return "not_found"
}
