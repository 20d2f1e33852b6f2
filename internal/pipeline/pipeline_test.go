package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/crime-data-service/internal/adapter/memstore"
	"github.com/couchcryptid/crime-data-service/internal/domain"
	"github.com/couchcryptid/crime-data-service/internal/observability"
	"github.com/couchcryptid/crime-data-service/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "../../data/mock/crime_data_sample.csv"

var ingestStart = time.Date(2024, time.June, 1, 8, 30, 0, 0, time.UTC)

// --- mocks ---

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.DatasetEvent
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, event domain.DatasetEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

type failingTransformer struct{ err error }

func (f failingTransformer) Transform(context.Context, *domain.Table, time.Time) (domain.Normalized, error) {
	return domain.Normalized{}, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store     *memstore.Store
	publisher *mockPublisher
	metrics   *observability.Metrics
	pipeline  *pipeline.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memstore.New(),
		publisher: &mockPublisher{},
		metrics:   observability.NewMetricsForTesting(),
	}
	f.pipeline = pipeline.New(
		f.store,
		pipeline.NewTransformer(nil, discardLogger()),
		f.publisher,
		clockwork.NewFakeClockAt(ingestStart),
		discardLogger(),
		f.metrics,
		2,
	)
	return f
}

func openSample(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Open(sampleCSV)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// --- tests ---

func TestIngest_SampleFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.pipeline.Ingest(ctx, openSample(t), "crime_data_sample.csv")
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Dataset.ID)
	assert.Equal(t, ingestStart, res.Dataset.CreatedAt)
	assert.Equal(t, 5, res.RowsRead)
	assert.Equal(t, 1, res.RowsFiltered)
	assert.Equal(t, 4, res.RowsInserted)
	assert.Equal(t, domain.DateFormatUS, res.DateFormat)
	assert.Equal(t, map[string]int{domain.ColVictimAge: 1}, res.NullCounts)

	n, err := f.store.CountIncidents(ctx, res.Dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	page, err := f.store.QueryIncidents(ctx, domain.IncidentQuery{DatasetID: res.Dataset.ID, Page: 1, PageSize: 10})
	require.NoError(t, err)
	for _, inc := range page.Incidents {
		assert.Equal(t, domain.TargetYear, inc.OccurredAt.Year())
		assert.Equal(t, ingestStart, inc.CreatedAt)
		assert.Equal(t, res.Dataset.ID, inc.DatasetID)
	}

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.IngestRequests.WithLabelValues("success")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(f.metrics.IngestRows.WithLabelValues("inserted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.NullCoercions.WithLabelValues(domain.ColVictimAge)), 0)
}

func TestIngest_PublishesEvent(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Ingest(context.Background(), openSample(t), "sample.csv")
	require.NoError(t, err)

	want := []domain.DatasetEvent{{
		Type:         domain.EventDatasetIngested,
		DatasetID:    res.Dataset.ID,
		FilePath:     "sample.csv",
		OccurredAt:   ingestStart,
		RowsRead:     5,
		RowsFiltered: 1,
		RowsInserted: 4,
	}}
	if diff := cmp.Diff(want, f.publisher.events); diff != "" {
		t.Fatalf("published events mismatch (-want +got):\n%s", diff)
	}
}

func TestIngest_PublishFailureDoesNotUndoIngest(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	res, err := f.pipeline.Ingest(context.Background(), openSample(t), "sample.csv")
	require.NoError(t, err)

	_, err = f.store.GetDataset(context.Background(), res.Dataset.ID)
	assert.NoError(t, err)
}

func TestIngest_DuplicateName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.pipeline.Ingest(ctx, openSample(t), "sample.csv")
	require.NoError(t, err)

	_, err = f.pipeline.Ingest(ctx, openSample(t), "sample.csv")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "sample.csv", conflict.FilePath)

	n, err := f.store.CountIncidents(ctx, first.Dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	list, err := f.store.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.IngestRequests.WithLabelValues("conflict")), 0)
}

func TestIngest_MissingColumnCreatesNoDataset(t *testing.T) {
	f := newFixture(t)
	data := "DR_NO,Date Rptd,DATE OCC\n1,2024-01-01,2024-01-01\n"

	_, err := f.pipeline.Ingest(context.Background(), strings.NewReader(data), "broken.csv")

	var schemaErr *domain.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Contains(t, schemaErr.Missing, domain.ColAreaID)

	exists, err := f.store.DatasetExists(context.Background(), "broken.csv")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, f.publisher.events)
}

func TestIngest_ValidationErrorCreatesNoDataset(t *testing.T) {
	f := newFixture(t)
	header := strings.Join(domain.ExpectedColumns, ",")
	row := make([]string, len(domain.ExpectedColumns))
	for i, col := range domain.ExpectedColumns {
		switch col {
		case domain.ColDateReported, domain.ColDateOccurred:
			row[i] = "2024-02-02"
		case domain.ColTimeOccurred:
			row[i] = "1200"
		case domain.ColAreaID:
			row[i] = "north"
		}
	}
	data := header + "\n" + strings.Join(row, ",") + "\n"

	_, err := f.pipeline.Ingest(context.Background(), strings.NewReader(data), "bad-area.csv")

	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, domain.ColAreaID, valErr.Column)
	exists, _ := f.store.DatasetExists(context.Background(), "bad-area.csv")
	assert.False(t, exists)
}

func TestIngest_StoreFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn(memstore.OpInsertIncidents, errors.New("connection reset"))

	_, err := f.pipeline.Ingest(context.Background(), openSample(t), "sample.csv")

	var storageErr *domain.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.ErrorContains(t, err, "connection reset")

	list, err := f.store.ListDatasets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.publisher.events)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.IngestRequests.WithLabelValues("storage_error")), 0)
}

func TestIngest_TransformErrorIsWrapped(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	p := pipeline.New(f.store, failingTransformer{err: boom}, nil,
		clockwork.NewFakeClockAt(ingestStart), discardLogger(), f.metrics, 2)

	_, err := p.Ingest(context.Background(), openSample(t), "sample.csv")
	assert.ErrorIs(t, err, boom)
}

func TestIngest_HeaderOnlyCreatesEmptyDataset(t *testing.T) {
	f := newFixture(t)
	data := strings.Join(domain.ExpectedColumns, ",") + "\n"

	res, err := f.pipeline.Ingest(context.Background(), strings.NewReader(data), "empty.csv")
	require.NoError(t, err)
	assert.Equal(t, 0, res.RowsInserted)

	_, err = f.store.GetDataset(context.Background(), res.Dataset.ID)
	assert.NoError(t, err)
}

func TestPipeline_CheckReadiness(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.pipeline.CheckReadiness(context.Background()))
}
