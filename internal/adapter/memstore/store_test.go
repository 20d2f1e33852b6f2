package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/crime-data-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func incident(area, location string, lat, lon *float64, occurred time.Time) domain.Incident {
	return domain.Incident{
		AreaName:      area,
		Location:      location,
		Lat:           lat,
		Lon:           lon,
		OccurredAt:    occurred,
		TimeOccurred:  occurred.Format("15:04:05"),
		CrimeCodeDesc: "BATTERY - SIMPLE ASSAULT",
	}
}

func seed(t *testing.T, s *Store, name string, incidents ...domain.Incident) int64 {
	t.Helper()
	var id int64
	err := s.InTx(context.Background(), func(ctx context.Context, tx domain.IngestTx) error {
		d, err := tx.InsertDataset(ctx, domain.Dataset{FilePath: name, CreatedAt: time.Now()})
		if err != nil {
			return err
		}
		id = d.ID
		_, err = tx.BulkInsertIncidents(ctx, d.ID, incidents, 2)
		return err
	})
	require.NoError(t, err)
	return id
}

var day = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func TestInTx_RollbackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx domain.IngestTx) error {
		_, err := tx.InsertDataset(ctx, domain.Dataset{FilePath: "a.csv"})
		require.NoError(t, err)
		return errors.New("abort")
	})
	require.Error(t, err)

	exists, err := s.DatasetExists(ctx, "a.csv")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInTx_FailureMidInsertLeavesNothing(t *testing.T) {
	s := New()
	s.FailOn(OpInsertIncidents, errors.New("disk full"))
	ctx := context.Background()

	incidents := make([]domain.Incident, 5)
	var inserted int
	err := s.InTx(ctx, func(ctx context.Context, tx domain.IngestTx) error {
		d, err := tx.InsertDataset(ctx, domain.Dataset{FilePath: "a.csv"})
		require.NoError(t, err)
		inserted, err = tx.BulkInsertIncidents(ctx, d.ID, incidents, 2)
		return err
	})

	require.Error(t, err)
	assert.Equal(t, 2, inserted)
	list, err := s.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestInsertDataset_Conflict(t *testing.T) {
	s := New()
	seed(t, s, "a.csv")

	err := s.InTx(context.Background(), func(ctx context.Context, tx domain.IngestTx) error {
		_, err := tx.InsertDataset(ctx, domain.Dataset{FilePath: "a.csv"})
		return err
	})

	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestGetDataset_NotFound(t *testing.T) {
	_, err := New().GetDataset(context.Background(), 42)

	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "42", nf.ID)
}

func TestListDatasets_NewestFirstWithCounts(t *testing.T) {
	s := New()
	first := seed(t, s, "a.csv", domain.Incident{}, domain.Incident{})
	second := seed(t, s, "b.csv", domain.Incident{})

	list, err := s.ListDatasets(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, 1, list[0].IncidentCount)
	assert.Equal(t, first, list[1].ID)
	assert.Equal(t, 2, list[1].IncidentCount)
}

func TestAggregateLocationCounts(t *testing.T) {
	s := New()
	lat, lon := ptr(34.05), ptr(-118.25)
	id := seed(t, s, "a.csv",
		incident("Central", "MAIN ST", lat, lon, day),
		incident("Central", "MAIN ST", lat, lon, day),
		incident("Central", "MAIN ST", nil, lon, day),
		incident("Central", "SPRING ST", ptr(34.06), ptr(-118.24), day),
		incident("Rampart", "SUNSET BL", ptr(34.07), ptr(-118.26), day),
	)
	seed(t, s, "b.csv", incident("Central", "MAIN ST", lat, lon, day))

	stats, err := s.AggregateLocationCounts(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, []domain.LocationStat{
		{AreaName: "Central", Location: "MAIN ST", Lat: 34.05, Lon: -118.25, Count: 2},
		{AreaName: "Central", Location: "SPRING ST", Lat: 34.06, Lon: -118.24, Count: 1},
		{AreaName: "Rampart", Location: "SUNSET BL", Lat: 34.07, Lon: -118.26, Count: 1},
	}, stats)
}

func TestRepresentativeIncident_LowestID(t *testing.T) {
	s := New()
	a := incident("Central", "MAIN ST", nil, nil, day)
	a.DRNo = "first"
	b := incident("Central", "MAIN ST", nil, nil, day)
	b.DRNo = "second"
	id := seed(t, s, "a.csv", a, b)

	rep, err := s.RepresentativeIncident(context.Background(), id, "Central", "MAIN ST")
	require.NoError(t, err)
	assert.Equal(t, "first", rep.DRNo)

	_, err = s.RepresentativeIncident(context.Background(), id, "Central", "ELSEWHERE")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestQueryIncidents(t *testing.T) {
	s := New()
	var incs []domain.Incident
	for i := range 5 {
		incs = append(incs, incident("Central", "MAIN ST", nil, nil, day.AddDate(0, 0, i)))
	}
	incs[4].CrimeCodeDesc = "VEHICLE - STOLEN"
	id := seed(t, s, "a.csv", incs...)
	ctx := context.Background()

	page, err := s.QueryIncidents(ctx, domain.IncidentQuery{DatasetID: id, Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Incidents, 2)
	assert.Equal(t, day.AddDate(0, 0, 4), page.Incidents[0].OccurredAt)

	page, err = s.QueryIncidents(ctx, domain.IncidentQuery{DatasetID: id, Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page.Incidents, 1)

	page, err = s.QueryIncidents(ctx, domain.IncidentQuery{DatasetID: id, Page: 1, PageSize: 10, Search: "stolen"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	r := domain.DateRange{Start: day.AddDate(0, 0, 1), End: day.AddDate(0, 0, 2)}
	page, err = s.QueryIncidents(ctx, domain.IncidentQuery{DatasetID: id, Page: 1, PageSize: 10, Range: r})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestCountBy(t *testing.T) {
	s := New()
	id := seed(t, s, "a.csv",
		incident("Central", "A", nil, nil, day.Add(9*time.Hour)),
		incident("Central", "B", nil, nil, day.Add(22*time.Hour)),
		incident("Rampart", "C", nil, nil, day.Add(9*time.Hour+30*time.Minute)),
	)
	ctx := context.Background()

	byArea, err := s.CountBy(ctx, id, domain.ByArea, domain.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, []domain.ChartBucket{{Label: "Central", Count: 2}, {Label: "Rampart", Count: 1}}, byArea)

	byHour, err := s.CountBy(ctx, id, domain.ByHour, domain.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, []domain.ChartBucket{{Label: "09", Count: 2}, {Label: "22", Count: 1}}, byHour)

	_, err = s.CountBy(ctx, id, domain.ChartDimension("weekday"), domain.DateRange{})
	assert.ErrorIs(t, err, domain.ErrUnknownDimension)
}

func TestReadSnapshot_IgnoresLaterCommits(t *testing.T) {
	s := New()
	id := seed(t, s, "a.csv", domain.Incident{})
	ctx := context.Background()

	err := s.ReadSnapshot(ctx, func(ctx context.Context, r domain.IncidentReader) error {
		seed(t, s, "b.csv", domain.Incident{}, domain.Incident{})
		n, err := r.CountIncidents(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		list, err := r.ListDatasets(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
		return nil
	})
	require.NoError(t, err)
}
