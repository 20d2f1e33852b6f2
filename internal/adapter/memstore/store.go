// Package memstore is an in-memory domain.Repository. Writes made through
// InTx are applied to a private copy that replaces the live state only on
// commit.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/couchcryptid/crime-data-service/internal/domain"
)

// Operation names accepted by FailOn.
const (
	OpInsertDataset   = "insert_dataset"
	OpInsertIncidents = "insert_incidents"
	OpAggregate       = "aggregate"
	OpCount           = "count"
	OpRepresentative  = "representative"
)

// Store implements domain.Repository in memory.
type Store struct {
	mu       sync.RWMutex
	st       *state
	failures map[string]error
}

// New returns an empty Store.
func New() *Store {
	s := &Store{failures: make(map[string]error)}
	s.st = &state{fail: s.failure}
	return s
}

// FailOn makes every later call of op return err. OpInsertIncidents fails
// after the first batch has been written, so callers can observe rollback.
// Call it before the store is shared between goroutines.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) failure(op string) error {
	return s.failures[op]
}

func (s *Store) DatasetExists(ctx context.Context, filePath string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.DatasetExists(ctx, filePath)
}

// InTx serializes writers. fn sees its own uncommitted writes; other readers
// see the previous state until fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.IngestTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, r domain.IncidentReader) error) error {
	s.mu.RLock()
	snap := s.st
	s.mu.RUnlock()
	// Committed states are never mutated, so the pointer is a stable snapshot.
	return fn(ctx, snap)
}

func (s *Store) CheckReadiness(context.Context) error { return nil }

func (s *Store) GetDataset(ctx context.Context, id int64) (domain.Dataset, error) {
	return s.current().GetDataset(ctx, id)
}

func (s *Store) ListDatasets(ctx context.Context) ([]domain.DatasetSummary, error) {
	return s.current().ListDatasets(ctx)
}

func (s *Store) CountIncidents(ctx context.Context, datasetID int64) (int, error) {
	return s.current().CountIncidents(ctx, datasetID)
}

func (s *Store) AggregateLocationCounts(ctx context.Context, datasetID int64) ([]domain.LocationStat, error) {
	return s.current().AggregateLocationCounts(ctx, datasetID)
}

func (s *Store) RepresentativeIncident(ctx context.Context, datasetID int64, areaName, location string) (domain.Incident, error) {
	return s.current().RepresentativeIncident(ctx, datasetID, areaName, location)
}

func (s *Store) QueryIncidents(ctx context.Context, q domain.IncidentQuery) (domain.IncidentPage, error) {
	return s.current().QueryIncidents(ctx, q)
}

func (s *Store) CountBy(ctx context.Context, datasetID int64, dim domain.ChartDimension, r domain.DateRange) ([]domain.ChartBucket, error) {
	return s.current().CountBy(ctx, datasetID, dim, r)
}

func (s *Store) current() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

// state is one version of the store contents. A committed state is
// read-only; InTx works on a clone.
type state struct {
	datasets       []domain.Dataset
	incidents      []domain.Incident
	nextDatasetID  int64
	nextIncidentID int64
	fail           func(op string) error
}

func (st *state) clone() *state {
	return &state{
		datasets:       slices.Clone(st.datasets),
		incidents:      slices.Clone(st.incidents),
		nextDatasetID:  st.nextDatasetID,
		nextIncidentID: st.nextIncidentID,
		fail:           st.fail,
	}
}

func (st *state) DatasetExists(_ context.Context, filePath string) (bool, error) {
	return slices.ContainsFunc(st.datasets, func(d domain.Dataset) bool { return d.FilePath == filePath }), nil
}

func (st *state) InsertDataset(ctx context.Context, d domain.Dataset) (domain.Dataset, error) {
	if err := st.fail(OpInsertDataset); err != nil {
		return domain.Dataset{}, err
	}
	if exists, _ := st.DatasetExists(ctx, d.FilePath); exists {
		return domain.Dataset{}, &domain.ConflictError{FilePath: d.FilePath}
	}
	st.nextDatasetID++
	d.ID = st.nextDatasetID
	st.datasets = append(st.datasets, d)
	return d, nil
}

func (st *state) BulkInsertIncidents(_ context.Context, datasetID int64, incidents []domain.Incident, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = len(incidents)
	}
	inserted := 0
	for chunk := range slices.Chunk(incidents, max(batchSize, 1)) {
		if inserted > 0 {
			if err := st.fail(OpInsertIncidents); err != nil {
				return inserted, err
			}
		}
		for _, inc := range chunk {
			st.nextIncidentID++
			inc.ID = st.nextIncidentID
			inc.DatasetID = datasetID
			st.incidents = append(st.incidents, inc)
		}
		inserted += len(chunk)
	}
	return inserted, nil
}

func (st *state) GetDataset(_ context.Context, id int64) (domain.Dataset, error) {
	for _, d := range st.datasets {
		if d.ID == id {
			return d, nil
		}
	}
	return domain.Dataset{}, &domain.NotFoundError{Resource: "dataset", ID: strconv.FormatInt(id, 10)}
}

func (st *state) ListDatasets(context.Context) ([]domain.DatasetSummary, error) {
	counts := make(map[int64]int)
	for _, inc := range st.incidents {
		counts[inc.DatasetID]++
	}
	out := make([]domain.DatasetSummary, 0, len(st.datasets))
	for i := len(st.datasets) - 1; i >= 0; i-- {
		d := st.datasets[i]
		out = append(out, domain.DatasetSummary{Dataset: d, IncidentCount: counts[d.ID]})
	}
	return out, nil
}

func (st *state) CountIncidents(_ context.Context, datasetID int64) (int, error) {
	if err := st.fail(OpCount); err != nil {
		return 0, err
	}
	n := 0
	for _, inc := range st.incidents {
		if inc.DatasetID == datasetID {
			n++
		}
	}
	return n, nil
}

type locationKey struct {
	area, location string
	lat, lon       float64
}

func (st *state) AggregateLocationCounts(_ context.Context, datasetID int64) ([]domain.LocationStat, error) {
	if err := st.fail(OpAggregate); err != nil {
		return nil, err
	}
	counts := make(map[locationKey]int)
	for _, inc := range st.incidents {
		if inc.DatasetID != datasetID || !inc.Geocoded() {
			continue
		}
		counts[locationKey{inc.AreaName, inc.Location, *inc.Lat, *inc.Lon}]++
	}

	out := make([]domain.LocationStat, 0, len(counts))
	for k, n := range counts {
		out = append(out, domain.LocationStat{AreaName: k.area, Location: k.location, Lat: k.lat, Lon: k.lon, Count: n})
	}
	slices.SortFunc(out, func(a, b domain.LocationStat) int {
		return cmp.Or(
			cmp.Compare(a.AreaName, b.AreaName),
			cmp.Compare(a.Location, b.Location),
			cmp.Compare(a.Lat, b.Lat),
			cmp.Compare(a.Lon, b.Lon),
		)
	})
	return out, nil
}

func (st *state) RepresentativeIncident(_ context.Context, datasetID int64, areaName, location string) (domain.Incident, error) {
	if err := st.fail(OpRepresentative); err != nil {
		return domain.Incident{}, err
	}
	var (
		best  domain.Incident
		found bool
	)
	for _, inc := range st.incidents {
		if inc.DatasetID != datasetID || inc.AreaName != areaName || inc.Location != location {
			continue
		}
		if !found || inc.ID < best.ID {
			best, found = inc, true
		}
	}
	if !found {
		return domain.Incident{}, &domain.NotFoundError{Resource: "incident", ID: areaName + "/" + location}
	}
	return best, nil
}

func (st *state) QueryIncidents(_ context.Context, q domain.IncidentQuery) (domain.IncidentPage, error) {
	search := strings.ToLower(q.Search)
	var matched []domain.Incident
	for _, inc := range st.incidents {
		if inc.DatasetID != q.DatasetID || !q.Range.Contains(inc.OccurredAt) {
			continue
		}
		if search != "" && !matchesSearch(inc, search) {
			continue
		}
		matched = append(matched, inc)
	}
	slices.SortFunc(matched, func(a, b domain.Incident) int {
		return cmp.Or(b.OccurredAt.Compare(a.OccurredAt), cmp.Compare(a.ID, b.ID))
	})

	page := domain.IncidentPage{Total: len(matched), Page: q.Page, PageSize: q.PageSize, Incidents: []domain.Incident{}}
	start := (q.Page - 1) * q.PageSize
	if start < 0 || start >= len(matched) {
		return page, nil
	}
	end := min(start+q.PageSize, len(matched))
	page.Incidents = matched[start:end]
	return page, nil
}

func matchesSearch(inc domain.Incident, lowered string) bool {
	for _, field := range []string{inc.CrimeCodeDesc, inc.Location, inc.AreaName} {
		if strings.Contains(strings.ToLower(field), lowered) {
			return true
		}
	}
	return false
}

func (st *state) CountBy(_ context.Context, datasetID int64, dim domain.ChartDimension, r domain.DateRange) ([]domain.ChartBucket, error) {
	label, err := chartLabel(dim)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, inc := range st.incidents {
		if inc.DatasetID == datasetID && r.Contains(inc.OccurredAt) {
			counts[label(inc)]++
		}
	}
	out := make([]domain.ChartBucket, 0, len(counts))
	for l, n := range counts {
		out = append(out, domain.ChartBucket{Label: l, Count: n})
	}
	slices.SortFunc(out, domain.CompareBuckets(dim))
	return out, nil
}

func chartLabel(dim domain.ChartDimension) (func(domain.Incident) string, error) {
	switch dim {
	case domain.ByArea:
		return func(i domain.Incident) string { return i.AreaName }, nil
	case domain.ByType:
		return func(i domain.Incident) string { return i.CrimeCodeDesc }, nil
	case domain.ByHour:
		return func(i domain.Incident) string { return domain.HourLabel(i.TimeOccurred) }, nil
	default:
		return nil, domain.ErrUnknownDimension
	}
}
