package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/crime-data-service/internal/domain"
	"github.com/gorilla/mux"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
	dateParamLayout = "2006-01-02"
)

var chartDimensions = map[string]domain.ChartDimension{
	"crimes-by-area": domain.ByArea,
	"crimes-by-type": domain.ByType,
	"crimes-by-time": domain.ByHour,
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type uploadResponse struct {
	Success      bool           `json:"success"`
	DatasetID    int64          `json:"datasetId"`
	Message      string         `json:"message"`
	RowsInserted int            `json:"rows_inserted"`
	RowsFiltered int            `json:"rows_filtered"`
	NullCounts   map[string]int `json:"null_counts"`
}

type datasetResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"createdAt"`
	RowCount    int       `json:"rowCount"`
	ColumnCount int       `json:"columnCount"`
}

// datasetDetailResponse is the dataset summary plus its most recent
// incidents.
type datasetDetailResponse struct {
	Dataset datasetResponse   `json:"dataset"`
	Records []domain.Incident `json:"records"`
}

type detectResponse struct {
	Success             bool             `json:"success"`
	Anomalies           []domain.Anomaly `json:"anomalies"`
	AnomalyCount        int              `json:"anomaly_count"`
	TotalAnalyzed       int              `json:"total_analyzed"`
	AnalysisTimeSeconds float64          `json:"analysis_time_seconds"`
	Message             string           `json:"message"`
}

type crimesResponse struct {
	domain.IncidentPage
	TotalPages int `json:"total_pages"`
}

type chartResponse struct {
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

func newDatasetResponse(d domain.Dataset, rows int) datasetResponse {
	return datasetResponse{
		ID:          d.ID,
		Name:        d.FilePath,
		CreatedAt:   d.CreatedAt,
		RowCount:    rows,
		ColumnCount: len(domain.ExpectedColumns),
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "too_large",
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.writeError(w, http.StatusBadRequest, "bad_request", "multipart field \"file\" is required")
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp files only
	}
	if header.Filename == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "uploaded file has no name")
		return
	}

	res, err := s.deps.Ingester.Ingest(r.Context(), file, header.Filename)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		Success:   true,
		DatasetID: res.Dataset.ID,
		Message: fmt.Sprintf("dataset %s uploaded: %d rows inserted, %d rows filtered",
			header.Filename, res.RowsInserted, res.RowsFiltered),
		RowsInserted: res.RowsInserted,
		RowsFiltered: res.RowsFiltered,
		NullCounts:   res.NullCounts,
	})
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Reader.ListDatasets(r.Context())
	if err != nil {
		s.writeDomainError(w, &domain.StorageError{Op: "list datasets", Err: err})
		return
	}
	out := make([]datasetResponse, 0, len(list))
	for _, d := range list {
		out = append(out, newDatasetResponse(d.Dataset, d.IncidentCount))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.datasetID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	d, err := s.deps.Reader.GetDataset(ctx, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	first, err := s.deps.Reader.QueryIncidents(ctx, domain.IncidentQuery{
		DatasetID: id,
		Page:      1,
		PageSize:  defaultPageSize,
	})
	if err != nil {
		s.writeDomainError(w, &domain.StorageError{Op: "query incidents", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, datasetDetailResponse{
		Dataset: newDatasetResponse(d, first.Total),
		Records: first.Incidents,
	})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	id, ok := s.datasetID(w, r)
	if !ok {
		return
	}

	report, err := s.deps.Detector.Detect(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detectResponse{
		Success:             true,
		Anomalies:           report.Anomalies,
		AnomalyCount:        report.AnomalyCount,
		TotalAnalyzed:       report.TotalAnalyzed,
		AnalysisTimeSeconds: report.AnalysisTimeSeconds,
		Message:             fmt.Sprintf("found %d anomalies among %d crimes", report.AnomalyCount, report.TotalAnalyzed),
	})
}

func (s *Server) handleCrimes(w http.ResponseWriter, r *http.Request) {
	id, ok := s.datasetID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	page, err := intParam(q, "page", 1, 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	pageSize, err := intParam(q, "page_size", defaultPageSize, maxPageSize)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	dr, err := dateRange(q)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	ctx := r.Context()
	if _, err := s.deps.Reader.GetDataset(ctx, id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	result, err := s.deps.Reader.QueryIncidents(ctx, domain.IncidentQuery{
		DatasetID: id,
		Range:     dr,
		Search:    q.Get("search"),
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		s.writeDomainError(w, &domain.StorageError{Op: "query incidents", Err: err})
		return
	}

	writeJSON(w, http.StatusOK, crimesResponse{
		IncidentPage: result,
		TotalPages:   (result.Total + pageSize - 1) / pageSize,
	})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	dim, ok := chartDimensions[mux.Vars(r)["chart"]]
	if !ok {
		s.writeError(w, http.StatusNotFound, "not_found", "unknown chart "+mux.Vars(r)["chart"])
		return
	}
	id, ok := s.datasetID(w, r)
	if !ok {
		return
	}
	dr, err := dateRange(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	ctx := r.Context()
	if _, err := s.deps.Reader.GetDataset(ctx, id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	buckets, err := s.deps.Reader.CountBy(ctx, id, dim, dr)
	if err != nil {
		s.writeDomainError(w, &domain.StorageError{Op: "count by " + string(dim), Err: err})
		return
	}

	resp := chartResponse{Labels: make([]string, 0, len(buckets)), Values: make([]int, 0, len(buckets))}
	for _, b := range buckets {
		resp.Labels = append(resp.Labels, b.Label)
		resp.Values = append(resp.Values, b.Count)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) datasetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid dataset id %q", raw))
		return 0, false
	}
	return id, true
}

// intParam parses a positive integer query parameter. A zero limit means
// unbounded.
func intParam(q url.Values, name string, def, limit int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	if limit > 0 && n > limit {
		return 0, fmt.Errorf("%s must be at most %d, got %d", name, limit, n)
	}
	return n, nil
}

func dateRange(q url.Values) (domain.DateRange, error) {
	var dr domain.DateRange
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{
		{"start_date", &dr.Start},
		{"end_date", &dr.End},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(dateParamLayout, raw)
		if err != nil {
			return domain.DateRange{}, fmt.Errorf("invalid %s %q, expected YYYY-MM-DD", p.name, raw)
		}
		*p.dst = t
	}
	if !dr.Start.IsZero() && !dr.End.IsZero() && dr.End.Before(dr.Start) {
		return domain.DateRange{}, errors.New("end_date is before start_date")
	}
	return dr, nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: kind, Message: msg})
}

// writeDomainError maps the typed domain errors to status codes. Server-side
// failures are logged and answered with a generic message.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		conflict   *domain.ConflictError
		schema     *domain.SchemaError
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		storage    *domain.StorageError
		analysis   *domain.AnalysisError
	)
	switch {
	case errors.As(err, &conflict):
		s.writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.As(err, &schema):
		s.writeError(w, http.StatusUnprocessableEntity, "schema_error", err.Error())
	case errors.As(err, &validation):
		s.writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.As(err, &notFound):
		s.writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &storage):
		s.logger.Error("storage failure", "op", storage.Op, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage_error", "failed to "+storage.Op)
	case errors.As(err, &analysis):
		s.logger.Error("analysis failure", "op", analysis.Op, "error", err)
		s.writeError(w, http.StatusInternalServerError, "analysis_error", "anomaly detection failed during "+analysis.Op)
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
