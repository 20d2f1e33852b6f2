// Package http serves the crime data API together with the health, readiness,
// and metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/couchcryptid/crime-data-service/internal/domain"
	"github.com/couchcryptid/crime-data-service/internal/observability"
	"github.com/couchcryptid/crime-data-service/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Ingester stores an uploaded export as a new dataset.
type Ingester interface {
	Ingest(ctx context.Context, r io.Reader, name string) (pipeline.IngestResult, error)
}

// Detector runs anomaly detection over a stored dataset.
type Detector interface {
	Detect(ctx context.Context, datasetID int64) (domain.AnomalyReport, error)
}

// Deps are the services behind the API routes.
type Deps struct {
	Ingester Ingester
	Detector Detector
	Reader   domain.IncidentReader
	Ready    sharedobs.ReadinessChecker
}

// Options tune request handling.
type Options struct {
	MaxUploadBytes int64
	AllowedOrigins []string
}

// Server exposes the crime data API plus /healthz, /readyz, and /metrics.
type Server struct {
	httpServer *http.Server
	deps       Deps
	opts       Options
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewServer creates an HTTP server with every API route registered.
func NewServer(addr string, deps Deps, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		deps:    deps,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", sharedobs.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", sharedobs.ReadinessHandler(deps.Ready)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/upload-dataset", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/datasets", s.handleListDatasets).Methods(http.MethodGet)
	r.HandleFunc("/datasets/{id}", s.handleGetDataset).Methods(http.MethodGet)
	r.HandleFunc("/datasets/{id}/detect-anomalies", s.handleDetect).Methods(http.MethodPost)
	r.HandleFunc("/datasets/{id}/crimes", s.handleCrimes).Methods(http.MethodGet)
	r.HandleFunc("/datasets/{id}/charts/{chart}", s.handleChart).Methods(http.MethodGet)

	r.Use(requestIDMiddleware, s.recoverMiddleware, s.metricsMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: allowCredentials(opts.AllowedOrigins),
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      c.Handler(r),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// allowCredentials reports whether credentialed requests may be allowed.
// Browsers reject credentials alongside a wildcard origin, so they are only
// enabled for an explicit origin list.
func allowCredentials(origins []string) bool {
	return len(origins) > 0 && !slices.Contains(origins, "*")
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware echoes the caller's request id or assigns a new one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		elapsed := time.Since(start)
		s.metrics.HTTPRequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Observe(elapsed.Seconds())
		s.logger.Debug("http request", "request_id", r.Header.Get(requestIDHeader), "method", r.Method, "route", route, "status", rec.status, "duration", elapsed)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("panic in handler", "request_id", r.Header.Get(requestIDHeader), "path", r.URL.Path, "panic", v)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}
