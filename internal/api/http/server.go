package apihttp

import (
	"context"
	"errors"
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loudness-monitor/internal/auth"
	"loudness-monitor/internal/loudness/application"
	loudness "loudness-monitor/internal/loudness/domain"
	matrixapp "loudness-monitor/internal/matrix/application"
	matrix "loudness-monitor/internal/matrix/domain"
)

// Matrixer aggregates one day into the channel/slot matrix.
type Matrixer interface {
	DefaultPolicy() matrix.Policy
	AggregateWith(ctx context.Context, day matrix.Day, policy matrix.Policy) (matrixapp.Result, error)
}

// DateLister lists the days that hold measurements.
type DateLister interface {
	Strategy() matrixapp.DateStrategy
	Dates(ctx context.Context) ([]string, error)
}

// Submitter records analyzer submissions.
type Submitter interface {
	Submit(ctx context.Context, sub application.Submission) (application.Recorded, error)
}

// StatusReporter summarizes the last 24 hours.
type StatusReporter interface {
	Status(ctx context.Context) (application.StatusReport, error)
}

// Deps are the services behind the API.
type Deps struct {
	Matrix       Matrixer
	Dates        DateLister
	Ingest       Submitter
	Status       StatusReporter
	Streams      loudness.StreamRepository
	Measurements loudness.MeasurementRepository
	// FixedSlots back the fixed-hourly policy when a request selects it.
	FixedSlots []string
	Auth       *auth.Middleware
}

func (d Deps) validate() error {
	if d.Matrix == nil || d.Dates == nil || d.Ingest == nil || d.Status == nil {
		return errors.New("api: missing service")
	}
	if d.Streams == nil || d.Measurements == nil {
		return loudness.ErrNilRepository
	}
	return nil
}

// Server exposes the loudness HTTP API.
type Server struct {
	router chi.Router
}

// NewServer constructs a chi based HTTP server over deps.
func NewServer(deps Deps, logger *log.Logger) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler { return recoverMiddleware(next, logger) })
	router.Use(func(next http.Handler) http.Handler { return loggingMiddleware(next, logger) })
	router.Use(deps.Auth.Handler)

	h := &handler{deps: deps, logger: logger}
	registerRoutes(router, h)
	return &Server{router: router}, nil
}

// Router returns the configured router.
func (s *Server) Router() http.Handler {
	return s.router
}

// ServeHTTP allows Server to satisfy http.Handler directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func registerRoutes(router chi.Router, h *handler) {
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", promhttp.Handler())

	router.Get("/dates", h.handleDates)
	router.Get("/matrix", h.handleMatrix)
	router.Get("/matrix/export", h.handleMatrixExport)
	router.Get("/measurements", h.handleMeasurements)
	router.Get("/streams", h.handleStreams)
	router.Get("/status", h.handleStatus)
	router.Post("/submit", h.handleSubmit)
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

// recoverMiddleware turns a handler panic into the JSON 500 body.
func recoverMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Printf("api: panic %s %s err=%v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
