package apihttp

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"loudness-monitor/internal/auth"
	"loudness-monitor/internal/loudness/application"
	loudness "loudness-monitor/internal/loudness/domain"
	matrix "loudness-monitor/internal/matrix/domain"
	matrixexport "loudness-monitor/internal/matrix/interfaces"
	"loudness-monitor/internal/observability/metrics"
)

const (
	defaultMeasurementLimit = 1000
	maxMeasurementLimit     = 100000
	maxSubmitBody           = 1 << 20

	headerTruncated = "X-Matrix-Truncated"
	headerPolicy    = "X-Matrix-Policy"
)

type handler struct {
	deps   Deps
	logger *log.Logger
}

type datesResponse struct {
	Dates []string `json:"dates"`
}

func (h *handler) handleDates(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	dates, err := h.deps.Dates.Dates(r.Context())
	strategy := string(h.deps.Dates.Strategy())
	if err != nil {
		metrics.ObserveDates(strategy, metrics.ResultError, time.Since(start))
		h.respondError(w, "dates", err)
		return
	}
	metrics.ObserveDates(strategy, metrics.ResultSuccess, time.Since(start))
	writeJSON(w, http.StatusOK, datesResponse{Dates: dates})
}

func (h *handler) handleMatrix(w http.ResponseWriter, r *http.Request) {
	day, policy, ok := h.matrixParams(w, r)
	if !ok {
		return
	}
	result, err := h.deps.Matrix.AggregateWith(r.Context(), day, policy)
	if err != nil {
		h.respondError(w, "matrix", err)
		return
	}
	rows := result.Rows
	if rows == nil {
		rows = []matrix.Row{}
	}
	w.Header().Set(headerPolicy, result.Policy.String())
	if result.Truncated {
		w.Header().Set(headerTruncated, "true")
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handler) handleMatrixExport(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	format, err := matrixexport.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "format must be csv, xlsx or pdf")
		return
	}
	day, policy, ok := h.matrixParams(w, r)
	if !ok {
		return
	}
	result, err := h.deps.Matrix.AggregateWith(r.Context(), day, policy)
	if err != nil {
		metrics.ObserveExport(string(format), metrics.ResultError, time.Since(start))
		h.respondError(w, "matrix.export", err)
		return
	}
	payload, err := matrixexport.Export(format, day, result.Policy, result.Rows)
	if err != nil {
		metrics.ObserveExport(string(format), metrics.ResultError, time.Since(start))
		h.respondError(w, "matrix.export", err)
		return
	}
	metrics.ObserveExport(string(format), metrics.ResultSuccess, time.Since(start))

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+format.Filename(day)+`"`)
	w.Header().Set(headerPolicy, result.Policy.String())
	if result.Truncated {
		w.Header().Set(headerTruncated, "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// matrixParams reads date and policy, writing a 400 on failure.
func (h *handler) matrixParams(w http.ResponseWriter, r *http.Request) (matrix.Day, matrix.Policy, bool) {
	params := r.URL.Query()
	raw := strings.TrimSpace(params.Get("date"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return matrix.Day{}, matrix.Policy{}, false
	}
	day, err := matrix.ParseDay(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return matrix.Day{}, matrix.Policy{}, false
	}
	policy := h.deps.Matrix.DefaultPolicy()
	if value := strings.TrimSpace(params.Get("policy")); value != "" {
		policy, err = matrix.ParsePolicy(value, h.deps.FixedSlots)
		if err != nil {
			writeError(w, http.StatusBadRequest, "policy must be fixed-hourly, hourly or <N>m with 1 <= N <= 60")
			return matrix.Day{}, matrix.Policy{}, false
		}
	}
	return day, policy, true
}

func (h *handler) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	query, err := parseMeasurementQuery(r)
	if err != nil {
		h.respondError(w, "measurements", err)
		return
	}
	out, err := h.deps.Measurements.Select(r.Context(), query)
	if err != nil {
		h.respondError(w, "measurements", loudness.WrapStore("measurements.select", err))
		return
	}
	if out == nil {
		out = []loudness.Measurement{}
	}
	writeJSON(w, http.StatusOK, out)
}

func parseMeasurementQuery(r *http.Request) (loudness.MeasurementQuery, error) {
	params := r.URL.Query()
	query := loudness.MeasurementQuery{Order: loudness.OrderAsc, Limit: defaultMeasurementLimit}

	if value := params.Get("since"); value != "" {
		since, err := application.ParseTimestamp(value)
		if err != nil {
			return query, loudness.NewInputError("since", err.Error())
		}
		query.After = since
	}
	if value := params.Get("after_id"); value != "" {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil || id <= 0 {
			return query, loudness.NewInputError("after_id", "must be a positive integer")
		}
		if query.After.IsZero() {
			return query, loudness.NewInputError("after_id", "requires since")
		}
		query.Cursor = &loudness.Cursor{Timestamp: query.After, ID: id}
		query.After = time.Time{}
	}
	if value := params.Get("stream_id"); value != "" {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil || id <= 0 {
			return query, loudness.NewInputError("stream_id", "must be a positive integer")
		}
		query.StreamID = loudness.StreamID(id)
	}
	if value := params.Get("status"); value != "" {
		status, ok := loudness.ParseStatus(value)
		if !ok {
			return query, loudness.NewInputError("status", "must be one of normal, too_low, too_loud")
		}
		query.Status = status
	}
	if value := params.Get("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit <= 0 {
			return query, loudness.NewInputError("limit", "must be a positive integer")
		}
		if limit > maxMeasurementLimit {
			limit = maxMeasurementLimit
		}
		query.Limit = limit
	}
	return query, nil
}

func (h *handler) handleStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := h.deps.Streams.List(r.Context())
	if err != nil {
		h.respondError(w, "streams", loudness.WrapStore("streams.list", err))
		return
	}
	if streams == nil {
		streams = []loudness.Stream{}
	}
	writeJSON(w, http.StatusOK, streams)
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Status.Status(r.Context())
	if err != nil {
		h.respondError(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type submitResponse struct {
	Success bool `json:"success"`
}

func (h *handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub application.Submission
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	if err := decoder.Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	recorded, err := h.deps.Ingest.Submit(r.Context(), sub)
	if err != nil {
		h.respondError(w, "submit", err)
		return
	}
	if role := auth.RoleFromContext(r.Context()); role != "" {
		h.logger.Printf("api: submit stream_id=%d role=%s subject=%s",
			recorded.Stream.ID, role, auth.SubjectFromContext(r.Context()))
	}
	writeJSON(w, http.StatusOK, submitResponse{Success: true})
}

type errorResponse struct {
	Error string `json:"error"`
}

// respondError maps input errors to 400 and everything else to 500.
func (h *handler) respondError(w http.ResponseWriter, tag string, err error) {
	var inputErr *loudness.InputError
	var storeErr *loudness.StoreError
	switch {
	case errors.As(err, &inputErr):
		writeError(w, http.StatusBadRequest, inputErr.Error())
	case errors.As(err, &storeErr):
		h.logger.Printf("api: %s store failure err=%v", tag, err)
		writeError(w, http.StatusInternalServerError, storeErr.Error())
	default:
		h.logger.Printf("api: %s failed err=%v", tag, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
