package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/logging"
)

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	api.HandleFunc("/download.csv", s.handleCSV).Methods(http.MethodGet)
	api.HandleFunc("/logs.pb", s.handleWire).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/tags", s.handleTags).Methods(http.MethodGet)

	if s.setpoints != nil {
		api.HandleFunc("/setpoints", s.handleSetpoints).Methods(http.MethodGet)
		api.HandleFunc("/setpoints", s.handleWriteSetpoint).Methods(http.MethodPost)
		api.HandleFunc("/fault_reset", s.handleFaultReset).Methods(http.MethodPost)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errors.NewNotFound("route", r.URL.Path))
	})
	return r
}

// =============================================================================
// Response helpers
// =============================================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.StatusCode(err)
	if code >= http.StatusInternalServerError {
		requestLog(r).Warn("request failed", "status", code, "error", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// =============================================================================
// Middleware
// =============================================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestSeq numbers requests for the X-Request-Id header and log lines.
var requestSeq atomic.Uint64

// requestLog returns the api logger tagged with the request's ID and client
// address.
func requestLog(r *http.Request) *slog.Logger {
	return logging.WithContext(r.Context()).With("component", "api")
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := requestSeq.Add(1)
		ctx := logging.ContextWithRequestID(r.Context(), id)
		ctx = logging.ContextWithRemoteAddr(ctx, r.RemoteAddr)
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-Id", strconv.FormatUint(id, 10))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		requestLog(r).Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
