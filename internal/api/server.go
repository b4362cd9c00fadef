// Package api serves logged rows, runtime state and setpoint control over
// HTTP.
//
// The API never writes to storage. It reads what the poll loop persisted
// and, when enabled, talks to the PLC directly for setpoints and fault
// resets.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	defaults "github.com/xtxerr/plclogger/config"
	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/logging"
	"github.com/xtxerr/plclogger/internal/setpoint"
	"github.com/xtxerr/plclogger/internal/storage"
	"github.com/xtxerr/plclogger/internal/storage/meta"
	"github.com/xtxerr/plclogger/internal/storage/query"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

var log = logging.Component("api")

// =============================================================================
// Dependencies
// =============================================================================

// Store is the read side of storage.Service.
type Store interface {
	Query(ctx context.Context, req query.Request) (*query.Result, error)
	State(ctx context.Context) (types.RuntimeState, error)
	Policy(ctx context.Context) ([]types.PolicyState, error)
	Tags(ctx context.Context) ([]meta.TagMeta, error)
	Labels(ctx context.Context) (map[string]string, error)
	Usage() storage.Usage
	Stats() storage.ServiceStats
}

// Setpoints is the PLC control surface. setpoint.Service implements it.
type Setpoints interface {
	ReadAll(ctx context.Context) ([]setpoint.Value, error)
	Write(ctx context.Context, name string, value float64) error
	FaultReset(ctx context.Context) error
	Stats() setpoint.Stats
}

// =============================================================================
// Server
// =============================================================================

// Config holds server options.
type Config struct {
	Listen          string
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration

	// CSVLimit is the row limit of a download without ?limit.
	CSVLimit int

	// CSVFetchMin is the smallest raw fetch of a bucketed download.
	CSVFetchMin int
}

// DefaultConfig returns the default server options.
func DefaultConfig() Config {
	return Config{
		Listen:          defaults.DefaultListenAddress,
		ShutdownTimeout: defaults.DefaultShutdownTimeout,
		ReadTimeout:     defaults.DefaultReadTimeout,
		CSVLimit:        defaults.DefaultCSVLimit,
		CSVFetchMin:     defaults.DefaultCSVFetchMin,
	}
}

// Server is the HTTP API.
type Server struct {
	cfg       Config
	store     Store
	setpoints Setpoints // nil disables the control routes
	router    *mux.Router
}

// New creates a server. sp may be nil, in which case the setpoint and
// fault-reset routes answer 404.
func New(cfg Config, store Store, sp Setpoints) *Server {
	d := DefaultConfig()
	if cfg.Listen == "" {
		cfg.Listen = d.Listen
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = d.ReadTimeout
	}
	if cfg.CSVLimit <= 0 {
		cfg.CSVLimit = d.CSVLimit
	}
	if cfg.CSVFetchMin <= 0 {
		cfg.CSVFetchMin = d.CSVFetchMin
	}

	s := &Server{cfg: cfg, store: store, setpoints: sp}
	s.router = s.routes()
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Listen until ctx is done, then drains in-flight
// requests for at most cfg.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "address", ln.Addr().String(), "setpoints", s.setpoints != nil)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
		srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
