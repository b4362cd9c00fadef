// plcloggerd polls the PLC and writes logged values to storage.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/loader"
	"github.com/xtxerr/plclogger/internal/logging"
	"github.com/xtxerr/plclogger/internal/plc"
	"github.com/xtxerr/plclogger/internal/poller"
	"github.com/xtxerr/plclogger/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "plcloggerd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// CLI flags
	cfgPath := flag.StringP("config", "c", "plclogger.yaml", "config file path")
	catalogPath := flag.String("catalog", "", "tag catalog file (overrides config)")
	host := flag.String("plc-host", "", "PLC address (overrides config)")
	root := flag.String("storage-root", "", "storage root directory (overrides config)")
	layout := flag.String("layout", "", "storage layout: chunked or single (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	logFormat := flag.String("log-format", "", "log format: text, json or auto (overrides config)")
	version := flag.BoolP("version", "v", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("plcloggerd", Version)
		return nil
	}

	// Load config
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = loader.DefaultConfig()
	}

	// CLI overrides
	if *catalogPath != "" {
		cfg.Catalog = *catalogPath
	}
	if *host != "" {
		cfg.PLC.Host = *host
	}
	if *root != "" {
		cfg.Storage.Root = *root
	}
	if *layout != "" {
		cfg.Storage.Layout = *layout
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	if err := loader.Validate(cfg); err != nil {
		return err
	}
	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return err
	}

	logging.Info("plcloggerd starting", "version", Version, "config", *cfgPath)

	cat, err := cfg.LoadCatalog()
	if err != nil {
		return err
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// =========================================================================
	// Storage
	// =========================================================================

	store, err := storage.Open(ctx, cfg.Storage, cat, cal)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	if err := store.SyncCatalog(ctx, cat); err != nil {
		return fmt.Errorf("sync catalog: %w", err)
	}

	if u := store.Usage(); u.CapBytes > 0 {
		logging.Info("storage usage",
			"layout", u.Layout,
			"size", humanize.IBytes(uint64(u.Bytes)),
			"cap", humanize.IBytes(uint64(u.CapBytes)))
	}

	// =========================================================================
	// PLC and poll loop
	// =========================================================================

	conn := plc.New(plc.NewModbusDialer(cfg.ToPLCConfig()))
	defer conn.Close()

	loop := poller.New(cfg.ToPollerConfig(), cat, plc.NewWindowSource(conn, cat.Window), store)
	if err := loop.Hydrate(ctx); err != nil {
		logging.Warn("starting without persisted values", "error", err)
	}

	logging.Info("polling",
		"plc", cfg.ToPLCConfig().URL(),
		"tags", len(cat.Tags),
		"window_base", cat.Window.Base,
		"window_count", cat.Window.Count,
		"sample_interval", cfg.Poll.SampleInterval.Duration())

	// =========================================================================
	// Run
	// =========================================================================

	err = loop.Run(ctx)

	st := loop.Stats()
	logging.Info("plcloggerd stopped",
		"cycles", st.Cycles,
		"rows_written", st.RowsWritten,
		"rows_dropped", st.RowsDropped,
		"read_errors", st.ReadErrors)
	return err
}
