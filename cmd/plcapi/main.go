// plcapi serves logged data and setpoint control over HTTP.
//
// It opens storage read-only next to a running plcloggerd and never writes
// rows itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/xtxerr/plclogger/internal/api"
	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/loader"
	"github.com/xtxerr/plclogger/internal/logging"
	"github.com/xtxerr/plclogger/internal/plc"
	"github.com/xtxerr/plclogger/internal/setpoint"
	"github.com/xtxerr/plclogger/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "plcapi: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.StringP("config", "c", "plclogger.yaml", "config file path")
	listen := flag.StringP("listen", "l", "", "listen address (overrides config)")
	root := flag.String("storage-root", "", "storage root directory (overrides config)")
	noSetpoints := flag.Bool("no-setpoints", false, "disable setpoint and fault-reset endpoints")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	logFormat := flag.String("log-format", "", "log format: text, json or auto (overrides config)")
	version := flag.BoolP("version", "v", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("plcapi", Version)
		return nil
	}

	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = loader.DefaultConfig()
	}

	if *listen != "" {
		cfg.API.Listen = *listen
	}
	if *root != "" {
		cfg.Storage.Root = *root
	}
	if *noSetpoints {
		cfg.API.Setpoints = false
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

	logging.Info("plcapi starting", "version", Version, "config", *cfgPath)

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

	store, err := storage.OpenReadOnly(ctx, cfg.Storage, cat, cal)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	var sp api.Setpoints
	if cfg.API.Setpoints {
		conn := plc.New(plc.NewModbusDialer(cfg.ToPLCConfig()))
		defer conn.Close()
		sp = setpoint.New(conn, cat, cfg.ToSetpointConfig())
	}

	srv := api.New(api.Config{
		Listen:          cfg.API.Listen,
		ShutdownTimeout: cfg.API.ShutdownTimeout.Duration(),
	}, store, sp)

	return srv.Run(ctx)
}
