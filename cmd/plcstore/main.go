// plcstore runs storage maintenance against a plclogger storage root.
//
// Usage:
//
//	plcstore [flags] enforce             run quota enforcement now
//	plcstore [flags] status              print usage and database status
//	plcstore [flags] enable-autovacuum   switch the single file to incremental auto_vacuum
//	plcstore [flags] archive-sql QUERY   run SQL over the Parquet archive
//	plcstore [flags] archive-summary     per-tag summary of the archive
//	plcstore [flags] estimate            estimate growth and retained history
//
// enforce and enable-autovacuum write to storage and should not run while
// plcloggerd is writing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/loader"
	"github.com/xtxerr/plclogger/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, env *env, args []string) error
}

var commands = []command{
	{"enforce", "run quota enforcement now", runEnforce},
	{"status", "print usage and database status", runStatus},
	{"enable-autovacuum", "switch the single database to incremental auto_vacuum", runEnableAutoVacuum},
	{"archive-sql", "run SQL over the Parquet archive", runArchiveSQL},
	{"archive-summary", "per-tag summary of the Parquet archive", runArchiveSummary},
	{"estimate", "estimate growth and retained history", runEstimate},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "plcstore: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: plcstore [flags] <command> [args]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-18s %s\n", c.name, c.usage)
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	flag.PrintDefaults()
}

func run() error {
	flag.CommandLine.SetInterspersed(false)
	flag.Usage = usage

	cfgPath := flag.StringP("config", "c", "plclogger.yaml", "config file path")
	root := flag.String("storage-root", "", "storage root directory (overrides config)")
	layout := flag.String("layout", "", "storage layout: chunked or single (overrides config)")
	logLevel := flag.String("log-level", "warn", "log level")
	changeRate := flag.Float64("change-rate", 0.01, "estimate: rows per second of each on-change tag")
	version := flag.BoolP("version", "v", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("plcstore", Version)
		return nil
	}
	if flag.NArg() == 0 {
		usage()
		return errors.NewMissingField("command")
	}

	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = loader.DefaultConfig()
	}
	if *root != "" {
		cfg.Storage.Root = *root
	}
	if *layout != "" {
		cfg.Storage.Layout = *layout
	}
	if err := cfg.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := logging.Setup(*logLevel, "text"); err != nil {
		return err
	}

	name, args := flag.Arg(0), flag.Args()[1:]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return c.run(ctx, &env{cfg: cfg, out: os.Stdout, changeRate: *changeRate}, args)
	}

	usage()
	return errors.NewInvalidValue("command", name, "unknown command; one of "+commandNames())
}

func commandNames() string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = c.name
	}
	return strings.Join(names, ", ")
}
