package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/xtxerr/plclogger/internal/catalog"
	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/loader"
	"github.com/xtxerr/plclogger/internal/storage"
	"github.com/xtxerr/plclogger/internal/storage/archive"
	"github.com/xtxerr/plclogger/internal/storage/chunk"
	"github.com/xtxerr/plclogger/internal/storage/config"
	"github.com/xtxerr/plclogger/internal/storage/query"
	"github.com/xtxerr/plclogger/internal/storage/retention"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

type env struct {
	cfg        *loader.Config
	out        io.Writer
	changeRate float64
}

func (e *env) catalog() (*catalog.Catalog, error) {
	return e.cfg.LoadCatalog()
}

// =============================================================================
// enforce
// =============================================================================

func runEnforce(ctx context.Context, e *env, _ []string) error {
	cat, err := e.catalog()
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, e.cfg.Storage, cat, query.UTCCalendar)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := store.EnforceQuota(ctx)
	if err != nil {
		return err
	}
	printReport(e.out, report)
	return nil
}

func printReport(w io.Writer, r storage.QuotaReport) {
	fmt.Fprintf(w, "Layout:  %s\n", r.Layout)
	fmt.Fprintf(w, "Before:  %s\n", humanize.IBytes(uint64(r.BytesBefore)))
	fmt.Fprintf(w, "After:   %s\n", humanize.IBytes(uint64(r.BytesAfter)))

	if c := r.Chunks; c != nil {
		fmt.Fprintf(w, "Deleted: %d chunk(s)\n", len(c.Deleted))
		for _, name := range c.Deleted {
			fmt.Fprintf(w, "  %s\n", name)
		}
		for _, err := range c.Errors {
			fmt.Fprintf(w, "Error:   %v\n", err)
		}
	}
	if s := r.Retention; s != nil {
		if s.Skipped {
			fmt.Fprintf(w, "Skipped: %s\n", s.SkipReason)
		}
		phases := make([]string, len(s.Phases))
		for i, p := range s.Phases {
			phases[i] = string(p)
		}
		if len(phases) > 0 {
			fmt.Fprintf(w, "Phases:  %s\n", strings.Join(phases, ", "))
		}
		fmt.Fprintf(w, "Deleted: %s row(s) in %d batch(es), %s\n",
			humanize.Comma(s.RowsDeleted), s.Batches, s.Duration.Round(time.Millisecond))
	}
	if r.OverCap {
		fmt.Fprintln(w, "Still over cap.")
	}
}

// =============================================================================
// status
// =============================================================================

func runStatus(ctx context.Context, e *env, _ []string) error {
	cat, err := e.catalog()
	if err != nil {
		return err
	}
	store, err := storage.OpenReadOnly(ctx, e.cfg.Storage, cat, query.UTCCalendar)
	if err != nil {
		return err
	}
	defer store.Close()

	u := store.Usage()
	fmt.Fprintf(e.out, "Root:   %s\nLayout: %s\n", e.cfg.Storage.Root, u.Layout)
	if u.CapBytes > 0 {
		fmt.Fprintf(e.out, "Usage:  %s of %s\n", humanize.IBytes(uint64(u.Bytes)), humanize.IBytes(uint64(u.CapBytes)))
	} else {
		fmt.Fprintf(e.out, "Usage:  %s (no cap)\n", humanize.IBytes(uint64(u.Bytes)))
	}

	if u.Layout == config.LayoutSingle {
		st, err := store.RetentionStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(e.out)
		fmt.Fprint(e.out, st.FormatStatus())
		return nil
	}

	fmt.Fprintln(e.out)
	printFamilies(e.out, u.Families)

	st, err := store.State(ctx)
	if err != nil {
		return err
	}
	if st.LastFlushEpoch > 0 {
		fmt.Fprintf(e.out, "\nLast flush: %s (%d rows)\n",
			humanize.Time(time.Unix(int64(st.LastFlushEpoch), 0)), st.RowsWrittenLastFlush)
	}
	return nil
}

func printFamilies(w io.Writer, families map[types.Family]chunk.FamilyUsage) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FAMILY\tFILES\tSIZE\tACTIVE")
	for _, f := range types.AllFamilies() {
		fu := families[f]
		active := fu.Active
		if active == "" {
			active = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", f, fu.Files, humanize.IBytes(uint64(fu.Bytes)), active)
	}
	tw.Flush()
}

// =============================================================================
// enable-autovacuum
// =============================================================================

func runEnableAutoVacuum(ctx context.Context, e *env, _ []string) error {
	if e.cfg.Storage.Layout != config.LayoutSingle {
		return errors.NewInvalidValue("layout", e.cfg.Storage.Layout, "enable-autovacuum applies to the single layout")
	}
	path := e.cfg.Storage.SinglePath()
	if err := retention.EnableIncrementalAutoVacuum(ctx, path, e.cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s: auto_vacuum=INCREMENTAL\n", path)
	return nil
}

// =============================================================================
// archive
// =============================================================================

func (e *env) analyzer() (*archive.Analyzer, error) {
	return archive.NewAnalyzer(e.cfg.Storage.ArchiveDir(), e.cfg.Storage.Archive.MemoryLimit)
}

func runArchiveSQL(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.NewMissingField("query")
	}
	a, err := e.analyzer()
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.ExecuteSQL(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	printRows(e.out, rows)
	return nil
}

func printRows(w io.Writer, rows []map[string]interface{}) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "(no rows)")
		return
	}

	cols := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(cols, "\t")))
	vals := make([]string, len(cols))
	for _, r := range rows {
		for i, c := range cols {
			vals[i] = fmt.Sprint(r[c])
		}
		fmt.Fprintln(tw, strings.Join(vals, "\t"))
	}
	tw.Flush()
}

func runArchiveSummary(ctx context.Context, e *env, _ []string) error {
	a, err := e.analyzer()
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.Summary(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TAG\tROWS\tNON-NULL\tFIRST\tLAST\tAVG")
	for _, s := range sum {
		avg := "-"
		if s.Avg != nil {
			avg = fmt.Sprintf("%.3f", *s.Avg)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Tag, humanize.Comma(s.Rows), humanize.Comma(s.NonNull), s.FirstTs, s.LastTs, avg)
	}
	return tw.Flush()
}

// =============================================================================
// estimate
// =============================================================================

func runEstimate(_ context.Context, e *env, _ []string) error {
	cat, err := e.catalog()
	if err != nil {
		return err
	}
	r := e.cfg.Storage.CalculateRequirements(rowRates(cat, e.changeRate))
	fmt.Fprint(e.out, r.FormatRequirements())
	return nil
}

// rowRates is the worst-case rows per second of each family: interval tags
// at their cadence, conditional tags at their active cadence, and each
// on-change tag at changeRate.
func rowRates(cat *catalog.Catalog, changeRate float64) map[types.Family]float64 {
	router := chunk.NewRouter(cat.Tags, nil)
	rates := make(map[types.Family]float64, 3)
	for _, t := range cat.Tags {
		var r float64
		switch p := t.Policy.(type) {
		case catalog.Interval:
			if p.Every > 0 {
				r = 1 / p.Every.Seconds()
			}
		case catalog.Conditional:
			if p.Active > 0 {
				r = 1 / p.Active.Seconds()
			}
		default:
			r = changeRate
		}
		rates[router.Family(t.Name)] += r
	}
	return rates
}
