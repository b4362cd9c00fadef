// Package sqlitedb holds the SQLite plumbing shared by the chunked and the
// single-file layouts: opening with the right pragmas, the logs schema,
// batched inserts, bounded range reads, file size accounting and busy
// handling.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xtxerr/plclogger/internal/errors"
)

// SideSuffixes are the files SQLite keeps next to a database in WAL mode,
// plus the rollback journal of databases that never switched to WAL.
var SideSuffixes = []string{"-wal", "-shm", "-journal"}

// Options controls how a database file is opened.
type Options struct {
	// BusyTimeout is how long SQLite itself waits on a lock.
	BusyTimeout time.Duration

	// ReadOnly opens the file without write access. The file must exist.
	ReadOnly bool

	// IncrementalVacuum requests auto_vacuum=INCREMENTAL. It only takes
	// effect on a database that has no tables yet.
	IncrementalVacuum bool
}

// Open opens path through database/sql with the modernc driver.
func Open(path string, opts Options) (*sql.DB, error) {
	if opts.ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%s: %w", path, errors.ErrDatabaseNotExists)
		}
	}

	db, err := sql.Open("sqlite", dsn(path, opts))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if !opts.ReadOnly {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Mark(fmt.Errorf("open %s: %w", path, err), errors.ErrDatabase)
	}
	return db, nil
}

func dsn(path string, opts Options) string {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(escapePath(path))

	params := []string{fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds())}
	if opts.ReadOnly {
		params = append(params, "mode=ro")
	} else {
		if opts.IncrementalVacuum {
			params = append(params, "_pragma=auto_vacuum(2)")
		}
		params = append(params,
			"_pragma=journal_mode(WAL)",
			"_pragma=synchronous(NORMAL)",
			"_txlock=immediate",
		)
	}
	b.WriteByte('?')
	b.WriteString(strings.Join(params, "&"))
	return b.String()
}

func escapePath(p string) string {
	r := strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")
	return r.Replace(p)
}

// =============================================================================
// Schema
// =============================================================================

const logsSchema = `
CREATE TABLE IF NOT EXISTS logs (
	ts    TEXT NOT NULL,
	tag   TEXT NOT NULL,
	value REAL,
	unit  TEXT
);
CREATE INDEX IF NOT EXISTS idx_logs_tag_ts ON logs(tag, ts);
CREATE INDEX IF NOT EXISTS idx_logs_ts ON logs(ts);
`

// EnsureLogSchema creates the logs table and its indexes.
func EnsureLogSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, logsSchema); err != nil {
		return classify(fmt.Errorf("create logs schema: %w", err))
	}
	return nil
}

// =============================================================================
// Files
// =============================================================================

// Sizes returns the byte sizes of the main file and its -wal and -shm
// side files. Missing files count as zero.
func Sizes(path string) (main, wal, shm int64) {
	return fileSize(path), fileSize(path + "-wal"), fileSize(path + "-shm")
}

// TotalSize is the on-disk footprint of a database: main plus side files.
func TotalSize(path string) int64 {
	total := fileSize(path)
	for _, s := range SideSuffixes {
		total += fileSize(path + s)
	}
	return total
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// ModTime is the newest modification time of the main file and its WAL.
// Committed writes that have not been checkpointed only touch the WAL.
func ModTime(path string) time.Time {
	var newest time.Time
	for _, p := range []string{path, path + "-wal"} {
		if fi, err := os.Stat(p); err == nil && fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
	}
	return newest
}

// Remove deletes a database file and its side files. Files that are
// already gone are not an error.
func Remove(path string) error {
	var errs []error
	for _, p := range append([]string{path}, sidePaths(path)...) {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sidePaths(path string) []string {
	out := make([]string, len(SideSuffixes))
	for i, s := range SideSuffixes {
		out[i] = path + s
	}
	return out
}

// =============================================================================
// Busy handling
// =============================================================================

// IsBusy reports whether err is SQLite lock contention.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errors.ErrBusy) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// classify marks busy errors with ErrBusy and everything else with
// ErrDatabase.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsBusy(err) {
		return errors.Mark(err, errors.ErrBusy)
	}
	return errors.Mark(err, errors.ErrDatabase)
}

// Retry runs fn until it succeeds, fails with a non-busy error, or wait
// has elapsed. Delays start at 25ms and double up to 400ms.
func Retry(ctx context.Context, wait time.Duration, fn func() error) error {
	deadline := time.Now().Add(wait)
	delay := 25 * time.Millisecond

	for {
		err := fn()
		if err == nil || !IsBusy(err) {
			return err
		}
		if time.Now().Add(delay).After(deadline) {
			return errors.Mark(err, errors.ErrBusy)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 400*time.Millisecond {
			delay *= 2
		}
	}
}
