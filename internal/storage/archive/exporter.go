// Package archive exports chunk files to Parquet before quota enforcement
// deletes them, and runs ad-hoc SQL over the exported files with DuckDB.
package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/logging"
	"github.com/xtxerr/plclogger/internal/storage/chunk"
	"github.com/xtxerr/plclogger/internal/storage/sqlitedb"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

var log = logging.Component("archive")

const (
	fileExt   = ".parquet"
	batchRows = 8192
)

// Exporter writes chunk files to <dir>/<family>/<chunk>.parquet.
type Exporter struct {
	dir         string
	opts        Options
	busyTimeout time.Duration

	mu    sync.Mutex
	stats Stats
}

// Stats holds export statistics.
type Stats struct {
	FilesExported int64
	RowsExported  int64
	BytesWritten  int64
	Errors        int64
}

// NewExporter creates an exporter writing below dir.
func NewExporter(dir string, opts Options, busyTimeout time.Duration) *Exporter {
	return &Exporter{dir: dir, opts: opts, busyTimeout: busyTimeout}
}

// Dir returns the archive directory.
func (e *Exporter) Dir() string {
	return e.dir
}

// ExportChunk exports c. Its signature matches chunk.Options.OnEvict.
func (e *Exporter) ExportChunk(ctx context.Context, c chunk.Chunk) error {
	_, err := e.Export(ctx, c.Family, c.Path)
	return err
}

// Path returns the archive file of the chunk at src.
func (e *Exporter) Path(f types.Family, src string) string {
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + fileExt
	return filepath.Join(e.dir, f.String(), name)
}

// Export copies every row of the SQLite file src into its archive file and
// returns that file's path. The archive file appears only once complete.
func (e *Exporter) Export(ctx context.Context, f types.Family, src string) (string, error) {
	dst := e.Path(f, src)
	rows, err := e.export(ctx, src, dst)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.stats.Errors++
		return "", errors.Wrapf(err, "archive %s", filepath.Base(src))
	}

	size := int64(0)
	if st, err := os.Stat(dst); err == nil {
		size = st.Size()
	}
	e.stats.FilesExported++
	e.stats.RowsExported += rows
	e.stats.BytesWritten += size

	log.Info("chunk archived",
		"family", f.String(),
		"chunk", filepath.Base(src),
		"rows", rows,
		"size", humanize.IBytes(uint64(size)))
	return dst, nil
}

func (e *Exporter) export(ctx context.Context, src, dst string) (int64, error) {
	db, err := sqlitedb.Open(src, sqlitedb.Options{ReadOnly: true, BusyTimeout: e.busyTimeout})
	if err != nil {
		return 0, err
	}
	defer db.Close()

	tmp := dst + ".tmp"
	w, err := NewWriter(tmp, e.opts)
	if err != nil {
		return 0, err
	}

	batch := make([]types.LogRow, 0, batchRows)
	err = sqlitedb.ScanAll(ctx, db, func(r types.LogRow) error {
		batch = append(batch, r)
		if len(batch) < batchRows {
			return nil
		}
		err := w.Write(batch)
		batch = batch[:0]
		return err
	})
	if err == nil {
		err = w.Write(batch)
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return w.RowCount(), nil
}

// Files lists archive files, oldest chunk first within each family.
func (e *Exporter) Files() ([]string, error) {
	return listFiles(e.dir)
}

func listFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*", "*"+fileExt))
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Stats returns export statistics.
func (e *Exporter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
