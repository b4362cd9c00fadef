// Package chunk implements the chunked storage layout: rows are routed to
// one of three families, appended to the family's active chunk file, and
// chunks rotate once they reach a size cap. Quota enforcement deletes whole
// chunk files, oldest first.
package chunk

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/logging"
	"github.com/xtxerr/plclogger/internal/storage/sqlitedb"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

var log = logging.Component("chunk")

const (
	chunkPrefix = "plc-"
	chunkExt    = ".db"

	// nameLayout is the creation time embedded in a chunk name. It sorts
	// lexically in chronological order.
	nameLayout = "20060102-150405.000000"
)

// Chunk is one chunk file on disk.
type Chunk struct {
	Family types.Family
	Name   string
	Path   string
	Size   int64 // main file plus side files
}

// Options configures an Engine.
type Options struct {
	// Root is the storage root; chunks live under {Root}/chunks/{family}.
	Root string

	// MaxBytes rotates the active chunk once it reaches this size.
	MaxBytes int64

	// BusyTimeout is passed to every chunk connection.
	BusyTimeout time.Duration

	// OnEvict runs before quota enforcement deletes a chunk. An error is
	// logged and the chunk is deleted anyway.
	OnEvict func(ctx context.Context, c Chunk) error

	// Now overrides the clock used to name new chunks.
	Now func() time.Time

	// ReadOnly serves reads only: no directories are created and writes
	// fail with ErrReadOnly.
	ReadOnly bool
}

// Engine owns the chunk files under one storage root. It assumes it is
// the only writer of that root.
type Engine struct {
	opts   Options
	router *Router

	mu      sync.Mutex
	active  map[types.Family]string
	handles map[types.Family]*sql.DB
	closed  bool
}

// New creates an engine and its family directories.
func New(opts Options, router *Router) (*Engine, error) {
	if opts.Root == "" {
		return nil, errors.NewMissingField("root")
	}
	if opts.MaxBytes <= 0 {
		return nil, errors.NewInvalidValue("max_bytes", opts.MaxBytes, "must be positive")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		opts:    opts,
		router:  router,
		active:  make(map[types.Family]string),
		handles: make(map[types.Family]*sql.DB),
	}

	if opts.ReadOnly {
		return e, nil
	}
	for _, f := range types.AllFamilies() {
		if err := os.MkdirAll(e.dir(f), 0755); err != nil {
			return nil, fmt.Errorf("create chunk directory: %w", err)
		}
	}

	return e, nil
}

// Router returns the engine's routing table.
func (e *Engine) Router() *Router {
	return e.router
}

func (e *Engine) dir(f types.Family) string {
	return filepath.Join(e.opts.Root, "chunks", f.String())
}

// =============================================================================
// Listing
// =============================================================================

// ListChunks returns the chunks of f sorted oldest to newest.
func (e *Engine) ListChunks(f types.Family) ([]Chunk, error) {
	return listChunks(e.dir(f), f)
}

func listChunks(dir string, f types.Family) ([]Chunk, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var chunks []Chunk
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isChunkName(name) {
			continue
		}
		path := filepath.Join(dir, name)
		chunks = append(chunks, Chunk{
			Family: f,
			Name:   name,
			Path:   path,
			Size:   sqlitedb.TotalSize(path),
		})
	}

	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].Name < chunks[j].Name
	})

	return chunks, nil
}

func isChunkName(name string) bool {
	return strings.HasPrefix(name, chunkPrefix) && strings.HasSuffix(name, chunkExt)
}

// chunkTime extracts the creation time embedded in a chunk name.
func chunkTime(name string) (time.Time, error) {
	base := strings.TrimSuffix(strings.TrimPrefix(name, chunkPrefix), chunkExt)
	return time.Parse(nameLayout, base)
}

// nextName returns a name for a new chunk that sorts after every existing
// chunk of the family, even if the clock stepped backwards.
func (e *Engine) nextName(existing []Chunk) string {
	t := e.opts.Now().UTC()
	if n := len(existing); n > 0 {
		if last, err := chunkTime(existing[n-1].Name); err == nil && !t.After(last) {
			t = last.Add(time.Microsecond)
		}
	}
	return chunkPrefix + t.Format(nameLayout) + chunkExt
}

// =============================================================================
// Active chunk
// =============================================================================

// SelectActive returns the path of the family's active chunk, creating the
// first chunk when the family has none.
func (e *Engine) SelectActive(ctx context.Context, f types.Family) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectActive(ctx, f)
}

func (e *Engine) selectActive(ctx context.Context, f types.Family) (string, error) {
	if p, ok := e.active[f]; ok {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		e.dropHandle(f)
		delete(e.active, f)
	}

	chunks, err := e.ListChunks(f)
	if err != nil {
		return "", fmt.Errorf("list %s chunks: %w", f, err)
	}
	if n := len(chunks); n > 0 {
		e.active[f] = chunks[n-1].Path
		return chunks[n-1].Path, nil
	}

	return e.create(ctx, f, chunks)
}

// RotateIfNeeded starts a new chunk when the active one has reached the
// size cap. It reports whether a rotation happened.
func (e *Engine) RotateIfNeeded(ctx context.Context, f types.Family) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rotateIfNeeded(ctx, f)
}

func (e *Engine) rotateIfNeeded(ctx context.Context, f types.Family) (bool, error) {
	p, err := e.selectActive(ctx, f)
	if err != nil {
		return false, err
	}

	size := sqlitedb.TotalSize(p)
	if size < e.opts.MaxBytes {
		return false, nil
	}

	chunks, err := e.ListChunks(f)
	if err != nil {
		return false, fmt.Errorf("list %s chunks: %w", f, err)
	}
	next, err := e.create(ctx, f, chunks)
	if err != nil {
		return false, err
	}

	log.Info("rotated chunk",
		"family", f.String(),
		"previous", filepath.Base(p),
		"size", size,
		"next", filepath.Base(next),
	)
	return true, nil
}

// create initializes a new chunk file and makes it active.
func (e *Engine) create(ctx context.Context, f types.Family, existing []Chunk) (string, error) {
	path := filepath.Join(e.dir(f), e.nextName(existing))

	db, err := sqlitedb.Open(path, sqlitedb.Options{BusyTimeout: e.opts.BusyTimeout})
	if err != nil {
		return "", err
	}
	if err := sqlitedb.EnsureLogSchema(ctx, db); err != nil {
		db.Close()
		return "", err
	}

	e.dropHandle(f)
	e.active[f] = path
	e.handles[f] = db
	return path, nil
}

// handle returns a write connection to the family's active chunk.
func (e *Engine) handle(f types.Family, path string) (*sql.DB, error) {
	if db, ok := e.handles[f]; ok {
		return db, nil
	}
	db, err := sqlitedb.Open(path, sqlitedb.Options{BusyTimeout: e.opts.BusyTimeout})
	if err != nil {
		return nil, err
	}
	e.handles[f] = db
	return db, nil
}

func (e *Engine) dropHandle(f types.Family) {
	if db, ok := e.handles[f]; ok {
		db.Close()
		delete(e.handles, f)
	}
}

// =============================================================================
// Writes
// =============================================================================

// WriteError reports a write that failed for some families. Rows of the
// other families were committed.
type WriteError struct {
	Unwritten []types.LogRow
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%d rows not written: %v", len(e.Unwritten), e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// WriteRows appends rows to the active chunk of their family, one
// transaction per family. A failure for one family does not prevent the
// others from being written; the rows that were not written are returned
// in a *WriteError.
func (e *Engine) WriteRows(ctx context.Context, rows []types.LogRow) error {
	if len(rows) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.ErrClosed
	}
	if e.opts.ReadOnly {
		return errors.ErrReadOnly
	}

	parts := e.router.Split(rows)

	var (
		unwritten []types.LogRow
		errs      []error
	)
	for _, f := range types.AllFamilies() {
		part := parts[f]
		if len(part) == 0 {
			continue
		}
		if err := e.writeFamily(ctx, f, part); err != nil {
			unwritten = append(unwritten, part...)
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
		}
	}

	if len(errs) > 0 {
		return &WriteError{Unwritten: unwritten, Err: errors.Join(errs...)}
	}
	return nil
}

func (e *Engine) writeFamily(ctx context.Context, f types.Family, rows []types.LogRow) error {
	if _, err := e.rotateIfNeeded(ctx, f); err != nil {
		return err
	}

	path := e.active[f]
	db, err := e.handle(f, path)
	if err != nil {
		return err
	}

	if err := sqlitedb.InsertRows(ctx, db, rows); err != nil {
		// A broken handle is reopened on the next write.
		e.dropHandle(f)
		return err
	}
	return nil
}

// =============================================================================
// Reads
// =============================================================================

// Partitions returns the chunk files a read for tag has to scan, one
// partition per family, newest file first.
func (e *Engine) Partitions(tag string) ([]types.Partition, error) {
	var out []types.Partition
	for _, f := range e.router.Families(tag) {
		chunks, err := e.ListChunks(f)
		if err != nil {
			return nil, fmt.Errorf("list %s chunks: %w", f, err)
		}
		p := types.Partition{Name: f.String(), Files: make([]string, 0, len(chunks))}
		for i := len(chunks) - 1; i >= 0; i-- {
			p.Files = append(p.Files, chunks[i].Path)
		}
		out = append(out, p)
	}
	return out, nil
}

// Latest returns the newest persisted row of each tag, searching each
// tag's family from the newest chunk backwards.
func (e *Engine) Latest(ctx context.Context, tags []string) (map[string]types.LogRow, error) {
	byFamily := make(map[types.Family][]string)
	for _, tag := range tags {
		for _, f := range e.router.Families(tag) {
			byFamily[f] = append(byFamily[f], tag)
		}
	}

	out := make(map[string]types.LogRow, len(tags))
	for _, f := range types.AllFamilies() {
		pending := byFamily[f]
		if len(pending) == 0 {
			continue
		}

		chunks, err := e.ListChunks(f)
		if err != nil {
			return nil, fmt.Errorf("list %s chunks: %w", f, err)
		}

		for i := len(chunks) - 1; i >= 0 && len(pending) > 0; i-- {
			found, err := latestIn(ctx, chunks[i].Path, pending, e.opts.BusyTimeout)
			if err != nil {
				log.Warn("skipping unreadable chunk", "chunk", chunks[i].Name, "error", err)
				continue
			}

			var remaining []string
			for _, tag := range pending {
				row, ok := found[tag]
				if !ok {
					remaining = append(remaining, tag)
					continue
				}
				if prev, seen := out[tag]; !seen || row.Timestamp > prev.Timestamp {
					out[tag] = row
				}
			}
			pending = remaining
		}
	}

	return out, nil
}

func latestIn(ctx context.Context, path string, tags []string, busy time.Duration) (map[string]types.LogRow, error) {
	db, err := sqlitedb.Open(path, sqlitedb.Options{BusyTimeout: busy, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return sqlitedb.Latest(ctx, db, tags)
}

// =============================================================================
// Usage
// =============================================================================

// FamilyUsage is the on-disk footprint of one family.
type FamilyUsage struct {
	Files  int
	Bytes  int64
	Active string // base name of the active chunk, if any
}

// Usage returns the footprint of every family.
func (e *Engine) Usage() map[types.Family]FamilyUsage {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[types.Family]FamilyUsage, 3)
	for _, f := range types.AllFamilies() {
		chunks, err := e.ListChunks(f)
		if err != nil {
			log.Warn("list chunks failed", "family", f.String(), "error", err)
			continue
		}
		u := FamilyUsage{Files: len(chunks)}
		for _, c := range chunks {
			u.Bytes += c.Size
		}
		if p, ok := e.active[f]; ok {
			u.Active = filepath.Base(p)
		}
		out[f] = u
	}
	return out
}

// Close releases the write connections.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for f, db := range e.handles {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(e.handles, f)
	}
	e.closed = true
	return errors.Join(errs...)
}
