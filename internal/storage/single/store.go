// Package single implements the single-file layout: every row lives in one
// SQLite database that is kept under its size cap by the retention manager.
package single

import (
	"context"
	"database/sql"

	"github.com/xtxerr/plclogger/internal/storage/sqlitedb"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

// PartitionName names the only partition of the single-file layout.
const PartitionName = "single"

// Store is one database file holding the logs table.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path. New files are created with
// incremental auto-vacuum so that retention can shrink them in place.
func Open(ctx context.Context, path string, opts sqlitedb.Options) (*Store, error) {
	if !opts.ReadOnly {
		opts.IncrementalVacuum = true
	}

	db, err := sqlitedb.Open(path, opts)
	if err != nil {
		return nil, err
	}

	if !opts.ReadOnly {
		if err := sqlitedb.EnsureLogSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{db: db, path: path}, nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// WriteRows appends rows in one transaction.
func (s *Store) WriteRows(ctx context.Context, rows []types.LogRow) error {
	return sqlitedb.InsertRows(ctx, s.db, rows)
}

// Latest returns the newest row of each tag that has one.
func (s *Store) Latest(ctx context.Context, tags []string) (map[string]types.LogRow, error) {
	return sqlitedb.Latest(ctx, s.db, tags)
}

// Partitions returns the file as the only partition, whatever the tag.
func (s *Store) Partitions(string) ([]types.Partition, error) {
	return []types.Partition{{Name: PartitionName, Files: []string{s.path}}}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
