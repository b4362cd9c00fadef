// Package meta stores the catalog mirror and the poll loop's runtime state
// next to the logged rows, so read-only consumers can label rows and report
// health without loading the catalog themselves.
package meta

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/xtxerr/plclogger/internal/catalog"
	"github.com/xtxerr/plclogger/internal/storage/sqlitedb"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS tag_meta (
	name        TEXT PRIMARY KEY,
	label       TEXT,
	unit        TEXT,
	address     INTEGER,
	dtype       TEXT,
	is_setpoint INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value REAL
);
CREATE TABLE IF NOT EXISTS policy_state (
	tag         TEXT PRIMARY KEY,
	mode        TEXT,
	last_value  REAL,
	last_logged TEXT
);
`

// TagMeta is one mirrored catalog entry.
type TagMeta struct {
	Name       string
	Label      string
	Unit       string
	Address    uint16
	DataType   string
	IsSetpoint bool
}

// Store wraps the metadata tables of one database file.
type Store struct {
	db    *sql.DB
	path  string
	owned bool
}

// Open opens the metadata database at path. Unless opts.ReadOnly is set
// the tables are created.
func Open(ctx context.Context, path string, opts sqlitedb.Options) (*Store, error) {
	db, err := sqlitedb.Open(path, opts)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: path, owned: true}
	if !opts.ReadOnly {
		if err := s.ensureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Attach uses an already open database, typically the single-file store.
// Close leaves db open.
func Attach(ctx context.Context, db *sql.DB, path string, readOnly bool) (*Store, error) {
	s := &Store{db: db, path: path}
	if !readOnly {
		if err := s.ensureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create meta schema: %w", err)
	}
	return nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// SyncCatalog replaces the mirror with the tags and setpoints of cat.
func (s *Store) SyncCatalog(ctx context.Context, cat *catalog.Catalog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tag_meta"); err != nil {
		return fmt.Errorf("clear tag_meta: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO tag_meta (name, label, unit, address, dtype, is_setpoint) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, t := range cat.Tags {
		if _, err := stmt.ExecContext(ctx, t.Name, t.Label, t.Unit, int(t.Address), t.Type.String(), 0); err != nil {
			return fmt.Errorf("insert tag %s: %w", t.Name, err)
		}
	}
	for _, sp := range cat.Setpoints {
		if _, err := stmt.ExecContext(ctx, sp.Name, sp.Label, sp.Unit, int(sp.Address), sp.Type.String(), 1); err != nil {
			return fmt.Errorf("insert setpoint %s: %w", sp.Name, err)
		}
	}

	return tx.Commit()
}

// Tags returns every mirrored entry ordered by name.
func (s *Store) Tags(ctx context.Context) ([]TagMeta, error) {
	return s.list(ctx, "")
}

// Setpoints returns the mirrored setpoints ordered by name.
func (s *Store) Setpoints(ctx context.Context) ([]TagMeta, error) {
	return s.list(ctx, " WHERE is_setpoint = 1")
}

func (s *Store) list(ctx context.Context, where string) ([]TagMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, label, unit, address, dtype, is_setpoint FROM tag_meta"+where+" ORDER BY name")
	if err != nil {
		if missingTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query tag_meta: %w", err)
	}
	defer rows.Close()

	var out []TagMeta
	for rows.Next() {
		var (
			m              TagMeta
			label, unit    sql.NullString
			dtype          sql.NullString
			address, isSet sql.NullInt64
		)
		if err := rows.Scan(&m.Name, &label, &unit, &address, &dtype, &isSet); err != nil {
			return nil, fmt.Errorf("scan tag_meta: %w", err)
		}
		m.Label = label.String
		m.Unit = unit.String
		m.Address = uint16(address.Int64)
		m.DataType = dtype.String
		m.IsSetpoint = isSet.Int64 == 1
		out = append(out, m)
	}
	return out, rows.Err()
}

// Labels maps tag names to display labels. Entries without a label map to
// their name. A database without the mirror yields an empty map.
func (s *Store) Labels(ctx context.Context) (map[string]string, error) {
	tags, err := s.Tags(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		if t.Label != "" {
			out[t.Name] = t.Label
		} else {
			out[t.Name] = t.Name
		}
	}
	return out, nil
}

// PutState upserts runtime state keys. Keys not in values are kept.
func (s *Store) PutState(ctx context.Context, values map[string]float64) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for k, v := range values {
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("put state %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// State returns every runtime state key.
func (s *Store) State(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM state")
	if err != nil {
		if missingTable(err) {
			return map[string]float64{}, nil
		}
		return nil, fmt.Errorf("query state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			k string
			v sql.NullFloat64
		)
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		out[k] = v.Float64
	}
	return out, rows.Err()
}

// PutPolicy replaces the published policy memory with states.
func (s *Store) PutPolicy(ctx context.Context, states []types.PolicyState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM policy_state"); err != nil {
		return fmt.Errorf("clear policy state: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO policy_state (tag, mode, last_value, last_logged) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, st := range states {
		var v any
		if st.LastValue != nil {
			v = *st.LastValue
		}
		if _, err := stmt.ExecContext(ctx, st.Tag, st.Mode, v, st.LastLogged); err != nil {
			return fmt.Errorf("put policy state %s: %w", st.Tag, err)
		}
	}
	return tx.Commit()
}

// Policy returns the published policy memory ordered by tag. A database
// written before the table existed yields nothing.
func (s *Store) Policy(ctx context.Context) ([]types.PolicyState, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT tag, mode, last_value, last_logged FROM policy_state ORDER BY tag")
	if err != nil {
		if missingTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query policy state: %w", err)
	}
	defer rows.Close()

	var out []types.PolicyState
	for rows.Next() {
		var (
			st     types.PolicyState
			mode   sql.NullString
			value  sql.NullFloat64
			logged sql.NullString
		)
		if err := rows.Scan(&st.Tag, &mode, &value, &logged); err != nil {
			return nil, fmt.Errorf("scan policy state: %w", err)
		}
		st.Mode = mode.String
		if value.Valid {
			st.LastValue = types.Float(value.Float64)
		}
		st.LastLogged = logged.String
		out = append(out, st)
	}
	return out, rows.Err()
}

// ModTime returns the modification time of the database file, including
// its WAL. Readers use it to tell when cached labels are stale.
func (s *Store) ModTime() time.Time {
	return sqlitedb.ModTime(s.path)
}

func missingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}
