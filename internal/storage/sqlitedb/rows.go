package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xtxerr/plclogger/internal/storage/types"
)

// InsertRows writes rows in one transaction.
func InsertRows(ctx context.Context, db *sql.DB, rows []types.LogRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO logs (ts, tag, value, unit) VALUES (?, ?, ?, ?)")
	if err != nil {
		return classify(fmt.Errorf("prepare insert: %w", err))
	}
	defer stmt.Close()

	for _, r := range rows {
		ts := r.Timestamp
		if len(ts) != len(types.TimestampLayout) {
			if ts, err = types.NormalizeTimestamp(ts); err != nil {
				return fmt.Errorf("insert %s: %w", r.Tag, err)
			}
		}
		var v any
		if r.Value != nil {
			v = *r.Value
		}
		if _, err := stmt.ExecContext(ctx, ts, r.Tag, v, r.Unit); err != nil {
			return classify(fmt.Errorf("insert %s: %w", r.Tag, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Filter bounds a read of the logs table. Empty fields are unbounded.
// Start is inclusive, End exclusive.
type Filter struct {
	Tag   string
	Start string
	End   string
	Limit int
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Tag != "" {
		conds = append(conds, "tag = ?")
		args = append(args, f.Tag)
	}
	if f.Start != "" {
		conds = append(conds, "ts >= ?")
		args = append(args, f.Start)
	}
	if f.End != "" {
		conds = append(conds, "ts < ?")
		args = append(args, f.End)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// QueryNewest returns at most f.Limit rows matching f, newest first.
func QueryNewest(ctx context.Context, db *sql.DB, f Filter) ([]types.LogRow, error) {
	where, args := f.where()
	q := "SELECT ts, tag, value, unit FROM logs" + where + " ORDER BY ts DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rs, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("query logs: %w", err))
	}
	defer rs.Close()

	var out []types.LogRow
	for rs.Next() {
		r, err := scanRow(rs)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate logs: %w", err))
	}
	return out, nil
}

// ScanAll streams every row of the logs table in timestamp order.
func ScanAll(ctx context.Context, db *sql.DB, fn func(types.LogRow) error) error {
	rs, err := db.QueryContext(ctx, "SELECT ts, tag, value, unit FROM logs ORDER BY ts")
	if err != nil {
		return classify(fmt.Errorf("scan logs: %w", err))
	}
	defer rs.Close()

	for rs.Next() {
		r, err := scanRow(rs)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return classify(rs.Err())
}

// MaxTimestamp returns the newest timestamp matching f, or ok=false when
// nothing matches.
func MaxTimestamp(ctx context.Context, db *sql.DB, f Filter) (string, bool, error) {
	where, args := f.where()
	var ts sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT MAX(ts) FROM logs"+where, args...).Scan(&ts); err != nil {
		return "", false, classify(fmt.Errorf("max ts: %w", err))
	}
	return ts.String, ts.Valid, nil
}

// Latest returns the newest row of each tag that has one.
func Latest(ctx context.Context, db *sql.DB, tags []string) (map[string]types.LogRow, error) {
	out := make(map[string]types.LogRow, len(tags))
	for _, tag := range tags {
		rows, err := QueryNewest(ctx, db, Filter{Tag: tag, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(rows) == 1 {
			out[tag] = rows[0]
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (types.LogRow, error) {
	var (
		r     types.LogRow
		value sql.NullFloat64
		unit  sql.NullString
	)
	if err := s.Scan(&r.Timestamp, &r.Tag, &value, &unit); err != nil {
		return r, classify(fmt.Errorf("scan row: %w", err))
	}
	if value.Valid {
		r.Value = types.Float(value.Float64)
	}
	r.Unit = unit.String

	// Older databases hold variable-width timestamps.
	if len(r.Timestamp) != len(types.TimestampLayout) {
		if ts, err := types.NormalizeTimestamp(r.Timestamp); err == nil {
			r.Timestamp = ts
		}
	}
	return r, nil
}
