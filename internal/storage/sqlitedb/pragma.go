package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
)

// auto_vacuum modes as reported by PRAGMA auto_vacuum.
const (
	AutoVacuumNone        = 0
	AutoVacuumFull        = 1
	AutoVacuumIncremental = 2
)

// AutoVacuumLabel names an auto_vacuum mode.
func AutoVacuumLabel(mode int) string {
	switch mode {
	case AutoVacuumNone:
		return "NONE"
	case AutoVacuumFull:
		return "FULL"
	case AutoVacuumIncremental:
		return "INCREMENTAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", mode)
	}
}

// Checkpoint runs a TRUNCATE checkpoint, folding the WAL into the main
// file and shrinking the WAL to zero bytes.
func Checkpoint(ctx context.Context, db *sql.DB) error {
	var busy, logFrames, checkpointed int
	err := db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return classify(fmt.Errorf("wal checkpoint: %w", err))
	}
	return nil
}

// IncrementalVacuum releases up to pages free pages back to the file
// system. pages <= 0 releases all of them.
func IncrementalVacuum(ctx context.Context, db *sql.DB, pages int) error {
	q := "PRAGMA incremental_vacuum"
	if pages > 0 {
		q = fmt.Sprintf("PRAGMA incremental_vacuum(%d)", pages)
	}
	// Pages are freed as the statement is stepped.
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return classify(fmt.Errorf("incremental vacuum: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
	}
	return classify(rows.Err())
}

// PragmaInt reads an integer-valued pragma such as page_size.
func PragmaInt(ctx context.Context, db *sql.DB, name string) (int64, error) {
	var v int64
	if err := db.QueryRowContext(ctx, "PRAGMA "+name).Scan(&v); err != nil {
		return 0, classify(fmt.Errorf("pragma %s: %w", name, err))
	}
	return v, nil
}

// JournalMode returns the journal mode, e.g. "wal".
func JournalMode(ctx context.Context, db *sql.DB) (string, error) {
	var v string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&v); err != nil {
		return "", classify(fmt.Errorf("pragma journal_mode: %w", err))
	}
	return v, nil
}

// AutoVacuum returns the auto_vacuum mode of db.
func AutoVacuum(ctx context.Context, db *sql.DB) (int, error) {
	v, err := PragmaInt(ctx, db, "auto_vacuum")
	return int(v), err
}
