package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/plclogger/internal/errors"
)

// Analyzer runs SQL over the archive through an in-memory DuckDB. Queries
// see a "logs" view with columns ts, tag, value, unit and family.
type Analyzer struct {
	mu sync.Mutex

	dir string
	db  *sql.DB

	// Statistics
	stats AnalyzerStats
}

// AnalyzerStats holds analyzer statistics.
type AnalyzerStats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// TagSummary describes the archived rows of one tag.
type TagSummary struct {
	Tag     string
	Rows    int64
	NonNull int64
	FirstTs string
	LastTs  string
	Avg     *float64
}

// NewAnalyzer opens DuckDB over the archive in dir. memoryLimit, when
// set, is passed to DuckDB's memory_limit.
func NewAnalyzer(dir, memoryLimit string) (*Analyzer, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if memoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", quote(memoryLimit))); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Analyzer{dir: dir, db: db}, nil
}

// Close closes DuckDB.
func (a *Analyzer) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// refreshView points the logs view at the current archive files.
func (a *Analyzer) refreshView(ctx context.Context) error {
	files, err := listFiles(a.dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.NewNotFound("archive files in", a.dir)
	}

	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = "'" + quote(f) + "'"
	}

	view := fmt.Sprintf(`CREATE OR REPLACE VIEW logs AS
		SELECT ts, tag, value, unit, regexp_extract(filename, '([^/\\]+)[/\\][^/\\]+$', 1) AS family
		FROM read_parquet([%s], filename = true)`, strings.Join(quoted, ", "))
	if _, err := a.db.ExecContext(ctx, view); err != nil {
		return fmt.Errorf("create logs view: %w", err)
	}
	return nil
}

// ExecuteSQL runs query and returns each row as a column map.
func (a *Analyzer) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	results, err := a.execute(ctx, query)
	if err != nil {
		a.stats.Errors++
		return nil, err
	}

	a.stats.QueriesExecuted++
	a.stats.RowsReturned += int64(len(results))
	return results, nil
}

func (a *Analyzer) execute(ctx context.Context, query string) ([]map[string]interface{}, error) {
	if err := a.refreshView(ctx); err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// Summary returns per-tag counts and time range of the archive.
func (a *Analyzer) Summary(ctx context.Context) ([]TagSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.refreshView(ctx); err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT tag, COUNT(*), COUNT(value), MIN(ts), MAX(ts), AVG(value)
		FROM logs GROUP BY tag ORDER BY tag`)
	if err != nil {
		a.stats.Errors++
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var out []TagSummary
	for rows.Next() {
		var s TagSummary
		var avg sql.NullFloat64
		if err := rows.Scan(&s.Tag, &s.Rows, &s.NonNull, &s.FirstTs, &s.LastTs, &avg); err != nil {
			return nil, err
		}
		if avg.Valid {
			v := avg.Float64
			s.Avg = &v
		}
		out = append(out, s)
	}
	a.stats.QueriesExecuted++
	return out, rows.Err()
}

// Stats returns analyzer statistics.
func (a *Analyzer) Stats() AnalyzerStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
