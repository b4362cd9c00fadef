package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/storage/chunk"
	"github.com/xtxerr/plclogger/internal/storage/sqlitedb"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

var t0 = time.Date(2025, 9, 3, 12, 0, 0, 0, time.UTC)

func writeChunk(t *testing.T, path string, rows []types.LogRow) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlitedb.Open(path, sqlitedb.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := sqlitedb.EnsureLogSchema(ctx, db); err != nil {
		t.Fatal(err)
	}
	if err := sqlitedb.InsertRows(ctx, db, rows); err != nil {
		t.Fatal(err)
	}
}

func testRows(n int) []types.LogRow {
	rows := make([]types.LogRow, 0, n+1)
	for i := 0; i < n; i++ {
		rows = append(rows, types.NewLogRow(t0.Add(time.Duration(i)*time.Second), "Level", float64(i), "m"))
	}
	return append(rows, types.LogRow{Timestamp: types.FormatTimestamp(t0.Add(-time.Hour)), Tag: "Pump"})
}

func TestWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.parquet")
	rows := testRows(10)

	w, err := NewWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Write(rows); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.RowCount() != int64(len(rows)) {
		t.Errorf("row count = %d", w.RowCount())
	}
	if err := w.Write(rows); err != ErrWriterClosed {
		t.Errorf("write after close: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("read %d rows, want %d", len(got), len(rows))
	}
	for i := range rows {
		if got[i].Timestamp != rows[i].Timestamp || got[i].Tag != rows[i].Tag || got[i].Unit != rows[i].Unit {
			t.Errorf("row %d = %+v, want %+v", i, got[i], rows[i])
		}
		if (got[i].Value == nil) != (rows[i].Value == nil) {
			t.Errorf("row %d null mismatch", i)
		} else if got[i].Value != nil && *got[i].Value != *rows[i].Value {
			t.Errorf("row %d value = %v, want %v", i, *got[i].Value, *rows[i].Value)
		}
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := map[string]CompressionType{
		"":       CompressionZstd,
		"zstd":   CompressionZstd,
		"snappy": CompressionSnappy,
		"gzip":   CompressionGzip,
		"none":   CompressionNone,
	}
	for in, want := range tests {
		if got := ParseCompressionType(in); got != want {
			t.Errorf("ParseCompressionType(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestExportChunk(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "chunks", "plc-20250903-120000.000000.db")
	if err := os.MkdirAll(filepath.Dir(src), 0755); err != nil {
		t.Fatal(err)
	}
	rows := testRows(20000)
	writeChunk(t, src, rows)

	e := NewExporter(filepath.Join(dir, "archive"), DefaultOptions(), time.Second)
	err := e.ExportChunk(context.Background(), chunk.Chunk{Family: types.FamilyContinuous, Path: src})
	if err != nil {
		t.Fatalf("ExportChunk: %v", err)
	}

	want := filepath.Join(dir, "archive", "continuous", "plc-20250903-120000.000000.parquet")
	files, err := e.Files()
	if err != nil || len(files) != 1 || files[0] != want {
		t.Fatalf("files = %v, %v; want [%s]", files, err, want)
	}
	if _, err := os.Stat(want + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	got, err := ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(rows) {
		t.Errorf("archived %d rows, want %d", len(got), len(rows))
	}
	if st := e.Stats(); st.FilesExported != 1 || st.RowsExported != int64(len(rows)) || st.BytesWritten == 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestExportUnreadableChunk(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(dir, DefaultOptions(), time.Second)

	_, err := e.Export(context.Background(), types.FamilyOnChange, filepath.Join(dir, "missing.db"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if files, _ := e.Files(); len(files) != 0 {
		t.Errorf("files = %v", files)
	}
	if e.Stats().Errors != 1 {
		t.Errorf("errors = %d", e.Stats().Errors)
	}
}

func TestAnalyzer(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAnalyzer(dir, "256MB")
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	defer a.Close()
	ctx := context.Background()

	if _, err := a.ExecuteSQL(ctx, "SELECT 1"); !errors.IsNotFound(err) {
		t.Fatalf("empty archive: err = %v, want not found", err)
	}

	src := filepath.Join(t.TempDir(), "plc-20250903-120000.000000.db")
	writeChunk(t, src, testRows(100))
	e := NewExporter(dir, DefaultOptions(), time.Second)
	if _, err := e.Export(ctx, types.FamilyConditional, src); err != nil {
		t.Fatal(err)
	}

	res, err := a.ExecuteSQL(ctx, "SELECT family, COUNT(*) AS n FROM logs GROUP BY family")
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}
	if len(res) != 1 || res[0]["family"] != "conditional" {
		t.Errorf("result = %v", res)
	}

	sum, err := a.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(sum) != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	level := sum[0]
	if level.Tag != "Level" || level.Rows != 100 || level.Avg == nil || *level.Avg != 49.5 {
		t.Errorf("Level summary = %+v", level)
	}
	if pump := sum[1]; pump.Tag != "Pump" || pump.NonNull != 0 || pump.Avg != nil {
		t.Errorf("Pump summary = %+v", pump)
	}
}
