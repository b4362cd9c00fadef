package single

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/plclogger/internal/storage/sqlitedb"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

func TestOpenEnablesIncrementalVacuum(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "plc.db"), sqlitedb.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	mode, err := sqlitedb.AutoVacuum(ctx, s.DB())
	if err != nil {
		t.Fatal(err)
	}
	if mode != sqlitedb.AutoVacuumIncremental {
		t.Errorf("auto_vacuum = %s", sqlitedb.AutoVacuumLabel(mode))
	}
}

func TestWriteAndLatest(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "plc.db"), sqlitedb.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	err = s.WriteRows(ctx, []types.LogRow{
		types.NewLogRow(t0, "A", 1, ""),
		types.NewLogRow(t0.Add(time.Second), "A", 2, ""),
		types.NewLogRow(t0, "B", 3, "bar"),
	})
	if err != nil {
		t.Fatalf("WriteRows: %v", err)
	}

	latest, err := s.Latest(ctx, []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}
	if *latest["A"].Value != 2 || latest["B"].Unit != "bar" {
		t.Errorf("latest = %+v", latest)
	}

	parts, _ := s.Partitions("A")
	if len(parts) != 1 || parts[0].Files[0] != s.Path() {
		t.Errorf("partitions = %+v", parts)
	}
}
