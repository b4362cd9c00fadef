package meta

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xtxerr/plclogger/internal/catalog"
	"github.com/xtxerr/plclogger/internal/storage/sqlitedb"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "meta.db"), sqlitedb.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSyncCatalogReplacesMirror(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	cat := catalog.Default()

	if err := s.SyncCatalog(ctx, cat); err != nil {
		t.Fatalf("SyncCatalog: %v", err)
	}
	// A second sync must not duplicate or keep stale entries.
	if err := s.SyncCatalog(ctx, cat); err != nil {
		t.Fatalf("SyncCatalog: %v", err)
	}

	all, err := s.Tags(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := len(cat.Tags) + len(cat.Setpoints); len(all) != want {
		t.Errorf("mirrored %d entries, want %d", len(all), want)
	}

	sps, err := s.Setpoints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sps) != len(cat.Setpoints) {
		t.Errorf("mirrored %d setpoints, want %d", len(sps), len(cat.Setpoints))
	}
	for _, sp := range sps {
		if !sp.IsSetpoint || sp.DataType == "" {
			t.Errorf("bad setpoint entry %+v", sp)
		}
	}

	labels, err := s.Labels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	tag := cat.Tags[0]
	want := tag.Label
	if want == "" {
		want = tag.Name
	}
	if labels[tag.Name] != want {
		t.Errorf("label of %s = %q, want %q", tag.Name, labels[tag.Name], want)
	}
}

func TestStateLastWriteWins(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	first := types.RuntimeState{Connected: true, LastReadOK: true, LastReadEpoch: 100}
	if err := s.PutState(ctx, first.Map()); err != nil {
		t.Fatal(err)
	}
	second := types.RuntimeState{ConsecutiveErrors: 3, LastReadEpoch: 200}
	if err := s.PutState(ctx, second.Map()); err != nil {
		t.Fatal(err)
	}

	m, err := s.State(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := types.RuntimeStateFromMap(m)
	if got != second {
		t.Errorf("state = %+v, want %+v", got, second)
	}
}

func TestReadOnlyWithoutTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	db, err := sqlitedb.Open(path, sqlitedb.Options{})
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	s, err := Open(context.Background(), path, sqlitedb.Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	labels, err := s.Labels(context.Background())
	if err != nil || len(labels) != 0 {
		t.Errorf("Labels = %v, %v; want empty", labels, err)
	}
	state, err := s.State(context.Background())
	if err != nil || len(state) != 0 {
		t.Errorf("State = %v, %v; want empty", state, err)
	}
	policy, err := s.Policy(context.Background())
	if err != nil || len(policy) != 0 {
		t.Errorf("Policy = %v, %v; want empty", policy, err)
	}
}

func TestPolicyReplaced(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	first := []types.PolicyState{
		{Tag: "Level", Mode: "interval", LastValue: types.Float(4.5), LastLogged: "2025-09-03T12:00:00.000000"},
		{Tag: "Fault", Mode: "on_change"},
	}
	if err := s.PutPolicy(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.PutPolicy(ctx, first[:1]); err != nil {
		t.Fatal(err)
	}

	got, err := s.Policy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("policy = %+v, want only the latest publication", got)
	}
	p := got[0]
	if p.Tag != "Level" || p.Mode != "interval" || p.LastValue == nil || *p.LastValue != 4.5 || p.LastLogged != first[0].LastLogged {
		t.Errorf("policy = %+v", p)
	}
}
