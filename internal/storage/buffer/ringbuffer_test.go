package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/plclogger/internal/storage/types"
)

var t0 = time.Date(2025, 9, 3, 12, 0, 0, 0, time.UTC)

func row(i int) types.LogRow {
	return types.NewLogRow(t0.Add(time.Duration(i)*time.Second), "Level", float64(i), "m")
}

func values(rows []types.LogRow) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = *r.Value
	}
	return out
}

func TestRingBuffer_Basic(t *testing.T) {
	rb := New(10)

	if rb.Cap() != 10 {
		t.Errorf("expected capacity=10, got %d", rb.Cap())
	}
	if rb.Len() != 0 || len(rb.Rows()) != 0 {
		t.Error("new buffer should be empty")
	}
	if New(0).Cap() != 1024 {
		t.Error("non-positive capacity should use the default")
	}
}

func TestRingBuffer_PushKeepsOrder(t *testing.T) {
	rb := New(5)

	for i := 0; i < 3; i++ {
		if dropped := rb.Push(row(i)); dropped != 0 {
			t.Errorf("push %d dropped %d", i, dropped)
		}
	}

	got := values(rb.Rows())
	want := []float64{0, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("rows = %v, want %v", got, want)
			break
		}
	}
}

func TestRingBuffer_OverwritesOldest(t *testing.T) {
	rb := New(3)

	batch := []types.LogRow{row(0), row(1), row(2), row(3), row(4)}
	if dropped := rb.Push(batch...); dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}

	got := values(rb.Rows())
	if len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Errorf("rows = %v, want [2 3 4]", got)
	}

	// Wraps around more than once
	rb.Push(row(5), row(6), row(7), row(8))
	got = values(rb.Rows())
	if len(got) != 3 || got[0] != 6 || got[2] != 8 {
		t.Errorf("rows = %v, want [6 7 8]", got)
	}

	st := rb.Stats()
	if st.PushCount != 9 || st.DropCount != 6 || st.Count != 3 || st.UsageRatio != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRingBuffer_Replace(t *testing.T) {
	rb := New(4)
	rb.Push(row(0), row(1), row(2))

	if dropped := rb.Replace([]types.LogRow{row(1)}); dropped != 0 {
		t.Errorf("dropped = %d", dropped)
	}
	if got := values(rb.Rows()); len(got) != 1 || got[0] != 1 {
		t.Errorf("rows = %v", got)
	}

	rb.Clear()
	if rb.Len() != 0 || rb.UsageRatio() != 0 {
		t.Errorf("len after clear = %d", rb.Len())
	}
}

func TestRingBuffer_RowsIsCopy(t *testing.T) {
	rb := New(2)
	rb.Push(row(0))

	rows := rb.Rows()
	rows[0].Tag = "changed"
	if rb.Rows()[0].Tag != "Level" {
		t.Error("Rows exposed the internal slice")
	}
}

func TestRingBuffer_Concurrent(t *testing.T) {
	rb := New(100)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				rb.Push(row(i))
				_ = rb.Len()
			}
		}()
	}
	wg.Wait()

	if rb.Len() != 100 {
		t.Errorf("len = %d, want 100", rb.Len())
	}
	if st := rb.Stats(); st.PushCount != 1000 || st.DropCount != 900 {
		t.Errorf("stats = %+v", st)
	}
}
