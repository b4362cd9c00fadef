package main

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/plclogger/internal/catalog"
	"github.com/xtxerr/plclogger/internal/register"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

func TestRowRates(t *testing.T) {
	run := catalog.Condition{Peer: "Run", Op: catalog.OpEq, Value: 1}
	cat, err := catalog.New(catalog.Window{Base: 0, Count: 4}, []catalog.Tag{
		{Name: "Level", Address: 0, Type: register.Uint16, Policy: catalog.Interval{Every: 500 * time.Millisecond}},
		{Name: "Flow", Address: 1, Type: register.Uint16, Policy: catalog.Conditional{When: run, Active: time.Second, Idle: time.Minute}},
		{Name: "Run", Address: 2, Type: register.Uint16, Policy: catalog.OnChange{}},
		{Name: "Fault", Address: 3, Type: register.Uint16, Policy: catalog.OnChange{}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	rates := rowRates(cat, 0.5)
	want := map[types.Family]float64{
		types.FamilyContinuous:  2,
		types.FamilyConditional: 1,
		types.FamilyOnChange:    1,
	}
	for f, w := range want {
		if math.Abs(rates[f]-w) > 1e-9 {
			t.Errorf("%s = %v, want %v", f, rates[f], w)
		}
	}
}

func TestPrintRows(t *testing.T) {
	var buf bytes.Buffer
	printRows(&buf, []map[string]interface{}{
		{"tag": "Level", "n": 3},
		{"tag": "Fault", "n": 1},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("output = %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "N") || !strings.Contains(lines[0], "TAG") {
		t.Errorf("header = %q", lines[0])
	}

	buf.Reset()
	printRows(&buf, nil)
	if buf.String() != "(no rows)\n" {
		t.Errorf("empty output = %q", buf.String())
	}
}
