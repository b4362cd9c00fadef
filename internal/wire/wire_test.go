package wire

import (
	"bytes"
	"io"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

func TestStream(t *testing.T) {
	now := time.Date(2025, 9, 3, 12, 0, 0, 0, time.UTC)
	rows := []types.LogRow{
		types.NewLogRow(now, "SYS_WetWellLevel", 41.25, "level"),
		{Timestamp: types.FormatTimestamp(now), Tag: "P1_FaultCode"},
		types.NewLogRow(now, "P1_MotorTorque", 0, ""),
	}

	var buf bytes.Buffer
	if err := NewWriter(&buf).WriteAll(rows); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)
	for i, want := range rows {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("row %d: %v", i, err)
		}
		if got.Timestamp != want.Timestamp || got.Tag != want.Tag || got.Unit != want.Unit {
			t.Errorf("row %d = %+v, want %+v", i, got, want)
		}
		switch {
		case want.Value == nil && got.Value != nil:
			t.Errorf("row %d: null decoded as %v", i, *got.Value)
		case want.Value != nil && (got.Value == nil || *got.Value != *want.Value):
			t.Errorf("row %d: value = %v, want %v", i, got.Value, *want.Value)
		}
	}
	if _, err := r.Read(); err != io.EOF {
		t.Errorf("end of stream: err = %v, want io.EOF", err)
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b := Marshal(types.NewLogRow(time.Unix(0, 0), "A", 1, "m"))
	b = protowire.AppendTag(b, 15, protowire.VarintType)
	b = protowire.AppendVarint(b, 99)

	r, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if r.Tag != "A" || *r.Value != 1 {
		t.Errorf("row = %+v", r)
	}
}

func TestReadErrors(t *testing.T) {
	t.Run("oversized", func(t *testing.T) {
		b := protowire.AppendVarint(nil, 1<<20)
		_, err := NewReader(bytes.NewReader(b)).Read()
		if !errors.Is(err, errors.ErrProtocol) {
			t.Errorf("err = %v, want ErrProtocol", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		var buf bytes.Buffer
		NewWriter(&buf).Write(types.NewLogRow(time.Unix(0, 0), "A", 1, ""))
		b := buf.Bytes()[:buf.Len()-3]
		if _, err := NewReader(bytes.NewReader(b)).Read(); err == nil || err == io.EOF {
			t.Errorf("err = %v, want a read error", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := Unmarshal([]byte{0x0a, 0x05, 'a'}); !errors.Is(err, errors.ErrProtocol) {
			t.Errorf("err = %v, want ErrProtocol", err)
		}
	})
}
