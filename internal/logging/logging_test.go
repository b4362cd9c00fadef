package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	if err := Setup("info", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestComponentAttribute(t *testing.T) {
	var buf bytes.Buffer
	initTo(&buf, slog.LevelInfo, true)

	Component("chunk").Info("rotated", "family", "continuous")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if entry["component"] != "chunk" {
		t.Errorf("component = %v, want chunk", entry["component"])
	}
	if entry["family"] != "continuous" {
		t.Errorf("family = %v, want continuous", entry["family"])
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	initTo(&buf, slog.LevelInfo, false)

	ctx := ContextWithRequestID(context.Background(), 42)
	ctx = ContextWithRemoteAddr(ctx, "10.0.0.5:5123")
	WithContext(ctx).Info("request")

	out := buf.String()
	if !strings.Contains(out, "request_id=42") {
		t.Errorf("missing request_id in %q", out)
	}
	if !strings.Contains(out, "remote=10.0.0.5:5123") {
		t.Errorf("missing remote in %q", out)
	}
}
