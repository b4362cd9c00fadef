package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestCategories(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		notFound   bool
		validation bool
		transient  bool
		status     int
	}{
		{"unknown tag", NewUnknownTag("P1_Mode"), true, false, false, http.StatusNotFound},
		{"missing field", NewMissingField("storage.root"), false, true, false, http.StatusBadRequest},
		{"busy", Wrap(ErrBusy, "insert rows"), false, false, true, http.StatusServiceUnavailable},
		{"connection", Wrapf(ErrConnectionFailed, "dial %s", "plc:502"), false, false, true, http.StatusBadGateway},
		{"plain", fmt.Errorf("boom"), false, false, false, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsValidation(tt.err); got != tt.validation {
				t.Errorf("IsValidation = %v, want %v", got, tt.validation)
			}
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
			if got := StatusCode(tt.err); got != tt.status {
				t.Errorf("StatusCode = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestMark(t *testing.T) {
	base := fmt.Errorf("database is locked")
	err := Mark(base, ErrBusy)
	if !Is(err, ErrBusy) || !Is(err, base) {
		t.Fatalf("Mark lost a link: %v", err)
	}
	if Mark(nil, ErrBusy) != nil {
		t.Error("Mark(nil) should be nil")
	}
	if again := Mark(err, ErrBusy); again != err {
		t.Error("Mark should not double-wrap")
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	if v.Err() != nil {
		t.Fatal("empty collector should return nil")
	}

	v.AddMissing("plc.host")
	v.AddField("poll.sample_interval", "must be positive")
	v.Add(fmt.Errorf("tag X: %w", ErrDuplicateName))

	err := v.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !Is(err, ErrMissingField) || !Is(err, ErrDuplicateName) {
		t.Errorf("errors.Is should reach every collected error: %v", err)
	}
}
