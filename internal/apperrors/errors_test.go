package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestIs(t *testing.T) {
	err := fmt.Errorf("failed to load: %w", Schema("trip_price", 4, "negative price %d", -1))

	if !errors.Is(err, ErrSchema) {
		t.Error("expected wrapped schema error to match ErrSchema")
	}
	if errors.Is(err, ErrInsufficientHistory) {
		t.Error("schema error must not match another code")
	}
	if CodeOf(err) != CodeSchema {
		t.Errorf("got code %s", CodeOf(err))
	}
}

func TestCorruptionReadsAsNotTrained(t *testing.T) {
	err := ArtifactCorruption(errors.New("unexpected EOF"), "bundle %s unreadable", "b1")

	if !errors.Is(err, ErrArtifactCorruption) || !errors.Is(err, ErrModelNotTrained) {
		t.Error("corruption should match both sentinels")
	}
	if errors.Is(ModelNotTrained("none"), ErrArtifactCorruption) {
		t.Error("not-trained must not match corruption")
	}
}

func TestErrorMessage(t *testing.T) {
	msg := Schema("trip_price", 4, "negative price").Error()
	for _, want := range []string{"SCHEMA_ERROR", "negative price", "data row 4", `field "trip_price"`} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Schema("", 0, "bad"), http.StatusBadRequest},
		{InsufficientHistory("short"), http.StatusBadRequest},
		{ModelNotTrained("none"), http.StatusConflict},
		{ArtifactCorruption(nil, "bad blob"), http.StatusConflict},
		{Training(errors.New("x"), "all failed"), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusCode(tt.err); got != tt.want {
			t.Errorf("StatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
