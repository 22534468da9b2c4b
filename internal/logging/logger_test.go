package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/segmentio/encoding/json"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New("json", "info", &buf)
	logger.Debug("hidden")
	logger.Info("folder imported", "folder", "F1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", lines[0], err)
	}
	if rec["folder"] != "F1" {
		t.Errorf("expected folder F1, got %v", rec["folder"])
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	New("text", "debug", &buf).Debug("shown", "n", 1)
	if !strings.Contains(buf.String(), "msg=shown") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) != slog.Default() {
		t.Error("expected default logger for nil")
	}
	l := New("json", "info", &bytes.Buffer{})
	if OrDefault(l) != l {
		t.Error("expected logger to be returned unchanged")
	}
}
