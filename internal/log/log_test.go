package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("json output", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(&buf, "info", true)
		l.Info("hello", "attempt", "a1")
		if !strings.Contains(buf.String(), `"attempt":"a1"`) {
			t.Errorf("expected json attrs, got %q", buf.String())
		}
	})

	t.Run("level filters debug", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(&buf, "info", false)
		l.Debug("quiet")
		if buf.Len() != 0 {
			t.Errorf("debug line should be filtered, got %q", buf.String())
		}
	})
}
