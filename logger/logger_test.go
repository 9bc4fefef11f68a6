package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		zap  zapcore.Level
	}{
		{"debug", DebugLevel, zapcore.DebugLevel},
		{"info", InfoLevel, zapcore.InfoLevel},
		{"warn", WarnLevel, zapcore.WarnLevel},
		{"error", ErrorLevel, zapcore.ErrorLevel},
		{"verbose", InfoLevel, zapcore.InfoLevel},
		{"", InfoLevel, zapcore.InfoLevel},
	}
	for _, tt := range tests {
		got := ParseLevel(tt.in)
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if got.zapLevel() != tt.zap {
			t.Errorf("ParseLevel(%q).zapLevel() = %v, want %v", tt.in, got.zapLevel(), tt.zap)
		}
	}
}

func TestInitLoggerWritesFile(t *testing.T) {
	// calls before initialization are dropped
	Info("dropped")

	path := filepath.Join(t.TempDir(), "logs", "stemforge.log")
	InitLogger(Config{Level: InfoLevel, OutputPath: path, MaxSize: 1})
	Debug("below level", String("k", "v"))
	Info("Rejected MIDI file", String("reason", "too_few_instruments"), Int("n", 1))
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"reason":"too_few_instruments"`) {
		t.Errorf("log missing entry: %s", out)
	}
	if strings.Contains(out, "below level") || strings.Contains(out, "dropped") {
		t.Errorf("log has filtered entries: %s", out)
	}
}
