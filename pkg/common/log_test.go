package common

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "", WarnLevel)

	logger.Debug("hidden %d", 1)
	logger.Info("hidden too")
	logger.Warn("visible warning")
	logger.Error("visible error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("low-severity messages leaked: %q", out)
	}
	if !strings.Contains(out, "[WARN] visible warning") {
		t.Fatalf("warn message missing: %q", out)
	}
	if !strings.Contains(out, "[ERROR] visible error") {
		t.Fatalf("error message missing: %q", out)
	}
}

func TestLoggerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "", ErrorLevel)
	logger.Info("dropped")
	logger.SetLevel(DebugLevel)
	logger.Debug("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("unexpected output: %q", out)
	}
	if logger.GetLevel() != DebugLevel {
		t.Fatal("GetLevel mismatch")
	}
}

func TestLogLevelString(t *testing.T) {
	cases := map[LogLevel]string{
		DebugLevel:    "DEBUG",
		InfoLevel:     "INFO",
		WarnLevel:     "WARN",
		ErrorLevel:    "ERROR",
		LogLevel(42):  "UNKNOWN",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Fatalf("LogLevel(%d).String() = %q, want %q", level, got, want)
		}
	}
}
