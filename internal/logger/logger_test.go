package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNew_JSONCarriesService(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "structengine", slog.LevelInfo, JSON)
	l.Info("hello", slog.Int("n", 3))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %q", buf.String())
	}
	if rec["service"] != "structengine" || rec["msg"] != "hello" {
		t.Errorf("record = %v", rec)
	}
}

func TestNew_TextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "backtest", slog.LevelWarn, Text)
	l.Info("dropped")
	l.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Errorf("output = %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}
	if attrs := LogWithTrace(ctx); attrs != nil {
		t.Errorf("expected no attrs, got %v", attrs)
	}

	ctx = WithTraceID(ctx, "AAPL-1")
	if tid := TraceID(ctx); tid != "AAPL-1" {
		t.Errorf("expected 'AAPL-1', got %q", tid)
	}
	if attrs := LogWithTrace(ctx); len(attrs) != 1 {
		t.Errorf("expected one attr, got %v", attrs)
	}
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	if got, want := GenerateTraceID("AAPL", ts), "AAPL-1705314600000"; got != want {
		t.Errorf("GenerateTraceID = %q, want %q", got, want)
	}
}
