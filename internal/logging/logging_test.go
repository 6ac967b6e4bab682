package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	cases := []struct {
		level   string
		enabled slog.Level
		muted   slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"bogus", slog.LevelInfo, slog.LevelDebug},
		{"", slog.LevelInfo, slog.LevelDebug},
	}
	for _, tc := range cases {
		logger := New(tc.level, "text")
		if !logger.Enabled(context.Background(), tc.enabled) {
			t.Errorf("level %q: %v should be enabled", tc.level, tc.enabled)
		}
		if logger.Enabled(context.Background(), tc.muted) {
			t.Errorf("level %q: %v should be muted", tc.level, tc.muted)
		}
	}
}

func TestNewJSONFormat(t *testing.T) {
	if New("info", "json") == nil {
		t.Fatal("nil logger for json format")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if id := RequestID(ctx); id != "" {
		t.Fatalf("RequestID on empty ctx = %q", id)
	}
	ctx = WithRequestID(ctx, "req_9f2")
	if id := RequestID(ctx); id != "req_9f2" {
		t.Fatalf("RequestID = %q, want req_9f2", id)
	}
	ctx = WithRequestID(ctx, "req_a01")
	if id := RequestID(ctx); id != "req_a01" {
		t.Fatalf("RequestID after overwrite = %q, want req_a01", id)
	}
}

func TestLPrefersContextLogger(t *testing.T) {
	custom := New("error", "text")
	ctx := WithLogger(context.Background(), custom)

	got := L(ctx)
	if got.Enabled(ctx, slog.LevelInfo) {
		t.Fatal("L ignored the context logger's level")
	}
}

func TestLFallsBackToDefault(t *testing.T) {
	if L(context.Background()) == nil {
		t.Fatal("L on empty ctx returned nil")
	}
}

func TestLTagsRequestID(t *testing.T) {
	ctx := WithLogger(context.Background(), New("info", "text"))
	ctx = WithRequestID(ctx, "req_7pz")
	if L(ctx) == nil {
		t.Fatal("L returned nil with request id set")
	}
}
