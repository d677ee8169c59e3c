package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewLoggerWithConfig_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bagbot.log")
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.DebugLevel) })
	logger := NewLoggerWithConfig(LogConfig{
		Level:    "warn",
		File:     true,
		FilePath: path,
		MaxSize:  1,
	})

	logger.Info().Msg("dropped below level")
	LogRiskEvent(WithComponent(logger, "risk"), "emergency_stop", "drawdown 6.00% exceeds 5.00%", 72)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if strings.Contains(string(data), "dropped below level") {
		t.Error("info line should be filtered at warn level")
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, data)
	}
	if entry["component"] != "risk" || entry["event_type"] == nil {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"loud":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := WithLogger(context.Background(), logger)
	fromCtx := FromContext(ctx)
	fromCtx.Warn().Msg("from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Errorf("logger not carried by context: %q", buf.String())
	}

	// A bare context yields a no-op logger rather than panicking.
	nop := FromContext(context.Background())
	nop.Error().Msg("ignored")
}

func TestEventHelpers(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	logger := WithSession(WithSymbol(zerolog.New(&buf), "BSTUSDT"), "sess-1")

	LogCycle(logger, "TRADED", true, false, 120*time.Millisecond)
	LogTrade(WithOrderID(logger, "PAPER_1_1"), "BSTUSDT", "BUY", "FILLED", 911.3, 0.0823)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}
	for _, want := range []string{`"symbol":"BSTUSDT"`, `"session_id":"sess-1"`} {
		if !strings.Contains(lines[0], want) || !strings.Contains(lines[1], want) {
			t.Errorf("missing %s in %v", want, lines)
		}
	}
	if !strings.Contains(lines[1], `"order_id":"PAPER_1_1"`) {
		t.Errorf("trade line missing order id: %s", lines[1])
	}
}
