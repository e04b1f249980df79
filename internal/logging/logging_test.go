package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(newLogger(Config{Level: "warn"}, &buf), "keeper")

	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}

	logger.Warn().Msg("visible")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json line: %v", err)
	}
	if entry["component"] != "keeper" {
		t.Fatalf("component field missing: %#v", entry)
	}
	if entry["level"] != "warn" {
		t.Fatalf("unexpected level: %#v", entry)
	}
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "nonsense"}, &buf)
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("unknown level should fall back to info, got %s", logger.GetLevel())
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Format: "console"}, &buf)
	logger.Info().Str("pipeline", "snapshot").Msg("hello")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("console format should not emit json: %q", buf.String())
	}
}
