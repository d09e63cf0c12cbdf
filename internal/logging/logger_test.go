package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("output is not JSON: %q (%v)", line, err)
	}
	return entry
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "INFO", Component: "test"})

	l.Info("position opened", "symbol", "ETHUSDT", "amount", 1.5, "error", errors.New("boom"))

	entry := decode(t, &buf)
	if entry["message"] != "position opened" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["component"] != "test" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["symbol"] != "ETHUSDT" {
		t.Errorf("symbol = %v", entry["symbol"])
	}
	if entry["amount"] != 1.5 {
		t.Errorf("amount = %v", entry["amount"])
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v", entry["error"])
	}
}

func TestPrintfStyleFallback(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "INFO"})

	l.Info("found %d signals", 3)

	entry := decode(t, &buf)
	if entry["message"] != "found 3 signals" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "WARN"})

	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at WARN level, got %q", buf.String())
	}
	l.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Error("warn should be written")
	}
}

func TestContextCarriesLogger(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, &Config{Level: "INFO"})

	ctx, _ := WithTickContext(context.Background(), base)
	FromContext(ctx).WithComponent("Controller").Info("tick")

	entry := decode(t, &buf)
	if id, _ := entry["tick_id"].(string); len(id) != 8 {
		t.Errorf("tick_id = %v", entry["tick_id"])
	}
	if entry["component"] != "Controller" {
		t.Errorf("component = %v", entry["component"])
	}
}
