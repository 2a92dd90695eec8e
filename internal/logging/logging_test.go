package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "trendcast", "", false)
	log.Debug("hidden")
	log.Info("hello", "k", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the info line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["service"] != "trendcast" || rec["msg"] != "hello" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNewTextDebugAndUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "svc", "text", true).Debug("shown")
	if !strings.Contains(buf.String(), "msg=shown") {
		t.Fatalf("expected text debug line, got %q", buf.String())
	}

	buf.Reset()
	New(&buf, "svc", "yaml", false)
	if !strings.Contains(buf.String(), "unknown log format") {
		t.Fatalf("expected warning for unknown format, got %q", buf.String())
	}
}
