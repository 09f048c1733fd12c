package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, line string) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\nline: %s", err, line)
	}
	return entry
}

func TestLogger_EmitsRunContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("run-7", "coordinator").WithOutput(&buf)

	logger.Info("discovery complete", map[string]any{"candidates": 420})

	entry := decodeLine(t, buf.String())
	if entry["message"] != "discovery complete" {
		t.Errorf("message = %v, want %q", entry["message"], "discovery complete")
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["run_id"] != "run-7" {
		t.Errorf("run_id = %v, want run-7", entry["run_id"])
	}
	if entry["component"] != "coordinator" {
		t.Errorf("component = %v, want coordinator", entry["component"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok {
		t.Fatalf("fields = %v, want a map", entry["fields"])
	}
	if fields["candidates"] != float64(420) {
		t.Errorf("fields.candidates = %v, want 420", fields["candidates"])
	}
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("run-1", "test").WithOutput(&buf)

	logger.Debug("d", nil)
	logger.Info("i", nil)
	logger.Warn("w", nil)
	logger.Error("e", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("emitted %d lines, want 4", len(lines))
	}
	wantLevels := []string{"debug", "info", "warn", "error"}
	for i, line := range lines {
		entry := decodeLine(t, line)
		if entry["level"] != wantLevels[i] {
			t.Errorf("line %d level = %v, want %q", i, entry["level"], wantLevels[i])
		}
	}
}

func TestLogger_NamedAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("run-1", "coordinator").WithOutput(&buf).Named("retry")

	logger.Info("watching job", nil)

	line := buf.String()
	if !strings.Contains(line, `"retry"`) {
		t.Errorf("named logger output missing sub-component:\n%s", line)
	}
	if !strings.Contains(line, "run-1") {
		t.Errorf("named logger output lost run context:\n%s", line)
	}
}

func TestSugaredLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("run-1", "cli").WithOutput(&buf)

	logger.Sugar().Infof("checked %d of %d", 30, 120)

	entry := decodeLine(t, buf.String())
	if entry["message"] != "checked 30 of 120" {
		t.Errorf("message = %v, want formatted string", entry["message"])
	}
}
