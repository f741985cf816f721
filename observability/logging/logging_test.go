package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"strings"
	"testing"
)

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	entry := make(map[string]any)
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	return entry
}

func TestSetupRenamesAndRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "edulend", "test")

	logger.Info("loan created",
		slog.String("phase", "funding"),
		slog.String("operator", "edu1exampleoperator"),
	)
	entry := lastEntry(t, &buf)

	if entry["message"] != "loan created" {
		t.Fatalf("message: %v", entry["message"])
	}
	if entry["severity"] != "INFO" {
		t.Fatalf("severity: %v", entry["severity"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("timestamp missing: %v", entry)
	}
	if entry["service"] != "edulend" || entry["env"] != "test" {
		t.Fatalf("base attributes: %v", entry)
	}
	// allowlisted domain keys pass through, account addresses do not
	if entry["phase"] != "funding" {
		t.Fatalf("phase: %v", entry["phase"])
	}
	if entry["operator"] != RedactedValue {
		t.Fatalf("operator must be masked, got %v", entry["operator"])
	}
}

func TestSetupOmitsEmptyEnv(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "edulend", "  ")
	logger.Info("ping")
	entry := lastEntry(t, &buf)
	if _, ok := entry["env"]; ok {
		t.Fatalf("blank env must be omitted: %v", entry)
	}
}

func TestSetupBridgesStdLog(t *testing.T) {
	var buf bytes.Buffer
	setup(&buf, "edulend", "test")

	log.Print("bridge check")
	entry := lastEntry(t, &buf)

	if entry["message"] != "bridge check" {
		t.Fatalf("message: %v", entry["message"])
	}
	if entry["severity"] != "INFO" {
		t.Fatalf("severity: %v", entry["severity"])
	}
	if entry["service"] != "edulend" {
		t.Fatalf("service attribute lost on the bridge: %v", entry)
	}
}
