package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"skillhub/internal/skillerr"
)

func TestLogNoopForNilLoggerAndEmptyPath(t *testing.T) {
	var nilLogger *Logger
	if err := nilLogger.Log(Event{Operation: "op"}); err != nil {
		t.Fatalf("nil logger should be noop: %v", err)
	}
	if err := New("").Log(Event{Operation: "op"}); err != nil {
		t.Fatalf("empty-path logger should be noop: %v", err)
	}
	if events, err := nilLogger.Tail(5); err != nil || events != nil {
		t.Fatalf("nil logger tail should be empty, got %v %v", events, err)
	}
}

func TestLogWritesJSONLinesWithIDs(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit", "audit.log")
	logger := New(logPath)

	if err := logger.Log(Event{Operation: "register", Skill: "hello", Fields: map[string]string{"version": "1.0.0"}}); err != nil {
		t.Fatalf("log first event: %v", err)
	}
	if err := logger.Log(Event{Operation: "enable", Skill: "hello", Product: "claude"}); err != nil {
		t.Fatalf("log second event: %v", err)
	}

	blob, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(blob)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	var first, second Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first event: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal second event: %v", err)
	}
	if _, err := uuid.Parse(first.ID); err != nil {
		t.Fatalf("expected uuid event id, got %q", first.ID)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct event ids")
	}
	if _, err := time.Parse(time.RFC3339Nano, first.Timestamp); err != nil {
		t.Fatalf("timestamp should be RFC3339Nano: %v", err)
	}
	if first.Status != StatusOK || first.Fields["version"] != "1.0.0" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if second.Product != "claude" {
		t.Fatalf("unexpected second event: %+v", second)
	}
}

func TestOutcomeCarriesErrorCode(t *testing.T) {
	logger := New(filepath.Join(t.TempDir(), "audit.log"))
	opErr := skillerr.Adapter("ADP_UNMANAGED", skillerr.Skill("hello"), skillerr.Cause(skillerr.ErrUnmanagedArtifact))
	if err := logger.Outcome("disable", "hello", "demo", opErr, nil); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	if err := logger.Outcome("enable", "hello", "demo", errors.New("plain"), nil); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	events, err := logger.Tail(0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Status != StatusFailed || events[0].Code != "ADP_UNMANAGED" {
		t.Fatalf("unexpected failed event %+v", events[0])
	}
	if events[1].Code != "" || events[1].Message != "plain" {
		t.Fatalf("unexpected plain failure %+v", events[1])
	}
}

func TestTailLimitsToMostRecent(t *testing.T) {
	logger := New(filepath.Join(t.TempDir(), "audit.log"))
	for _, op := range []string{"a", "b", "c"} {
		if err := logger.Log(Event{Operation: op}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	events, err := logger.Tail(2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(events) != 2 || events[0].Operation != "b" || events[1].Operation != "c" {
		t.Fatalf("unexpected tail %+v", events)
	}
	missing := New(filepath.Join(t.TempDir(), "none.log"))
	if events, err := missing.Tail(1); err != nil || len(events) != 0 {
		t.Fatalf("expected empty tail for missing log, got %v %v", events, err)
	}
}

func TestLogMkdirAllFailure(t *testing.T) {
	blockedPath := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blockedPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("create blocking file: %v", err)
	}
	logger := New(filepath.Join(blockedPath, "audit.log"))
	if err := logger.Log(Event{Operation: "install"}); err == nil {
		t.Fatalf("expected mkdir failure")
	}
}
