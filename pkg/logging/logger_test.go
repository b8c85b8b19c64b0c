package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// TestNewLogger tests logger construction with temp directories
func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		baseDir string
		runID   string
		wantErr bool
	}{
		{
			name:    "valid directory and run ID",
			baseDir: t.TempDir(),
			runID:   "run-123",
			wantErr: false,
		},
		{
			name:    "creates directories if not exist",
			baseDir: filepath.Join(t.TempDir(), "nested", "path"),
			runID:   "run-456",
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.baseDir, tt.runID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer logger.Close()

			if logger.runID != tt.runID {
				t.Errorf("runID = %v, want %v", logger.runID, tt.runID)
			}
			if logger.minLevel != LevelInfo {
				t.Errorf("minLevel = %v, want %v", logger.minLevel, LevelInfo)
			}
			if _, err := os.Stat(logger.RunLogPath()); err != nil {
				t.Errorf("run log file should exist: %v", err)
			}
		})
	}
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestLog_WritesRunLog(t *testing.T) {
	logger, err := NewLogger(t.TempDir(), "run-1")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	if err := logger.Info(CategoryInstance, "launched", "instance launched", map[string]any{"app_id": "com.example.app"}); err != nil {
		t.Fatalf("Info: %v", err)
	}
	logger.Close()

	events := readEvents(t, logger.RunLogPath())
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Category != CategoryInstance || events[0].EventType != "launched" {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestLog_MinLevelFiltersDebug(t *testing.T) {
	logger, err := NewLogger(t.TempDir(), "run-2")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Debug(CategoryBus, "call", "should be filtered", nil)
	logger.SetMinLevel(LevelDebug)
	logger.Debug(CategoryBus, "call", "should pass", nil)
	logger.Close()

	events := readEvents(t, logger.RunLogPath())
	if len(events) != 1 {
		t.Fatalf("expected 1 event after filtering, got %d", len(events))
	}
}

func TestLog_ErrorsGoToErrorLog(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "run-3")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Error(CategoryActivity, "register_failed", "bus dispatch failed", nil)
	logger.Warn(CategoryActivity, "duplicate_register", "already registered", nil)
	logger.Close()

	errEvents := readEvents(t, filepath.Join(dir, "errors.jsonl"))
	if len(errEvents) != 1 {
		t.Fatalf("expected 1 error event, got %d", len(errEvents))
	}
	runEvents := readEvents(t, logger.RunLogPath())
	if len(runEvents) != 2 {
		t.Fatalf("expected 2 run events, got %d", len(runEvents))
	}
}

func TestForInstance_BindsIdentity(t *testing.T) {
	logger, err := NewLogger(t.TempDir(), "run-4")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	il := logger.ForInstance("com.example.app-123", "com.example.app")
	il.Info(CategoryWindow, "primary_created", "created primary window", nil)
	logger.Close()

	events := readEvents(t, logger.RunLogPath())
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].InstanceID != "com.example.app-123" {
		t.Errorf("InstanceID = %q", events[0].InstanceID)
	}
	if events[0].AppID != "com.example.app" {
		t.Errorf("AppID = %q", events[0].AppID)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	if err := logger.Info(CategoryManager, "noop", "nil logger", nil); err != nil {
		t.Errorf("nil logger Info should be a no-op, got %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("nil logger Close should be a no-op, got %v", err)
	}
}
