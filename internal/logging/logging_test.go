package logging_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kindredcircl/healthd/internal/config"
	"github.com/kindredcircl/healthd/internal/logging"
)

func TestNew_StderrWhenNoFile(t *testing.T) {
	logger, err := logging.New(config.LoggingConfig{Level: "info"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger == nil {
		t.Fatal("expected a logger")
	}
}

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "DEBUG", ""} {
		if _, err := logging.New(config.LoggingConfig{Level: level}); err != nil {
			t.Errorf("level %q: %v", level, err)
		}
	}

	if _, err := logging.New(config.LoggingConfig{Level: "verbose"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNew_FileWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "healthd.log")

	logger, err := logging.New(config.LoggingConfig{
		Level:      "info",
		File:       path,
		MaxSizeMB:  10,
		MaxBackups: 2,
		MaxAgeDays: 7,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("probe finished", "target", "api", "latency_ms", 42)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, data)
	}
	if entry["msg"] != "probe finished" {
		t.Errorf("msg = %v, want \"probe finished\"", entry["msg"])
	}
	if entry["target"] != "api" {
		t.Errorf("target = %v, want api", entry["target"])
	}
}

func TestNew_DebugFiltered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "healthd.log")

	logger, err := logging.New(config.LoggingConfig{Level: "warn", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Debug("noise")
	logger.Info("still noise")
	logger.Warn("kept")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "kept" {
		t.Errorf("msg = %v, want \"kept\"", entry["msg"])
	}
}
