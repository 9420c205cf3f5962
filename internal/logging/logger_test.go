package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("info")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if logger.Logger.Level != logrus.InfoLevel {
		t.Errorf("expected info level, got %v", logger.Logger.Level)
	}
}

func TestNewLoggerWithLevels(t *testing.T) {
	cases := []struct {
		level    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"DEBUG", logrus.DebugLevel},
		{"invalid", logrus.InfoLevel},
	}
	for _, tc := range cases {
		t.Run(tc.level, func(t *testing.T) {
			logger, err := NewLogger(tc.level)
			if err != nil {
				t.Fatalf("failed to create logger: %v", err)
			}
			if logger.Logger.Level != tc.expected {
				t.Errorf("expected %v, got %v", tc.expected, logger.Logger.Level)
			}
		})
	}
}

func TestLoggerOutputIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("info")
	if err != nil {
		t.Fatal(err)
	}
	logger.Logger.SetOutput(&buf)

	logger.Info("test message")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log output: %v", err)
	}
	if entry["level"] != "info" || entry["msg"] != "test message" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("warn")
	if err != nil {
		t.Fatal(err)
	}
	logger.Logger.SetOutput(&buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Error("expected debug/info to be filtered out at warn level")
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "error message") {
		t.Error("expected warn/error to appear at warn level")
	}
}

func TestLogRolloverIncludesQueueAndSuperbuf(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatal(err)
	}
	logger.Logger.SetOutput(&buf)

	logger.LogRollover(2, 7)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["queue_id"] != float64(2) || entry["superbuf"] != float64(7) || entry["type"] != "rollover" {
		t.Fatalf("unexpected rollover log entry: %v", entry)
	}
}

func TestLogOverrunUsesErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("info")
	if err != nil {
		t.Fatal(err)
	}
	logger.Logger.SetOutput(&buf)

	logger.LogOverrun(1, "rx_fill_ring")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["level"] != "error" || entry["kind"] != "rx_fill_ring" {
		t.Fatalf("unexpected overrun log entry: %v", entry)
	}
}

func TestLogReinitRecordsReclaimedCount(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("info")
	if err != nil {
		t.Fatal(err)
	}
	logger.Logger.SetOutput(&buf)

	logger.LogReinit(3, 5)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["queue_id"] != float64(3) || entry["reclaimed"] != float64(5) {
		t.Fatalf("unexpected reinit log entry: %v", entry)
	}
}
