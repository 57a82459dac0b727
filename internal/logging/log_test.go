package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "warn", NoColors: true, Stderr: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if log.GetLevel() != logrus.WarnLevel {
		t.Errorf("Expected warn level, got %v", log.GetLevel())
	}

	log.Info("hidden")
	log.WithField("run", 3).Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Info message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "run:3") {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("Expected error for invalid level")
	}
}

func TestNewFileOutput(t *testing.T) {
	t.Setenv("APP_ENV", "")
	path := filepath.Join(t.TempDir(), "kiosk.log")

	var buf bytes.Buffer
	log, err := New(Options{Level: "info", File: path, NoColors: true, Stderr: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Info("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("Log file missing message: %q", data)
	}
}

func TestNewFileSkippedInTests(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	path := filepath.Join(t.TempDir(), "kiosk.log")

	log, err := New(Options{File: path, Stderr: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Info("nothing")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Log file must not be created when APP_ENV=test")
	}
}
