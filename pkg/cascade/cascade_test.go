package cascade

import (
	"strings"
	"testing"
)

func TestNewMissingFiles(t *testing.T) {
	config := DefaultConfig()
	config.Dir = t.TempDir()

	_, err := New(config)
	if err == nil {
		t.Fatal("Expected error for empty classifier directory")
	}
	if !strings.Contains(err.Error(), EyeCascadeFile) {
		t.Errorf("Expected error to name the eye cascade, got %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config.EyeScaleFactor <= 1 || config.MouthScaleFactor <= 1 {
		t.Errorf("Scale factors must exceed 1, got %v and %v", config.EyeScaleFactor, config.MouthScaleFactor)
	}
}
