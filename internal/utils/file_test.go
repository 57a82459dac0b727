package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetFileExtension(t *testing.T) {
	tests := map[string]string{
		"a/b/img_001_orig.PNG": "png",
		"photo.jpeg":           "jpeg",
		"noext":                "",
	}
	for in, want := range tests {
		if got := GetFileExtension(in); got != want {
			t.Errorf("GetFileExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsImageFile(t *testing.T) {
	if !IsImageFile("x.webp") || !IsImageFile("x.JPG") {
		t.Error("Expected webp and jpg to be image files")
	}
	if IsImageFile("x.xml") {
		t.Error("xml is not an image file")
	}
}

func TestEnsureDirAndExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "nested")
	if DirExists(dir) {
		t.Fatal("Directory should not exist yet")
	}
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if !DirExists(dir) {
		t.Error("Directory should exist after EnsureDir")
	}
	if FileExists(dir) {
		t.Error("FileExists should be false for a directory")
	}
}

func TestFindImage(t *testing.T) {
	dir := t.TempDir()
	if got := FindImage(dir, "introBg"); got != "" {
		t.Errorf("Expected no match, got %q", got)
	}
	path := filepath.Join(dir, "introBg.jpg")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := FindImage(dir, "introBg"); got != path {
		t.Errorf("FindImage = %q, want %q", got, path)
	}
}
