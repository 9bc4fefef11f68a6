package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mid")
	if err := os.WriteFile(src, []byte("MThd"), 0644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "nested", "copy.mid")
	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "MThd" {
		t.Errorf("copy = %q, %v", got, err)
	}
	if FileExists(dst + ".tmp") {
		t.Error("temporary file left behind")
	}
	if err := CopyFile(filepath.Join(dir, "missing"), dst); err == nil {
		t.Error("expected error for missing source")
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	if FileExists(dir) {
		t.Error("directory reported as file")
	}
	if FileExists(filepath.Join(dir, "none")) {
		t.Error("missing file reported as existing")
	}
}
