package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultDataDirXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDataDir(); got != filepath.Join("/custom/data", "claimq") {
		t.Fatalf("data dir = %q", got)
	}
}

func TestDefaultDataDirNoHome(t *testing.T) {
	t.Setenv("HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("USERPROFILE", "")
	if got := DefaultDataDir(); got != "./claimq-data" {
		t.Fatalf("data dir = %q", got)
	}
}

func TestDefaultDataDirUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", "")
	got := DefaultDataDir()
	if !strings.HasPrefix(got, home) {
		t.Fatalf("data dir %q not under home %q", got, home)
	}
	if !strings.Contains(got, "claimq") {
		t.Fatalf("data dir %q missing app segment", got)
	}
}

func TestDefaultDataDirConsistent(t *testing.T) {
	if a, b := DefaultDataDir(), DefaultDataDir(); a != b {
		t.Fatalf("inconsistent: %q vs %q", a, b)
	}
}

func TestIsDir(t *testing.T) {
	dir := t.TempDir()
	if !isDir(dir) {
		t.Fatal("temp dir not detected")
	}
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if isDir(file) {
		t.Fatal("file reported as dir")
	}
	if isDir(filepath.Join(dir, "missing")) {
		t.Fatal("missing path reported as dir")
	}
}
