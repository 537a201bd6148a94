package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "claimq.yaml")
	if err := os.WriteFile(path, []byte("logLevel: info\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := make(chan Config, 4)
	w, err := Watch(path, nil, func(cfg Config) { got <- cfg })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("logLevel: debug\n"), 0644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-got:
		if cfg.LogLevel != "debug" {
			t.Fatalf("reloaded level = %q", cfg.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatchSkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "claimq.yaml")
	if err := os.WriteFile(path, []byte("logLevel: info\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := make(chan Config, 4)
	w, err := Watch(path, nil, func(cfg Config) { got <- cfg })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()

	// Invalid level fails Validate and must not reach onChange.
	if err := os.WriteFile(path, []byte("logLevel: shouting\n"), 0644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-got:
		t.Fatalf("invalid config delivered: %+v", cfg)
	case <-time.After(time.Second):
	}
}
