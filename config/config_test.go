package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Provider != "sockets" {
		t.Errorf("Provider = %q, want %q", cfg.Provider, "sockets")
	}
	if cfg.Domain != "eth0" {
		t.Errorf("Domain = %q, want %q", cfg.Domain, "eth0")
	}
	if cfg.TxDepth != 4096 {
		t.Errorf("TxDepth = %d, want 4096", cfg.TxDepth)
	}
	if cfg.RxDepth != 4096 {
		t.Errorf("RxDepth = %d, want 4096", cfg.RxDepth)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v, want nil", err)
	}
	if *cfg != *Default() {
		t.Errorf("Load(\"\") = %+v, want defaults", cfg)
	}
}

func TestLoadPartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fabric.toml")
	body := "provider = \"verbs\"\ntx_depth = 1024\nunknown_key = \"ignored\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.Provider != "verbs" {
		t.Errorf("Provider = %q, want %q", cfg.Provider, "verbs")
	}
	if cfg.TxDepth != 1024 {
		t.Errorf("TxDepth = %d, want 1024", cfg.TxDepth)
	}
	// Untouched keys keep their defaults.
	if cfg.Domain != "eth0" {
		t.Errorf("Domain = %q, want %q (untouched default)", cfg.Domain, "eth0")
	}
	if cfg.RxDepth != 4096 {
		t.Errorf("RxDepth = %d, want 4096 (untouched default)", cfg.RxDepth)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load() with missing file: error = nil, want non-nil")
	}
}
