package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "application.yml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("got port %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.Address != DefaultAddress {
		t.Fatalf("got address %q, want default %q", cfg.Server.Address, DefaultAddress)
	}
	if cfg.Media.Server.Password != DefaultPassword {
		t.Fatalf("got password %q, want default %q", cfg.Media.Server.Password, DefaultPassword)
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Config{Server: ServerConfig{Address: "0.0.0.0", Port: 2333}}
	if got, want := cfg.ListenAddr(), "0.0.0.0:2333"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
