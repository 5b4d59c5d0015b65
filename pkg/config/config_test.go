package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, statusAddr, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BindPort != 2525 {
		t.Fatalf("expected default bind port 2525, got %d", cfg.BindPort)
	}
	if statusAddr == "" {
		t.Fatal("expected a non-empty default status address")
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgerd.yaml")
	content := "bind_ip: \"127.0.0.1\"\nbind_port: 9999\nstatus_addr: \"127.0.0.1:9090\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, statusAddr, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BindIP != "127.0.0.1" || cfg.BindPort != 9999 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if statusAddr != "127.0.0.1:9090" {
		t.Fatalf("expected status_addr to be read from file, got %s", statusAddr)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgerd.yaml")
	if err := os.WriteFile(path, []byte("bind_port: 1111\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("LEDGERD_BIND_PORT", "3333")
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BindPort != 3333 {
		t.Fatalf("expected env override to win, got bind port %d", cfg.BindPort)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgerd.yaml")
	if err := os.WriteFile(path, []byte("bind_port: 70000\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error for out-of-range bind_port")
	}
}

func TestLoadExplicitMissingFileIsAnError(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatal("expected an error for an explicitly given but missing config file")
	}
}
