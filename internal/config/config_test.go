package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7833" {
		t.Errorf("unexpected default addr %q", cfg.Addr)
	}
	if cfg.BackendURL == "" {
		t.Error("expected default backend URL")
	}
	d, err := cfg.Interval()
	if err != nil || d != 2*time.Second {
		t.Errorf("expected default 2s interval, got %v err %v", d, err)
	}
}

func TestLoad_FileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eigentd.yml")
	content := "addr: \":9000\"\nbackend_url: http://localhost:8080\npoll_interval: 5s\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("expected addr overridden, got %q", cfg.Addr)
	}
	if cfg.BackendURL != "http://localhost:8080" {
		t.Errorf("expected backend overridden, got %q", cfg.BackendURL)
	}
	if d, _ := cfg.Interval(); d != 5*time.Second {
		t.Errorf("expected 5s interval, got %v", d)
	}
	// Unset keys keep defaults.
	if cfg.DBPath == "" {
		t.Error("expected default db path preserved")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eigentd.yml")
	if err := os.WriteFile(path, []byte("addr: \":9000\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EIGENT_ADDR", ":9100")
	t.Setenv("EIGENT_BACKEND_URL", "http://env:1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Errorf("expected env to win, got %q", cfg.Addr)
	}
	if cfg.BackendURL != "http://env:1" {
		t.Errorf("expected env backend, got %q", cfg.BackendURL)
	}
}

func TestLoad_BadInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eigentd.yml")
	if err := os.WriteFile(path, []byte("poll_interval: fast\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unparseable interval")
	}

	if err := os.WriteFile(path, []byte("poll_interval: -2s\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for non-positive interval")
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	if got := FindConfigFile(dir); got != "" {
		t.Errorf("expected empty for bare dir, got %q", got)
	}

	yaml := filepath.Join(dir, "eigentd.yaml")
	os.WriteFile(yaml, []byte("{}"), 0644)
	if got := FindConfigFile(dir); got != yaml {
		t.Errorf("expected %q, got %q", yaml, got)
	}

	// .yml takes precedence over .yaml.
	yml := filepath.Join(dir, "eigentd.yml")
	os.WriteFile(yml, []byte("{}"), 0644)
	if got := FindConfigFile(dir); got != yml {
		t.Errorf("expected %q, got %q", yml, got)
	}
}
