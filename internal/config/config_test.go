package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8787" {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("MAMA_TEST_KEY", "secret-value")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "llm:\n  providers:\n    anthropic:\n      api_key: \"${MAMA_TEST_KEY}\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "secret-value" {
		t.Fatalf("expected expanded api key, got %q", cfg.LLM.Providers["anthropic"].APIKey)
	}
}

func TestHomeHonorsMamaHomeOverride(t *testing.T) {
	t.Setenv("MAMA_HOME", "/tmp/custom-mama-home")
	if got := Home(); got != "/tmp/custom-mama-home" {
		t.Fatalf("Home() = %q, want /tmp/custom-mama-home", got)
	}
}

func TestHomeFallsBackToXDGDataHome(t *testing.T) {
	t.Setenv("MAMA_HOME", "")
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
	if got := Home(); got != filepath.Join("/tmp/xdg-data", "mama") {
		t.Fatalf("Home() = %q", got)
	}
}
