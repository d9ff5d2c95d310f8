package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Agent.MaxSteps != 10 {
		t.Errorf("expected maxSteps 10, got %d", cfg.Agent.MaxSteps)
	}
	if cfg.CommandTimeout() != 30*time.Second {
		t.Errorf("expected 30s command timeout, got %v", cfg.CommandTimeout())
	}
	if cfg.ServerAddress() != "127.0.0.1:7118" {
		t.Errorf("unexpected address %s", cfg.ServerAddress())
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
backend:
  model: gemma3:12b
agent:
  maxSteps: 4
  grammar: pipe
  verify: false
store:
  type: bolt
  dataDir: /var/lib/reagent
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Model != "gemma3:12b" {
		t.Errorf("expected model override, got %s", cfg.Backend.Model)
	}
	if cfg.Backend.URL != "http://localhost:11434" {
		t.Errorf("expected default url to survive, got %s", cfg.Backend.URL)
	}
	if cfg.Agent.MaxSteps != 4 || cfg.Agent.Grammar != "pipe" || cfg.Agent.Verify {
		t.Errorf("unexpected agent config %+v", cfg.Agent)
	}
	if !cfg.Agent.Safety {
		t.Error("expected safety to stay enabled")
	}
	if cfg.DBPath() != "/var/lib/reagent/reagent.db" {
		t.Errorf("unexpected db path %s", cfg.DBPath())
	}
}

func TestLoadTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(Template), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("template does not load: %v", err)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Backend.Provider = "gpt" }},
		{"unknown mode", func(c *Config) { c.Agent.Mode = "json" }},
		{"native needs ollama", func(c *Config) {
			c.Agent.Mode = ModeNative
			c.Backend.Provider = ProviderClaudeCLI
		}},
		{"unknown grammar", func(c *Config) { c.Agent.Grammar = "xml" }},
		{"zero steps", func(c *Config) { c.Agent.MaxSteps = 0 }},
		{"zero timeout", func(c *Config) { c.Agent.CommandTimeoutSeconds = 0 }},
		{"unknown store", func(c *Config) { c.Store.Type = "redis" }},
		{"zero workers", func(c *Config) { c.Server.Workers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
