package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Chunking.MaxChars != 1200 || cfg.Chunking.OverlapChars != 200 {
		t.Errorf("unexpected chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.LLM.ReadTimeout() < cfg.LLM.ConnectTimeout() {
		t.Error("read timeout should be longer than connect timeout")
	}
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[llm]
default_model = "llama3.2"
allowed_models = ["llama3.2", "qwen3:0.6b"]

[chunking]
max_chars = 800
overlap_chars = 100
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CHUNK_OVERLAP_CHARS", "50")
	t.Setenv("OLLAMA_ALLOWED_MODELS", "a, b,,c")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.LLM.DefaultModel != "llama3.2" {
		t.Errorf("expected model from file, got %q", cfg.LLM.DefaultModel)
	}
	if cfg.Chunking.MaxChars != 800 || cfg.Chunking.OverlapChars != 50 {
		t.Errorf("unexpected chunking: %+v", cfg.Chunking)
	}
	if len(cfg.LLM.AllowedModels) != 3 || cfg.LLM.AllowedModels[2] != "c" {
		t.Errorf("unexpected allowed models: %v", cfg.LLM.AllowedModels)
	}
}

func TestValidate_RejectsOverlapNotBelowMax(t *testing.T) {
	cfg := defaultConfig()
	cfg.Chunking.OverlapChars = cfg.Chunking.MaxChars
	if err := cfg.Validate(); err == nil {
		t.Error("overlap equal to max should be rejected")
	}
}

func TestDatabaseDSN_PerDriver(t *testing.T) {
	cfg := defaultConfig()
	cfg.Database.Driver = "mysql"
	cfg.Database.Params = "parseTime=true"
	if got := cfg.DatabaseDSN(); got != "smart:smart@tcp(postgres:5432)/smart?parseTime=true" {
		t.Errorf("unexpected mysql dsn: %s", got)
	}

	cfg.Database.Driver = "postgres"
	cfg.Database.Params = ""
	if got := cfg.DatabaseDSN(); got != "host=postgres port=5432 user=smart password=smart dbname=smart" {
		t.Errorf("unexpected postgres dsn: %s", got)
	}
}

func TestValidate_RejectsUnknownDrivers(t *testing.T) {
	cases := map[string]func(*Config){
		"database":  func(c *Config) { c.Database.Driver = "oracle" },
		"storage":   func(c *Config) { c.Storage.Driver = "ftp" },
		"embedding": func(c *Config) { c.Embedding.Provider = "word2vec" },
		"model":     func(c *Config) { c.LLM.DefaultModel = " " },
	}
	for name, mutate := range cases {
		cfg := defaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
