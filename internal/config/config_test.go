package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load consults so the host environment
// cannot leak into a test. Empty values are treated as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"TAVILY_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY", "DATABASE_PATH",
		"DOSSIER_SEARCH_PROVIDER", "DOSSIER_SEARCH_API_KEY", "DOSSIER_STORAGE_BACKEND",
		"DOSSIER_STORAGE_DSN", "DOSSIER_EXTRACT_TIMEOUT", "DOSSIER_EXTRACT_CONCURRENCY",
		"DOSSIER_LLM_OPENAI_API_KEY", "DOSSIER_LLM_GOOGLE_API_KEY", "DOSSIER_LOG_LEVEL",
	} {
		t.Setenv(name, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Search.Provider != "tavily" || cfg.Search.MaxResults != 3 {
		t.Errorf("unexpected search defaults %+v", cfg.Search)
	}
	if cfg.Extract.Timeout != 30*time.Second || cfg.Extract.MaxRedirects != 10 || cfg.Extract.MaxBytes != 10<<20 {
		t.Errorf("unexpected extract defaults %+v", cfg.Extract)
	}
	if cfg.Extract.Fingerprint != "chrome" || cfg.Extract.Concurrency != 1 || cfg.Extract.RespectRobots {
		t.Errorf("unexpected extract defaults %+v", cfg.Extract)
	}
	if cfg.LLM.Temperature != 0.3 || cfg.LLM.MaxTokens != 1500 {
		t.Errorf("unexpected llm defaults %+v", cfg.LLM)
	}
	if cfg.LLM.OpenAI.Model != "gpt-3.5-turbo" || cfg.LLM.Google.Model != "gemini-1.5-flash" {
		t.Errorf("unexpected model defaults %+v", cfg.LLM)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.DSN != "research_db.sqlite" {
		t.Errorf("unexpected storage defaults %+v", cfg.Storage)
	}
	if cfg.Server.Addr != ":8080" || cfg.Metrics.Port != 0 {
		t.Errorf("unexpected server defaults %+v %+v", cfg.Server, cfg.Metrics)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log defaults %+v", cfg.Log)
	}
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("TAVILY_API_KEY", "tvly-plain")
	t.Setenv("OPENAI_API_KEY", "sk-plain")
	t.Setenv("GOOGLE_API_KEY", "g-plain")
	t.Setenv("DATABASE_PATH", "/tmp/plain.sqlite")
	t.Setenv("DOSSIER_LLM_OPENAI_API_KEY", "sk-prefixed")
	t.Setenv("DOSSIER_EXTRACT_TIMEOUT", "45s")
	t.Setenv("DOSSIER_EXTRACT_CONCURRENCY", "4")
	t.Setenv("DOSSIER_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Search.APIKey != "tvly-plain" {
		t.Errorf("expected TAVILY_API_KEY, got %q", cfg.Search.APIKey)
	}
	if cfg.LLM.OpenAI.APIKey != "sk-prefixed" {
		t.Errorf("expected the prefixed variable to win, got %q", cfg.LLM.OpenAI.APIKey)
	}
	if cfg.LLM.Google.APIKey != "g-plain" {
		t.Errorf("expected GOOGLE_API_KEY, got %q", cfg.LLM.Google.APIKey)
	}
	if cfg.Storage.DSN != "/tmp/plain.sqlite" {
		t.Errorf("expected DATABASE_PATH, got %q", cfg.Storage.DSN)
	}
	if cfg.Extract.Timeout != 45*time.Second || cfg.Extract.Concurrency != 4 {
		t.Errorf("unexpected extract overrides %+v", cfg.Extract)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug level, got %q", cfg.Log.Level)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "dossier.yaml")
	content := `
search:
  provider: duckduckgo
  max_results: 5
extract:
  timeout: 10s
  user_agents:
    - agent-one
    - agent-two
  respect_robots: true
  requests_per_second: 2.5
llm:
  temperature: 0.5
  openai:
    model: gpt-4o-mini
storage:
  backend: json
  dsn: ""
log:
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOSSIER_SEARCH_PROVIDER", "tavily")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Search.Provider != "tavily" {
		t.Errorf("environment should override the file, got %q", cfg.Search.Provider)
	}
	if cfg.Search.MaxResults != 5 || cfg.Extract.Timeout != 10*time.Second {
		t.Errorf("file values not applied: %+v %+v", cfg.Search, cfg.Extract)
	}
	if len(cfg.Extract.UserAgents) != 2 || cfg.Extract.UserAgents[1] != "agent-two" {
		t.Errorf("unexpected user agents %v", cfg.Extract.UserAgents)
	}
	if !cfg.Extract.RespectRobots || cfg.Extract.RequestsPerSecond != 2.5 {
		t.Errorf("unexpected pacing %+v", cfg.Extract)
	}
	if cfg.LLM.Temperature != 0.5 || cfg.LLM.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("unexpected llm %+v", cfg.LLM)
	}
	if cfg.Storage.Backend != "json" || cfg.Storage.DSN != "" {
		t.Errorf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("unexpected log %+v", cfg.Log)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"provider", func(c *Config) { c.Search.Provider = "bing" }, "search.provider"},
		{"max results", func(c *Config) { c.Search.MaxResults = 0 }, "search.max_results"},
		{"timeout", func(c *Config) { c.Extract.Timeout = 0 }, "extract.timeout"},
		{"fingerprint", func(c *Config) { c.Extract.Fingerprint = "netscape" }, "extract.fingerprint"},
		{"jitter", func(c *Config) { c.Extract.Jitter = 1.5 }, "extract.jitter"},
		{"concurrency", func(c *Config) { c.Extract.Concurrency = 0 }, "extract.concurrency"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"backend", func(c *Config) { c.Storage.Backend = "mongo" }, "storage.backend"},
		{"dsn", func(c *Config) { c.Storage.Backend = "postgres"; c.Storage.DSN = "" }, "storage.dsn"},
		{"json without dsn", func(c *Config) { c.Storage.Backend = "json"; c.Storage.DSN = "" }, ""},
		{"metrics port", func(c *Config) { c.Metrics.Port = 70000 }, "metrics.port"},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}
