// Package config loads settings from defaults, an optional config file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/FranksOps/dossier/internal/fingerprint"
)

// EnvPrefix namespaces environment overrides, e.g. DOSSIER_SEARCH_PROVIDER.
const EnvPrefix = "DOSSIER"

type Config struct {
	Search  SearchConfig  `mapstructure:"search"`
	Extract ExtractConfig `mapstructure:"extract"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

type SearchConfig struct {
	// Provider is tavily or duckduckgo.
	Provider   string `mapstructure:"provider"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	MaxResults int    `mapstructure:"max_results"`
}

type ExtractConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	Fingerprint string        `mapstructure:"fingerprint"`
	UserAgents  []string      `mapstructure:"user_agents"`
	ProxyFile   string        `mapstructure:"proxy_file"`
	// RequestsPerSecond paces fetches per host; 0 disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Jitter            float64 `mapstructure:"jitter"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
	MaxRedirects      int     `mapstructure:"max_redirects"`
	MaxBytes          int64   `mapstructure:"max_bytes"`
	Concurrency       int     `mapstructure:"concurrency"`
}

type LLMConfig struct {
	Temperature float32      `mapstructure:"temperature"`
	MaxTokens   int          `mapstructure:"max_tokens"`
	OpenAI      OpenAIConfig `mapstructure:"openai"`
	Google      GoogleConfig `mapstructure:"google"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type GoogleConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type StorageConfig struct {
	// Backend is sqlite, postgres or json.
	Backend string `mapstructure:"backend"`
	// DSN is a file path for sqlite and json, a connection string for
	// postgres. An empty json path keeps everything in memory.
	DSN string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	// Port of the standalone metrics server; 0 disables it.
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.base_url", "")
	v.SetDefault("search.max_results", 3)

	v.SetDefault("extract.timeout", 30*time.Second)
	v.SetDefault("extract.fingerprint", string(fingerprint.ProfileChrome))
	v.SetDefault("extract.user_agents", []string{})
	v.SetDefault("extract.proxy_file", "")
	v.SetDefault("extract.requests_per_second", 0.0)
	v.SetDefault("extract.jitter", 0.0)
	v.SetDefault("extract.respect_robots", false)
	v.SetDefault("extract.max_redirects", 10)
	v.SetDefault("extract.max_bytes", int64(10<<20))
	v.SetDefault("extract.concurrency", 1)

	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 1500)
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.model", "gpt-3.5-turbo")
	v.SetDefault("llm.openai.base_url", "")
	v.SetDefault("llm.google.api_key", "")
	v.SetDefault("llm.google.model", "gemini-1.5-flash")
	v.SetDefault("llm.google.base_url", "")

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.dsn", "research_db.sqlite")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("metrics.port", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// wellKnownEnv maps keys to the unprefixed variable names most deployments
// already export. The prefixed form always wins.
var wellKnownEnv = map[string]string{
	"search.api_key":     "TAVILY_API_KEY",
	"llm.openai.api_key": "OPENAI_API_KEY",
	"llm.google.api_key": "GOOGLE_API_KEY",
	"storage.dsn":        "DATABASE_PATH",
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range wellKnownEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks names and numeric ranges. Provider credentials are
// checked when the components that need them are built.
func (c *Config) Validate() error {
	var errs []error

	switch c.Search.Provider {
	case "tavily", "duckduckgo":
	default:
		errs = append(errs, fmt.Errorf("search.provider must be tavily or duckduckgo, got %q", c.Search.Provider))
	}
	if c.Search.MaxResults < 1 {
		errs = append(errs, errors.New("search.max_results must be at least 1"))
	}

	if c.Extract.Timeout <= 0 {
		errs = append(errs, errors.New("extract.timeout must be positive"))
	}
	if _, err := fingerprint.ParseProfile(c.Extract.Fingerprint); err != nil {
		errs = append(errs, fmt.Errorf("extract.fingerprint: %w", err))
	}
	if c.Extract.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("extract.requests_per_second cannot be negative"))
	}
	if c.Extract.Jitter < 0 || c.Extract.Jitter > 1 {
		errs = append(errs, errors.New("extract.jitter must be between 0 and 1"))
	}
	if c.Extract.MaxBytes <= 0 {
		errs = append(errs, errors.New("extract.max_bytes must be positive"))
	}
	if c.Extract.Concurrency < 1 {
		errs = append(errs, errors.New("extract.concurrency must be at least 1"))
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, errors.New("llm.temperature must be between 0 and 2"))
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, errors.New("llm.max_tokens must be at least 1"))
	}

	switch c.Storage.Backend {
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for %s", c.Storage.Backend))
		}
	case "json":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be sqlite, postgres or json, got %q", c.Storage.Backend))
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		errs = append(errs, fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
