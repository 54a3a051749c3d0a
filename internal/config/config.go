package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every runtime setting of the service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Ollama   OllamaConfig   `mapstructure:"ollama"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimit       int           `mapstructure:"rate_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type LLMConfig struct {
	Provider       string        `mapstructure:"provider"`
	VisionModel    string        `mapstructure:"vision_model"`
	TextModel      string        `mapstructure:"text_model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type OllamaConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type CatalogConfig struct {
	GoogleBooksURL    string        `mapstructure:"google_books_url"`
	GoogleBooksAPIKey string        `mapstructure:"google_books_api_key"`
	OpenLibraryURL    string        `mapstructure:"open_library_url"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	RedisURL string `mapstructure:"redis_url"`
}

type PipelineConfig struct {
	MaxUploadBytes        int64         `mapstructure:"max_upload_bytes"`
	DetectionTimeout      time.Duration `mapstructure:"detection_timeout"`
	EnrichmentTimeout     time.Duration `mapstructure:"enrichment_timeout"`
	RecommendationTimeout time.Duration `mapstructure:"recommendation_timeout"`
	EnrichConcurrency     int           `mapstructure:"enrich_concurrency"`
	StaleAfter            time.Duration `mapstructure:"stale_after"`
	SessionTTL            time.Duration `mapstructure:"session_ttl"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
	AutoRecommend         bool          `mapstructure:"auto_recommend"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	SessionSecret string        `mapstructure:"session_secret"`
}

// Upper bound on the relational pool; the database is shared with other tenants.
const maxPoolSize = 20

// Default models per provider.
const (
	DefaultOpenAIModel = "gpt-4o"
	DefaultOllamaModel = "mistral-small3.2:24b"
	DefaultGeminiModel = "gemini-1.5-flash"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8888")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 120)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "shelfscan.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.retry_base_delay", 500*time.Millisecond)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ollama.url", "http://localhost:11434")

	v.SetDefault("catalog.google_books_url", "https://www.googleapis.com/books/v1")
	v.SetDefault("catalog.open_library_url", "https://openlibrary.org")
	v.SetDefault("catalog.cache_ttl", 10*time.Minute)
	v.SetDefault("catalog.requests_per_second", 10.0)
	v.SetDefault("catalog.timeout", 5*time.Second)

	v.SetDefault("pipeline.max_upload_bytes", int64(10*1024*1024))
	v.SetDefault("pipeline.detection_timeout", 60*time.Second)
	v.SetDefault("pipeline.enrichment_timeout", 3*time.Second)
	// zero derives it from detection_timeout
	v.SetDefault("pipeline.recommendation_timeout", time.Duration(0))
	v.SetDefault("pipeline.enrich_concurrency", 4)
	v.SetDefault("pipeline.stale_after", 10*time.Minute)
	v.SetDefault("pipeline.session_ttl", 24*time.Hour)
	v.SetDefault("pipeline.sweep_interval", time.Minute)
	v.SetDefault("pipeline.auto_recommend", false)

	v.SetDefault("auth.token_ttl", 24*time.Hour)
}

// legacy environment names that keep working next to the SHELFSCAN_ prefixed ones
var aliases = map[string][]string{
	"llm.provider":   {"CATALOGING_PROVIDER"},
	"openai.api_key": {"OPENAI_API_KEY"},
	"openai.model":   {"OPENAI_MODEL"},
	"ollama.url":     {"OLLAMA_URL", "OLLAMA_HOST"},
	"ollama.model":   {"OLLAMA_MODEL"},
	"gemini.api_key": {"GEMINI_API_KEY"},
	"gemini.model":   {"GEMINI_MODEL"},
}

// Load reads configuration from the environment and, when path is not empty, a config file.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("SHELFSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range aliases {
		envs := append([]string{"SHELFSCAN_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	// keys without a default are invisible to AutomaticEnv during Unmarshal
	for _, key := range []string{
		"llm.vision_model", "llm.text_model", "catalog.google_books_api_key",
		"cache.redis_url", "auth.jwt_secret", "auth.session_secret",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDerived() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))

	if c.OpenAI.Model == "" {
		c.OpenAI.Model = DefaultOpenAIModel
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = DefaultOllamaModel
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = DefaultGeminiModel
	}
	if c.LLM.VisionModel == "" {
		c.LLM.VisionModel = c.ProviderModel()
	}
	if c.LLM.TextModel == "" {
		c.LLM.TextModel = c.LLM.VisionModel
	}

	// OLLAMA_HOST is often a bare host:port
	if c.Ollama.URL != "" && !strings.Contains(c.Ollama.URL, "://") {
		c.Ollama.URL = "http://" + c.Ollama.URL
	}

	switch {
	case c.Database.MaxOpenConns < 1:
		c.Database.MaxOpenConns = 1
	case c.Database.MaxOpenConns > maxPoolSize:
		c.Database.MaxOpenConns = maxPoolSize
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		c.Database.MaxIdleConns = c.Database.MaxOpenConns
	}

	if c.Auth.SessionSecret == "" {
		c.Auth.SessionSecret = c.Auth.JWTSecret
	}
	if c.LLM.MaxAttempts < 1 {
		c.LLM.MaxAttempts = 1
	}
	if c.Pipeline.EnrichConcurrency < 1 {
		c.Pipeline.EnrichConcurrency = 1
	}
}

// ProviderModel returns the configured model of the selected provider.
func (c *Config) ProviderModel() string {
	switch c.LLM.Provider {
	case "ollama":
		return c.Ollama.Model
	case "gemini":
		return c.Gemini.Model
	default:
		return c.OpenAI.Model
	}
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case "openai", "ollama", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unsupported llm provider: %s (supported: openai, ollama, gemini)", c.LLM.Provider))
	}

	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver: %s (supported: sqlite, mysql, postgres)", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database dsn is required"))
	}

	if c.Pipeline.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("pipeline.max_upload_bytes must be positive"))
	}
	if c.Pipeline.EnrichmentTimeout <= 0 {
		errs = append(errs, errors.New("pipeline.enrichment_timeout must be positive"))
	}
	if c.Pipeline.RecommendationTimeout < 0 ||
		(c.Pipeline.RecommendationTimeout > 0 && c.Pipeline.RecommendationTimeout >= c.Pipeline.DetectionTimeout) {
		errs = append(errs, errors.New("pipeline.recommendation_timeout must be shorter than pipeline.detection_timeout"))
	}
	if c.Catalog.CacheTTL <= 0 {
		errs = append(errs, errors.New("catalog.cache_ttl must be positive"))
	}

	return errors.Join(errs...)
}
