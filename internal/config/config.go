// Package config handles configuration loading for Radar.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm"      yaml:"llm"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Sources  SourcesConfig  `mapstructure:"sources"  yaml:"sources"`
	Anomaly  AnomalyConfig  `mapstructure:"anomaly"  yaml:"anomaly"`
	API      APIConfig      `mapstructure:"api"      yaml:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
}

// LLMConfig holds AI provider configuration. Provider priority is fixed:
// OpenAI, then Ollama, then Gemini.
type LLMConfig struct {
	OpenAIKey    string `mapstructure:"openai_key"    yaml:"openai_key"`
	OpenAIModel  string `mapstructure:"openai_model"  yaml:"openai_model"`
	OllamaURL    string `mapstructure:"ollama_url"    yaml:"ollama_url"`
	OllamaModel  string `mapstructure:"ollama_model"  yaml:"ollama_model"`
	GeminiKey    string `mapstructure:"gemini_key"    yaml:"gemini_key"`
	GeminiModel  string `mapstructure:"gemini_model"  yaml:"gemini_model"`
	ContentLimit int    `mapstructure:"content_limit" yaml:"content_limit"` // runes of article content per request
}

// AnalysisConfig holds orchestration settings for ticker sessions.
type AnalysisConfig struct {
	BatchSize       int `mapstructure:"batch_size"        yaml:"batch_size"`
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	WindowDays      int `mapstructure:"window_days"       yaml:"window_days"`
	ArticleLimit    int `mapstructure:"article_limit"     yaml:"article_limit"`
	Workers         int `mapstructure:"workers"           yaml:"workers"` // job store worker count
}

// SourcesConfig holds external data source settings.
type SourcesConfig struct {
	MoexURL    string   `mapstructure:"moex_url"    yaml:"moex_url"`
	AnomalyURL string   `mapstructure:"anomaly_url" yaml:"anomaly_url"`
	Feeds      []string `mapstructure:"feeds"       yaml:"feeds"` // RSS feed URLs
}

// AnomalyConfig holds anomaly feed polling settings.
type AnomalyConfig struct {
	RefreshIntervalSec int     `mapstructure:"refresh_interval_sec" yaml:"refresh_interval_sec"`
	MinScore           float64 `mapstructure:"min_score"            yaml:"min_score"`
	Limit              int     `mapstructure:"limit"                yaml:"limit"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.radar/config.yaml (home directory)
//  3. /etc/radar/config.yaml (system)
//
// Environment variables override config file values.
// Format: RADAR_<SECTION>_<KEY>, e.g., RADAR_LLM_OPENAI_KEY
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".radar"))
	v.AddConfigPath("/etc/radar")

	v.SetEnvPrefix("RADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found — that's fine, use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("RADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// LLM defaults
	v.SetDefault("llm.openai_model", "gpt-4o-mini")
	v.SetDefault("llm.ollama_url", "http://localhost:11434")
	v.SetDefault("llm.ollama_model", "qwen2.5:7b")
	v.SetDefault("llm.gemini_model", "gemini-2.0-flash")
	v.SetDefault("llm.content_limit", 500)

	// Analysis defaults: per-article batches, 2s polling
	v.SetDefault("analysis.batch_size", 1)
	v.SetDefault("analysis.poll_interval_sec", 2)
	v.SetDefault("analysis.window_days", 7)
	v.SetDefault("analysis.article_limit", 30)
	v.SetDefault("analysis.workers", 3)

	// Source defaults
	v.SetDefault("sources.moex_url", "https://iss.moex.com/iss")
	v.SetDefault("sources.feeds", []string{
		"https://rssexport.rbc.ru/rbcnews/news/30/full.rss",
		"https://www.kommersant.ru/RSS/news.xml",
		"https://www.interfax.ru/rss.asp",
	})

	// Anomaly feed defaults
	v.SetDefault("anomaly.refresh_interval_sec", 30)
	v.SetDefault("anomaly.min_score", 50)
	v.SetDefault("anomaly.limit", 20)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("RADAR_LLM_OPENAI_KEY"); key != "" {
		cfg.LLM.OpenAIKey = key
	}
	if key := os.Getenv("RADAR_LLM_GEMINI_KEY"); key != "" {
		cfg.LLM.GeminiKey = key
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
