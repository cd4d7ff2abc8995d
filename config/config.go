// Package config loads the service configuration from defaults, an
// optional YAML file and DEEP_RESEARCHER_* environment overrides, in that
// order of precedence (lowest first).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "DEEP_RESEARCHER"

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second" yaml:"per_second"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

type LLMConfig struct {
	Provider    string          `mapstructure:"provider" yaml:"provider" validate:"oneof=openai anthropic cohere"`
	APIKey      string          `mapstructure:"api_key" yaml:"-"`
	BaseURL     string          `mapstructure:"base_url" yaml:"base_url"`
	Model       string          `mapstructure:"model" yaml:"model" validate:"required"`
	Temperature float32         `mapstructure:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int             `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout     time.Duration   `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts int             `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

type SearchConfig struct {
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	Engines  []string      `mapstructure:"engines" yaml:"engines"`
	Language string        `mapstructure:"language" yaml:"language"`
	TopK     int           `mapstructure:"top_k" yaml:"top_k" validate:"gte=1,lte=20"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type FetchConfig struct {
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxContentLength int64         `mapstructure:"max_content_length" yaml:"max_content_length"`
	Concurrency      int           `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=1"`
	UserAgent        string        `mapstructure:"user_agent" yaml:"user_agent"`
}

type ResearchConfig struct {
	DefaultRounds   int           `mapstructure:"default_rounds" yaml:"default_rounds" validate:"gte=1"`
	MaxRounds       int           `mapstructure:"max_rounds" yaml:"max_rounds" validate:"gte=1"`
	MaxSubQueries   int           `mapstructure:"max_sub_queries" yaml:"max_sub_queries" validate:"gte=1"`
	DefaultTokens   int64         `mapstructure:"default_tokens" yaml:"default_tokens" validate:"gte=1"`
	MaxTokens       int64         `mapstructure:"max_tokens" yaml:"max_tokens" validate:"gte=1"`
	PerItemTokenCap int           `mapstructure:"per_item_token_cap" yaml:"per_item_token_cap"`
	DefaultDeadline time.Duration `mapstructure:"default_deadline" yaml:"default_deadline"`
	MaxDeadline     time.Duration `mapstructure:"max_deadline" yaml:"max_deadline"`
	MaxSessions     int           `mapstructure:"max_sessions" yaml:"max_sessions" validate:"gte=1"`
	Retention       time.Duration `mapstructure:"retention" yaml:"retention"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Search   SearchConfig   `mapstructure:"search" yaml:"search"`
	Fetch    FetchConfig    `mapstructure:"fetch" yaml:"fetch"`
	Research ResearchConfig `mapstructure:"research" yaml:"research"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("llm.provider", "openai")
	// empty defaults still register the keys, which AutomaticEnv needs
	// before Unmarshal will look them up
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", time.Minute)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.rate_limit.per_second", 2.0)
	v.SetDefault("llm.rate_limit.burst", 4)

	v.SetDefault("search.base_url", "http://localhost:8888")
	v.SetDefault("search.engines", []string{})
	v.SetDefault("search.top_k", 5)
	v.SetDefault("search.timeout", 10*time.Second)
	v.SetDefault("search.language", "en")

	v.SetDefault("fetch.timeout", 15*time.Second)
	v.SetDefault("fetch.max_content_length", int64(2<<20))
	v.SetDefault("fetch.concurrency", 3)
	v.SetDefault("fetch.user_agent", "")

	v.SetDefault("research.default_rounds", 3)
	v.SetDefault("research.max_rounds", 5)
	v.SetDefault("research.max_sub_queries", 3)
	v.SetDefault("research.default_tokens", 24000)
	v.SetDefault("research.max_tokens", 48000)
	v.SetDefault("research.per_item_token_cap", 8000)
	v.SetDefault("research.default_deadline", 5*time.Minute)
	v.SetDefault("research.max_deadline", 15*time.Minute)
	v.SetDefault("research.max_sessions", 8)
	v.SetDefault("research.retention", 30*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment overrides apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints plus the cross-field ceilings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Research.DefaultRounds > c.Research.MaxRounds {
		return fmt.Errorf("invalid config: research.default_rounds %d above ceiling %d", c.Research.DefaultRounds, c.Research.MaxRounds)
	}
	if c.Research.DefaultTokens > c.Research.MaxTokens {
		return fmt.Errorf("invalid config: research.default_tokens %d above ceiling %d", c.Research.DefaultTokens, c.Research.MaxTokens)
	}
	if c.Research.DefaultDeadline > c.Research.MaxDeadline {
		return fmt.Errorf("invalid config: research.default_deadline %s above ceiling %s", c.Research.DefaultDeadline, c.Research.MaxDeadline)
	}
	return nil
}

// Dump renders the effective configuration as YAML with secrets elided.
func (c *Config) Dump() (string, error) {
	bs, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("dump config: %w", err)
	}
	return string(bs), nil
}
