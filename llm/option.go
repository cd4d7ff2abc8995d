package llm

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Option func(c *Config)

// WithModel sets the default model for completions.
func WithModel(model string) Option {
	return func(c *Config) {
		c.model = model
	}
}

// WithBaseURL points the provider client at a non-default API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Config) {
		c.baseURL = baseURL
	}
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(temperature float32) Option {
	return func(c *Config) {
		c.temperature = temperature
	}
}

// WithMaxTokens sets the default completion token cap.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Config) {
		c.maxTokens = maxTokens
	}
}

// WithCallTimeout bounds each individual provider call.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.callTimeout = timeout
	}
}

// WithMaxAttempts caps transient-error retries, initial attempt included.
func WithMaxAttempts(attempts int) Option {
	return func(c *Config) {
		c.maxAttempts = attempts
	}
}

// WithRateLimit installs a limiter shared by every session using this
// client.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Config) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		c.logger = logger
	}
}
