package retrieval

import (
	"time"

	"go.uber.org/zap"
)

type Option func(*Config)

// WithCallTimeout bounds each search or fetch call.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.callTimeout = timeout
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		c.logger = logger
	}
}
