package worker

import (
	"github.com/meigsy/shift-sub001/pkg/logger"
)

// Option applies a configuration option to a Worker or Pool.
type Option func(*config)

type config struct {
	name     string
	logger   logger.Logger
	onResult ResultHandler
}

// WithName sets the worker name used in logs. Pool workers are suffixed
// with their index.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithResultHandler registers a callback invoked after every decision cycle.
func WithResultHandler(h ResultHandler) Option {
	return func(c *config) {
		if h != nil {
			c.onResult = h
		}
	}
}
