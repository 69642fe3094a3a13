package queue

import (
	"time"

	"github.com/ternarybob/fibercore/internal/common"
)

// Config holds configuration for the dispatcher
type Config struct {
	// PollInterval is how often idle workers poll for jobs
	PollInterval time.Duration

	// StaleAfter is the claim lease. Running handlers renew it every third of
	// StaleAfter; active jobs past it are recovered.
	StaleAfter time.Duration

	// Concurrency overrides keyed by queue name
	Concurrency map[string]int
}

// NewDefaultConfig creates a dispatcher configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		PollInterval: 500 * time.Millisecond,
		StaleAfter:   10 * time.Minute,
		Concurrency:  map[string]int{},
	}
}

// NewConfig builds the dispatcher configuration from the application config
func NewConfig(cfg *common.Config) Config {
	config := NewDefaultConfig()
	config.PollInterval = common.ParseDuration(cfg.Queue.PollInterval, config.PollInterval)
	config.StaleAfter = common.ParseDuration(cfg.Queue.StaleAfter, config.StaleAfter)
	for name, override := range cfg.Queue.Queues {
		if override.Concurrency > 0 {
			config.Concurrency[name] = override.Concurrency
		}
	}
	return config
}
