package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved runtime settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Fibercore", Version)

	logger.Info().
		Str("version", GetBuildInfo().String()).
		Str("environment", config.Environment).
		Str("queue_backend", config.Queue.Backend).
		Str("emitter", config.Emitter.Mode).
		Str("inventory", config.Inventory.Dir).
		Msg("Fibercore starting")
}
