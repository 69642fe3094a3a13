package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
)

var (
	// Global flags
	configFiles []string
	serverPort  int
	serverHost  string
	outputFlag  string

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func main() {
	common.LoadVersionFromFile()

	rootCmd := &cobra.Command{
		Use:   "fibercore",
		Short: "Background job pipeline for OLT device operations",
		Long: `fibercore runs device operations against OLTs as durable queue jobs.

serve runs the API, the scheduler and the workers in one process.
worker runs workers only and reports notification outcomes to the API.`,
		Version: common.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringSliceVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "Server host (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newQueueCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration: defaults -> file1 -> file2 -> ... -> env -> CLI
func loadConfig() error {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("fibercore.toml"); err == nil {
			configFiles = append(configFiles, "fibercore.toml")
		} else if _, err := os.Stat("deployments/local/fibercore.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/fibercore.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	common.ApplyFlagOverrides(config, serverPort, serverHost)
	logger = common.InitLogger(config)

	logger.Debug().
		Strs("config_files", configFiles).
		Str("queue_backend", config.Queue.Backend).
		Str("badger_path", config.Storage.Badger.Path).
		Str("log_level", config.Logging.Level).
		Msg("Resolved configuration")

	return nil
}
