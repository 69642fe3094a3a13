package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/fibercore/internal/app"
	"github.com/ternarybob/fibercore/internal/common"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run OLT workers only",
		Long: `Starts the OLT workers against the shared redis queue. Notification
outcomes are posted to the API process at emitter.url.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func runWorker() error {
	common.PrintBanner(config, logger)

	application, err := app.New(config, logger, app.ModeWorker)
	if err != nil {
		return fmt.Errorf("failed to initialize worker: %w", err)
	}
	defer application.Close()

	if err := application.Start(); err != nil {
		return err
	}

	logger.Info().Str("emitter_url", config.Emitter.URL).Msg("Worker ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received, waiting for running jobs")
	return nil
}
