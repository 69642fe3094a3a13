package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/fibercore/internal/common"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Version needs no configuration
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fibercore version %s\n", common.GetBuildInfo())
		},
	}
}
