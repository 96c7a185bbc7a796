package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/feedrun/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "feedrun",
		Short: "Feed ingestion run orchestrator",
		Long: `feedrun fans out to many independent feed sources, stores what they return,
and records every ingestion attempt as a pollable run. At most one run is
active at a time; runs that stop making progress are reaped to failed.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		commands.NewServeCmd(),
		commands.NewTriggerCmd(),
		commands.NewStatusCmd(),
		commands.NewSourcesCmd(),
		commands.NewVersionCmd(version),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
