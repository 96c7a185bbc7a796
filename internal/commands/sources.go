package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/feedrun/internal/config"
	"github.com/dwsmith1983/feedrun/internal/sources"
)

// NewSourcesCmd creates the sources command group.
func NewSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect the configured source list",
	}
	cmd.AddCommand(newSourcesValidateCmd())
	return cmd
}

func newSourcesValidateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Parse and normalize a source list",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := config.Load(dir)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				path = cfg.Sources.Path
			}

			list, err := sources.NewFile(path).Load(cmd.Context())
			if err != nil {
				color.Red("✗ %s", err)
				return err
			}
			for _, s := range list {
				fmt.Printf("  %-24s %-12s %s\n", s.ID, s.Category, s.URL)
			}
			color.Green("✓ %d sources in %s", len(list), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "config-dir", "c", ".", "directory containing feedrun.yaml")
	return cmd
}
