package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/feedrun/internal/server/handlers"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var (
		api   apiFlags
		limit int
	)

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show one run, or the most recent runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			c := api.client()

			if len(args) == 1 {
				run, err := c.Get(ctx, args[0])
				if err != nil {
					return err
				}
				printRun(run)
				return nil
			}

			runs, err := c.List(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			for i := range runs {
				printRunLine(&runs[i])
			}
			return nil
		},
	}
	api.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent runs to list")
	return cmd
}

func printRunLine(run *handlers.RunView) {
	fmt.Printf("%s  %s  %s  checked=%d failed=%d stored=%d\n",
		run.RunID,
		run.StartedAt.Local().Format(time.DateTime),
		statusColor(run.Status).Sprintf("%-21s", run.Status),
		run.Stats.SourcesChecked, run.Stats.SourcesFailed, run.Stats.ArticlesStored)
}

func printRun(run *handlers.RunView) {
	fmt.Printf("Run:       %s\n", run.RunID)
	fmt.Printf("Status:    %s (%s)\n", statusColor(run.Status).Sprint(run.Status), run.Phase)
	fmt.Printf("Trigger:   %s, %dh window, %d items/source\n", run.Trigger, run.Config.TimeWindowHours, run.Config.MaxItemsPerSource)
	fmt.Printf("Duration:  %s\n", formatDuration(run.DurationSeconds))
	if run.IsSuccessful != nil {
		fmt.Printf("Healthy:   %t\n", *run.IsSuccessful)
	}
	s := run.Stats
	fmt.Printf("Sources:   %d checked, %d failed\n", s.SourcesChecked, s.SourcesFailed)
	fmt.Printf("Articles:  %d fetched, %d stored, %d duplicate\n", s.ArticlesFetched, s.ArticlesStored, s.ArticlesDeduplicated)
	fmt.Printf("Authors:   %d upserted\n", s.AuthorsUpserted)
	if len(run.Errors) > 0 {
		fmt.Println("Errors:")
		for _, e := range run.Errors {
			if e.SourceID != "" {
				fmt.Printf("  [%s] %s\n", e.SourceID, e.Message)
			} else {
				fmt.Printf("  %s\n", e.Message)
			}
		}
	}
}
