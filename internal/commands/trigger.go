package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/feedrun/internal/client"
	"github.com/dwsmith1983/feedrun/internal/orchestrator"
	"github.com/dwsmith1983/feedrun/internal/server/handlers"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// apiFlags are shared by commands that talk to a running server.
type apiFlags struct {
	server string
	apiKey string
}

func (f *apiFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", envOr(envServer, defaultServer), "feedrun server URL")
	cmd.Flags().StringVar(&f.apiKey, "api-key", os.Getenv(envAPIKey), "API key")
}

func (f *apiFlags) client() *client.Client {
	return client.New(f.server, client.WithAPIKey(f.apiKey))
}

// NewTriggerCmd creates the trigger command.
func NewTriggerCmd() *cobra.Command {
	var (
		api      apiFlags
		trigger  string
		hours    int
		maxItems int
		wait     bool
		interval time.Duration
		abandon  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start an ingestion run on a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			c := api.client()
			res, err := c.Trigger(ctx, orchestrator.TriggerRequest{
				Trigger:           types.TriggerKind(trigger),
				TimeWindowHours:   hours,
				MaxItemsPerSource: maxItems,
			})
			var conflict *orchestrator.ConflictError
			if errors.As(err, &conflict) {
				color.Yellow("Run %s is already in progress", conflict.ActiveRunID)
				return err
			}
			if err != nil {
				return err
			}
			color.Green("Accepted run %s", res.RunID)
			if !wait {
				return nil
			}
			return waitForRun(ctx, c, res.RunID, interval, abandon)
		},
	}
	api.register(cmd)
	cmd.Flags().StringVar(&trigger, "trigger", string(types.TriggerManual), "trigger kind: manual, auto or scheduled")
	cmd.Flags().IntVar(&hours, "hours", 0, "time window in hours (default 24)")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "max items per source (default 50)")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the run finishes")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "poll interval with --wait")
	cmd.Flags().DurationVar(&abandon, "abandon", client.DefaultAbandonAfter, "give up waiting after this long")
	return cmd
}

func waitForRun(ctx context.Context, c *client.Client, runID string, interval, abandon time.Duration) error {
	var lastPhase types.Phase
	run, err := c.Wait(ctx, runID, client.PollOptions{
		Interval: interval,
		Abandon:  abandon,
		OnUpdate: func(v *handlers.RunView) {
			if v.Phase != lastPhase {
				lastPhase = v.Phase
				fmt.Printf("  %-18s checked=%d failed=%d stored=%d\n",
					v.Phase, v.Stats.SourcesChecked, v.Stats.SourcesFailed, v.Stats.ArticlesStored)
			}
		},
	})
	if err != nil {
		if errors.Is(err, client.ErrAbandoned) {
			color.Red("Gave up waiting for %s: %v", runID, err)
		}
		return err
	}
	printRun(run)
	if run.Status == types.RunFailed {
		return fmt.Errorf("run %s failed", runID)
	}
	return nil
}
