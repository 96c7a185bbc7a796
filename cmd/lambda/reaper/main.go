// reaper Lambda fails ingestion runs that stopped making progress.
// Invoked by EventBridge on a regular interval (e.g. every minute).
package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	intlambda "github.com/dwsmith1983/feedrun/internal/lambda"
)

var (
	deps     *intlambda.Deps
	depsOnce sync.Once
	depsErr  error
)

func getDeps() (*intlambda.Deps, error) {
	depsOnce.Do(func() {
		deps, depsErr = intlambda.Init(context.Background())
	})
	return deps, depsErr
}

// scanResult is the invocation payload returned to the caller.
type scanResult struct {
	Reaped bool   `json:"reaped"`
	RunID  string `json:"runId,omitempty"`
}

func handler(ctx context.Context) (scanResult, error) {
	d, err := getDeps()
	if err != nil {
		return scanResult{}, err
	}
	return scan(ctx, d)
}

func scan(ctx context.Context, d *intlambda.Deps) (scanResult, error) {
	run, err := d.Reaper.Scan(ctx)
	if err != nil {
		d.Logger.Error("reaper scan failed", "error", err)
		return scanResult{}, err
	}
	if run == nil {
		d.Logger.Info("reaper scan complete", "reaped", false)
		return scanResult{}, nil
	}
	d.Logger.Info("reaper scan complete", "reaped", true, "run_id", run.RunID)
	return scanResult{Reaped: true, RunID: run.RunID}, nil
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	awslambda.Start(handler)
}
