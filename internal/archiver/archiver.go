// Package archiver copies finished runs from the operational ledger into
// Postgres for long-term history.
package archiver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/metrics"
	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

const (
	defaultInterval = 5 * time.Minute
	// listWindow is how many recent runs each pass inspects.
	listWindow = 500
)

// Destination is the archive store. *postgres.Store implements it.
type Destination interface {
	UpsertRun(ctx context.Context, run types.Run) error
	ArchivedVersions(ctx context.Context, runIDs []string) (map[string]int, error)
}

// Archiver periodically archives terminal runs.
type Archiver struct {
	source   provider.RunLedger
	dest     Destination
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a new Archiver.
func New(source provider.RunLedger, dest Destination, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		source:   source,
		dest:     dest,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the archiver background loop.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.loop(ctx)
	a.logger.Info("archiver started", "interval", a.interval)
}

// Stop signals the archiver to stop and waits for it to finish.
func (a *Archiver) Stop(_ context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.logger.Info("archiver stopped")
}

func (a *Archiver) loop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.ArchiveOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.ArchiveOnce(ctx)
		}
	}
}

// ArchiveOnce copies every terminal run whose archived version is missing
// or older than the ledger's. It returns the number of runs written.
func (a *Archiver) ArchiveOnce(ctx context.Context) int {
	runs, err := a.source.ListRuns(ctx, listWindow)
	if err != nil {
		a.logger.Error("archiver: list runs failed", "error", err)
		return 0
	}

	var terminal []types.Run
	ids := make([]string, 0, len(runs))
	for _, run := range runs {
		if lifecycle.IsTerminal(run.Status) {
			terminal = append(terminal, run)
			ids = append(ids, run.RunID)
		}
	}
	if len(terminal) == 0 {
		return 0
	}

	archived, err := a.dest.ArchivedVersions(ctx, ids)
	if err != nil {
		a.logger.Error("archiver: reading archived versions failed", "error", err)
		return 0
	}

	written := 0
	for _, run := range terminal {
		if ctx.Err() != nil {
			break
		}
		if v, ok := archived[run.RunID]; ok && v >= run.Version {
			continue
		}
		if err := a.dest.UpsertRun(ctx, run); err != nil {
			a.logger.Error("archiver: upsert run failed", "run_id", run.RunID, "error", err)
			continue
		}
		written++
	}
	if written > 0 {
		metrics.RunsArchived.Add(float64(written))
		a.logger.Info("archived runs", "count", written)
	}
	return written
}
