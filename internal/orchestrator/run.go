package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dwsmith1983/feedrun/internal/fetcher"
	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/metrics"
	"github.com/dwsmith1983/feedrun/internal/sink"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// fetched is what one successful source produced, kept for the storage and
// author phases.
type fetched struct {
	source types.Source
	items  []types.Item
	meta   *types.FeedMeta
}

// execution is the background task's view of one run. Only the task
// goroutine touches it, so stats updates are serialized.
type execution struct {
	run     types.Run
	fetched []fetched
}

func (o *Orchestrator) runToCompletion(ctx context.Context, run types.Run) {
	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	ctx, span := o.tracer.Start(ctx, "ingestion_run")
	span.SetAttributes(attribute.String("run.id", run.RunID), attribute.String("run.trigger", string(run.Trigger)))
	defer span.End()

	ex := &execution{run: run}
	logger := o.logger.With("run_id", run.RunID)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &phaseError{msg: fmt.Sprintf("internal error in %s: %v", ex.run.Phase, r)}
			}
		}()
		return o.execute(ctx, ex)
	}()

	switch {
	case err == nil:
		return
	case errors.Is(err, errStopped):
		logger.Info("run finalized elsewhere, stopping", "status", ex.run.Status)
		return
	}

	msg := err.Error()
	if ctx.Err() != nil {
		msg = "run interrupted: " + msg
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	o.fail(ctx, ex, msg)
}

func (o *Orchestrator) execute(ctx context.Context, ex *execution) error {
	if err := o.advance(ctx, ex, types.PhaseInitializing); err != nil {
		return err
	}

	if err := o.advance(ctx, ex, types.PhaseLoadingSources); err != nil {
		return err
	}
	srcs, err := o.sources.Load(ctx)
	if err != nil {
		return &phaseError{msg: "loading sources", err: err}
	}

	if err := o.advance(ctx, ex, types.PhaseFetchingFeeds); err != nil {
		return err
	}
	if err := o.fetchAll(ctx, ex, srcs); err != nil {
		return err
	}

	if err := o.advance(ctx, ex, types.PhaseStoringArticles); err != nil {
		return err
	}
	if err := o.storeAll(ctx, ex); err != nil {
		return err
	}

	if err := o.advance(ctx, ex, types.PhaseUpsertingAuthors); err != nil {
		return err
	}
	if err := o.upsertAuthors(ctx, ex); err != nil {
		return err
	}

	return o.complete(ctx, ex)
}

// update writes patch and refreshes ex.run from the stored result.
func (o *Orchestrator) update(ctx context.Context, ex *execution, patch types.RunPatch) error {
	patch.UpdatedAt = o.now()
	updated, err := o.ledger.UpdateRun(ctx, ex.run.RunID, patch)
	if errors.Is(err, lifecycle.ErrRunTerminal) {
		if cur, gerr := o.ledger.GetRun(context.WithoutCancel(ctx), ex.run.RunID); gerr == nil {
			ex.run = *cur
		}
		return errStopped
	}
	if err != nil {
		return fmt.Errorf("updating ledger: %w", err)
	}
	ex.run = *updated
	return nil
}

func (o *Orchestrator) advance(ctx context.Context, ex *execution, phase types.Phase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	status := lifecycle.StatusForPhase(phase)
	return o.update(ctx, ex, types.RunPatch{Status: &status, Phase: &phase})
}

func (o *Orchestrator) fetchAll(ctx context.Context, ex *execution, srcs []types.Source) error {
	opts := fetcher.Options{
		MaxItems:   ex.run.Config.MaxItemsPerSource,
		TimeWindow: ex.run.Config.TimeWindow(),
		RequestID:  ex.run.RunID,
	}

	for outcome := range o.coord.Fetch(ctx, srcs, opts) {
		stats := ex.run.Stats
		stats.SourcesChecked++
		patch := types.RunPatch{Stats: &stats}

		if outcome.Err != nil {
			stats.SourcesFailed++
			patch.AppendErrors = []types.RunError{{
				SourceID:  outcome.Source.ID,
				Message:   outcome.Err.Error(),
				Timestamp: o.now(),
			}}
		} else {
			stats.ArticlesFetched += len(outcome.Result.Items)
			if len(outcome.Result.Items) > 0 {
				ex.fetched = append(ex.fetched, fetched{
					source: outcome.Source,
					items:  outcome.Result.Items,
					meta:   outcome.Result.Meta,
				})
			}
		}

		if err := o.update(ctx, ex, patch); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (o *Orchestrator) storeAll(ctx context.Context, ex *execution) error {
	var all []types.Item
	for _, f := range ex.fetched {
		all = append(all, f.items...)
	}

	size := o.config.BatchSize
	for start := 0; start < len(all); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + size
		if end > len(all) {
			end = len(all)
		}

		res, err := o.articles.StoreBatch(ctx, ex.run.RunID, all[start:end])
		if err != nil {
			return &phaseError{msg: fmt.Sprintf("storing articles %d-%d", start, end-1), err: err}
		}
		metrics.ArticlesStored.Add(float64(res.Stored))
		metrics.ArticlesDeduplicated.Add(float64(res.Deduplicated))

		stats := ex.run.Stats
		stats.ArticlesStored += res.Stored
		stats.ArticlesDeduplicated += res.Deduplicated
		if err := o.update(ctx, ex, types.RunPatch{Stats: &stats}); err != nil {
			return err
		}
	}
	return nil
}

// byAuthor merges fetched feeds sharing an author id, keeping first-seen
// order. The first source's metadata wins; items are merged without
// repeating an article.
func byAuthor(all []fetched) []fetched {
	index := map[string]int{}
	var out []fetched
	for _, f := range all {
		id := sink.AuthorID(f.source.URL)
		i, ok := index[id]
		if !ok {
			index[id] = len(out)
			out = append(out, fetched{source: f.source, meta: f.meta, items: append([]types.Item(nil), f.items...)})
			continue
		}
		if out[i].meta == nil {
			out[i].meta = f.meta
		}
		out[i].items, _, _ = sink.Dedupe(append(out[i].items, f.items...))
	}
	return out
}

// upsertAuthors writes one author record per distinct feed that yielded
// items. A failed upsert is recorded and does not abort the run.
func (o *Orchestrator) upsertAuthors(ctx context.Context, ex *execution) error {
	if o.authors == nil {
		return nil
	}
	for _, f := range byAuthor(ex.fetched) {
		if err := ctx.Err(); err != nil {
			return err
		}
		author := sink.AuthorFromFeed(f.source.URL, f.meta, f.items, o.now())
		result, err := o.authors.Upsert(ctx, author)

		var patch types.RunPatch
		if err != nil {
			o.logger.Warn("author upsert failed", "run_id", ex.run.RunID, "source_id", f.source.ID, "error", err)
			patch.AppendErrors = []types.RunError{{
				SourceID:  f.source.ID,
				Message:   "author upsert: " + err.Error(),
				Timestamp: o.now(),
			}}
		} else {
			metrics.AuthorsUpserted.WithLabelValues(string(result)).Inc()
			stats := ex.run.Stats
			stats.AuthorsUpserted++
			patch.Stats = &stats
		}
		if err := o.update(ctx, ex, patch); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, ex *execution) error {
	status := types.RunCompleted
	if ex.run.Stats.SourcesFailed > 0 || len(ex.run.Errors) > 0 || ex.run.ErrorsOmitted > 0 {
		status = types.RunCompletedWithErrors
	}
	if err := o.update(ctx, ex, types.RunPatch{Status: &status}); err != nil {
		return err
	}
	o.finished(ex.run)
	return nil
}

// fail writes the terminal failed status with one summarizing error. It
// uses a detached context so a cancelled run can still be finalized.
func (o *Orchestrator) fail(ctx context.Context, ex *execution, msg string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	failed := types.RunFailed
	err := o.update(wctx, ex, types.RunPatch{
		Status:       &failed,
		AppendErrors: []types.RunError{{Message: msg, Timestamp: o.now()}},
	})
	if errors.Is(err, errStopped) {
		o.logger.Info("run already terminal", "run_id", ex.run.RunID, "status", ex.run.Status)
		return
	}
	if err != nil {
		o.logger.Error("failed to record run failure, leaving it for the reaper",
			"run_id", ex.run.RunID, "cause", msg, "error", err)
		return
	}

	o.finished(ex.run)
	o.alert(wctx, types.Alert{
		Level:    types.AlertLevelError,
		Category: "run_failed",
		RunID:    ex.run.RunID,
		Message:  fmt.Sprintf("Ingestion run %s failed: %s", ex.run.RunID, msg),
		Details: map[string]interface{}{
			"sources_checked": ex.run.Stats.SourcesChecked,
			"sources_failed":  ex.run.Stats.SourcesFailed,
			"articles_stored": ex.run.Stats.ArticlesStored,
		},
		Timestamp: o.now(),
	})
}

func (o *Orchestrator) finished(run types.Run) {
	metrics.RunsFinished.WithLabelValues(string(run.Status)).Inc()
	var duration time.Duration
	if run.CompletedAt != nil {
		duration = run.CompletedAt.Sub(run.StartedAt)
		metrics.RunDuration.Observe(duration.Seconds())
	}
	o.logger.Info("ingestion run finished",
		"run_id", run.RunID,
		"status", run.Status,
		"duration", duration,
		"sources_checked", run.Stats.SourcesChecked,
		"sources_failed", run.Stats.SourcesFailed,
		"articles_fetched", run.Stats.ArticlesFetched,
		"articles_stored", run.Stats.ArticlesStored,
		"articles_deduplicated", run.Stats.ArticlesDeduplicated,
		"authors_upserted", run.Stats.AuthorsUpserted,
	)
}
