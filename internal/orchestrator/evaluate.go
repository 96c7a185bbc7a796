package orchestrator

import (
	"time"

	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// Success thresholds for a finished run.
const (
	maxSuccessfulDuration    = 300 * time.Second
	maxSuccessfulFailureRate = 0.5
)

// Evaluation summarizes a run for pollers. IsSuccessful is nil until the
// run is terminal.
type Evaluation struct {
	DurationSeconds float64
	IsSuccessful    *bool
}

// Evaluate reports how long run took (or has taken so far, as of now) and,
// once terminal, whether it counts as successful: at least one article
// stored, fewer than half the checked sources failed, and no longer than
// five minutes end to end.
func Evaluate(run types.Run, now time.Time) Evaluation {
	end := now
	if run.CompletedAt != nil {
		end = *run.CompletedAt
	}
	duration := end.Sub(run.StartedAt)
	if duration < 0 {
		duration = 0
	}
	ev := Evaluation{DurationSeconds: duration.Seconds()}
	if !lifecycle.IsTerminal(run.Status) {
		return ev
	}

	ok := run.Stats.ArticlesStored > 0 && duration <= maxSuccessfulDuration
	if ok && run.Stats.SourcesChecked > 0 {
		rate := float64(run.Stats.SourcesFailed) / float64(run.Stats.SourcesChecked)
		ok = rate < maxSuccessfulFailureRate
	}
	ev.IsSuccessful = &ok
	return ev
}
