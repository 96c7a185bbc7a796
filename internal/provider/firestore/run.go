package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// runDoc is the stored shape of a run. StartedAt is lifted for ordering and
// ExpireAt feeds an optional Firestore TTL policy.
type runDoc struct {
	Run       types.Run  `firestore:"run"`
	Version   int        `firestore:"version"`
	StartedAt time.Time  `firestore:"startedAt"`
	ExpireAt  *time.Time `firestore:"expireAt,omitempty"`
}

type activeDoc struct {
	RunID string `firestore:"runId"`
}

func (p *FirestoreProvider) toDoc(run types.Run) runDoc {
	d := runDoc{Run: run, Version: run.Version, StartedAt: run.StartedAt}
	if p.retentionTTL > 0 && lifecycle.IsTerminal(run.Status) {
		exp := time.Now().Add(p.retentionTTL)
		d.ExpireAt = &exp
	}
	return d
}

func decodeRun(snap *firestore.DocumentSnapshot) (*types.Run, error) {
	var d runDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", snap.Ref.ID, err)
	}
	if d.ExpireAt != nil && isExpired(*d.ExpireAt) {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, snap.Ref.ID)
	}
	run := d.Run
	if run.Errors == nil {
		run.Errors = []types.RunError{}
	}
	return &run, nil
}

// activeRunTx reads the active pointer and the run it names inside tx. It
// returns the pointer's run id (empty if absent) and whether that run is
// still active.
func (p *FirestoreProvider) activeRunTx(tx *firestore.Transaction) (string, bool, error) {
	snap, err := tx.Get(p.activeDoc())
	if isNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var ptr activeDoc
	if err := snap.DataTo(&ptr); err != nil {
		return "", false, fmt.Errorf("decoding active pointer: %w", err)
	}

	runSnap, err := tx.Get(p.runs().Doc(ptr.RunID))
	if isNotFound(err) {
		return ptr.RunID, false, nil
	}
	if err != nil {
		return "", false, err
	}
	run, err := decodeRun(runSnap)
	if errors.Is(err, provider.ErrNotFound) {
		return ptr.RunID, false, nil
	}
	if err != nil {
		return "", false, err
	}
	return ptr.RunID, lifecycle.IsActive(run.Status), nil
}

// CreateRun stores run and claims the active pointer in one transaction. A
// pointer naming a terminal or missing run is overwritten.
func (p *FirestoreProvider) CreateRun(ctx context.Context, run types.Run) error {
	ref := p.runs().Doc(run.RunID)
	err := p.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		activeID, live, err := p.activeRunTx(tx)
		if err != nil {
			return err
		}
		if live && lifecycle.IsActive(run.Status) {
			return provider.ErrActiveRun
		}
		if activeID != run.RunID {
			_, err = tx.Get(ref)
			if err == nil {
				return fmt.Errorf("%w: %s", provider.ErrRunExists, run.RunID)
			}
			if !isNotFound(err) {
				return err
			}
		}

		if err := tx.Create(ref, p.toDoc(run)); err != nil {
			return err
		}
		if lifecycle.IsActive(run.Status) {
			return tx.Set(p.activeDoc(), activeDoc{RunID: run.RunID})
		}
		return nil
	}, firestore.MaxAttempts(txAttempts))
	if isAlreadyExists(err) {
		return fmt.Errorf("%w: %s", provider.ErrRunExists, run.RunID)
	}
	if err != nil && !errors.Is(err, provider.ErrActiveRun) && !errors.Is(err, provider.ErrRunExists) {
		return fmt.Errorf("creating run %s: %w", run.RunID, err)
	}
	return err
}

// UpdateRun applies patch inside a transaction. Firestore retries the
// closure on contention, so the patch is re-applied to fresh state.
func (p *FirestoreProvider) UpdateRun(ctx context.Context, runID string, patch types.RunPatch) (*types.Run, error) {
	ref := p.runs().Doc(runID)
	var result *types.Run
	err := p.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", provider.ErrNotFound, runID)
		}
		if err != nil {
			return err
		}
		run, err := decodeRun(snap)
		if err != nil {
			return err
		}
		if err := lifecycle.Apply(run, patch); err != nil {
			return err
		}

		release := false
		if lifecycle.IsTerminal(run.Status) {
			ptrSnap, err := tx.Get(p.activeDoc())
			if err != nil && !isNotFound(err) {
				return err
			}
			if err == nil {
				var ptr activeDoc
				if err := ptrSnap.DataTo(&ptr); err == nil && ptr.RunID == runID {
					release = true
				}
			}
		}

		if err := tx.Set(ref, p.toDoc(*run)); err != nil {
			return err
		}
		if release {
			if err := tx.Delete(p.activeDoc()); err != nil {
				return err
			}
		}
		result = run
		return nil
	}, firestore.MaxAttempts(txAttempts))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetRun retrieves a run document.
func (p *FirestoreProvider) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	snap, err := p.runs().Doc(runID).Get(ctx)
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting run %s: %w", runID, err)
	}
	return decodeRun(snap)
}

// QueryActive follows the active pointer.
func (p *FirestoreProvider) QueryActive(ctx context.Context) (*types.Run, error) {
	snap, err := p.activeDoc().Get(ctx)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading active pointer: %w", err)
	}
	var ptr activeDoc
	if err := snap.DataTo(&ptr); err != nil {
		return nil, fmt.Errorf("decoding active pointer: %w", err)
	}

	run, err := p.GetRun(ctx, ptr.RunID)
	if errors.Is(err, provider.ErrNotFound) {
		p.logger.Warn("active pointer references missing run", "run_id", ptr.RunID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lifecycle.IsTerminal(run.Status) {
		return nil, nil
	}
	return run, nil
}

// ListRuns returns runs ordered by start time, newest first.
func (p *FirestoreProvider) ListRuns(ctx context.Context, limit int) ([]types.Run, error) {
	q := p.runs().OrderBy("startedAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	runs := make([]types.Run, 0, len(snaps))
	for _, snap := range snaps {
		run, err := decodeRun(snap)
		if errors.Is(err, provider.ErrNotFound) {
			continue
		}
		if err != nil {
			p.logger.Warn("skipping corrupt run document", "run_id", snap.Ref.ID, "error", err)
			continue
		}
		runs = append(runs, *run)
	}
	return runs, nil
}
