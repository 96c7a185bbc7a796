package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// maxCASRetries bounds UpdateRun retries on version races.
const maxCASRetries = 5

// CreateRun stores run and claims the active pointer in one script call.
func (p *RedisProvider) CreateRun(ctx context.Context, run types.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	active := "0"
	if lifecycle.IsActive(run.Status) {
		active = "1"
	}
	res, err := p.createScript.Run(ctx, p.client,
		[]string{p.runKey(run.RunID), p.activeKey(), p.runIndexKey()},
		string(data), run.RunID, run.StartedAt.UnixMilli(), active,
	).Text()
	if err != nil {
		return fmt.Errorf("creating run %s: %w", run.RunID, err)
	}

	switch {
	case res == "ok":
		return nil
	case res == "exists":
		return fmt.Errorf("%w: %s", provider.ErrRunExists, run.RunID)
	case strings.HasPrefix(res, "active:"):
		return provider.ErrActiveRun
	default:
		return fmt.Errorf("creating run %s: unexpected script result %q", run.RunID, res)
	}
}

// UpdateRun reads the run, applies patch, and writes it back if the stored
// version is unchanged.
func (p *RedisProvider) UpdateRun(ctx context.Context, runID string, patch types.RunPatch) (*types.Run, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		run, err := p.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		prev := run.Version
		if err := lifecycle.Apply(run, patch); err != nil {
			return nil, err
		}

		data, err := json.Marshal(run)
		if err != nil {
			return nil, fmt.Errorf("marshaling run: %w", err)
		}
		terminal := "0"
		ttl := int64(0)
		if lifecycle.IsTerminal(run.Status) {
			terminal = "1"
			ttl = int64(p.retentionTTL.Seconds())
		}

		res, err := p.casScript.Run(ctx, p.client,
			[]string{p.runKey(runID), p.activeKey()},
			prev, string(data), runID, terminal, ttl,
		).Int()
		if err != nil {
			return nil, fmt.Errorf("updating run %s: %w", runID, err)
		}
		switch res {
		case 1:
			return run, nil
		case 0:
			return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, runID)
		}
		if patch.ExpectVersion != 0 {
			return nil, fmt.Errorf("%w: run %s changed during update", lifecycle.ErrVersionMismatch, runID)
		}
	}
	return nil, fmt.Errorf("%w: run %s: retries exhausted", lifecycle.ErrVersionMismatch, runID)
}

// GetRun retrieves a run document.
func (p *RedisProvider) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	data, err := p.client.Get(ctx, p.runKey(runID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	var run types.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return &run, nil
}

// QueryActive follows the active pointer. A pointer to a missing or terminal
// run is treated as no active run.
func (p *RedisProvider) QueryActive(ctx context.Context) (*types.Run, error) {
	runID, err := p.client.Get(ctx, p.activeKey()).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run, err := p.GetRun(ctx, runID)
	if errors.Is(err, provider.ErrNotFound) {
		p.logger.Warn("active pointer references missing run", "run_id", runID)
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

// ListRuns returns runs newest first from the sorted-set index. Index entries
// whose documents have expired are pruned.
func (p *RedisProvider) ListRuns(ctx context.Context, limit int) ([]types.Run, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := p.client.ZRevRange(ctx, p.runIndexKey(), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []types.Run{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = p.runKey(id)
	}
	vals, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	runs := make([]types.Run, 0, len(vals))
	var expired []interface{}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var run types.Run
		if err := json.Unmarshal([]byte(s), &run); err != nil {
			p.logger.Warn("skipping corrupt run entry", "run_id", ids[i], "error", err)
			continue
		}
		runs = append(runs, run)
	}
	if len(expired) > 0 {
		if err := p.client.ZRem(ctx, p.runIndexKey(), expired...).Err(); err != nil {
			p.logger.Warn("failed to prune run index", "error", err)
		}
	}
	return runs, nil
}
