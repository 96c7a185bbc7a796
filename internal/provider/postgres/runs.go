package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

// UpsertRun archives a run. An archived row is only replaced by a newer
// version of the same run.
func (s *Store) UpsertRun(ctx context.Context, run types.Run) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}
	errs, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("marshal run config: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs_archive (run_id, trigger, status, version, stats, errors, errors_omitted,
			config, started_at, last_updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id) DO UPDATE SET
			status          = EXCLUDED.status,
			version         = EXCLUDED.version,
			stats           = EXCLUDED.stats,
			errors          = EXCLUDED.errors,
			errors_omitted  = EXCLUDED.errors_omitted,
			last_updated_at = EXCLUDED.last_updated_at,
			completed_at    = EXCLUDED.completed_at,
			archived_at     = NOW()
		WHERE runs_archive.version < EXCLUDED.version
	`, run.RunID, string(run.Trigger), string(run.Status), run.Version, stats, errs,
		run.ErrorsOmitted, cfg, run.StartedAt, run.LastUpdatedAt, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("archive run %s: %w", run.RunID, err)
	}
	return nil
}

// ArchivedVersions returns the archived version of each known run id.
func (s *Store) ArchivedVersions(ctx context.Context, runIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(runIDs))
	if len(runIDs) == 0 {
		return out, nil
	}
	query, args, err := s.qb.Select("run_id", "version").
		From("runs_archive").
		Where(sq.Eq{"run_id": runIDs}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query archived versions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var v int
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, rows.Err()
}
