package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/dwsmith1983/feedrun/internal/sink"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

var _ sink.ArticleSink = (*Store)(nil)

// buildArticleInsert renders a multi-row insert that skips existing ids and
// returns the ids actually written.
func buildArticleInsert(qb sq.StatementBuilderType, runID string, items []types.Item, ids []string) (string, []interface{}, error) {
	q := qb.Insert("articles").Columns(
		"article_id", "url", "title", "source_id", "source_name", "category",
		"author", "summary", "content", "categories", "published_at", "run_id",
	)
	for i, it := range items {
		cats := it.Categories
		if cats == nil {
			cats = []string{}
		}
		var published *time.Time
		if !it.PublishedAt.IsZero() {
			p := it.PublishedAt
			published = &p
		}
		q = q.Values(ids[i], it.URL, it.Title, it.SourceID, it.SourceName, it.Category,
			it.Author, it.Summary, it.Content, cats, published, runID)
	}
	return q.Suffix("ON CONFLICT (article_id) DO NOTHING RETURNING article_id").ToSql()
}

// StoreBatch inserts items keyed by sink.ArticleID. Rows that already exist
// and repeats within the batch count as deduplicated.
func (s *Store) StoreBatch(ctx context.Context, runID string, items []types.Item) (sink.StoreResult, error) {
	kept, ids, dups := sink.Dedupe(items)
	if len(kept) == 0 {
		return sink.StoreResult{Deduplicated: dups}, nil
	}

	query, args, err := buildArticleInsert(s.qb, runID, kept, ids)
	if err != nil {
		return sink.StoreResult{}, fmt.Errorf("build article insert: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return sink.StoreResult{}, fmt.Errorf("insert articles: %w", err)
	}
	defer rows.Close()

	stored := 0
	for rows.Next() {
		stored++
	}
	if err := rows.Err(); err != nil {
		return sink.StoreResult{}, fmt.Errorf("insert articles: %w", err)
	}
	return sink.StoreResult{Stored: stored, Deduplicated: dups + len(kept) - stored}, nil
}

// CountArticles returns the number of stored articles for a source, or all
// articles when sourceID is empty.
func (s *Store) CountArticles(ctx context.Context, sourceID string) (int, error) {
	q := s.qb.Select("COUNT(*)").From("articles")
	if sourceID != "" {
		q = q.Where(sq.Eq{"source_id": sourceID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
