package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dwsmith1983/feedrun/internal/sink"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

var _ sink.AuthorSink = (*Store)(nil)

// Upsert creates the author row or merges into it: article counts add up,
// categories union, last_published keeps the newest value.
func (s *Store) Upsert(ctx context.Context, a types.Author) (types.UpsertStatus, error) {
	cats := a.Categories
	if cats == nil {
		cats = []string{}
	}

	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO authors (author_id, name, feed_url, website_url, description, categories,
			article_count, last_published, last_fetched)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (author_id) DO UPDATE SET
			name           = EXCLUDED.name,
			website_url    = EXCLUDED.website_url,
			description    = COALESCE(NULLIF(EXCLUDED.description, ''), authors.description),
			categories     = ARRAY(SELECT DISTINCT c FROM unnest(authors.categories || EXCLUDED.categories) AS c ORDER BY c),
			article_count  = authors.article_count + EXCLUDED.article_count,
			last_published = GREATEST(authors.last_published, EXCLUDED.last_published),
			last_fetched   = EXCLUDED.last_fetched,
			updated_at     = NOW()
		RETURNING (xmax = 0)
	`, a.AuthorID, a.Name, a.FeedURL, a.WebsiteURL, a.Description, cats,
		a.ArticleCount, a.LastPublished, a.LastFetched).Scan(&inserted)
	if err != nil {
		return "", fmt.Errorf("upsert author %s: %w", a.AuthorID, err)
	}
	if inserted {
		return types.UpsertCreated, nil
	}
	return types.UpsertUpdated, nil
}

// GetAuthor reads one author row. It returns nil when the author is unknown.
func (s *Store) GetAuthor(ctx context.Context, authorID string) (*types.Author, error) {
	var a types.Author
	err := s.pool.QueryRow(ctx, `
		SELECT author_id, name, feed_url, website_url, description, categories,
			article_count, last_published, last_fetched
		FROM authors WHERE author_id = $1
	`, authorID).Scan(&a.AuthorID, &a.Name, &a.FeedURL, &a.WebsiteURL, &a.Description,
		&a.Categories, &a.ArticleCount, &a.LastPublished, &a.LastFetched)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
