package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://Example.COM/post/1/", "https://example.com/post/1"},
		{"  https://example.com/post/1#comments", "https://example.com/post/1"},
		{"HTTPS://example.com/", "https://example.com/"},
		{"https://example.com/a?b=1", "https://example.com/a?b=1"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestArticleID_StableAcrossSpellings(t *testing.T) {
	a := ArticleID("https://Example.com/post/1/")
	b := ArticleID("https://example.com/post/1#top")
	assert.Equal(t, a, b)
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, ArticleID("https://example.com/post/2"))
}

func TestMemoryArticles_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArticles()
	batch := []types.Item{
		{URL: "https://a.example/1"},
		{URL: "https://a.example/2"},
		{URL: "https://a.example/1/"},
	}

	res, err := s.StoreBatch(ctx, "run-1", batch)
	require.NoError(t, err)
	assert.Equal(t, StoreResult{Stored: 2, Deduplicated: 1}, res)

	res, err = s.StoreBatch(ctx, "run-2", batch)
	require.NoError(t, err)
	assert.Equal(t, StoreResult{Stored: 0, Deduplicated: 3}, res)
	assert.Equal(t, 2, s.Len())
}

func TestAuthorFromFeed_PrefersFeedMetadata(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	items := []types.Item{
		{Author: "Item Author", PublishedAt: now.Add(-2 * time.Hour), Categories: []string{"go", "ai"}},
		{PublishedAt: now.Add(-time.Hour), Categories: []string{"go", ""}},
	}
	a := AuthorFromFeed("https://www.blog.example/feed.xml",
		&types.FeedMeta{Title: "The Blog", Link: "https://blog.example", Description: "posts"}, items, now)

	assert.Equal(t, AuthorID("https://www.blog.example/feed.xml"), a.AuthorID)
	assert.Regexp(t, `^author-[0-9a-f]{16}$`, a.AuthorID)
	assert.Equal(t, "The Blog", a.Name)
	assert.Equal(t, "https://blog.example", a.WebsiteURL)
	assert.Equal(t, "posts", a.Description)
	assert.Equal(t, []string{"ai", "go"}, a.Categories)
	assert.Equal(t, 2, a.ArticleCount)
	assert.Equal(t, now.Add(-time.Hour), a.LastPublished)
	assert.Equal(t, now, a.LastFetched)
}

func TestAuthorFromFeed_Fallbacks(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	feed := "https://www.blog.example/feed.xml"

	a := AuthorFromFeed(feed, &types.FeedMeta{Author: "Feed Author"}, []types.Item{{Author: "X"}}, now)
	assert.Equal(t, "Feed Author", a.Name)

	a = AuthorFromFeed(feed, nil, []types.Item{{}, {Author: "Second"}}, now)
	assert.Equal(t, "Second", a.Name)

	a = AuthorFromFeed(feed, nil, []types.Item{{}}, now)
	assert.Equal(t, "blog.example", a.Name)
	assert.Equal(t, "https://www.blog.example", a.WebsiteURL)
	assert.Equal(t, now, a.LastPublished, "no timestamps falls back to now")
	assert.Nil(t, a.Categories)
}

func TestMemoryAuthors_Accumulates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuthors()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	st, err := s.Upsert(ctx, types.Author{AuthorID: "author-1", ArticleCount: 3, Categories: []string{"go"}, LastPublished: t0})
	require.NoError(t, err)
	assert.Equal(t, types.UpsertCreated, st)

	st, err = s.Upsert(ctx, types.Author{AuthorID: "author-1", ArticleCount: 2, Categories: []string{"ai"}, LastPublished: t0.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, types.UpsertUpdated, st)

	got, ok := s.Get("author-1")
	require.True(t, ok)
	assert.Equal(t, 5, got.ArticleCount)
	assert.Equal(t, []string{"ai", "go"}, got.Categories)
	assert.Equal(t, t0, got.LastPublished)
}
