package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

func TestBuildArticleInsert(t *testing.T) {
	published := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	items := []types.Item{
		{URL: "https://a.example/1", Title: "one", SourceID: "src-a", PublishedAt: published},
		{URL: "https://a.example/2", Title: "two", SourceID: "src-a"},
	}

	query, args, err := buildArticleInsert(builder(), "run-1", items, []string{"id-1", "id-2"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "INSERT INTO articles (article_id,url,title"))
	assert.Contains(t, query, "($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12),($13,")
	assert.True(t, strings.HasSuffix(query, "ON CONFLICT (article_id) DO NOTHING RETURNING article_id"))
	require.Len(t, args, 24)

	assert.Equal(t, "id-1", args[0])
	assert.Equal(t, []string{}, args[9], "nil categories are sent as an empty array")
	require.IsType(t, &time.Time{}, args[10])
	assert.Equal(t, published, *args[10].(*time.Time))
	assert.Nil(t, args[22], "zero published_at is stored as NULL")
	assert.Equal(t, "run-1", args[23])
}
