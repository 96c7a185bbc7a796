// Package sink defines where fetched articles and author records are
// persisted, plus the key derivations every sink shares.
package sink

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

// DefaultBatchSize is the number of items handed to StoreBatch at once.
const DefaultBatchSize = 200

// StoreResult counts the outcome of one StoreBatch call.
type StoreResult struct {
	Stored       int
	Deduplicated int
}

// ArticleSink persists fetched items. StoreBatch must be idempotent per item:
// storing the same URL twice counts it as deduplicated the second time.
type ArticleSink interface {
	StoreBatch(ctx context.Context, runID string, items []types.Item) (StoreResult, error)
}

// AuthorSink maintains one record per feed.
type AuthorSink interface {
	Upsert(ctx context.Context, author types.Author) (types.UpsertStatus, error)
}

// NormalizeURL canonicalizes an article URL for deduplication: scheme and
// host lowercased, fragment dropped, trailing path slash trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String()
}

// ArticleID is the idempotency key of an article: a name-based UUID of its
// normalized URL.
func ArticleID(rawURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(NormalizeURL(rawURL))).String()
}

// Dedupe drops items whose ArticleID repeats within the batch, keeping the
// first occurrence. It returns the kept items with their ids and the number
// dropped.
func Dedupe(items []types.Item) ([]types.Item, []string, int) {
	seen := make(map[string]struct{}, len(items))
	kept := make([]types.Item, 0, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		id := ArticleID(it.URL)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		kept = append(kept, it)
		ids = append(ids, id)
	}
	return kept, ids, len(items) - len(kept)
}
