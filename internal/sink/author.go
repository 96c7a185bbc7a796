package sink

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

// AuthorID derives the stable author id of a feed.
func AuthorID(feedURL string) string {
	sum := sha256.Sum256([]byte(feedURL))
	return "author-" + hex.EncodeToString(sum[:])[:16]
}

// AuthorFromFeed builds the author record for one feed's fetched items.
// ArticleCount is the number of items in this fetch; sinks add it to the
// stored count.
func AuthorFromFeed(feedURL string, meta *types.FeedMeta, items []types.Item, now time.Time) types.Author {
	var m types.FeedMeta
	if meta != nil {
		m = *meta
	}
	u, _ := url.Parse(feedURL)

	name := firstNonEmpty(m.Title, m.Author)
	if name == "" {
		for _, it := range items {
			if it.Author != "" {
				name = it.Author
				break
			}
		}
	}
	if name == "" && u != nil {
		name = strings.TrimPrefix(u.Host, "www.")
	}

	website := m.Link
	if website == "" && u != nil {
		website = u.Scheme + "://" + u.Host
	}

	var newest time.Time
	cats := map[string]struct{}{}
	for _, it := range items {
		if it.PublishedAt.After(newest) {
			newest = it.PublishedAt
		}
		for _, c := range it.Categories {
			if c != "" {
				cats[c] = struct{}{}
			}
		}
	}
	if newest.IsZero() {
		newest = now
	}

	return types.Author{
		AuthorID:      AuthorID(feedURL),
		Name:          name,
		FeedURL:       feedURL,
		WebsiteURL:    website,
		Description:   m.Description,
		Categories:    sortedKeys(cats),
		ArticleCount:  len(items),
		LastPublished: newest,
		LastFetched:   now,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MergeCategories unions two category lists, sorted.
func MergeCategories(a, b []string) []string {
	m := make(map[string]struct{}, len(a)+len(b))
	for _, c := range a {
		m[c] = struct{}{}
	}
	for _, c := range b {
		m[c] = struct{}{}
	}
	return sortedKeys(m)
}
