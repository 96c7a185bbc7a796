package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

// DefaultUserAgent identifies feedrun to source hosts.
const DefaultUserAgent = "feedrun/1.0 (+https://github.com/dwsmith1983/feedrun)"

// Feed fetches RSS, Atom and JSON feeds directly.
type Feed struct {
	client    *http.Client
	userAgent string
	breakers  *Breakers
	now       func() time.Time
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithBreakers guards each source host with a circuit breaker.
func WithBreakers(b *Breakers) FeedOption {
	return func(f *Feed) { f.breakers = b }
}

// WithClock overrides the clock used for the time window.
func WithClock(now func() time.Time) FeedOption {
	return func(f *Feed) { f.now = now }
}

// NewFeed creates a feed fetcher. A nil client gets a default one; request
// deadlines come from the context.
func NewFeed(client *http.Client, userAgent string, opts ...FeedOption) *Feed {
	if client == nil {
		client = &http.Client{}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	f := &Feed{client: client, userAgent: userAgent, now: time.Now}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch downloads and parses src.URL.
func (f *Feed) Fetch(ctx context.Context, src types.Source, opts Options) (*Result, error) {
	return f.breakers.Do(src.URL, func() (*Result, error) {
		return f.fetch(ctx, src, opts)
	})
}

func (f *Feed) fetch(ctx context.Context, src types.Source, opts Options) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", src.URL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", src.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching %s: returned %s", src.URL, resp.Status)
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", src.URL, err)
	}
	return convertFeed(feed, src, opts, f.now()), nil
}

func convertFeed(feed *gofeed.Feed, src types.Source, opts Options, now time.Time) *Result {
	meta := &types.FeedMeta{
		Title:       strings.TrimSpace(feed.Title),
		Link:        feed.Link,
		Description: HTMLToText(feed.Description),
		Author:      personName(feed.Authors),
	}

	items := make([]types.Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil || it.Link == "" {
			continue
		}
		var published time.Time
		switch {
		case it.PublishedParsed != nil:
			published = *it.PublishedParsed
		case it.UpdatedParsed != nil:
			published = *it.UpdatedParsed
		}
		if !withinWindow(published, now, opts.TimeWindow) {
			continue
		}

		summary := HTMLToText(it.Description)
		content := HTMLToText(it.Content)
		if content == "" {
			content = summary
		}
		items = append(items, types.Item{
			URL:         strings.TrimSpace(it.Link),
			Title:       strings.TrimSpace(it.Title),
			SourceID:    src.ID,
			SourceName:  src.Name,
			Category:    src.Category,
			Author:      personName(it.Authors),
			Summary:     summary,
			Content:     content,
			Categories:  it.Categories,
			PublishedAt: published,
		})
	}
	return &Result{Items: limit(items, opts.MaxItems), Meta: meta}
}

func personName(people []*gofeed.Person) string {
	for _, p := range people {
		if p == nil {
			continue
		}
		if name := strings.TrimSpace(p.Name); name != "" {
			return name
		}
		if email := strings.TrimSpace(p.Email); email != "" {
			return email
		}
	}
	return ""
}
