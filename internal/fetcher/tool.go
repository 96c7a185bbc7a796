package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

// Tool delegates fetching to an external feed-reader service. The service
// receives the window and item limit and is trusted to apply them; Tool
// enforces them again on the response.
type Tool struct {
	client    *http.Client
	endpoint  string
	userAgent string
	breakers  *Breakers
	now       func() time.Time
}

// NewTool creates a tool fetcher posting to endpoint.
func NewTool(client *http.Client, endpoint, userAgent string, breakers *Breakers) *Tool {
	if client == nil {
		client = &http.Client{}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Tool{client: client, endpoint: endpoint, userAgent: userAgent, breakers: breakers, now: time.Now}
}

type toolRequest struct {
	FeedURL         string `json:"feed_url"`
	TimeWindowHours int    `json:"time_window_hours"`
	MaxItems        int    `json:"max_items"`
	RequestID       string `json:"request_id,omitempty"`
}

type toolArticle struct {
	Title          string     `json:"title"`
	URL            string     `json:"url"`
	Link           string     `json:"link"`
	PublishedAt    *time.Time `json:"published_at"`
	Summary        string     `json:"summary"`
	Content        string     `json:"content"`
	ContentSnippet string     `json:"content_snippet"`
	Author         string     `json:"author"`
	Categories     []string   `json:"categories"`
}

type toolResponse struct {
	Articles     []toolArticle   `json:"articles"`
	FeedMetadata *types.FeedMeta `json:"feed_metadata"`
}

// Fetch asks the tool service for src.URL.
func (t *Tool) Fetch(ctx context.Context, src types.Source, opts Options) (*Result, error) {
	return t.breakers.Do(src.URL, func() (*Result, error) {
		return t.fetch(ctx, src, opts)
	})
}

func (t *Tool) fetch(ctx context.Context, src types.Source, opts Options) (*Result, error) {
	body, err := json.Marshal(toolRequest{
		FeedURL:         src.URL,
		TimeWindowHours: int(opts.TimeWindow / time.Hour),
		MaxItems:        opts.MaxItems,
		RequestID:       opts.RequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling tool request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling feed tool for %s: %w", src.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed tool for %s returned %s: %s", src.URL, resp.Status, strings.TrimSpace(string(snippet)))
	}

	var out toolResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding feed tool response for %s: %w", src.URL, err)
	}

	now := t.now()
	items := make([]types.Item, 0, len(out.Articles))
	for _, a := range out.Articles {
		u := a.URL
		if u == "" {
			u = a.Link
		}
		if u == "" {
			continue
		}
		var published time.Time
		if a.PublishedAt != nil {
			published = *a.PublishedAt
		}
		if !withinWindow(published, now, opts.TimeWindow) {
			continue
		}
		summary := HTMLToText(a.Summary)
		if summary == "" {
			summary = HTMLToText(a.ContentSnippet)
		}
		content := HTMLToText(a.Content)
		if content == "" {
			content = summary
		}
		items = append(items, types.Item{
			URL:         strings.TrimSpace(u),
			Title:       strings.TrimSpace(a.Title),
			SourceID:    src.ID,
			SourceName:  src.Name,
			Category:    src.Category,
			Author:      a.Author,
			Summary:     summary,
			Content:     content,
			Categories:  a.Categories,
			PublishedAt: published,
		})
	}
	return &Result{Items: limit(items, opts.MaxItems), Meta: out.FeedMetadata}, nil
}
