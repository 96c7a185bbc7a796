// Package fetcher retrieves the items of one source.
package fetcher

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

// ErrCircuitOpen is returned without a network call while a source host's
// breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 10 << 20

// Options are the per-run fetch limits.
type Options struct {
	MaxItems   int
	TimeWindow time.Duration
	RequestID  string
}

// Result is what one source produced.
type Result struct {
	Items []types.Item
	Meta  *types.FeedMeta
}

// Fetcher fetches one source. The per-fetch timeout is the deadline of ctx.
type Fetcher interface {
	Fetch(ctx context.Context, src types.Source, opts Options) (*Result, error)
}

// HTMLToText strips markup and collapses whitespace.
func HTMLToText(s string) string {
	if s == "" {
		return ""
	}
	text := s
	if strings.ContainsAny(s, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err == nil {
			text = doc.Text()
		}
	}
	return strings.Join(strings.Fields(text), " ")
}

// withinWindow reports whether published falls inside the window ending at
// now. Items without a date are kept.
func withinWindow(published, now time.Time, window time.Duration) bool {
	if window <= 0 || published.IsZero() {
		return true
	}
	return !published.Before(now.Add(-window))
}

// limit keeps at most max items. max <= 0 keeps all.
func limit(items []types.Item, max int) []types.Item {
	if max > 0 && len(items) > max {
		return items[:max]
	}
	return items
}
