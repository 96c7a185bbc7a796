package sink

import (
	"context"
	"sync"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

// MemoryArticles is an in-process ArticleSink.
type MemoryArticles struct {
	mu    sync.Mutex
	items map[string]types.Item
}

// NewMemoryArticles creates an empty article sink.
func NewMemoryArticles() *MemoryArticles {
	return &MemoryArticles{items: make(map[string]types.Item)}
}

// StoreBatch stores items not seen before.
func (m *MemoryArticles) StoreBatch(_ context.Context, _ string, items []types.Item) (StoreResult, error) {
	kept, ids, dups := Dedupe(items)

	m.mu.Lock()
	defer m.mu.Unlock()
	res := StoreResult{Deduplicated: dups}
	for i, it := range kept {
		if _, ok := m.items[ids[i]]; ok {
			res.Deduplicated++
			continue
		}
		m.items[ids[i]] = it
		res.Stored++
	}
	return res, nil
}

// Len returns the number of stored articles.
func (m *MemoryArticles) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// MemoryAuthors is an in-process AuthorSink.
type MemoryAuthors struct {
	mu      sync.Mutex
	authors map[string]types.Author
}

// NewMemoryAuthors creates an empty author sink.
func NewMemoryAuthors() *MemoryAuthors {
	return &MemoryAuthors{authors: make(map[string]types.Author)}
}

// Upsert creates or merges an author record.
func (m *MemoryAuthors) Upsert(_ context.Context, a types.Author) (types.UpsertStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.authors[a.AuthorID]
	if !ok {
		m.authors[a.AuthorID] = a
		return types.UpsertCreated, nil
	}
	a.ArticleCount += prev.ArticleCount
	a.Categories = MergeCategories(prev.Categories, a.Categories)
	if prev.LastPublished.After(a.LastPublished) {
		a.LastPublished = prev.LastPublished
	}
	m.authors[a.AuthorID] = a
	return types.UpsertUpdated, nil
}

// Get returns a stored author.
func (m *MemoryAuthors) Get(id string) (types.Author, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.authors[id]
	return a, ok
}
