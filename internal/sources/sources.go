// Package sources loads the list of feeds an ingestion run fetches.
package sources

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

// DefaultCategory is assigned to sources that declare none.
const DefaultCategory = "general"

// Provider returns the ordered list of active sources for a run.
type Provider interface {
	Load(ctx context.Context) ([]types.Source, error)
}

// File reads sources from a YAML file on every Load, so edits apply to the
// next run.
type File struct {
	Path string
}

// NewFile creates a file-backed source provider.
func NewFile(path string) *File {
	return &File{Path: path}
}

type sourceFile struct {
	Sources []types.Source `yaml:"sources"`
}

// Load reads and normalizes the source file.
func (f *File) Load(_ context.Context) ([]types.Source, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading sources: %w", err)
	}
	var sf sourceFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing sources %s: %w", f.Path, err)
	}
	return Normalize(sf.Sources)
}

// Static serves a fixed list.
type Static struct {
	Sources []types.Source
}

// Load returns the normalized fixed list.
func (s Static) Load(_ context.Context) ([]types.Source, error) {
	return Normalize(s.Sources)
}

// Normalize drops inactive sources, fills default ids and categories, and
// rejects entries without a url or with a repeated id or url. Order is
// preserved.
func Normalize(in []types.Source) ([]types.Source, error) {
	out := make([]types.Source, 0, len(in))
	seen := make(map[string]int, len(in))
	seenURL := make(map[string]int, len(in))
	for i, src := range in {
		if src.Active != nil && !*src.Active {
			continue
		}
		src.URL = strings.TrimSpace(src.URL)
		if src.URL == "" {
			return nil, fmt.Errorf("source %d (%q): url is required", i, src.Name)
		}
		if src.ID == "" {
			src.ID = Slug(src.Name)
		}
		if src.ID == "" {
			return nil, fmt.Errorf("source %d: id or name is required", i)
		}
		if prev, ok := seen[src.ID]; ok {
			return nil, fmt.Errorf("source %d: duplicate id %q (first at %d)", i, src.ID, prev)
		}
		seen[src.ID] = i
		if prev, ok := seenURL[src.URL]; ok {
			return nil, fmt.Errorf("source %d (%q): duplicate url %s (first at %d)", i, src.ID, src.URL, prev)
		}
		seenURL[src.URL] = i
		if src.Category == "" {
			src.Category = DefaultCategory
		}
		if src.Name == "" {
			src.Name = src.ID
		}
		out = append(out, src)
	}
	return out, nil
}

// Slug lowercases name and turns spaces and slashes into dashes.
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "-", "/", "-").Replace(s)
}
