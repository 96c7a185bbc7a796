package types

import "time"

// Run is the ledger document for one ingestion attempt.
type Run struct {
	RunID         string      `json:"run_id"`
	Trigger       TriggerKind `json:"trigger"`
	Status        RunStatus   `json:"status"`
	Phase         Phase       `json:"phase"`
	StartedAt     time.Time   `json:"started_at"`
	LastUpdatedAt time.Time   `json:"last_updated_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	Stats         RunStats    `json:"stats"`
	Errors        []RunError  `json:"errors"`
	ErrorsOmitted int         `json:"errors_omitted,omitempty"`
	Config        RunConfig   `json:"config"`
	Version       int         `json:"version"`
}

// RunStats holds the per-run counters. Every field is non-decreasing
// until the run is terminal.
type RunStats struct {
	SourcesChecked       int `json:"sources_checked"`
	SourcesFailed        int `json:"sources_failed"`
	ArticlesFetched      int `json:"articles_fetched"`
	ArticlesStored       int `json:"articles_stored"`
	ArticlesDeduplicated int `json:"articles_deduplicated"`
	AuthorsUpserted      int `json:"authors_upserted"`
}

// RunError is one diagnostic entry in a run's error list.
type RunError struct {
	SourceID  string    `json:"source_id,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RunConfig is the resolved parameter set captured when a run is created.
type RunConfig struct {
	TimeWindowHours   int `json:"time_window_hours"`
	MaxItemsPerSource int `json:"max_items_per_source"`
}

// TimeWindow returns the configured look-back window as a duration.
func (c RunConfig) TimeWindow() time.Duration {
	return time.Duration(c.TimeWindowHours) * time.Hour
}

// RunPatch is a partial update applied to a Run by a ledger store.
// Nil fields are left unchanged.
type RunPatch struct {
	Status       *RunStatus
	Phase        *Phase
	Stats        *RunStats
	AppendErrors []RunError
	UpdatedAt    time.Time

	// ExpectVersion, when non-zero, makes the update conditional on the
	// stored version.
	ExpectVersion int
}

// Source describes one configured feed.
type Source struct {
	ID       string `yaml:"id,omitempty" json:"id"`
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Category string `yaml:"category,omitempty" json:"category"`
	Active   *bool  `yaml:"active,omitempty" json:"-"`
}

// Item is one article returned by a source fetch.
type Item struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	SourceID    string    `json:"source_id"`
	SourceName  string    `json:"source_name,omitempty"`
	Category    string    `json:"category,omitempty"`
	Author      string    `json:"author,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Content     string    `json:"content,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// FeedMeta is feed-level metadata used to derive author records.
type FeedMeta struct {
	Title       string `json:"title,omitempty"`
	Link        string `json:"link,omitempty"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
}

// Author is the per-feed author record maintained by the author sink.
type Author struct {
	AuthorID      string    `json:"author_id"`
	Name          string    `json:"name"`
	FeedURL       string    `json:"feed_url"`
	WebsiteURL    string    `json:"website_url"`
	Description   string    `json:"feed_description,omitempty"`
	Categories    []string  `json:"categories,omitempty"`
	ArticleCount  int       `json:"article_count"`
	LastPublished time.Time `json:"last_published"`
	LastFetched   time.Time `json:"last_fetched"`
}

// Alert is a notification dispatched to alert sinks.
type Alert struct {
	Level     AlertLevel             `json:"level"`
	Category  string                 `json:"alertType,omitempty"`
	RunID     string                 `json:"runId,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
