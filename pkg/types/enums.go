// Package types defines the public domain types for the feedrun ingestion orchestrator.
package types

// RunStatus represents the lifecycle state of an ingestion run.
type RunStatus string

// RunStatus values. While a run is active its status mirrors its phase,
// except for the initial accepted state.
const (
	RunAccepted            RunStatus = "accepted"
	RunInitializing        RunStatus = "initializing"
	RunLoadingSources      RunStatus = "loading_sources"
	RunFetchingFeeds       RunStatus = "fetching_feeds"
	RunStoringArticles     RunStatus = "storing_articles"
	RunUpsertingAuthors    RunStatus = "upserting_authors"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

// Phase is the ordered sub-stage of a run shown to pollers.
type Phase string

// Phase values, in execution order.
const (
	PhaseInitializing     Phase = "initializing"
	PhaseLoadingSources   Phase = "loading_sources"
	PhaseFetchingFeeds    Phase = "fetching_feeds"
	PhaseStoringArticles  Phase = "storing_articles"
	PhaseUpsertingAuthors Phase = "upserting_authors"
	PhaseDone             Phase = "done"
)

// TriggerKind records who or what asked for a run.
type TriggerKind string

// TriggerKind values.
const (
	TriggerManual    TriggerKind = "manual"
	TriggerAuto      TriggerKind = "auto"
	TriggerScheduled TriggerKind = "scheduled"
)

// Valid reports whether k is a known trigger kind.
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerManual, TriggerAuto, TriggerScheduled:
		return true
	}
	return false
}

// AlertType defines the alert sink type.
type AlertType string

// AlertType values enumerate the supported alert sink backends.
const (
	AlertConsole     AlertType = "console"
	AlertWebhook     AlertType = "webhook"
	AlertFile        AlertType = "file"
	AlertEventBridge AlertType = "eventbridge"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertLevelError   AlertLevel = "error"
	AlertLevelWarning AlertLevel = "warning"
	AlertLevelInfo    AlertLevel = "info"
)

// UpsertStatus is the outcome of an author upsert.
type UpsertStatus string

const (
	UpsertCreated UpsertStatus = "created"
	UpsertUpdated UpsertStatus = "updated"
)
