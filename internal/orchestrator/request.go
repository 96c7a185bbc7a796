package orchestrator

import (
	"fmt"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

// Request bounds and defaults.
const (
	DefaultTimeWindowHours   = 24
	MinTimeWindowHours       = 1
	MaxTimeWindowHours       = 720
	DefaultMaxItemsPerSource = 50
	MinItemsPerSource        = 1
	MaxItemsPerSource        = 500
)

// TriggerRequest asks for a new run. Zero values take defaults.
type TriggerRequest struct {
	Trigger           types.TriggerKind `json:"trigger"`
	TimeWindowHours   int               `json:"time_window_hours"`
	MaxItemsPerSource int               `json:"max_items_per_source"`
}

// resolve validates req and fills defaults. Deployment defaults in o.config
// override the package defaults.
func (o *Orchestrator) resolve(req TriggerRequest) (types.TriggerKind, types.RunConfig, error) {
	kind := req.Trigger
	if kind == "" {
		kind = types.TriggerManual
	}
	if !kind.Valid() {
		return "", types.RunConfig{}, fmt.Errorf("%w: unknown trigger %q", ErrInvalidRequest, kind)
	}

	hours := req.TimeWindowHours
	if hours == 0 {
		hours = o.config.DefaultTimeWindowHours
	}
	if hours < MinTimeWindowHours || hours > MaxTimeWindowHours {
		return "", types.RunConfig{}, fmt.Errorf("%w: time_window_hours must be between %d and %d, got %d",
			ErrInvalidRequest, MinTimeWindowHours, MaxTimeWindowHours, hours)
	}

	items := req.MaxItemsPerSource
	if items == 0 {
		items = o.config.DefaultMaxItemsPerSource
	}
	if items < MinItemsPerSource || items > MaxItemsPerSource {
		return "", types.RunConfig{}, fmt.Errorf("%w: max_items_per_source must be between %d and %d, got %d",
			ErrInvalidRequest, MinItemsPerSource, MaxItemsPerSource, items)
	}

	return kind, types.RunConfig{TimeWindowHours: hours, MaxItemsPerSource: items}, nil
}
