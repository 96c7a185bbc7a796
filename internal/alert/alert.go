// Package alert implements alert dispatching to multiple sinks.
package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dwsmith1983/feedrun/internal/metrics"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

const sendTimeout = 10 * time.Second

// Sink is an alert destination.
type Sink interface {
	Send(ctx context.Context, alert types.Alert) error
	Name() string
}

// Dispatcher routes alerts to configured sinks.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher from alert configs.
func NewDispatcher(configs []types.AlertConfig, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger}
	for _, cfg := range configs {
		sink, err := newSink(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating %s sink: %w", cfg.Type, err)
		}
		d.sinks = append(d.sinks, sink)
	}
	return d, nil
}

// AddSink appends a sink.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Len returns the number of sinks.
func (d *Dispatcher) Len() int { return len(d.sinks) }

// Dispatch sends an alert to all configured sinks. Failures are logged and
// never returned; an alert must not fail the run that raised it.
func (d *Dispatcher) Dispatch(ctx context.Context, alert types.Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	// Sends get their own deadline, detached from ctx cancellation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	for _, sink := range d.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			metrics.AlertsFailed.WithLabelValues(sink.Name()).Inc()
			d.logger.Error("alert delivery failed", "sink", sink.Name(), "run_id", alert.RunID, "error", err)
			continue
		}
		metrics.AlertsDispatched.WithLabelValues(sink.Name()).Inc()
	}
}

// Close closes every sink holding a resource. Errors are joined.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, sink := range d.sinks {
		if c, ok := sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s sink: %w", sink.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// AlertFunc returns Dispatch as a callback.
func (d *Dispatcher) AlertFunc() func(context.Context, types.Alert) {
	return d.Dispatch
}

func newSink(cfg types.AlertConfig) (Sink, error) {
	switch cfg.Type {
	case types.AlertConsole:
		return NewConsoleSink(), nil
	case types.AlertWebhook:
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook URL required")
		}
		return NewWebhookSink(cfg.URL), nil
	case types.AlertFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file path required")
		}
		return NewFileSink(cfg.Path)
	case types.AlertEventBridge:
		return NewEventBridgeSink(cfg.EventBus, WithEventBridgeRegion(cfg.Region))
	default:
		return nil, fmt.Errorf("unknown alert type %q", cfg.Type)
	}
}
