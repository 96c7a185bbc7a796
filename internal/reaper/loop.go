package reaper

import (
	"context"
	"sync"
	"time"
)

const defaultInterval = time.Minute

// Loop runs Scan on a ticker.
type Loop struct {
	reaper   *Reaper
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewLoop creates a periodic scanner. A non-positive interval defaults to
// one minute.
func NewLoop(r *Reaper, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Loop{reaper: r, interval: interval}
}

// Start begins scanning.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.loop(ctx)
	l.reaper.logger.Info("reaper started", "interval", l.interval, "stuck_timeout", l.reaper.timeout)
}

// Stop signals the loop to stop and waits for it to finish.
func (l *Loop) Stop(_ context.Context) {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	l.reaper.logger.Info("reaper stopped")
}

func (l *Loop) loop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.scan(ctx)
		}
	}
}

func (l *Loop) scan(ctx context.Context) {
	if _, err := l.reaper.Scan(ctx); err != nil && ctx.Err() == nil {
		l.reaper.logger.Error("reaper scan failed", "error", err)
	}
}
