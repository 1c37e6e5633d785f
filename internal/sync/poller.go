package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/nhle/mailpost/internal/logger"
	"github.com/nhle/mailpost/internal/metrics"
)

// SyncState represents the current state of the poll loop.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "unknown"
	}
}

// SyncStatus holds the outcome of the most recent cycles.
type SyncStatus struct {
	State       SyncState
	LastRun     time.Time
	LastSuccess time.Time
	Runs        int
	Failures    int
	Error       error
}

// Healthy reports whether the last cycle succeeded.
func (s SyncStatus) Healthy() bool {
	return s.State != SyncError
}

// defaultInterval is used when no poll interval is configured.
const defaultInterval = 5 * time.Minute

// Cycle performs one processing pass.
type Cycle func(ctx context.Context) error

// Poller runs a cycle immediately and then on every tick until its
// context is done. A failing cycle is logged and recorded; it never stops
// the loop.
type Poller struct {
	cycle     Cycle
	interval  time.Duration
	status    SyncStatus
	triggerCh chan struct{}
	mu        gosync.Mutex
	now       func() time.Time
}

// New creates a Poller running cycle every interval.
func New(cycle Cycle, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Poller{
		cycle:     cycle,
		interval:  interval,
		triggerCh: make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Run blocks until ctx is done. Cycles never overlap.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Do an initial cycle immediately
	p.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.runCycle(ctx)
		case <-p.triggerCh:
			p.runCycle(ctx)
		}
	}
}

// Trigger requests an immediate cycle. It does not block; a request made
// while one is already pending is dropped.
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the poller status.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	p.setRunning()

	err := p.cycle(ctx)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Shutdown interrupted the cycle.
		p.finish(nil)
		return
	}
	if err != nil {
		logger.ErrorContext(ctx, "Processing cycle failed", "error", err)
		metrics.RunsTotal.WithLabelValues("error").Inc()
	} else {
		metrics.RunsTotal.WithLabelValues("success").Inc()
	}
	metrics.LastRunTimestamp.SetToCurrentTime()
	p.finish(err)
}

func (p *Poller) setRunning() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = SyncRunning
}

func (p *Poller) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.status.LastRun = now
	p.status.Runs++
	p.status.Error = err
	if err != nil {
		p.status.State = SyncError
		p.status.Failures++
		return
	}
	p.status.State = SyncIdle
	p.status.LastSuccess = now
}
