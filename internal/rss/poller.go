package rss

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bryan-buckman/rssmonitor/internal/model"
)

// MinPollingIntervalMinutes is the minimum allowed interval.
const MinPollingIntervalMinutes = 1

// DefaultPassTimeout bounds a whole ingestion pass.
const DefaultPassTimeout = 10 * time.Minute

const passKey = "pass"

// Runner runs one ingestion pass. It must not be called concurrently;
// the Poller guarantees that.
type Runner interface {
	RunOnce(ctx context.Context) (model.RunSummary, error)
}

// IntervalSource provides the current polling interval in minutes.
type IntervalSource interface {
	GetPollingInterval(ctx context.Context) (int, error)
}

// Poller runs ingestion passes on an interval and on demand, never two at once.
type Poller struct {
	runner      Runner
	settings    IntervalSource
	passTimeout time.Duration

	// Callers arriving while a pass runs join it instead of starting another.
	group singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	last   LastRun
	hasRun bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller creates a background poller.
func NewPoller(runner Runner, settings IntervalSource, passTimeout time.Duration) *Poller {
	if passTimeout <= 0 {
		passTimeout = DefaultPassTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		runner:      runner,
		settings:    settings,
		passTimeout: passTimeout,
		ctx:         ctx,
		cancel:      cancel,
		stopChan:    make(chan struct{}),
	}
}

// Trigger runs a pass now, or waits for the one already in progress and
// returns its result. The pass itself is bounded by the poller's lifetime
// and pass timeout, not by ctx; ctx only bounds how long the caller waits.
func (p *Poller) Trigger(ctx context.Context) (model.RunSummary, error) {
	ch := p.group.DoChan(passKey, func() (any, error) {
		runCtx, cancel := context.WithTimeout(p.ctx, p.passTimeout)
		defer cancel()

		summary, err := p.runner.RunOnce(runCtx)
		p.record(summary, err)
		return summary, err
	})

	select {
	case res := <-ch:
		summary, _ := res.Val.(model.RunSummary)
		return summary, res.Err
	case <-ctx.Done():
		return model.RunSummary{}, ctx.Err()
	}
}

// LastRun is the outcome of the most recent pass.
type LastRun struct {
	Summary model.RunSummary
	Err     error
}

func (p *Poller) record(summary model.RunSummary, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = LastRun{Summary: summary, Err: err}
	p.hasRun = true
}

// Last returns the most recent pass. ok is false until the first pass completes.
func (p *Poller) Last() (LastRun, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.hasRun
}

// Start begins the polling loop. The first pass runs immediately.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			interval := p.interval()
			slog.Info("poller: starting scheduled pass", "interval_minutes", interval)

			summary, err := p.Trigger(p.ctx)
			if err != nil {
				slog.Error("poller: pass failed", "error", err)
			} else if summary.Skipped {
				slog.Warn("poller: pass skipped, no feeds or keywords configured")
			}

			timer := time.NewTimer(time.Duration(interval) * time.Minute)
			select {
			case <-p.stopChan:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

func (p *Poller) interval() int {
	interval, err := p.settings.GetPollingInterval(p.ctx)
	if err != nil {
		slog.Warn("poller: could not read polling interval", "error", err)
	}
	if interval < MinPollingIntervalMinutes {
		interval = MinPollingIntervalMinutes
	}
	return interval
}

// Stop stops the poller, abandoning any pass in progress.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.cancel()
	})
	p.wg.Wait()
}
