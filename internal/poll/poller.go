// Package poll runs the periodic REST refresh that backs up the realtime
// connection.
package poll

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/matheus3301/carechat/internal/bus"
)

// DefaultInterval is the refresh period when none is configured.
const DefaultInterval = 10 * time.Second

// Refresher performs the three fetches of a tick. RefreshCurrent is a no-op
// when no conversation is open.
type Refresher interface {
	RefreshConversations(ctx context.Context) error
	RefreshUnread(ctx context.Context) error
	RefreshCurrent(ctx context.Context) error
}

// TickFailure is the payload of bus.PollTickFailed.
type TickFailure struct {
	Consecutive int
	Err         error
}

// Recovered is the payload of bus.PollRecovered.
type Recovered struct {
	AfterFailures int
}

// Poller calls its Refresher on a fixed interval until stopped.
type Poller struct {
	interval  time.Duration
	refresher Refresher
	bus       *bus.Bus
	logger    *zap.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	failures int
}

// New creates a stopped poller.
func New(interval time.Duration, r Refresher, b *bus.Bus, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		interval:  interval,
		refresher: r,
		bus:       b,
		logger:    logger.Named("poll"),
	}
}

// Start begins ticking. Calling Start on a running poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.failures = 0
	go p.loop(ctx, p.done)
}

// Stop cancels the schedule and any tick in flight, and returns once the
// loop has exited. Calling Stop on a stopped poller does nothing.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the poller is started.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick runs one refresh. A failed fetch does not skip the ones after it.
func (p *Poller) tick(ctx context.Context) {
	var err error
	err = multierr.Append(err, p.refresher.RefreshConversations(ctx))
	err = multierr.Append(err, p.refresher.RefreshUnread(ctx))
	err = multierr.Append(err, p.refresher.RefreshCurrent(ctx))
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	prev := p.failures
	if err != nil {
		p.failures++
	} else {
		p.failures = 0
	}
	n := p.failures
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("poll tick failed", zap.Int("consecutive", n), zap.Error(err))
		p.bus.Emit(bus.PollTickFailed, TickFailure{Consecutive: n, Err: err})
		return
	}
	if prev > 0 {
		p.logger.Info("poll recovered", zap.Int("after_failures", prev))
		p.bus.Emit(bus.PollRecovered, Recovered{AfterFailures: prev})
	}
}
