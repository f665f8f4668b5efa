// Package debounce suppresses rapid successive reconciliation attempts for
// the same entity.
//
// A Guard remembers the time of the last admitted call per key. Calls that
// arrive within the cooldown window are rejected without refreshing that
// timestamp, so a steady stream of updates is admitted at most once per
// window. A background sweeper evicts stale keys so the map stays bounded
// by the number of entities active within one window.
package debounce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/relance/internal/clock"
)

const (
	// DefaultCooldown is the window used when none is configured.
	DefaultCooldown = 3 * time.Second

	// DefaultSweepInterval is how often the sweeper evicts stale entries.
	DefaultSweepInterval = 10 * time.Minute
)

// Guard is a per-key cooldown gate.
//
// Thread-safety: Admit, Sweep, Len and SetCooldown are safe for concurrent
// use. Start and Stop must not race with each other.
type Guard struct {
	mu       sync.Mutex
	last     map[string]time.Time
	cooldown time.Duration
	clock    clock.Clock

	sweepEvery time.Duration
	stop       chan struct{}
	done       chan struct{}
}

// Option configures a Guard.
type Option func(*Guard)

// WithSweepInterval overrides DefaultSweepInterval. Values <= 0 are ignored.
func WithSweepInterval(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.sweepEvery = d
		}
	}
}

// New creates a Guard. A nil clock uses clock.System and a cooldown <= 0
// uses DefaultCooldown.
func New(clk clock.Clock, cooldown time.Duration, opts ...Option) *Guard {
	if clk == nil {
		clk = clock.System{}
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	g := &Guard{
		last:       make(map[string]time.Time),
		cooldown:   cooldown,
		clock:      clk,
		sweepEvery: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit reports whether a call for key may proceed.
//
// The check and the timestamp update happen under one lock: of N concurrent
// callers for the same key inside one window, exactly one is admitted.
// A rejected call leaves the stored timestamp unchanged.
func (g *Guard) Admit(key string) bool {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.last[key]; ok && now.Sub(prev) < g.cooldown {
		return false
	}
	g.last[key] = now
	return true
}

// Forget drops the entry for key so the next call is admitted.
func (g *Guard) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, key)
}

// Remaining returns how long key stays inside its cooldown window. It is
// zero when a call for key would be admitted now.
func (g *Guard) Remaining(key string) time.Duration {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	prev, ok := g.last[key]
	if !ok {
		return 0
	}
	if left := g.cooldown - now.Sub(prev); left > 0 {
		return left
	}
	return 0
}

// Cooldown returns the current window.
func (g *Guard) Cooldown() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldown
}

// SetCooldown replaces the window. Used when configuration is reloaded.
// Values <= 0 are ignored.
func (g *Guard) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldown = d
}

// Len returns the number of tracked keys.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}

// Sweep evicts entries whose last admission is at least one cooldown old
// and returns how many were removed. Evicted keys are admitted on their
// next call, exactly as they would have been had they stayed.
func (g *Guard) Sweep() int {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for key, at := range g.last {
		if now.Sub(at) >= g.cooldown {
			delete(g.last, key)
			removed++
		}
	}
	return removed
}

// Start launches the sweeper goroutine. It runs until ctx is cancelled or
// Stop is called. Calling Start on a running Guard is a no-op.
func (g *Guard) Start(ctx context.Context) {
	if g.stop != nil {
		return
	}
	g.stop = make(chan struct{})
	g.done = make(chan struct{})

	go g.sweepLoop(ctx, g.stop, g.done)
}

// Stop terminates the sweeper and waits for it to exit.
// Safe to call when the sweeper was never started.
func (g *Guard) Stop() {
	if g.stop == nil {
		return
	}
	close(g.stop)
	<-g.done
	g.stop = nil
	g.done = nil
}

func (g *Guard) sweepLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if n := g.Sweep(); n > 0 {
				slog.Debug("debounce sweep", "evicted", n, "remaining", g.Len())
			}
		}
	}
}
