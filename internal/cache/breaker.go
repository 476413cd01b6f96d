package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrBreakerOpen is returned while the breaker rejects calls.
var ErrBreakerOpen = eris.New("cache: breaker open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerOptions configures a Guarded cache.
type BreakerOptions struct {
	// FailureThreshold is the number of consecutive backend errors that
	// open the breaker. Default: 5.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before one probe call
	// is let through. Default: 30s.
	ResetTimeout time.Duration
}

// Guarded wraps a Cache with a circuit breaker. While open, Get reports a
// miss and Set is skipped, so a failing backend costs nothing per request.
type Guarded struct {
	next Cache
	opts BreakerOptions

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	now      func() time.Time
}

// WithBreaker wraps next.
func WithBreaker(next Cache, opts BreakerOptions) *Guarded {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 30 * time.Second
	}
	return &Guarded{next: next, opts: opts, now: time.Now}
}

// Get implements Cache. An open breaker returns ErrBreakerOpen as a miss.
func (g *Guarded) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !g.allow() {
		return nil, false, ErrBreakerOpen
	}
	b, ok, err := g.next.Get(ctx, key)
	g.record(err)
	return b, ok, err
}

// Set implements Cache.
func (g *Guarded) Set(ctx context.Context, key string, value []byte) error {
	if !g.allow() {
		return ErrBreakerOpen
	}
	err := g.next.Set(ctx, key, value)
	g.record(err)
	return err
}

// Close implements Cache.
func (g *Guarded) Close() error { return g.next.Close() }

func (g *Guarded) allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case breakerOpen:
		if g.now().Sub(g.openedAt) < g.opts.ResetTimeout {
			return false
		}
		g.transition(breakerHalfOpen)
		return true
	case breakerHalfOpen:
		// One probe at a time.
		return false
	}
	return true
}

func (g *Guarded) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err == nil {
		g.failures = 0
		if g.state != breakerClosed {
			g.transition(breakerClosed)
		}
		return
	}
	g.failures++
	if g.state == breakerHalfOpen || g.failures >= g.opts.FailureThreshold {
		g.openedAt = g.now()
		g.transition(breakerOpen)
	}
}

// transition must be called with mu held.
func (g *Guarded) transition(to breakerState) {
	if g.state == to {
		return
	}
	zap.L().Warn("cache: breaker state change",
		zap.Stringer("from", g.state),
		zap.Stringer("to", to),
		zap.Int("failures", g.failures),
	)
	g.state = to
}
