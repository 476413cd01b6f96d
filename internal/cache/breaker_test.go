package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyCache struct {
	err   error
	calls int
}

func (f *flakyCache) Get(context.Context, string) ([]byte, bool, error) {
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	return []byte("v"), true, nil
}

func (f *flakyCache) Set(context.Context, string, []byte) error {
	f.calls++
	return f.err
}

func (f *flakyCache) Close() error { return nil }

func TestGuarded_OpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	backend := &flakyCache{err: errors.New("connection refused")}
	g := WithBreaker(backend, BreakerOptions{FailureThreshold: 3, ResetTimeout: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, hit, err := g.Get(ctx, "k")
		assert.False(t, hit)
		assert.EqualError(t, err, "connection refused")
	}
	assert.Equal(t, breakerOpen, g.state)

	_, hit, err := g.Get(ctx, "k")
	assert.False(t, hit)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.ErrorIs(t, g.Set(ctx, "k", []byte("v")), ErrBreakerOpen)
	assert.Equal(t, 3, backend.calls)
}

func TestGuarded_ProbeCloses(t *testing.T) {
	ctx := context.Background()
	backend := &flakyCache{err: errors.New("timeout")}
	g := WithBreaker(backend, BreakerOptions{FailureThreshold: 1, ResetTimeout: time.Second})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	require.Error(t, g.Set(ctx, "k", nil))
	assert.Equal(t, breakerOpen, g.state)

	now = now.Add(2 * time.Second)
	backend.err = nil
	b, hit, err := g.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("v"), b)
	assert.Equal(t, breakerClosed, g.state)
	assert.Zero(t, g.failures)
}

func TestGuarded_FailedProbeReopens(t *testing.T) {
	ctx := context.Background()
	backend := &flakyCache{err: errors.New("timeout")}
	g := WithBreaker(backend, BreakerOptions{FailureThreshold: 2, ResetTimeout: time.Second})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	_, _, _ = g.Get(ctx, "k")
	_, _, _ = g.Get(ctx, "k")
	require.Equal(t, breakerOpen, g.state)

	now = now.Add(2 * time.Second)
	_, _, err := g.Get(ctx, "k")
	assert.EqualError(t, err, "timeout")
	assert.Equal(t, breakerOpen, g.state)
	assert.Equal(t, now, g.openedAt)
}

func TestGuarded_Defaults(t *testing.T) {
	g := WithBreaker(Nop{}, BreakerOptions{})
	assert.Equal(t, 5, g.opts.FailureThreshold)
	assert.Equal(t, 30*time.Second, g.opts.ResetTimeout)
	assert.Equal(t, "half-open", breakerHalfOpen.String())
	assert.NoError(t, g.Close())
}
