package motion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestDriverPublishesSampledPosition(t *testing.T) {
	clock := &fakeClock{now: t0}
	opts := DefaultOptions()
	opts.Now = clock.Now
	ip, err := NewInterpolator(equator(), opts)
	require.NoError(t, err)

	d := NewDriver(ip, time.Millisecond)
	_, ok := d.Position()
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Update(fix(0.4, 5))
	d.Update(fix(1.2, 4))
	require.Eventually(t, func() bool { return d.State() == Interpolating }, time.Second, time.Millisecond)

	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		pos, ok := d.Position()
		return ok && pos.Point.Lon > 0.79 && pos.Point.Lon < 0.81
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("driver did not stop")
	}
}

func TestNewDriverDefaultsTick(t *testing.T) {
	ip := newEquator(t)
	assert.Equal(t, DefaultTick, NewDriver(ip, 0).tick)
}
