package motion

import (
	"context"
	"sync"
	"time"

	"backend-racesync/internal/race"
)

// DefaultTick is roughly one display frame.
const DefaultTick = 16 * time.Millisecond

type pendingFix struct {
	status race.AgentStatus
	at     time.Time
}

// Driver runs one Interpolator on its own goroutine. Fixes are queued without blocking
// the caller and applied in arrival order; the sampled position is published on every
// tick for any number of readers.
type Driver struct {
	ip   *Interpolator
	tick time.Duration
	now  func() time.Time

	qmu     sync.Mutex
	pending []pendingFix
	wake    chan struct{}

	mu    sync.RWMutex
	pos   Position
	ok    bool
	state State
}

// NewDriver wraps ip. A non-positive tick uses DefaultTick.
func NewDriver(ip *Interpolator, tick time.Duration) *Driver {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Driver{
		ip:   ip,
		tick: tick,
		now:  ip.opts.Now,
		wake: make(chan struct{}, 1),
	}
}

// Update queues a fix stamped with the time it was received.
func (d *Driver) Update(st race.AgentStatus) {
	d.qmu.Lock()
	d.pending = append(d.pending, pendingFix{status: st, at: d.now()})
	d.qmu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Position is the most recently sampled position. ok is false until the first fix.
func (d *Driver) Position() (Position, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pos, d.ok
}

// State is the interpolator state as of the last sample.
func (d *Driver) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Run samples until ctx is done. It always returns nil so a cancelled session does not
// look like a failure to an errgroup.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.wake:
			d.applyPending()
		case <-ticker.C:
		}
		d.sample()
	}
}

func (d *Driver) applyPending() {
	d.qmu.Lock()
	batch := d.pending
	d.pending = nil
	d.qmu.Unlock()
	for _, f := range batch {
		d.ip.Update(f.status, f.at)
	}
}

func (d *Driver) sample() {
	pos, ok := d.ip.Position(d.now())
	d.mu.Lock()
	d.pos, d.ok, d.state = pos, ok, d.ip.State()
	d.mu.Unlock()
}
