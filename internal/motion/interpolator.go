// Package motion turns sparse authoritative fixes into continuous movement along a
// merged route path.
//
// Each fix is projected onto the path (nearest point on the polyline) to become an anchor.
// The displayed position then travels along the path's arc length from wherever it is
// now to the new anchor, timed to arrive when the server says the next fix is due.
package motion

import (
	"errors"
	"math"
	"time"

	"backend-racesync/internal/race"
	"backend-racesync/internal/route"
	"backend-racesync/internal/shared/geo"
)

// ErrPathNotMerged is returned for a zero route.Path, i.e. one that never went through
// route.Merge.
var ErrPathNotMerged = errors.New("motion: path was never merged")

// State is the interpolator's lifecycle.
type State int

const (
	NoFix State = iota
	SingleFix
	Interpolating
	Frozen
)

func (s State) String() string {
	switch s {
	case SingleFix:
		return "single-fix"
	case Interpolating:
		return "interpolating"
	case Frozen:
		return "frozen"
	default:
		return "no-fix"
	}
}

const (
	// bearingLookahead is how far along the path the heading is sampled, in meters.
	bearingLookahead = 10.0
	// OffRouteMeters is how far a fix may sit from its projection before the agent is
	// reported off route.
	OffRouteMeters = 50.0
)

// Options bound the pace derived from the server's next-update hint.
type Options struct {
	// DefaultInterval replaces a zero or negative hint.
	DefaultInterval time.Duration
	MinInterval     time.Duration
	MaxInterval     time.Duration
	// Now is the clock used by Driver. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions are 5s for a missing hint, clamped to [1s, 60s].
func DefaultOptions() Options {
	return Options{
		DefaultInterval: 5 * time.Second,
		MinInterval:     time.Second,
		MaxInterval:     time.Minute,
		Now:             time.Now,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.DefaultInterval <= 0 {
		o.DefaultInterval = def.DefaultInterval
	}
	if o.MinInterval <= 0 {
		o.MinInterval = def.MinInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = def.MaxInterval
	}
	if o.MaxInterval < o.MinInterval {
		o.MaxInterval = o.MinInterval
	}
	if o.Now == nil {
		o.Now = def.Now
	}
	return o
}

// Interval turns a next-update hint into the transition duration.
func (o Options) Interval(hint time.Duration) time.Duration {
	if hint <= 0 {
		hint = o.DefaultInterval
	}
	if hint < o.MinInterval {
		return o.MinInterval
	}
	if hint > o.MaxInterval {
		return o.MaxInterval
	}
	return hint
}

// Position is what the renderer draws for one agent.
type Position struct {
	Point geo.Point
	// Bearing is the heading in degrees, 0 = north.
	Bearing float64
	// Progress is how far through the current transition the agent is, 0 to 1.
	Progress float64
	// Distance is the arc length along the path in meters.
	Distance float64
	Phase    race.Phase
	// OffRoute is set when the latest fix was more than OffRouteMeters from the path.
	OffRoute bool
}

// Interpolator is owned by a single goroutine; it is not safe for concurrent use.
type Interpolator struct {
	path route.Path
	opts Options

	state    State
	from, to float64
	start    time.Time
	duration time.Duration
	phase    race.Phase
	offRoute bool
}

// NewInterpolator prepares an interpolator for one agent over path. A path that is not
// drawable is accepted; the interpolator then never leaves NoFix.
func NewInterpolator(path route.Path, opts Options) (*Interpolator, error) {
	if !path.Merged() {
		return nil, ErrPathNotMerged
	}
	return &Interpolator{path: path, opts: opts.withDefaults()}, nil
}

// State is the current lifecycle state.
func (ip *Interpolator) State() State { return ip.state }

// Update applies a fix received at time at. Fixes without a position are ignored, as is
// everything after a terminal phase.
func (ip *Interpolator) Update(st race.AgentStatus, at time.Time) State {
	if ip.state == Frozen || st.Position == nil {
		return ip.state
	}
	snap, ok := ip.path.Project(*st.Position)
	if !ok {
		return ip.state
	}
	ip.phase = st.Phase
	ip.offRoute = !geo.WithinRadius(*st.Position, snap.Point, OffRouteMeters)

	if st.Phase.Terminal() {
		ip.from, ip.to = snap.Distance, snap.Distance
		ip.start, ip.duration = at, 0
		ip.state = Frozen
		return ip.state
	}

	if ip.state == NoFix {
		ip.from, ip.to = snap.Distance, snap.Distance
		ip.start, ip.duration = at, 0
		ip.state = SingleFix
		return ip.state
	}

	// Re-anchor from what is on screen now, never from the previous anchor.
	ip.from = ip.distanceAt(at)
	ip.to = snap.Distance
	ip.start = at
	ip.duration = ip.opts.Interval(st.NextUpdate())
	ip.state = Interpolating
	return ip.state
}

// Position samples the displayed position at time at. ok is false in NoFix.
func (ip *Interpolator) Position(at time.Time) (pos Position, ok bool) {
	if ip.state == NoFix {
		return Position{}, false
	}
	d := ip.distanceAt(at)
	return Position{
		Point:    ip.path.PointAt(d),
		Bearing:  ip.bearingAt(d),
		Progress: ip.progress(at),
		Distance: d,
		Phase:    ip.phase,
		OffRoute: ip.offRoute,
	}, true
}

func (ip *Interpolator) progress(at time.Time) float64 {
	if ip.state != Interpolating || ip.duration <= 0 {
		return 1
	}
	frac := float64(at.Sub(ip.start)) / float64(ip.duration)
	return math.Max(0, math.Min(1, frac))
}

func (ip *Interpolator) distanceAt(at time.Time) float64 {
	return ip.from + (ip.to-ip.from)*ip.progress(at)
}

// bearingAt looks a little further along the direction of travel; at the far end of
// the path it looks back instead.
func (ip *Interpolator) bearingAt(d float64) float64 {
	dir := 1.0
	if ip.to < ip.from {
		dir = -1
	}
	a := ip.path.PointAt(d)
	b := ip.path.PointAt(d + dir*bearingLookahead)
	if a == b {
		b = a
		a = ip.path.PointAt(d - dir*bearingLookahead)
	}
	if a == b {
		return 0
	}
	return geo.Bearing(a, b)
}
