// Package session binds one race's feed, paths and per-agent drivers together for a
// screen that renders the race.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"backend-racesync/internal/feed"
	"backend-racesync/internal/motion"
	"backend-racesync/internal/race"
	"backend-racesync/internal/route"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"
)

var ErrStarted = errors.New("session: already started")

// Entry is one participant and the leg it travels.
type Entry struct {
	Participant race.Participant
	Leg         route.Leg
}

// Callbacks receive the one-time race notifications. Either may be nil. They run on the
// session's pump goroutine and should return quickly. Calling Close from a callback is
// allowed.
type Callbacks struct {
	OnFinished  func(race.Finished)
	OnRaceEnded func(race.Ended)
}

type Options struct {
	Motion    motion.Options
	Tick      time.Duration
	Callbacks Callbacks
}

type Session struct {
	mgr  *feed.Manager
	opts Options

	paths    map[race.AgentID]route.Path
	features *geojson.FeatureCollection
	drivers  map[race.AgentID]*motion.Driver

	mu       sync.Mutex
	sub      *feed.Subscription
	cancel   context.CancelFunc
	group    *errgroup.Group
	pumpDone chan struct{}
	closed   bool

	// notifying is set while a callback runs on the pump.
	notifying atomic.Bool
}

// New merges every participant's leg and prepares a driver for each bot. Nothing runs
// until Start.
func New(mgr *feed.Manager, entries []Entry, opts Options) (*Session, error) {
	s := &Session{
		mgr:     mgr,
		opts:    opts,
		paths:   make(map[race.AgentID]route.Path, len(entries)),
		drivers: map[race.AgentID]*motion.Driver{},
	}

	paths := make([]route.Path, 0, len(entries))
	props := make([]route.Properties, 0, len(entries))
	for _, e := range entries {
		id := e.Participant.AgentID()
		path := route.MergeLeg(e.Leg)
		s.paths[id] = path
		paths = append(paths, path)
		props = append(props, route.Properties{
			"agent_id":     string(id),
			"route_id":     e.Participant.RouteID,
			"route_leg_id": e.Leg.ID,
			"type":         e.Participant.Type,
			"name":         e.Participant.Name,
		})

		if e.Participant.Type != race.ParticipantBot {
			continue
		}
		ip, err := motion.NewInterpolator(path, opts.Motion)
		if err != nil {
			return nil, err
		}
		if !path.Drawable() {
			log.Printf("session: agent %s has no drawable path (%d points)", id, path.Len())
		}
		s.drivers[id] = motion.NewDriver(ip, opts.Tick)
	}
	s.features = route.FormatCollection(paths, props)
	return s, nil
}

// Start subscribes to raceID and starts the drivers and the event pump.
func (s *Session) Start(ctx context.Context, raceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil || s.closed {
		return ErrStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub, err := s.mgr.Subscribe(runCtx, raceID)
	if err != nil {
		cancel()
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)
	for _, d := range s.drivers {
		d := d
		g.Go(func() error { return d.Run(gctx) })
	}
	done := make(chan struct{})
	go s.pump(gctx, sub, done)

	s.sub, s.cancel, s.group, s.pumpDone = sub, cancel, g, done
	return nil
}

func (s *Session) pump(ctx context.Context, sub *feed.Subscription, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			s.dispatch(ev)
		}
	}
}

func (s *Session) dispatch(ev race.Event) {
	switch e := ev.(type) {
	case race.StatusUpdate:
		if d, ok := s.drivers[e.AgentID]; ok {
			d.Update(e.AgentStatus)
		}
	case race.Finished:
		if cb := s.opts.Callbacks.OnFinished; cb != nil {
			s.notify(func() { cb(e) })
		}
	case race.Ended:
		if cb := s.opts.Callbacks.OnRaceEnded; cb != nil {
			s.notify(func() { cb(e) })
		}
	}
}

func (s *Session) notify(fn func()) {
	s.notifying.Store(true)
	defer s.notifying.Store(false)
	fn()
}

// Positions returns the current displayed position of every agent that has one.
func (s *Session) Positions() map[race.AgentID]motion.Position {
	out := make(map[race.AgentID]motion.Position, len(s.drivers))
	for id, d := range s.drivers {
		if pos, ok := d.Position(); ok {
			out[id] = pos
		}
	}
	return out
}

// Path returns the merged path for one agent.
func (s *Session) Path(id race.AgentID) (route.Path, bool) {
	p, ok := s.paths[id]
	return p, ok
}

// Paths is every participant's path as GeoJSON, in the order given to New.
func (s *Session) Paths() *geojson.FeatureCollection { return s.features }

// Statuses is the feed's last known status of every agent.
func (s *Session) Statuses() map[race.AgentID]race.AgentStatus {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return map[race.AgentID]race.AgentStatus{}
	}
	return sub.Statuses()
}

// State is the feed connection state; Disconnected before Start.
func (s *Session) State() feed.State {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return feed.Disconnected
	}
	return sub.State()
}

// Close unsubscribes and waits for the pump and every driver to stop. It is safe to call
// more than once. From inside a callback it does not wait for the pump, which stops as
// soon as the callback returns.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub, cancel, g, pumpDone := s.sub, s.cancel, s.group, s.pumpDone
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	cancel()
	s.mgr.Unsubscribe(sub)
	err := g.Wait()
	if !s.notifying.Load() {
		<-pumpDone
	}
	return err
}
