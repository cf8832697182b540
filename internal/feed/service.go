package feed

import (
	"context"
	"log"
	"sync"

	"backend-racesync/internal/race"

	"github.com/google/uuid"
)

// Manager keeps at most one live subscription per race id.
type Manager struct {
	transport Transport
	buffer    int

	mu     sync.Mutex
	active map[string]*Subscription
}

// NewManager builds a manager. A nil transport is derived from cfg.
func NewManager(cfg Config, transport Transport) *Manager {
	if transport == nil {
		transport = NewTransport(cfg)
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Manager{
		transport: transport,
		buffer:    buffer,
		active:    map[string]*Subscription{},
	}
}

// Subscribe opens a stream for raceID. An empty raceID yields an idle subscription that
// stays Disconnected and never delivers anything; that is the normal state before a race
// has an id.
func (m *Manager) Subscribe(ctx context.Context, raceID string) (*Subscription, error) {
	sub := newSubscription(raceID, m.buffer)
	if raceID == "" {
		close(sub.done)
		sub.markLost()
		return sub, nil
	}

	m.mu.Lock()
	if _, ok := m.active[raceID]; ok {
		m.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	m.active[raceID] = sub
	m.mu.Unlock()

	sub.release = func() {
		m.mu.Lock()
		if m.active[raceID] == sub {
			delete(m.active, raceID)
		}
		m.mu.Unlock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub.cancel = cancel
	sub.state = Connecting
	go sub.run(runCtx, m.transport)
	return sub, nil
}

// Unsubscribe tears the subscription down. It is safe to call repeatedly.
func (m *Manager) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.Close()
	}
}

// Close unsubscribes every live subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.active))
	for _, s := range m.active {
		subs = append(subs, s)
	}
	m.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

// Subscription is the handle for one race stream. Its reader goroutine is the only writer
// of the status map and connection state; everything else reads snapshots.
type Subscription struct {
	ID     string
	RaceID string

	events  chan race.Event
	cancel  context.CancelFunc
	done    chan struct{}
	lost    chan struct{}
	release func()

	closeOnce sync.Once
	lostOnce  sync.Once

	mu       sync.RWMutex
	state    State
	stream   Stream
	statuses map[race.AgentID]race.AgentStatus
	finished map[race.AgentID]race.Finished
	ended    bool
}

func newSubscription(raceID string, buffer int) *Subscription {
	return &Subscription{
		ID:       uuid.NewString(),
		RaceID:   raceID,
		events:   make(chan race.Event, buffer),
		done:     make(chan struct{}),
		lost:     make(chan struct{}),
		statuses: map[race.AgentID]race.AgentStatus{},
		finished: map[race.AgentID]race.Finished{},
	}
}

// Events delivers status, boarding, alighting, finish, race-ended and server error
// events. It is closed by Close.
func (s *Subscription) Events() <-chan race.Event { return s.events }

// Disconnected is closed once the stream is gone, whether it failed or was closed.
func (s *Subscription) Disconnected() <-chan struct{} { return s.lost }

// State is the current connection state.
func (s *Subscription) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Statuses returns a copy of the last known status of every agent.
func (s *Subscription) Statuses() map[race.AgentID]race.AgentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[race.AgentID]race.AgentStatus, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}
	return out
}

// Status returns the last known status of one agent.
func (s *Subscription) Status(id race.AgentID) (race.AgentStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[id]
	return st, ok
}

// Finished returns the finish event recorded for an agent, if any.
func (s *Subscription) Finished(id race.AgentID) (race.Finished, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.finished[id]
	return f, ok
}

// Ended reports whether the race-ended event has been seen.
func (s *Subscription) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

// Close stops the stream, waits for the reader to exit and closes Events. After Close
// returns nothing more is delivered. Repeated calls are no-ops.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.RLock()
		stream := s.stream
		s.mu.RUnlock()
		if stream != nil {
			_ = stream.Close()
		}
		<-s.done
		s.drain()
		close(s.events)
		if s.release != nil {
			s.release()
		}
	})
}

func (s *Subscription) run(ctx context.Context, transport Transport) {
	defer close(s.done)
	defer s.markLost()
	// A dropped stream frees the race id so the host may subscribe again.
	defer s.release()

	stream, err := transport.Open(ctx, s.RaceID)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("feed: race %s: open failed: %v", s.RaceID, err)
		}
		return
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		_ = stream.Close()
		return
	}
	s.stream = stream
	s.state = Connected
	s.mu.Unlock()
	defer stream.Close()

	for {
		frame, err := stream.Next()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("feed: race %s: stream lost: %v", s.RaceID, err)
			}
			return
		}
		if frame.Event == "" {
			log.Printf("feed: race %s: dropping frame without event name", s.RaceID)
			continue
		}
		ev, err := race.Decode(frame.Event, frame.Data)
		if err != nil {
			log.Printf("feed: race %s: dropping frame: %v", s.RaceID, err)
			continue
		}
		s.apply(ctx, ev)
	}
}

func (s *Subscription) apply(ctx context.Context, ev race.Event) {
	switch e := ev.(type) {
	case race.StatusUpdate:
		s.mu.Lock()
		if s.ended {
			s.mu.Unlock()
			return
		}
		s.statuses[e.AgentID] = e.AgentStatus
		s.mu.Unlock()
		s.offer(ctx, e)
	case race.Boarding, race.Alighting:
		if s.Ended() {
			return
		}
		s.offer(ctx, e)
	case race.Finished:
		id := e.AgentID()
		s.mu.Lock()
		if _, dup := s.finished[id]; dup {
			s.mu.Unlock()
			return
		}
		s.finished[id] = e
		s.mu.Unlock()
		s.deliver(ctx, e)
	case race.Ended:
		s.mu.Lock()
		if s.ended {
			s.mu.Unlock()
			return
		}
		s.ended = true
		s.mu.Unlock()
		s.deliver(ctx, e)
	case race.ServerError:
		log.Printf("feed: race %s: server error %s: %s", s.RaceID, e.Code, e.Message)
		s.offer(ctx, e)
	}
}

// offer queues a transient event without waiting on the consumer. When the buffer is
// full, an older status of the same agent is evicted first, then the oldest transient
// event, so the latest status of every agent reaches the consumer.
func (s *Subscription) offer(ctx context.Context, ev race.Event) {
	select {
	case s.events <- ev:
		return
	default:
	}

	// The reader goroutine is the only sender, so re-queueing what was taken cannot block.
	queued := make([]race.Event, 0, cap(s.events))
take:
	for {
		select {
		case q := <-s.events:
			queued = append(queued, q)
		default:
			break take
		}
	}
	if len(queued) == cap(s.events) {
		queued = evict(queued, ev)
	}
	for _, q := range queued {
		s.events <- q
	}
	s.deliver(ctx, ev)
}

func evict(queued []race.Event, ev race.Event) []race.Event {
	victim := -1
	if st, ok := ev.(race.StatusUpdate); ok {
		for i, q := range queued {
			if qs, ok := q.(race.StatusUpdate); ok && qs.AgentID == st.AgentID {
				victim = i
				break
			}
		}
	}
	if victim < 0 {
		for i, q := range queued {
			if transient(q) {
				victim = i
				break
			}
		}
	}
	if victim < 0 {
		return queued
	}
	return append(queued[:victim], queued[victim+1:]...)
}

func transient(ev race.Event) bool {
	switch ev.(type) {
	case race.Finished, race.Ended:
		return false
	}
	return true
}

// deliver blocks until the consumer takes the event or the subscription is closed.
func (s *Subscription) deliver(ctx context.Context, ev race.Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// drain discards buffered events so nothing is observed after Close.
func (s *Subscription) drain() {
	for {
		select {
		case <-s.events:
		default:
			return
		}
	}
}

func (s *Subscription) markLost() {
	s.lostOnce.Do(func() {
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		close(s.lost)
	})
}
