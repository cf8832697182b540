package stream

import (
	"context"
	"log"
	"strings"
	"sync"

	"backend-racesync/internal/race"

	"github.com/redis/go-redis/v9"
)

// Hub fans race event envelopes out to every client watching a race. With Redis
// configured, broadcasts go through the race:{id}:events channel so every relay
// instance delivers them, this one included.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	cancel    context.CancelFunc
	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
}

type Client struct {
	RaceID string
	Send   chan []byte
}

const clientBuffer = 64

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}

	if redisClient == nil {
		close(h.ready)
		close(h.done)
		return h
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.subscribeRedis(ctx)
	return h
}

// Ready is closed once the Redis subscription is active.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

// Close stops the Redis subscription and disconnects every client, which ends their
// streams. A client registered after Close starts out disconnected.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		<-h.done

		h.mu.Lock()
		defer h.mu.Unlock()
		h.closed = true
		for raceID, clients := range h.clients {
			for client := range clients {
				close(client.Send)
			}
			delete(h.clients, raceID)
		}
	})
}

func (h *Hub) Register(raceID string) *Client {
	client := &Client{
		RaceID: raceID,
		Send:   make(chan []byte, clientBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(client.Send)
		return client
	}
	if h.clients[raceID] == nil {
		h.clients[raceID] = map[*Client]struct{}{}
	}
	h.clients[raceID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	raceClients, ok := h.clients[client.RaceID]
	if !ok {
		return
	}
	if _, ok := raceClients[client]; !ok {
		return
	}
	delete(raceClients, client)
	if len(raceClients) == 0 {
		delete(h.clients, client.RaceID)
	}
	close(client.Send)
}

// Watchers is the number of clients registered for a race.
func (h *Hub) Watchers(raceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[raceID])
}

// Publish encodes ev as an envelope and broadcasts it.
func (h *Hub) Publish(ctx context.Context, raceID string, ev race.Event) error {
	payload, err := race.Encode(ev)
	if err != nil {
		return err
	}
	return h.Broadcast(ctx, raceID, payload)
}

// Broadcast sends an encoded envelope to the race's clients. A failed Redis publish falls
// back to local delivery and is reported.
func (h *Hub) Broadcast(ctx context.Context, raceID string, payload []byte) error {
	if h.redis == nil {
		h.deliver(raceID, payload)
		return nil
	}
	if err := h.redis.Publish(ctx, redisChannel(raceID), payload).Err(); err != nil {
		log.Printf("redis publish error: %v", err)
		h.deliver(raceID, payload)
		return err
	}
	return nil
}

// deliver never blocks; a client that is behind misses the message.
func (h *Hub) deliver(raceID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[raceID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context) {
	defer close(h.done)
	pubsub := h.redis.PSubscribe(ctx, redisPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("redis subscribe error: %v", err)
		close(h.ready)
		return
	}
	close(h.ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if raceID := raceIDFromChannel(msg.Channel); raceID != "" {
				h.deliver(raceID, []byte(msg.Payload))
			}
		}
	}
}

const redisPattern = "race:*:events"

func redisChannel(raceID string) string {
	return "race:" + raceID + ":events"
}

func raceIDFromChannel(ch string) string {
	// race:{id}:events
	const prefix = "race:"
	const suffix = ":events"
	if len(ch) <= len(prefix)+len(suffix) || !strings.HasPrefix(ch, prefix) || !strings.HasSuffix(ch, suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
