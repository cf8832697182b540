package feed

import (
	"context"
	"errors"
)

// State is the lifecycle of one subscription's stream.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrAlreadySubscribed is returned when a race already has a live subscription on the
// same manager. Unsubscribe first.
var ErrAlreadySubscribed = errors.New("feed: race already subscribed")

// Frame is one undecoded event as delivered by a transport.
type Frame struct {
	Event string
	Data  []byte
}

// Stream yields frames until it fails or is closed. Close must be safe to call more
// than once and must unblock a pending Next.
type Stream interface {
	Next() (Frame, error)
	Close() error
}

// Transport opens a server-push stream scoped to one race.
type Transport interface {
	Open(ctx context.Context, raceID string) (Stream, error)
}

const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Config selects the endpoint and transport. It is passed in explicitly by the host.
type Config struct {
	BaseURL   string
	Transport string
	// Buffer is the capacity of each subscription's event channel.
	Buffer int
}

const defaultBuffer = 64
