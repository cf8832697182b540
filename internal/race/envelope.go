package race

import (
	"encoding/json"
	"fmt"
)

// Envelope is the framing used where the transport has no event name of its own
// (WebSocket messages, Redis pub/sub payloads, the ingest endpoint).
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses an envelope and its payload.
func DecodeEnvelope(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: envelope: missing event name", ErrMalformed)
	}
	return Decode(env.Event, env.Data)
}

// Encode wraps ev in an envelope.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: string(ev.Kind()), Data: data})
}
