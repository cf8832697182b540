package race

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind is the event name on the wire.
type Kind string

const (
	KindConnected Kind = "connected"
	KindStatus    Kind = "bot_status_update"
	KindBoarding  Kind = "bot_boarding"
	KindAlighting Kind = "bot_alighting"
	KindFinished  Kind = "participant_finished"
	KindEnded     Kind = "route_ended"
	KindHeartbeat Kind = "heartbeat"
	KindError     Kind = "error"
)

// ErrMalformed wraps every payload decoding failure.
var ErrMalformed = errors.New("malformed race event")

// Event is one decoded server push. The concrete type is one of the structs below.
type Event interface {
	Kind() Kind
	isEvent()
}

// StatusUpdate carries an agent's full authoritative status.
type StatusUpdate struct {
	AgentStatus
}

// Boarding is sent when a bot gets on a bus or train.
type Boarding struct {
	AgentID     AgentID   `json:"bot_id"`
	RouteID     int64     `json:"route_id"`
	StationName string    `json:"station_name"`
	Vehicle     *Vehicle  `json:"vehicle,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Alighting is sent when a bot gets off.
type Alighting struct {
	AgentID     AgentID   `json:"bot_id"`
	RouteID     int64     `json:"route_id"`
	StationName string    `json:"station_name"`
	NextAction  string    `json:"next_action,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Finished is sent once per participant reaching the destination.
type Finished struct {
	Participant Participant `json:"participant"`
	Rank        int         `json:"rank"`
	// Duration is the elapsed race time in seconds.
	Duration  float64   `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentID is the finishing agent.
func (f Finished) AgentID() AgentID { return f.Participant.AgentID() }

// Elapsed is Duration as a time.Duration.
func (f Finished) Elapsed() time.Duration {
	return time.Duration(f.Duration * float64(time.Second))
}

// Ended closes the race. Reason is one of all_finished, canceled, timeout.
type Ended struct {
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Connected is the server's greeting after the stream opens.
type Connected struct {
	Message string `json:"message,omitempty"`
}

// Heartbeat keeps idle streams open.
type Heartbeat struct {
	Timestamp time.Time `json:"timestamp"`
}

// ServerError is an error reported in-band by the race engine.
type ServerError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
}

// Unknown is any event kind this client does not understand.
type Unknown struct {
	Name string
}

func (StatusUpdate) Kind() Kind { return KindStatus }
func (Boarding) Kind() Kind     { return KindBoarding }
func (Alighting) Kind() Kind    { return KindAlighting }
func (Finished) Kind() Kind     { return KindFinished }
func (Ended) Kind() Kind        { return KindEnded }
func (Connected) Kind() Kind    { return KindConnected }
func (Heartbeat) Kind() Kind    { return KindHeartbeat }
func (ServerError) Kind() Kind  { return KindError }
func (u Unknown) Kind() Kind    { return Kind(u.Name) }

func (StatusUpdate) isEvent() {}
func (Boarding) isEvent()     {}
func (Alighting) isEvent()    {}
func (Finished) isEvent()     {}
func (Ended) isEvent()        {}
func (Connected) isEvent()    {}
func (Heartbeat) isEvent()    {}
func (ServerError) isEvent()  {}
func (Unknown) isEvent()      {}

// Decode turns one frame into an Event. Unrecognized kinds decode to Unknown without error.
func Decode(kind string, data []byte) (Event, error) {
	switch Kind(kind) {
	case KindStatus:
		var ev StatusUpdate
		if err := unmarshal(kind, data, &ev.AgentStatus); err != nil {
			return nil, err
		}
		if ev.AgentID == "" {
			return nil, fmt.Errorf("%w: %s: missing bot_id", ErrMalformed, kind)
		}
		return ev, nil
	case KindBoarding:
		var ev Boarding
		if err := unmarshal(kind, data, &ev); err != nil {
			return nil, err
		}
		if ev.AgentID == "" {
			return nil, fmt.Errorf("%w: %s: missing bot_id", ErrMalformed, kind)
		}
		return ev, nil
	case KindAlighting:
		var ev Alighting
		if err := unmarshal(kind, data, &ev); err != nil {
			return nil, err
		}
		if ev.AgentID == "" {
			return nil, fmt.Errorf("%w: %s: missing bot_id", ErrMalformed, kind)
		}
		return ev, nil
	case KindFinished:
		var ev Finished
		if err := unmarshal(kind, data, &ev); err != nil {
			return nil, err
		}
		if ev.Participant.BotID == nil && ev.Participant.UserID == nil && ev.Participant.RouteID == 0 {
			return nil, fmt.Errorf("%w: %s: participant has no id", ErrMalformed, kind)
		}
		return ev, nil
	case KindEnded:
		var ev Ended
		if err := unmarshalOptional(kind, data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindConnected:
		var ev Connected
		if err := unmarshalOptional(kind, data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindHeartbeat:
		var ev Heartbeat
		if err := unmarshalOptional(kind, data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindError:
		var ev ServerError
		if err := unmarshal(kind, data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return Unknown{Name: kind}, nil
	}
}

func unmarshal(kind string, data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %s: empty payload", ErrMalformed, kind)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	return nil
}

// unmarshalOptional accepts events whose payload carries nothing the client needs.
func unmarshalOptional(kind string, data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return unmarshal(kind, data, v)
}
