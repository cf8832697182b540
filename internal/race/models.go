package race

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"backend-racesync/internal/shared/geo"
)

// Phase is the server's discrete motion state for an agent.
type Phase string

const (
	PhaseWalking       Phase = "WALKING"
	PhaseWaitingBus    Phase = "WAITING_BUS"
	PhaseRidingBus     Phase = "RIDING_BUS"
	PhaseWaitingSubway Phase = "WAITING_SUBWAY"
	PhaseRidingSubway  Phase = "RIDING_SUBWAY"
	PhaseFinished      Phase = "FINISHED"
	PhaseArrived       Phase = "ARRIVED"
)

// Terminal reports whether an agent in this phase will not move again.
func (p Phase) Terminal() bool {
	return p == PhaseFinished || p == PhaseArrived
}

// AgentID identifies a racer. The race engine sends bot ids as numbers, so decoding
// accepts both JSON numbers and strings.
type AgentID string

func (id *AgentID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = AgentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("agent id: %w", err)
	}
	*id = AgentID(n.String())
	return nil
}

// BotAgentID is the agent id used for a bot with the given numeric id.
func BotAgentID(botID int64) AgentID {
	return AgentID(strconv.FormatInt(botID, 10))
}

// UserAgentID is the agent id used for the human participant.
func UserAgentID(userID int64) AgentID {
	return AgentID("user-" + strconv.FormatInt(userID, 10))
}

// Vehicle describes the bus or train an agent is riding or waiting for.
type Vehicle struct {
	Type    string `json:"type"`
	Route   string `json:"route"`
	VehID   string `json:"vehId,omitempty"`
	TrainNo string `json:"trainNo,omitempty"`
}

// AgentStatus is the full authoritative state of one agent. Every status event replaces the
// previous value wholesale.
type AgentStatus struct {
	AgentID         AgentID    `json:"bot_id"`
	RouteID         int64      `json:"route_id"`
	Phase           Phase      `json:"status"`
	Position        *geo.Point `json:"position,omitempty"`
	NextUpdateIn    float64    `json:"next_update_in"`
	LegIndex        int        `json:"leg_index"`
	ProgressPercent *float64   `json:"progress_percent,omitempty"`
	Vehicle         *Vehicle   `json:"vehicle,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

// NextUpdate is the server-declared wait until the next status as a duration.
func (s AgentStatus) NextUpdate() time.Duration {
	return time.Duration(s.NextUpdateIn * float64(time.Second))
}

// Participant identifies who finished in a participant_finished event.
type Participant struct {
	RouteID int64  `json:"route_id"`
	Type    string `json:"type"`
	BotID   *int64 `json:"bot_id,omitempty"`
	UserID  *int64 `json:"user_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

const (
	ParticipantBot  = "BOT"
	ParticipantUser = "USER"
)

// AgentID resolves the participant to the agent id used by status events.
func (p Participant) AgentID() AgentID {
	switch {
	case p.BotID != nil:
		return BotAgentID(*p.BotID)
	case p.UserID != nil:
		return UserAgentID(*p.UserID)
	default:
		return AgentID("route-" + strconv.FormatInt(p.RouteID, 10))
	}
}
