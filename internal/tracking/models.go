package tracking

import (
	"backend-racesync/internal/race"
	"backend-racesync/internal/route"

	"github.com/paulmach/orb/geojson"
)

// Entry is a race participant with the leg it is currently travelling.
type Entry struct {
	Participant race.Participant `json:"participant"`
	AgentID     race.AgentID     `json:"agent_id"`
	Leg         route.Leg        `json:"leg"`
	Path        *geojson.Feature `json:"path"`
}

// Accepted is the ingest response.
type Accepted struct {
	RaceID   string    `json:"race_id"`
	Event    race.Kind `json:"event"`
	Watchers int       `json:"watchers"`
}
