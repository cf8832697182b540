package route

import "backend-racesync/internal/shared/geo"

// Segment is one contiguous stretch of a leg, e.g. a walk to a station or a bus ride.
type Segment struct {
	Index  int         `json:"segment_index"`
	Mode   string      `json:"mode"`
	Points []geo.Point `json:"points"`
}

// Leg is one participant's assigned route, made of ordered segments.
type Leg struct {
	ID       int64     `json:"route_leg_id"`
	Segments []Segment `json:"segments"`
}

// Properties are attached to a formatted path so the renderer can key and style it.
type Properties map[string]any

const (
	ModeWalk   = "WALK"
	ModeBus    = "BUS"
	ModeSubway = "SUBWAY"
)
