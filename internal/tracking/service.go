package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"backend-racesync/internal/db"
	"backend-racesync/internal/race"
	"backend-racesync/internal/route"
	"backend-racesync/internal/shared/geo"
	"backend-racesync/internal/stream"
)

// ErrStoreUnavailable means the relay runs without Postgres.
var ErrStoreUnavailable = errors.New("tracking: store unavailable")

type Service struct {
	db  db.Querier
	hub *stream.Hub
}

func NewService(db db.Querier, hub *stream.Hub) *Service {
	return &Service{db: db, hub: hub}
}

// Publish validates an event envelope from the race engine, records the one-time race
// outcomes and relays the event to everyone watching the race. Errors wrapping
// race.ErrMalformed mean the payload was rejected. Without a store, outcomes are relayed
// but not recorded.
func (s *Service) Publish(ctx context.Context, raceID string, raw []byte) (Accepted, error) {
	ev, err := race.DecodeEnvelope(raw)
	if err != nil {
		return Accepted{}, err
	}

	if s.db == nil {
		if k := ev.Kind(); k == race.KindFinished || k == race.KindEnded {
			log.Printf("tracking: race %s: %s not recorded: %v", raceID, k, ErrStoreUnavailable)
		}
		return s.relay(ctx, raceID, ev)
	}

	switch e := ev.(type) {
	case race.Finished:
		_, err = s.db.Exec(ctx, `
			INSERT INTO race_results (race_id, route_id, rank, duration_sec)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (race_id, route_id) DO NOTHING
		`, raceID, e.Participant.RouteID, e.Rank, e.Duration)
	case race.Ended:
		_, err = s.db.Exec(ctx, `
			UPDATE races SET status='ENDED', end_reason=$2, ended_at=now()
			WHERE id=$1 AND status <> 'ENDED'
		`, raceID, e.Reason)
	}
	if err != nil {
		return Accepted{}, fmt.Errorf("record %s: %w", ev.Kind(), err)
	}
	return s.relay(ctx, raceID, ev)
}

func (s *Service) relay(ctx context.Context, raceID string, ev race.Event) (Accepted, error) {
	out := Accepted{RaceID: raceID, Event: ev.Kind()}
	if s.hub != nil {
		if err := s.hub.Publish(ctx, raceID, ev); err != nil {
			return Accepted{}, err
		}
		out.Watchers = s.hub.Watchers(raceID)
	}
	return out, nil
}

// Participants loads every participant of a race with its current leg, merged and
// formatted for rendering.
func (s *Service) Participants(ctx context.Context, raceID string) ([]Entry, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.db.Query(ctx, `
		SELECT p.route_id, p.participant_type, p.bot_id, p.user_id, COALESCE(p.name,''),
		       COALESCE(p.route_leg_id,0), COALESCE(s.segment_index,-1), COALESCE(s.mode,''),
		       s.path_coordinates, COALESCE(s.pass_shape,''),
		       s.start_lat, s.start_lon, s.end_lat, s.end_lon
		FROM race_participants p
		LEFT JOIN route_segments s ON s.route_leg_id = p.route_leg_id
		WHERE p.race_id=$1
		ORDER BY p.route_id, s.segment_index
	`, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			p                  race.Participant
			legID              int64
			seg                route.Segment
			coords             []byte
			shape              string
			startLat, startLon *float64
			endLat, endLon     *float64
		)
		if err := rows.Scan(&p.RouteID, &p.Type, &p.BotID, &p.UserID, &p.Name,
			&legID, &seg.Index, &seg.Mode, &coords, &shape,
			&startLat, &startLon, &endLat, &endLon); err != nil {
			return nil, err
		}

		if n := len(entries); n == 0 || entries[n-1].Participant.RouteID != p.RouteID {
			entries = append(entries, Entry{Participant: p, AgentID: p.AgentID(), Leg: route.Leg{ID: legID}})
		}
		if seg.Index < 0 {
			continue
		}
		seg.Points, err = segmentPoints(coords, shape, startLat, startLon, endLat, endLon)
		if err != nil {
			return nil, fmt.Errorf("route %d segment %d: %w", p.RouteID, seg.Index, err)
		}
		last := &entries[len(entries)-1]
		last.Leg.Segments = append(last.Leg.Segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range entries {
		e := &entries[i]
		e.Path = route.Format(route.MergeLeg(e.Leg), route.Properties{
			"agent_id":     string(e.AgentID),
			"route_id":     e.Participant.RouteID,
			"route_leg_id": e.Leg.ID,
			"type":         e.Participant.Type,
		})
	}
	return entries, nil
}

// segmentPoints prefers stored coordinates, then the planner's pass shape, then a straight
// line between the segment's endpoints.
func segmentPoints(coords []byte, shape string, startLat, startLon, endLat, endLon *float64) ([]geo.Point, error) {
	if len(coords) > 0 && string(coords) != "null" {
		var pairs [][]float64
		if err := json.Unmarshal(coords, &pairs); err != nil {
			return nil, err
		}
		if len(pairs) > 0 {
			return route.ParseCoordinates(pairs)
		}
	}
	if shape != "" {
		return route.ParseShape(shape)
	}
	if startLat != nil && startLon != nil && endLat != nil && endLon != nil {
		seg := route.StraightSegment("",
			geo.Point{Lat: *startLat, Lon: *startLon},
			geo.Point{Lat: *endLat, Lon: *endLon})
		return seg.Points, nil
	}
	return nil, nil
}
