package route

import (
	"fmt"
	"strconv"
	"strings"

	"backend-racesync/internal/shared/geo"
)

// BoundaryEpsilonMeters is how close the last point of one segment and the first point
// of the next must be to count as the same boundary point.
const BoundaryEpsilonMeters = 0.5

// Merge joins a leg's segments into one path. Where a segment starts at (or within
// BoundaryEpsilonMeters of) the point the previous one ended on, that shared point is kept
// once. Segments that do not touch are appended unchanged.
func Merge(segments []Segment) Path {
	var points []geo.Point
	for _, seg := range segments {
		if len(seg.Points) == 0 {
			continue
		}
		rest := seg.Points
		if n := len(points); n > 0 && geo.DistanceM(points[n-1], rest[0]) <= BoundaryEpsilonMeters {
			rest = rest[1:]
		}
		points = append(points, rest...)
	}
	return NewPath(points)
}

// MergeLeg is Merge over leg.Segments.
func MergeLeg(leg Leg) Path {
	return Merge(leg.Segments)
}

// StraightSegment is the fallback for a segment the upstream planner gave no shape for.
func StraightSegment(mode string, start, end geo.Point) Segment {
	return Segment{Mode: mode, Points: []geo.Point{start, end}}
}

// ParseShape reads a pass-shape string of space separated "lon,lat" pairs.
func ParseShape(shape string) ([]geo.Point, error) {
	fields := strings.Fields(shape)
	points := make([]geo.Point, 0, len(fields))
	for _, f := range fields {
		lonStr, latStr, ok := strings.Cut(f, ",")
		if !ok {
			return nil, fmt.Errorf("shape coordinate %q: missing comma", f)
		}
		lon, err := strconv.ParseFloat(lonStr, 64)
		if err != nil {
			return nil, fmt.Errorf("shape coordinate %q: %w", f, err)
		}
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			return nil, fmt.Errorf("shape coordinate %q: %w", f, err)
		}
		points = append(points, geo.Point{Lat: lat, Lon: lon})
	}
	return points, nil
}

// ParseCoordinates reads stored path coordinates, a list of [lon, lat] pairs.
func ParseCoordinates(pairs [][]float64) ([]geo.Point, error) {
	points := make([]geo.Point, 0, len(pairs))
	for i, pair := range pairs {
		if len(pair) < 2 {
			return nil, fmt.Errorf("coordinate %d: want [lon, lat], got %v", i, pair)
		}
		points = append(points, geo.Point{Lat: pair[1], Lon: pair[0]})
	}
	return points, nil
}
