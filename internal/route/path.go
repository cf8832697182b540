package route

import (
	"math"
	"sort"

	"backend-racesync/internal/shared/geo"
)

// Path is a merged, traversable polyline with arc-length bookkeeping. The zero value is a
// path that was never merged; use Merge or NewPath to build one.
type Path struct {
	points []geo.Point
	merged bool
	plane  geo.Plane
	xy     [][2]float64
	cum    []float64
}

// Snap is the result of projecting a point onto a path.
type Snap struct {
	Point geo.Point
	// Distance is the arc length in meters from the start of the path to Point.
	Distance float64
	// Offset is the straight-line distance in meters from the projected point to the input.
	Offset float64
}

// NewPath wraps already-ordered points as a path.
func NewPath(points []geo.Point) Path {
	p := Path{points: append([]geo.Point(nil), points...), merged: true}
	if len(p.points) < 2 {
		return p
	}
	p.plane = geo.NewPlane(p.points[0])
	p.xy = make([][2]float64, len(p.points))
	p.cum = make([]float64, len(p.points))
	for i, pt := range p.points {
		x, y := p.plane.Project(pt)
		p.xy[i] = [2]float64{x, y}
		if i > 0 {
			p.cum[i] = p.cum[i-1] + math.Hypot(x-p.xy[i-1][0], y-p.xy[i-1][1])
		}
	}
	return p
}

// Merged reports whether the path came from Merge or NewPath.
func (p Path) Merged() bool { return p.merged }

// Drawable reports whether the path has two or more distinct points to render or
// interpolate over.
func (p Path) Drawable() bool {
	return len(p.points) >= 2 && p.cum[len(p.cum)-1] > 0
}

// Len is the number of points.
func (p Path) Len() int { return len(p.points) }

// Points returns a copy of the path's points.
func (p Path) Points() []geo.Point {
	return append([]geo.Point(nil), p.points...)
}

// Length is the total arc length in meters.
func (p Path) Length() float64 {
	if !p.Drawable() {
		return 0
	}
	return p.cum[len(p.cum)-1]
}

// Project finds the closest point on the polyline to pt. On ties the earliest segment
// wins. ok is false for a path that is not drawable.
func (p Path) Project(pt geo.Point) (snap Snap, ok bool) {
	if !p.Drawable() {
		return Snap{}, false
	}
	px, py := p.plane.Project(pt)
	best := math.Inf(1)
	for i := 0; i < len(p.xy)-1; i++ {
		ax, ay := p.xy[i][0], p.xy[i][1]
		dx, dy := p.xy[i+1][0]-ax, p.xy[i+1][1]-ay
		t := 0.0
		if l2 := dx*dx + dy*dy; l2 > 0 {
			t = ((px-ax)*dx + (py-ay)*dy) / l2
			t = math.Max(0, math.Min(1, t))
		}
		cx, cy := ax+t*dx, ay+t*dy
		d := math.Hypot(px-cx, py-cy)
		if d < best {
			best = d
			snap.Distance = p.cum[i] + t*(p.cum[i+1]-p.cum[i])
			snap.Offset = d
		}
	}
	snap.Point = p.PointAt(snap.Distance)
	return snap, true
}

// PointAt returns the point at arc length d meters, clamped to the path's ends.
func (p Path) PointAt(d float64) geo.Point {
	switch len(p.points) {
	case 0:
		return geo.Point{}
	case 1:
		return p.points[0]
	}
	total := p.Length()
	if d <= 0 {
		return p.points[0]
	}
	if d >= total {
		return p.points[len(p.points)-1]
	}
	// First vertex strictly past d; the segment we want ends there.
	j := sort.Search(len(p.cum), func(i int) bool { return p.cum[i] > d })
	i := j - 1
	segLen := p.cum[j] - p.cum[i]
	if segLen == 0 {
		return p.points[i]
	}
	t := (d - p.cum[i]) / segLen
	if t == 0 {
		return p.points[i]
	}
	x := p.xy[i][0] + t*(p.xy[j][0]-p.xy[i][0])
	y := p.xy[i][1] + t*(p.xy[j][1]-p.xy[i][1])
	return p.plane.Unproject(x, y)
}
