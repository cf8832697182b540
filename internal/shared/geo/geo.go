package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// HaversineKm returns the great-circle distance between two coordinates in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Orb converts p to an orb point, which is [lon, lat].
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// DistanceM is the haversine distance between two points in meters.
func DistanceM(a, b Point) float64 {
	return orbgeo.DistanceHaversine(a.Orb(), b.Orb())
}

// Bearing returns the initial compass bearing from a to b in degrees, 0 = north, 90 = east.
func Bearing(a, b Point) float64 {
	return math.Mod(orbgeo.Bearing(a.Orb(), b.Orb())+360, 360)
}

// WithinRadius reports whether p lies within radiusM meters of center.
func WithinRadius(p, center Point, radiusM float64) bool {
	return DistanceM(p, center) <= radiusM
}

// Plane is a local equirectangular projection centered on an origin. It is accurate
// enough for city-scale distances and keeps projection math in flat meters.
type Plane struct {
	origin Point
	kx, ky float64
}

// NewPlane builds a projection centered on origin.
func NewPlane(origin Point) Plane {
	ky := orb.EarthRadius * math.Pi / 180
	return Plane{
		origin: origin,
		kx:     ky * math.Cos(toRad(origin.Lat)),
		ky:     ky,
	}
}

// Project maps p to (x, y) meters east and north of the origin.
func (pl Plane) Project(p Point) (x, y float64) {
	return (p.Lon - pl.origin.Lon) * pl.kx, (p.Lat - pl.origin.Lat) * pl.ky
}

// Unproject is the inverse of Project.
func (pl Plane) Unproject(x, y float64) Point {
	lon := pl.origin.Lon
	if pl.kx != 0 {
		lon += x / pl.kx
	}
	return Point{Lat: pl.origin.Lat + y/pl.ky, Lon: lon}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
