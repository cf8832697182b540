package route

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Format renders a path as a GeoJSON LineString feature carrying props. A path that is
// not drawable still produces a feature, with an empty line.
func Format(path Path, props Properties) *geojson.Feature {
	line := make(orb.LineString, 0, path.Len())
	for _, pt := range path.points {
		line = append(line, pt.Orb())
	}
	f := geojson.NewFeature(line)
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

// FormatCollection formats several paths, one feature each, in order.
func FormatCollection(paths []Path, props []Properties) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, p := range paths {
		var pr Properties
		if i < len(props) {
			pr = props[i]
		}
		fc.Append(Format(p, pr))
	}
	return fc
}

// Bound returns the bounding box around all drawable paths, for fitting a map view.
// ok is false when none of them is drawable.
func Bound(paths ...Path) (b orb.Bound, ok bool) {
	for _, p := range paths {
		if !p.Drawable() {
			continue
		}
		for _, pt := range p.points {
			op := pt.Orb()
			if !ok {
				b = op.Bound()
				ok = true
				continue
			}
			b = b.Extend(op)
		}
	}
	return b, ok
}
