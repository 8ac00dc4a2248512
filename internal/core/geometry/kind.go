// Package geometry holds the planar predicates and overlay routines used to
// join feature geometries against boundary polygons. All inputs are expected
// in a projected coordinate system; nothing here knows about CRS.
package geometry

import (
	"sort"

	"github.com/paulmach/orb"
)

// Kind is the closed set of geometry families the aggregator dispatches on.
type Kind int

const (
	KindEmpty Kind = iota
	KindPoint
	KindLine
	KindPolygon
	KindMixed
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindPoint:
		return "point"
	case KindLine:
		return "line"
	case KindPolygon:
		return "polygon"
	default:
		return "mixed"
	}
}

// KindOf classifies a single geometry. Types outside the three handled
// families (collections, bounds, bare rings) report KindMixed.
func KindOf(g orb.Geometry) Kind {
	switch g.(type) {
	case nil:
		return KindEmpty
	case orb.Point, orb.MultiPoint:
		return KindPoint
	case orb.LineString, orb.MultiLineString:
		return KindLine
	case orb.Polygon, orb.MultiPolygon:
		return KindPolygon
	default:
		return KindMixed
	}
}

// LayerKind inspects every geometry of a layer and returns the family they
// all share, together with the sorted distinct GeoJSON type names observed.
// Nil geometries are ignored; a layer with none left is KindEmpty.
func LayerKind(geoms []orb.Geometry) (Kind, []string) {
	seen := make(map[string]struct{})
	kind := KindEmpty
	for _, g := range geoms {
		if g == nil {
			continue
		}
		seen[g.GeoJSONType()] = struct{}{}

		k := KindOf(g)
		switch {
		case kind == KindEmpty:
			kind = k
		case kind != k:
			kind = KindMixed
		}
	}

	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return kind, types
}
