package geometry

import (
	"fmt"
	"math"

	coreerrors "github.com/aevon-lab/geoagg/internal/core/errors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// AsMultiPolygon normalizes a Polygon or MultiPolygon to a MultiPolygon.
func AsMultiPolygon(g orb.Geometry) (orb.MultiPolygon, bool) {
	switch v := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{v}, true
	case orb.MultiPolygon:
		return v, true
	default:
		return nil, false
	}
}

// Validate rejects geometries with non-finite coordinates. Topology is not
// checked.
func Validate(g orb.Geometry) error {
	var bad bool
	visit(g, func(p orb.Point) {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			bad = true
		}
	})
	if bad {
		return fmt.Errorf("%w: non-finite coordinate in %s", coreerrors.ErrInvalidGeom, g.GeoJSONType())
	}
	return nil
}

func visit(g orb.Geometry, fn func(orb.Point)) {
	switch v := g.(type) {
	case orb.Point:
		fn(v)
	case orb.MultiPoint:
		for _, p := range v {
			fn(p)
		}
	case orb.LineString:
		for _, p := range v {
			fn(p)
		}
	case orb.MultiLineString:
		for _, ls := range v {
			visit(ls, fn)
		}
	case orb.Ring:
		for _, p := range v {
			fn(p)
		}
	case orb.Polygon:
		for _, r := range v {
			visit(r, fn)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			visit(p, fn)
		}
	case orb.Collection:
		for _, c := range v {
			visit(c, fn)
		}
	}
}

// Covers reports whether p lies in the closure (interior or boundary) of mp.
// Points on a hole ring are covered.
func Covers(mp orb.MultiPolygon, p orb.Point) bool {
	for _, poly := range mp {
		if polygonCovers(poly, p) {
			return true
		}
	}
	return false
}

// polygonCovers is planar.PolygonContains with hole rings treated as part of
// the polygon; orb counts a point on a hole ring as inside the hole.
func polygonCovers(poly orb.Polygon, p orb.Point) bool {
	if len(poly) == 0 || !planar.RingContains(poly[0], p) {
		return false
	}
	for _, hole := range poly[1:] {
		if planar.RingContains(hole, p) && !onRing(hole, p) {
			return false
		}
	}
	return true
}

// OnBoundary reports whether p lies exactly on any ring of mp.
func OnBoundary(mp orb.MultiPolygon, p orb.Point) bool {
	for _, poly := range mp {
		for _, r := range poly {
			if onRing(r, p) {
				return true
			}
		}
	}
	return false
}

// Interior reports whether p lies strictly inside mp, not on its boundary.
func Interior(mp orb.MultiPolygon, p orb.Point) bool {
	return Covers(mp, p) && !OnBoundary(mp, p)
}

// PointWithin is the strict "within" predicate for point features. A point on
// a boundary edge is not within; a shared edge therefore assigns the point to
// no boundary. A MultiPoint is within when every member is covered and at
// least one is interior.
func PointWithin(g orb.Geometry, mp orb.MultiPolygon) bool {
	switch v := g.(type) {
	case orb.Point:
		return Interior(mp, v)
	case orb.MultiPoint:
		if len(v) == 0 {
			return false
		}
		interior := false
		for _, p := range v {
			if !Covers(mp, p) {
				return false
			}
			if !interior && !OnBoundary(mp, p) {
				interior = true
			}
		}
		return interior
	default:
		return false
	}
}

// PolygonWithin reports whether a polygon feature lies entirely in the
// closure of mp and shares interior with it. Every feature edge is split
// wherever it meets a boundary ring and each piece must be covered, so an
// edge running along boundary edges across a notch is caught. No boundary
// hole may sit inside the feature.
func PolygonWithin(g orb.Geometry, mp orb.MultiPolygon) bool {
	feature, ok := AsMultiPolygon(g)
	if !ok || len(feature) == 0 {
		return false
	}
	if !mp.Bound().Contains(feature.Bound().Min) || !mp.Bound().Contains(feature.Bound().Max) {
		return false
	}

	interior := false
	for _, poly := range feature {
		if len(poly) == 0 || len(poly[0]) < 3 {
			return false
		}
		for _, r := range poly {
			for i, p := range r {
				if !Covers(mp, p) {
					return false
				}
				if !interior && !OnBoundary(mp, p) {
					interior = true
				}
				if i == 0 || r[i-1] == p {
					continue
				}
				a := r[i-1]
				ts := splitParams(a, p, mp)
				for j := 1; j < len(ts); j++ {
					mid := lerp(a, p, (ts[j-1]+ts[j])/2)
					if !Covers(mp, mid) {
						return false
					}
					if !interior && !OnBoundary(mp, mid) {
						interior = true
					}
				}
			}
		}
		for _, bpoly := range mp {
			for _, hole := range holes(bpoly) {
				if holeInside(poly, hole) {
					return false
				}
			}
		}
	}
	if interior {
		return true
	}

	// Every vertex and edge piece is on the boundary, e.g. the feature equals
	// the boundary polygon. Fall back to the centroid.
	c, _ := planar.CentroidArea(feature)
	return Interior(mp, c)
}

// holeInside reports whether any vertex or edge midpoint of hole lies
// strictly inside poly.
func holeInside(poly orb.Polygon, hole orb.Ring) bool {
	strict := func(p orb.Point) bool {
		return planar.PolygonContains(poly, p) && !onPolygon(poly, p)
	}
	for i, p := range hole {
		if strict(p) {
			return true
		}
		if i > 0 && strict(midpoint(hole[i-1], p)) {
			return true
		}
	}
	return false
}

func holes(p orb.Polygon) []orb.Ring {
	if len(p) < 2 {
		return nil
	}
	return p[1:]
}

func onPolygon(poly orb.Polygon, p orb.Point) bool {
	for _, r := range poly {
		if onRing(r, p) {
			return true
		}
	}
	return false
}

func onRing(r orb.Ring, p orb.Point) bool {
	n := len(r)
	if n == 0 {
		return false
	}
	for i := 1; i < n; i++ {
		if onSegment(p, r[i-1], r[i]) {
			return true
		}
	}
	// unclosed ring
	if r[0] != r[n-1] {
		return onSegment(p, r[n-1], r[0])
	}
	return false
}

func onSegment(p, a, b orb.Point) bool {
	if cross(a, b, p) != 0 {
		return false
	}
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

// cross is the z component of (b-a) x (p-a).
func cross(a, b, p orb.Point) float64 {
	return (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
}

func midpoint(a, b orb.Point) orb.Point {
	return orb.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
}
