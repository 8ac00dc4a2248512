package geometry

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
)

// ClipLine returns the parts of a LineString or MultiLineString that lie in
// the closure of mp. Every segment is split at each crossing with a boundary
// ring and each piece is kept when its midpoint is covered, so a line
// crossing a boundary edge yields one fragment per side.
func ClipLine(g orb.Geometry, mp orb.MultiPolygon) orb.MultiLineString {
	// Cheap pre-pass: drop everything outside the boundary's bounding box.
	clipped := clip.Geometry(mp.Bound(), orb.Clone(g))

	var lines orb.MultiLineString
	switch v := clipped.(type) {
	case orb.LineString:
		lines = orb.MultiLineString{v}
	case orb.MultiLineString:
		lines = v
	default:
		return nil
	}

	var out orb.MultiLineString
	for _, ls := range lines {
		out = append(out, clipLineString(ls, mp)...)
	}
	return out
}

// ClippedLength is the total length of ClipLine(g, mp).
func ClippedLength(g orb.Geometry, mp orb.MultiPolygon) float64 {
	frags := ClipLine(g, mp)
	if len(frags) == 0 {
		return 0
	}
	return planar.Length(frags)
}

func clipLineString(ls orb.LineString, mp orb.MultiPolygon) orb.MultiLineString {
	var (
		out     orb.MultiLineString
		current orb.LineString
	)
	flush := func() {
		if len(current) >= 2 {
			out = append(out, current)
		}
		current = nil
	}

	for i := 1; i < len(ls); i++ {
		a, b := ls[i-1], ls[i]
		if a == b {
			continue
		}
		ts := splitParams(a, b, mp)
		for j := 1; j < len(ts); j++ {
			t0, t1 := ts[j-1], ts[j]
			mid := lerp(a, b, (t0+t1)/2)
			if !Covers(mp, mid) {
				flush()
				continue
			}
			p0, p1 := lerp(a, b, t0), lerp(a, b, t1)
			if len(current) == 0 || current[len(current)-1] != p0 {
				flush()
				current = orb.LineString{p0}
			}
			current = append(current, p1)
		}
	}
	flush()
	return out
}

// splitParams returns the sorted, de-duplicated parameters in [0,1] at which
// segment ab meets any ring edge of mp, including both end points.
func splitParams(a, b orb.Point, mp orb.MultiPolygon) []float64 {
	ts := []float64{0, 1}
	for _, poly := range mp {
		for _, r := range poly {
			for i := 1; i < len(r); i++ {
				ts = append(ts, intersectParams(a, b, r[i-1], r[i])...)
			}
		}
	}
	sort.Float64s(ts)

	out := ts[:1]
	for _, t := range ts[1:] {
		if t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}

// intersectParams returns the parameters t along ab (p = a + t(b-a)) where
// ab meets cd. Collinear overlaps contribute the projections of c and d.
func intersectParams(a, b, c, d orb.Point) []float64 {
	r := orb.Point{b[0] - a[0], b[1] - a[1]}
	s := orb.Point{d[0] - c[0], d[1] - c[1]}
	ca := orb.Point{c[0] - a[0], c[1] - a[1]}

	denom := r[0]*s[1] - r[1]*s[0]
	if denom == 0 {
		if ca[0]*r[1]-ca[1]*r[0] != 0 {
			return nil // parallel
		}
		rr := r[0]*r[0] + r[1]*r[1]
		var out []float64
		for _, q := range []orb.Point{c, d} {
			t := ((q[0]-a[0])*r[0] + (q[1]-a[1])*r[1]) / rr
			if t > 0 && t < 1 {
				out = append(out, t)
			}
		}
		return out
	}

	t := (ca[0]*s[1] - ca[1]*s[0]) / denom
	u := (ca[0]*r[1] - ca[1]*r[0]) / denom
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return nil
	}
	return []float64{t}
}

func lerp(a, b orb.Point, t float64) orb.Point {
	switch t {
	case 0:
		return a
	case 1:
		return b
	}
	return orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
}
