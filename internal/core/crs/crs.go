// Package crs fixes the two coordinate reference systems the pipeline uses:
// a metric working projection for every measurement and a geographic one for
// interchange.
package crs

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// CRS is an EPSG identifier.
type CRS string

const (
	WGS84       CRS = "EPSG:4326"
	WebMercator CRS = "EPSG:3857"

	// Working is used for predicates, lengths and areas.
	Working = WebMercator
	// Export is used for published artifacts.
	Export = WGS84
)

// Parse accepts "EPSG:4326", "epsg:3857" or a bare code.
func Parse(s string) (CRS, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	code = strings.TrimPrefix(code, "EPSG:")
	switch code {
	case "4326":
		return WGS84, nil
	case "3857", "900913":
		return WebMercator, nil
	default:
		return "", fmt.Errorf("unsupported crs %q (supported: %s, %s)", s, WGS84, WebMercator)
	}
}

// Transform returns g reprojected from one CRS to another. The input is not
// modified.
func Transform(g orb.Geometry, from, to CRS) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	if from == to {
		return orb.Clone(g), nil
	}

	var proj orb.Projection
	switch {
	case from == WGS84 && to == WebMercator:
		proj = project.WGS84.ToMercator
	case from == WebMercator && to == WGS84:
		proj = project.Mercator.ToWGS84
	default:
		return nil, fmt.Errorf("no transform from %s to %s", from, to)
	}
	return project.Geometry(orb.Clone(g), proj), nil
}
