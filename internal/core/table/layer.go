package table

import (
	"fmt"
	"strings"

	"github.com/aevon-lab/geoagg/internal/core/crs"
	"github.com/paulmach/orb"
)

// Feature is one geometry plus its attributes as read from the source.
type Feature struct {
	Geometry   orb.Geometry
	Properties map[string]interface{}
}

// FeatureLayer is a named set of features loaded for one year. Layers are
// read-only inputs to the aggregator and are discarded after the year.
type FeatureLayer struct {
	Name     string
	Source   string
	CRS      crs.CRS // declared by the source itself, "" when unknown
	Fields   []string
	Features []Feature
}

// Len returns the number of features.
func (l *FeatureLayer) Len() int { return len(l.Features) }

// HasField reports whether the layer schema carries the attribute.
func (l *FeatureLayer) HasField(name string) bool {
	for _, f := range l.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// Geometries returns the feature geometries in order.
func (l *FeatureLayer) Geometries() []orb.Geometry {
	out := make([]orb.Geometry, len(l.Features))
	for i, f := range l.Features {
		out[i] = f.Geometry
	}
	return out
}

// Attribute returns a feature attribute as trimmed text; "" when absent.
func (f Feature) Attribute(name string) string {
	v, ok := f.Properties[name]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
