package loader

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/aevon-lab/geoagg/internal/core/storage"
	"github.com/aevon-lab/geoagg/internal/core/table"
	"github.com/paulmach/orb/geojson"
)

// GeoJSONSource reads a GeoJSON FeatureCollection. The layer schema is the
// union of property keys across features.
type GeoJSONSource struct{}

var _ storage.Source = GeoJSONSource{}

func (GeoJSONSource) Read(ctx context.Context, path string) (*table.FeatureLayer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geojson: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	layer := &table.FeatureLayer{Source: path, Features: make([]table.Feature, 0, len(fc.Features))}
	seen := make(map[string]struct{})
	for _, f := range fc.Features {
		props := make(map[string]interface{}, len(f.Properties))
		for k, v := range f.Properties {
			props[k] = v
			seen[k] = struct{}{}
		}
		layer.Features = append(layer.Features, table.Feature{Geometry: f.Geometry, Properties: props})
	}

	for k := range seen {
		layer.Fields = append(layer.Fields, k)
	}
	sort.Strings(layer.Fields)
	return layer, nil
}
