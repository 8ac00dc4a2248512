// Package loader reads the boundary source and the per-year feature layers
// from disk and reprojects them into the working CRS.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aevon-lab/geoagg/internal/core/config"
	"github.com/aevon-lab/geoagg/internal/core/crs"
	coreerrors "github.com/aevon-lab/geoagg/internal/core/errors"
	"github.com/aevon-lab/geoagg/internal/core/geometry"
	"github.com/aevon-lab/geoagg/internal/core/storage"
	"github.com/aevon-lab/geoagg/internal/core/table"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// Options configures a Loader.
type Options struct {
	DataRoot       string
	FeaturesDir    string
	LayerNameToken int
	SourceCRS      crs.CRS
	Workers        int
	BoundaryFields config.BoundaryFields
}

// OptionsFromConfig maps the run configuration onto loader options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	src, err := crs.Parse(cfg.SourceCRS)
	if err != nil {
		return Options{}, err
	}
	return Options{
		DataRoot:       cfg.DataRoot,
		FeaturesDir:    cfg.FeaturesDir,
		LayerNameToken: cfg.LayerNameToken,
		SourceCRS:      src,
		Workers:        cfg.LoadWorkers,
		BoundaryFields: cfg.Boundary.Fields,
	}, nil
}

// LayerSource is a discovered feature file and the layer name derived from it.
type LayerSource struct {
	Layer string
	Path  string
}

// Loader reads boundary and feature sources by file extension.
type Loader struct {
	opts    Options
	sources map[string]storage.Source
}

// New creates a Loader with the shapefile and GeoJSON readers registered.
func New(opts Options) *Loader {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.SourceCRS == "" {
		opts.SourceCRS = crs.WGS84
	}
	return &Loader{
		opts: opts,
		sources: map[string]storage.Source{
			".shp":     ShapefileSource{},
			".geojson": GeoJSONSource{},
			".json":    GeoJSONSource{},
		},
	}
}

func (l *Loader) sourceFor(path string) (storage.Source, bool) {
	s, ok := l.sources[strings.ToLower(filepath.Ext(path))]
	return s, ok
}

// LoadBoundaries reads the boundary source into a table in the working CRS.
// Source attributes are renamed to id/country/region/perimeter/area.
func (l *Loader) LoadBoundaries(ctx context.Context, path string) (*table.BoundaryTable, error) {
	fail := func(err error) error {
		return &coreerrors.LoadError{Stage: coreerrors.StageLoadBoundaries, Path: path, Err: err}
	}

	src, ok := l.sourceFor(path)
	if !ok {
		return nil, fail(fmt.Errorf("unsupported boundary format %q", filepath.Ext(path)))
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fail(err)
	}

	start := time.Now()
	layer, err := src.Read(ctx, path)
	if err != nil {
		return nil, fail(err)
	}

	f := l.opts.BoundaryFields
	for _, name := range []string{f.ID, f.Country, f.Region, f.Perimeter, f.Area} {
		if !layer.HasField(name) {
			return nil, fail(fmt.Errorf("%w: %s", coreerrors.ErrMissingField, name))
		}
	}

	from := l.layerCRS(layer)
	rows := make([]table.Boundary, 0, layer.Len())
	for i, feat := range layer.Features {
		id, err := parseID(feat.Properties, f.ID)
		if err != nil {
			return nil, fail(fmt.Errorf("record %d: %w", i, err))
		}
		if _, ok := geometry.AsMultiPolygon(feat.Geometry); !ok {
			return nil, fail(fmt.Errorf("%w: boundary %d is %s, want Polygon or MultiPolygon",
				coreerrors.ErrInvalidGeom, id, geometryType(feat.Geometry)))
		}
		g, err := crs.Transform(feat.Geometry, from, crs.Working)
		if err != nil {
			return nil, fail(err)
		}

		perimeter, _ := table.ExtractDecimal(feat.Properties, f.Perimeter).Float64()
		area, _ := table.ExtractDecimal(feat.Properties, f.Area).Float64()
		rows = append(rows, table.Boundary{
			ID:        id,
			Country:   feat.Attribute(f.Country),
			Region:    feat.Attribute(f.Region),
			Perimeter: perimeter,
			Area:      area,
			Geometry:  g,
		})
	}

	t, err := table.NewBoundaryTable(rows)
	if err != nil {
		return nil, fail(err)
	}

	slog.Info("[Loader] Boundaries loaded",
		"path", path,
		"rows", t.Len(),
		"duration", time.Since(start),
	)
	return t, nil
}

// layerCRS returns the CRS a source declares, falling back to the configured
// source CRS.
func (l *Loader) layerCRS(layer *table.FeatureLayer) crs.CRS {
	if layer.CRS == "" {
		return l.opts.SourceCRS
	}
	if layer.CRS != l.opts.SourceCRS {
		slog.Warn("[Loader] Source declares a different CRS than configured",
			"path", layer.Source,
			"declared", layer.CRS,
			"configured", l.opts.SourceCRS,
		)
	}
	return layer.CRS
}

func parseID(props map[string]interface{}, field string) (int64, error) {
	d, ok := table.LookupDecimal(props, field)
	if !ok {
		return 0, fmt.Errorf("%s %q is not numeric", field, fmt.Sprint(props[field]))
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("%s %s is not an integer", field, d.String())
	}
	return d.IntPart(), nil
}

func geometryType(g orb.Geometry) string {
	if g == nil {
		return "null"
	}
	return g.GeoJSONType()
}

// LayerName derives the layer name from a feature file name: the
// underscore-delimited token at position token of the base name without
// extension, e.g. token 2 of "gis_osm_roads_free_1.shp" is "roads".
func LayerName(file string, token int) (string, error) {
	base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	parts := strings.Split(base, "_")
	if token < 0 || token >= len(parts) || parts[token] == "" {
		return "", fmt.Errorf("file name %q has no layer token at position %d", filepath.Base(file), token)
	}
	return parts[token], nil
}

func (l *Loader) yearDir(year int) string {
	return filepath.Join(l.opts.DataRoot, l.opts.FeaturesDir, strconv.Itoa(year))
}

// ListLayerSources discovers the feature files of a year without reading
// them. Files with other extensions and subdirectories are ignored.
func (l *Loader) ListLayerSources(year int) ([]LayerSource, error) {
	dir := l.yearDir(year)
	fail := func(layer, path string, err error) error {
		return &coreerrors.LoadError{Stage: coreerrors.StageLoadFeatures, Path: path, Layer: layer, Err: err}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fail("", dir, err)
	}

	byLayer := make(map[string]string)
	var out []LayerSource
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".shp" && ext != ".geojson" {
			continue
		}
		path := filepath.Join(dir, e.Name())

		name, err := LayerName(e.Name(), l.opts.LayerNameToken)
		if err != nil {
			return nil, fail("", path, err)
		}
		if prev, dup := byLayer[name]; dup {
			return nil, fail(name, path, fmt.Errorf("%w: also produced by %s", coreerrors.ErrDuplicateLayer, filepath.Base(prev)))
		}
		byLayer[name] = path
		out = append(out, LayerSource{Layer: name, Path: path})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Layer < out[j].Layer })
	return out, nil
}

// LoadFeatureLayers reads every layer of a year, reprojected to the working
// CRS. Up to Options.Workers files are read at once.
func (l *Loader) LoadFeatureLayers(ctx context.Context, year int) (map[string]*table.FeatureLayer, error) {
	sources, err := l.ListLayerSources(year)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		layers = make(map[string]*table.FeatureLayer, len(sources))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)
	for _, ls := range sources {
		g.Go(func() error {
			layer, err := l.readLayer(gctx, ls)
			if err != nil {
				return &coreerrors.LoadError{Stage: coreerrors.StageLoadFeatures, Path: ls.Path, Layer: ls.Layer, Err: err}
			}
			mu.Lock()
			layers[ls.Layer] = layer
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("[Loader] Feature layers loaded",
		"year", year,
		"layers", len(layers),
	)
	return layers, nil
}

func (l *Loader) readLayer(ctx context.Context, ls LayerSource) (*table.FeatureLayer, error) {
	src, ok := l.sourceFor(ls.Path)
	if !ok {
		return nil, fmt.Errorf("unsupported feature format %q", filepath.Ext(ls.Path))
	}
	layer, err := src.Read(ctx, ls.Path)
	if err != nil {
		return nil, err
	}
	layer.Name = ls.Layer

	from := l.layerCRS(layer)
	for i := range layer.Features {
		g, err := crs.Transform(layer.Features[i].Geometry, from, crs.Working)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		layer.Features[i].Geometry = g
	}

	slog.Debug("[Loader] Layer read",
		"layer", ls.Layer,
		"path", ls.Path,
		"features", layer.Len(),
	)
	return layer, nil
}
