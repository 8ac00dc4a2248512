package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	coreerrors "github.com/aevon-lab/geoagg/internal/core/errors"
	"github.com/aevon-lab/geoagg/internal/core/geometry"
	"github.com/aevon-lab/geoagg/internal/core/table"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/shopspring/decimal"
)

// contribution is one feature's measure attributed to one boundary row.
type contribution struct {
	row   int
	value decimal.Decimal
}

// routine summarizes one geometry family into a "<layer>_<suffix>" column.
type routine struct {
	suffix string
	op     string
	match  func(ix *boundaryIndex, g orb.Geometry) []contribution
}

var routines = map[geometry.Kind]routine{
	geometry.KindPoint:   {suffix: "count", op: OpCount, match: matchPoints},
	geometry.KindLine:    {suffix: "length", op: OpSum, match: matchLines},
	geometry.KindPolygon: {suffix: "area", op: OpSum, match: matchPolygons},
}

// Aggregate appends derived metric columns for every layer onto boundaries,
// processing layers in name order. Boundaries is the only value mutated.
func Aggregate(
	ctx context.Context,
	boundaries *table.BoundaryTable,
	layers map[string]*table.FeatureLayer,
	opts Options,
) (Report, error) {
	opts = opts.normalized()
	var report Report

	ix, err := newBoundaryIndex(boundaries)
	if err != nil {
		return report, err
	}

	names := make([]string, 0, len(layers))
	for name := range layers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		layer := layers[name]
		kind, types := geometry.LayerKind(layer.Geometries())
		lr := LayerReport{Layer: name, Kind: kind, Features: layer.Len()}

		r, ok := routines[kind]
		if !ok {
			if kind == geometry.KindEmpty {
				lr.Skipped = "no geometries"
				slog.Debug("[Aggregator] Skipping empty layer", "layer", name)
			} else {
				uerr := &coreerrors.UnsupportedKindError{Layer: name, Kinds: types}
				if opts.StrictGeometry {
					return report, &coreerrors.JoinError{Layer: name, Kind: kind.String(), Err: uerr}
				}
				lr.Skipped = uerr.Error()
				report.Warnings = append(report.Warnings, uerr.Error())
				slog.Warn("[Aggregator] Skipping layer with unsupported geometry mix",
					"layer", name,
					"types", types,
				)
			}
			report.Layers = append(report.Layers, lr)
			continue
		}

		subcategory := opts.Subcategory
		if subcategory && !layer.HasField(opts.CategoryField) {
			msg := fmt.Sprintf("layer %q has no %q field, subcategory columns skipped", name, opts.CategoryField)
			report.Warnings = append(report.Warnings, msg)
			slog.Warn("[Aggregator] Missing category field",
				"layer", name,
				"field", opts.CategoryField,
			)
			subcategory = false
		}

		cols, matched, err := r.run(ix, boundaries, name, layer, subcategory, opts.CategoryField)
		if err != nil {
			return report, &coreerrors.JoinError{Layer: name, Kind: kind.String(), Err: err}
		}
		lr.Columns = cols
		lr.Matched = matched
		report.Layers = append(report.Layers, lr)

		slog.Info("[Aggregator] Layer aggregated",
			"layer", name,
			"kind", kind.String(),
			"features", layer.Len(),
			"matched", matched,
			"columns", len(cols),
		)
	}

	return report, nil
}

func (r routine) run(
	ix *boundaryIndex,
	t *table.BoundaryTable,
	name string,
	layer *table.FeatureLayer,
	subcategory bool,
	field string,
) ([]string, int, error) {
	agg, ok := Operators[r.op]
	if !ok {
		return nil, 0, fmt.Errorf("unknown operator %q", r.op)
	}
	column := name + "_" + r.suffix

	// Pass 1: allocate the base column and one column per category seen
	// anywhere in the layer, all zero filled.
	var categories []string
	if subcategory {
		categories = distinctCategories(layer, field)
	}
	cols := make([]string, 0, len(categories)+1)
	cols = append(cols, column)
	for _, c := range categories {
		cols = append(cols, c+"_"+column)
	}
	for _, c := range cols {
		if err := t.AddColumn(c); err != nil {
			return nil, 0, err
		}
	}

	// Pass 2: group measures by boundary id (and category).
	base := newAccumulator(agg)
	perCategory := make(map[string]*accumulator, len(categories))
	for _, c := range categories {
		perCategory[c] = newAccumulator(agg)
	}

	matched := 0
	for i, f := range layer.Features {
		if f.Geometry == nil {
			continue
		}
		if err := geometry.Validate(f.Geometry); err != nil {
			return nil, 0, fmt.Errorf("feature %d: %w", i, err)
		}

		contribs := r.match(ix, f.Geometry)
		if len(contribs) == 0 {
			continue
		}
		matched++

		var cat *accumulator
		if subcategory {
			cat = perCategory[categoryOf(f, field)]
		}
		for _, c := range contribs {
			id := ix.ids[c.row]
			base.add(id, c.value)
			if cat != nil {
				cat.add(id, c.value)
			}
		}
	}

	// Pass 3: merge onto the boundary table by id.
	if err := base.mergeInto(t, column); err != nil {
		return nil, 0, err
	}
	for _, c := range categories {
		if err := perCategory[c].mergeInto(t, c+"_"+column); err != nil {
			return nil, 0, err
		}
	}
	return cols, matched, nil
}

func categoryOf(f table.Feature, field string) string {
	if c := f.Attribute(field); c != "" {
		return c
	}
	return UnclassifiedCategory
}

func distinctCategories(layer *table.FeatureLayer, field string) []string {
	seen := make(map[string]struct{})
	for _, f := range layer.Features {
		if f.Geometry == nil {
			continue
		}
		seen[categoryOf(f, field)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// accumulator groups measures by boundary id using one operator.
type accumulator struct {
	agg    Aggregator
	values map[int64]decimal.Decimal
}

func newAccumulator(agg Aggregator) *accumulator {
	return &accumulator{agg: agg, values: make(map[int64]decimal.Decimal)}
}

func (a *accumulator) add(id int64, v decimal.Decimal) {
	cur, ok := a.values[id]
	if !ok {
		a.values[id] = a.agg.Initial(v)
		return
	}
	a.values[id] = a.agg.Apply(cur, v)
}

// mergeInto adds grouped values by id; ids without a value keep the column's zero.
func (a *accumulator) mergeInto(t *table.BoundaryTable, column string) error {
	for id, v := range a.values {
		i, ok := t.IndexOf(id)
		if !ok {
			return fmt.Errorf("boundary id %d not in table", id)
		}
		if err := t.Add(column, i, v); err != nil {
			return err
		}
	}
	return nil
}

// boundaryIndex caches boundary shapes and bounds for candidate filtering.
type boundaryIndex struct {
	ids    []int64
	shapes []orb.MultiPolygon
	bounds []orb.Bound
}

func newBoundaryIndex(t *table.BoundaryTable) (*boundaryIndex, error) {
	ix := &boundaryIndex{
		ids:    make([]int64, t.Len()),
		shapes: make([]orb.MultiPolygon, t.Len()),
		bounds: make([]orb.Bound, t.Len()),
	}
	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)
		mp, ok := geometry.AsMultiPolygon(row.Geometry)
		if !ok {
			return nil, &coreerrors.JoinError{
				Kind: "boundary",
				Err:  fmt.Errorf("%w: boundary %d is %T", coreerrors.ErrInvalidGeom, row.ID, row.Geometry),
			}
		}
		if err := geometry.Validate(mp); err != nil {
			return nil, &coreerrors.JoinError{Kind: "boundary", Err: fmt.Errorf("boundary %d: %w", row.ID, err)}
		}
		ix.ids[i] = row.ID
		ix.shapes[i] = mp
		ix.bounds[i] = mp.Bound()
	}
	return ix, nil
}

func (ix *boundaryIndex) candidates(b orb.Bound) []int {
	var out []int
	for i, bb := range ix.bounds {
		if bb.Intersects(b) {
			out = append(out, i)
		}
	}
	return out
}

// matchPoints is an inner join on strict containment.
func matchPoints(ix *boundaryIndex, g orb.Geometry) []contribution {
	var out []contribution
	for _, i := range ix.candidates(g.Bound()) {
		if geometry.PointWithin(g, ix.shapes[i]) {
			out = append(out, contribution{row: i})
		}
	}
	return out
}

// matchLines attributes each clipped fragment's length to its boundary.
func matchLines(ix *boundaryIndex, g orb.Geometry) []contribution {
	var out []contribution
	for _, i := range ix.candidates(g.Bound()) {
		length := geometry.ClippedLength(g, ix.shapes[i])
		if length > 0 {
			out = append(out, contribution{row: i, value: decimal.NewFromFloat(length)})
		}
	}
	return out
}

// matchPolygons attributes a feature's full, unclipped area to every boundary
// it lies within. Features straddling an edge match nothing.
func matchPolygons(ix *boundaryIndex, g orb.Geometry) []contribution {
	area := decimal.NewFromFloat(planar.Area(g))
	var out []contribution
	for _, i := range ix.candidates(g.Bound()) {
		if geometry.PolygonWithin(g, ix.shapes[i]) {
			out = append(out, contribution{row: i, value: area})
		}
	}
	return out
}
