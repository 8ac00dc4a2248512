package aggregation

import "github.com/aevon-lab/geoagg/internal/core/geometry"

// Supported aggregation operators.
const (
	OpCount = "count"
	OpSum   = "sum"
)

const (
	// DefaultCategoryField is the feature attribute used for subcategory columns.
	DefaultCategoryField = "fclass"
	// UnclassifiedCategory collects features with an empty category value so
	// per-category columns always add up to the base column.
	UnclassifiedCategory = "unclassified"
)

// Options controls one Aggregate call.
type Options struct {
	Subcategory    bool
	CategoryField  string
	StrictGeometry bool // mixed-geometry layers fail the run instead of being skipped
}

func (o Options) normalized() Options {
	n := o
	if n.CategoryField == "" {
		n.CategoryField = DefaultCategoryField
	}
	return n
}

// LayerReport describes what Aggregate did with one layer.
type LayerReport struct {
	Layer    string
	Kind     geometry.Kind
	Columns  []string
	Features int
	Matched  int    // features that contributed to at least one boundary
	Skipped  string // reason when no columns were added
}

// Report summarizes an Aggregate call.
type Report struct {
	Layers   []LayerReport
	Warnings []string
}

// Columns returns every derived column added, in order.
func (r Report) Columns() []string {
	var out []string
	for _, l := range r.Layers {
		out = append(out, l.Columns...)
	}
	return out
}
