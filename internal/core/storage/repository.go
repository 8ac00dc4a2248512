package storage

import (
	"context"

	"github.com/aevon-lab/geoagg/internal/core/table"
	"github.com/shopspring/decimal"
)

// Source reads one geospatial file into a feature layer. Geometries are
// returned in the file's own CRS.
type Source interface {
	Read(ctx context.Context, path string) (*table.FeatureLayer, error)
}

// MetricRow is one derived value in long form.
type MetricRow struct {
	BoundaryID int64
	Metric     string
	Value      decimal.Decimal
}

// YearMetrics is everything a run produced for one year.
type YearMetrics struct {
	RunID string
	Year  int
	Rows  []MetricRow
}

// ResultStore persists derived metrics per year.
type ResultStore interface {
	// SaveYear replaces every stored metric of m.Year with m.Rows atomically.
	SaveYear(ctx context.Context, m YearMetrics) error

	// LoadYear returns the stored metrics of a year ordered by boundary id
	// and metric name.
	LoadYear(ctx context.Context, year int) ([]MetricRow, error)

	Close() error
}

// Flatten turns the derived columns of t into long-form rows, boundary rows
// outermost and columns in table order.
func Flatten(runID string, year int, t *table.BoundaryTable) YearMetrics {
	cols := t.Columns()
	out := YearMetrics{RunID: runID, Year: year, Rows: make([]MetricRow, 0, t.Len()*len(cols))}

	values := make([][]decimal.Decimal, len(cols))
	for j, c := range cols {
		values[j], _ = t.Column(c)
	}
	for i := 0; i < t.Len(); i++ {
		id := t.Row(i).ID
		for j, c := range cols {
			out.Rows = append(out.Rows, MetricRow{BoundaryID: id, Metric: c, Value: values[j][i]})
		}
	}
	return out
}
