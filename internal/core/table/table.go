package table

import (
	"fmt"

	coreerrors "github.com/aevon-lab/geoagg/internal/core/errors"
	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
)

// Boundary is one administrative polygon with its base attributes.
type Boundary struct {
	ID        int64
	Country   string
	Region    string
	Perimeter float64
	Area      float64
	Geometry  orb.Geometry // Polygon or MultiPolygon
}

// BoundaryTable is the single mutable aggregate of a year's run: the boundary
// rows plus derived metric columns, each holding one value per row.
// Row order never changes after construction.
type BoundaryTable struct {
	rows    []Boundary
	index   map[int64]int
	columns []string
	values  map[string][]decimal.Decimal
}

// NewBoundaryTable builds a table from rows. IDs must be unique.
func NewBoundaryTable(rows []Boundary) (*BoundaryTable, error) {
	t := &BoundaryTable{
		rows:   rows,
		index:  make(map[int64]int, len(rows)),
		values: make(map[string][]decimal.Decimal),
	}
	for i, r := range rows {
		if _, exists := t.index[r.ID]; exists {
			return nil, fmt.Errorf("%w: %d", coreerrors.ErrDuplicateID, r.ID)
		}
		t.index[r.ID] = i
	}
	return t, nil
}

// Len returns the number of boundary rows.
func (t *BoundaryTable) Len() int { return len(t.rows) }

// Row returns the i-th boundary.
func (t *BoundaryTable) Row(i int) Boundary { return t.rows[i] }

// IndexOf returns the row position of a boundary id.
func (t *BoundaryTable) IndexOf(id int64) (int, bool) {
	i, ok := t.index[id]
	return i, ok
}

// Columns returns the derived column names in insertion order.
func (t *BoundaryTable) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// HasColumn reports whether a derived column exists.
func (t *BoundaryTable) HasColumn(name string) bool {
	_, ok := t.values[name]
	return ok
}

// AddColumn appends a derived column with every row set to zero.
func (t *BoundaryTable) AddColumn(name string) error {
	if name == "" {
		return fmt.Errorf("column name must not be empty")
	}
	if t.HasColumn(name) {
		return fmt.Errorf("column %q already exists", name)
	}
	t.columns = append(t.columns, name)
	t.values[name] = make([]decimal.Decimal, len(t.rows))
	return nil
}

// Set stores a value for row i of a derived column.
func (t *BoundaryTable) Set(name string, i int, v decimal.Decimal) error {
	col, ok := t.values[name]
	if !ok {
		return fmt.Errorf("unknown column %q", name)
	}
	if i < 0 || i >= len(col) {
		return fmt.Errorf("row %d out of range for column %q", i, name)
	}
	col[i] = v
	return nil
}

// Add adds v to the current value of row i.
func (t *BoundaryTable) Add(name string, i int, v decimal.Decimal) error {
	col, ok := t.values[name]
	if !ok {
		return fmt.Errorf("unknown column %q", name)
	}
	if i < 0 || i >= len(col) {
		return fmt.Errorf("row %d out of range for column %q", i, name)
	}
	col[i] = col[i].Add(v)
	return nil
}

// Column returns a copy of a derived column's values in row order.
func (t *BoundaryTable) Column(name string) ([]decimal.Decimal, bool) {
	col, ok := t.values[name]
	if !ok {
		return nil, false
	}
	out := make([]decimal.Decimal, len(col))
	copy(out, col)
	return out, true
}

// Value returns a derived value by boundary id.
func (t *BoundaryTable) Value(name string, id int64) (decimal.Decimal, bool) {
	i, ok := t.index[id]
	if !ok {
		return decimal.Zero, false
	}
	col, ok := t.values[name]
	if !ok {
		return decimal.Zero, false
	}
	return col[i], true
}

// MapGeometry replaces every row geometry with fn(geometry).
func (t *BoundaryTable) MapGeometry(fn func(orb.Geometry) (orb.Geometry, error)) error {
	for i := range t.rows {
		g, err := fn(t.rows[i].Geometry)
		if err != nil {
			return fmt.Errorf("boundary %d: %w", t.rows[i].ID, err)
		}
		t.rows[i].Geometry = g
	}
	return nil
}

// Clone returns a deep copy: rows, geometries and derived columns.
func (t *BoundaryTable) Clone() *BoundaryTable {
	rows := make([]Boundary, len(t.rows))
	for i, r := range t.rows {
		rows[i] = r
		if r.Geometry != nil {
			rows[i].Geometry = orb.Clone(r.Geometry)
		}
	}

	index := make(map[int64]int, len(t.index))
	for id, i := range t.index {
		index[id] = i
	}

	values := make(map[string][]decimal.Decimal, len(t.values))
	for name, col := range t.values {
		cp := make([]decimal.Decimal, len(col))
		copy(cp, col)
		values[name] = cp
	}

	return &BoundaryTable{
		rows:    rows,
		index:   index,
		columns: append([]string(nil), t.columns...),
		values:  values,
	}
}

// Baseline is a read-only snapshot of a freshly loaded boundary table.
// Each year starts from Materialize so derived columns never carry over.
type Baseline struct {
	table *BoundaryTable
}

// NewBaseline snapshots t. Later changes to t do not affect the baseline.
func NewBaseline(t *BoundaryTable) *Baseline {
	return &Baseline{table: t.Clone()}
}

// Materialize returns a fresh mutable working copy of the snapshot.
func (b *Baseline) Materialize() *BoundaryTable {
	return b.table.Clone()
}

// Len returns the number of boundary rows in the snapshot.
func (b *Baseline) Len() int { return b.table.Len() }
