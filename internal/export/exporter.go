// Package export writes the per-year aggregated boundary table as GeoJSON
// and as CSV with a WKT geometry column.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aevon-lab/geoagg/internal/core/crs"
	coreerrors "github.com/aevon-lab/geoagg/internal/core/errors"
	"github.com/aevon-lab/geoagg/internal/core/table"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/shopspring/decimal"
)

// BaseColumns precede the derived metric columns in every artifact.
var BaseColumns = []string{"id", "country", "region", "perimeter", "area"}

const wktColumn = "geometry_wkt"

// Artifacts lists the files written for one year.
type Artifacts struct {
	GeoJSON string `yaml:"geojson,omitempty"`
	CSV     string `yaml:"csv,omitempty"`
}

// Exporter writes artifacts under <root>/geojson and <root>/csv.
type Exporter struct {
	root string
}

// New creates an Exporter rooted at <data_root>/<output_dir>.
func New(root string) *Exporter {
	return &Exporter{root: root}
}

// Paths returns where Export writes a year's artifacts.
func (e *Exporter) Paths(year int) Artifacts {
	name := fmt.Sprintf("Aggregated_Prefecture_%d", year)
	return Artifacts{
		GeoJSON: filepath.Join(e.root, "geojson", name+".geojson"),
		CSV:     filepath.Join(e.root, "csv", name+".csv"),
	}
}

// Export reprojects a copy of t to the export CRS and writes both artifacts.
// t itself is not modified. Identical tables produce byte-identical files.
func (e *Exporter) Export(year int, t *table.BoundaryTable) (Artifacts, error) {
	paths := e.Paths(year)

	out := t.Clone()
	if err := out.MapGeometry(func(g orb.Geometry) (orb.Geometry, error) {
		return crs.Transform(g, crs.Working, crs.Export)
	}); err != nil {
		return Artifacts{}, &coreerrors.ExportError{Stage: coreerrors.StageExport, Path: e.root, Err: err}
	}

	gj, err := encodeGeoJSON(out)
	if err != nil {
		return Artifacts{}, &coreerrors.ExportError{Stage: coreerrors.StageExport, Path: paths.GeoJSON, Err: err}
	}
	if err := writeFileAtomic(paths.GeoJSON, gj); err != nil {
		return Artifacts{}, err
	}

	c, err := encodeCSV(out)
	if err != nil {
		return Artifacts{}, &coreerrors.ExportError{Stage: coreerrors.StageExport, Path: paths.CSV, Err: err}
	}
	if err := writeFileAtomic(paths.CSV, c); err != nil {
		return Artifacts{}, err
	}

	slog.Info("[Exporter] Year exported",
		"year", year,
		"rows", out.Len(),
		"columns", len(out.Columns()),
		"geojson", paths.GeoJSON,
		"csv", paths.CSV,
	)
	return paths, nil
}

func isCount(column string) bool {
	return strings.HasSuffix(column, "_count")
}

// jsonValue renders counts as integers and measures as floats.
func jsonValue(column string, v decimal.Decimal) interface{} {
	if isCount(column) {
		return v.IntPart()
	}
	f, _ := v.Float64()
	return f
}

func encodeGeoJSON(t *table.BoundaryTable) ([]byte, error) {
	cols := t.Columns()
	values := make([][]decimal.Decimal, len(cols))
	for j, c := range cols {
		values[j], _ = t.Column(c)
	}

	fc := geojson.NewFeatureCollection()
	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)
		f := geojson.NewFeature(row.Geometry)
		f.Properties["id"] = row.ID
		f.Properties["country"] = row.Country
		f.Properties["region"] = row.Region
		f.Properties["perimeter"] = row.Perimeter
		f.Properties["area"] = row.Area
		for j, c := range cols {
			f.Properties[c] = jsonValue(c, values[j][i])
		}
		fc.Append(f)
	}
	return fc.MarshalJSON()
}

func encodeCSV(t *table.BoundaryTable) ([]byte, error) {
	cols := t.Columns()
	values := make([][]decimal.Decimal, len(cols))
	for j, c := range cols {
		values[j], _ = t.Column(c)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, 0, len(BaseColumns)+len(cols)+1)
	header = append(header, BaseColumns...)
	header = append(header, cols...)
	header = append(header, wktColumn)
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)
		rec := make([]string, 0, len(header))
		rec = append(rec,
			strconv.FormatInt(row.ID, 10),
			row.Country,
			row.Region,
			strconv.FormatFloat(row.Perimeter, 'f', -1, 64),
			strconv.FormatFloat(row.Area, 'f', -1, 64),
		)
		for j := range cols {
			rec = append(rec, values[j][i].String())
		}
		rec = append(rec, wkt.MarshalString(row.Geometry))
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFileAtomic writes data next to path and renames it into place so a
// failed run never leaves a truncated artifact.
func writeFileAtomic(path string, data []byte) error {
	fail := func(err error) error {
		return &coreerrors.ExportError{
			Stage: coreerrors.StageExport,
			Path:  path,
			Err:   fmt.Errorf("%w: %w", coreerrors.ErrNotWritable, err),
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fail(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fail(err)
	}
	return nil
}
