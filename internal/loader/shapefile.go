package loader

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aevon-lab/geoagg/internal/core/crs"
	"github.com/aevon-lab/geoagg/internal/core/storage"
	"github.com/aevon-lab/geoagg/internal/core/table"
	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

// ShapefileSource reads ESRI shapefiles. Attributes come from the sibling
// .dbf and are returned as trimmed strings.
type ShapefileSource struct{}

var _ storage.Source = ShapefileSource{}

func (ShapefileSource) Read(ctx context.Context, path string) (*table.FeatureLayer, error) {
	// go-shp stops quietly at a record boundary before the declared end.
	if err := checkLength(path); err != nil {
		return nil, err
	}

	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	layer := &table.FeatureLayer{Source: path, CRS: prjCRS(path)}

	// go-shp opens the .dbf lazily and hands back empty attributes when it
	// is missing, so check for it up front.
	_, hasDBF := sibling(path, ".dbf")
	var fields []shp.Field
	if hasDBF {
		fields = r.Fields()
	}
	for _, f := range fields {
		layer.Fields = append(layer.Fields, f.String())
	}

	for n := 0; r.Next(); n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		idx, s := r.Shape()
		g, err := shapeGeometry(s)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", idx, err)
		}

		props := make(map[string]interface{}, len(fields))
		for k, name := range layer.Fields {
			props[name] = strings.TrimSpace(r.ReadAttribute(idx, k))
		}
		layer.Features = append(layer.Features, table.Feature{Geometry: g, Properties: props})
	}
	if err := r.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read shapefile after %d records: %w", len(layer.Features), err)
	}

	return layer, nil
}

// sibling returns the path of the file next to path with extension ext, in
// either case, and whether it exists.
func sibling(path, ext string) (string, bool) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, e := range []string{ext, strings.ToUpper(ext)} {
		if _, err := os.Stat(base + e); err == nil {
			return base + e, true
		}
	}
	return "", false
}

// checkLength compares the file length declared in the main header (bytes
// 24-27, big endian, in 16-bit words) with the size on disk.
func checkLength(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open shapefile: %w", err)
	}
	defer f.Close()

	var header [28]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return fmt.Errorf("read shapefile header: %w", err)
	}
	declared := int64(binary.BigEndian.Uint32(header[24:28])) * 2

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat shapefile: %w", err)
	}
	if info.Size() < declared {
		return fmt.Errorf("shapefile truncated: header declares %d bytes, file has %d", declared, info.Size())
	}
	return nil
}

// prjCRS reads the .prj sidecar and returns the CRS it declares when it is
// one the loader can reproject, "" otherwise.
func prjCRS(path string) crs.CRS {
	prj, ok := sibling(path, ".prj")
	if !ok {
		return ""
	}
	data, err := os.ReadFile(prj)
	if err != nil {
		slog.Warn("[Loader] Unreadable .prj, using configured CRS", "path", prj, "error", err)
		return ""
	}
	c := crsFromWKT(string(data))
	if c == "" {
		slog.Warn("[Loader] Unrecognized .prj, using configured CRS", "path", prj)
	}
	return c
}

// crsFromWKT recognizes the ESRI/OGC WKT of WGS 84 and Web Mercator.
func crsFromWKT(wkt string) crs.CRS {
	s := strings.ToUpper(strings.TrimSpace(wkt))
	switch {
	case strings.Contains(s, `"EPSG","3857"`),
		strings.Contains(s, "WEB_MERCATOR"),
		strings.Contains(s, "PSEUDO-MERCATOR"),
		strings.Contains(s, "PSEUDO_MERCATOR"):
		return crs.WebMercator
	case strings.HasPrefix(s, "PROJCS"):
		return ""
	case strings.HasPrefix(s, "GEOGCS") &&
		(strings.Contains(s, "WGS_1984") || strings.Contains(s, "WGS 84") || strings.Contains(s, `"EPSG","4326"`)):
		return crs.WGS84
	}
	return ""
}

// shapeGeometry converts a shapefile record to an orb geometry. Z and M
// values are dropped. Null shapes return a nil geometry.
func shapeGeometry(s shp.Shape) (orb.Geometry, error) {
	switch v := s.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.Point:
		return orb.Point{v.X, v.Y}, nil
	case *shp.PointZ:
		return orb.Point{v.X, v.Y}, nil
	case *shp.PointM:
		return orb.Point{v.X, v.Y}, nil
	case *shp.MultiPoint:
		return multiPoint(v.Points), nil
	case *shp.MultiPointZ:
		return multiPoint(v.Points), nil
	case *shp.PolyLine:
		return lines(v.Points, v.Parts), nil
	case *shp.PolyLineZ:
		return lines(v.Points, v.Parts), nil
	case *shp.PolyLineM:
		return lines(v.Points, v.Parts), nil
	case *shp.Polygon:
		return polygons(v.Points, v.Parts), nil
	case *shp.PolygonZ:
		return polygons(v.Points, v.Parts), nil
	case *shp.PolygonM:
		return polygons(v.Points, v.Parts), nil
	default:
		return nil, fmt.Errorf("unsupported shape type %T", s)
	}
}

func multiPoint(pts []shp.Point) orb.Geometry {
	out := make(orb.MultiPoint, len(pts))
	for i, p := range pts {
		out[i] = orb.Point{p.X, p.Y}
	}
	return out
}

// splitParts cuts a flat point list at the part offsets.
func splitParts(points []shp.Point, parts []int32) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i < len(parts)-1 {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		part := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			part = append(part, orb.Point{p.X, p.Y})
		}
		out = append(out, part)
	}
	return out
}

func lines(points []shp.Point, parts []int32) orb.Geometry {
	split := splitParts(points, parts)
	if len(split) == 1 {
		return orb.LineString(split[0])
	}
	mls := make(orb.MultiLineString, len(split))
	for i, p := range split {
		mls[i] = orb.LineString(p)
	}
	return mls
}

// polygons groups rings into polygons: a clockwise ring opens a new polygon
// and the counter-clockwise rings after it are its holes.
func polygons(points []shp.Point, parts []int32) orb.Geometry {
	var mp orb.MultiPolygon
	for _, part := range splitParts(points, parts) {
		ring := orb.Ring(part)
		if len(mp) == 0 || isClockwise(ring) {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		last := len(mp) - 1
		mp[last] = append(mp[last], ring)
	}
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}

func isClockwise(points []orb.Point) bool {
	sum := 0.0
	for i := 0; i < len(points)-1; i++ {
		p1, p2 := points[i], points[i+1]
		sum += (p2[0] - p1[0]) * (p2[1] + p1[1])
	}
	return sum > 0
}
