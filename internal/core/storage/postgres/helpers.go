package postgres

import (
	"fmt"

	"github.com/aevon-lab/geoagg/internal/core/storage"
	"github.com/shopspring/decimal"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanMetricRow scans a (boundary_id, metric, value) row. NUMERIC arrives as
// text and is parsed into a decimal.
func scanMetricRow(row scanner) (storage.MetricRow, error) {
	var (
		out      storage.MetricRow
		valueStr string
	)
	if err := row.Scan(&out.BoundaryID, &out.Metric, &valueStr); err != nil {
		return out, fmt.Errorf("failed to scan metric row: %w", err)
	}
	v, err := decimal.NewFromString(valueStr)
	if err != nil {
		return out, fmt.Errorf("invalid value %q for %s/%d: %w", valueStr, out.Metric, out.BoundaryID, err)
	}
	out.Value = v
	return out, nil
}
