package table

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ExtractDecimal pulls a numeric value from an attribute map by field name.
// Returns decimal.Zero if the field is missing, empty, or not a recognized numeric type.
func ExtractDecimal(data map[string]interface{}, field string) decimal.Decimal {
	d, _ := LookupDecimal(data, field)
	return d
}

// LookupDecimal is ExtractDecimal that also reports whether a numeric value
// was found. Shapefile attributes arrive as padded strings, GeoJSON numbers
// as float64.
func LookupDecimal(data map[string]interface{}, field string) (decimal.Decimal, bool) {
	if field == "" {
		return decimal.Zero, false
	}
	v, ok := data[field]
	if !ok {
		return decimal.Zero, false
	}
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), true
	case float32:
		return decimal.NewFromFloat(float64(val)), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case int32:
		return decimal.NewFromInt(int64(val)), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err == nil {
			return d, true
		}
	}
	return decimal.Zero, false
}
