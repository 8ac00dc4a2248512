package storage

import (
	"testing"

	"github.com/aevon-lab/geoagg/internal/core/table"
	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	tbl, err := table.NewBoundaryTable([]table.Boundary{
		{ID: 7, Geometry: orb.Polygon{}},
		{ID: 3, Geometry: orb.Polygon{}},
	})
	require.NoError(t, err)
	require.NoError(t, tbl.AddColumn("shops_count"))
	require.NoError(t, tbl.AddColumn("roads_length"))
	require.NoError(t, tbl.Set("shops_count", 0, decimal.NewFromInt(2)))
	require.NoError(t, tbl.Set("roads_length", 1, decimal.RequireFromString("12.5")))

	m := Flatten("run-1", 2018, tbl)

	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, 2018, m.Year)
	require.Len(t, m.Rows, 4)

	want := []struct {
		id     int64
		metric string
		value  string
	}{
		{7, "shops_count", "2"},
		{7, "roads_length", "0"},
		{3, "shops_count", "0"},
		{3, "roads_length", "12.5"},
	}
	for i, w := range want {
		assert.Equal(t, w.id, m.Rows[i].BoundaryID)
		assert.Equal(t, w.metric, m.Rows[i].Metric)
		assert.True(t, decimal.RequireFromString(w.value).Equal(m.Rows[i].Value), "row %d", i)
	}
}

func TestFlatten_NoColumns(t *testing.T) {
	tbl, err := table.NewBoundaryTable([]table.Boundary{{ID: 1, Geometry: orb.Polygon{}}})
	require.NoError(t, err)
	assert.Empty(t, Flatten("r", 2020, tbl).Rows)
}
