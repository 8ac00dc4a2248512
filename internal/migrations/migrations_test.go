package migrations

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSource_EmbedsPairedMigrations(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	require.Equal(t, uint(1), first)

	up, _, err := src.ReadUp(first)
	require.NoError(t, err)
	body, err := io.ReadAll(up)
	require.NoError(t, err)
	up.Close()
	require.Contains(t, string(body), "prefecture_metrics")
	require.True(t, strings.Contains(string(body), "PRIMARY KEY (year, boundary_id, metric)"))

	down, _, err := src.ReadDown(first)
	require.NoError(t, err)
	down.Close()
}
