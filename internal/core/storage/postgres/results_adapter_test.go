package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aevon-lab/geoagg/internal/core/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) (*ResultsAdapter, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	adapter := NewResultsAdapter(db)
	adapter.now = func() time.Time { return now }
	t.Cleanup(func() { db.Close() })
	return adapter, mock, now
}

func TestResultsAdapter_SaveYearReplacesYear(t *testing.T) {
	adapter, mock, now := newTestAdapter(t)

	m := storage.YearMetrics{
		RunID: "run-1",
		Year:  2018,
		Rows: []storage.MetricRow{
			{BoundaryID: 1, Metric: "shops_count", Value: decimal.NewFromInt(2)},
			{BoundaryID: 2, Metric: "shops_count", Value: decimal.NewFromInt(1)},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM prefecture_metrics WHERE year = $1`)).
		WithArgs(2018).
		WillReturnResult(sqlmock.NewResult(0, 5))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`
		INSERT INTO prefecture_metrics (
			run_id, year, boundary_id, metric, value, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (year, boundary_id, metric)
		DO UPDATE SET
			run_id     = EXCLUDED.run_id,
			value      = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`))
	prep.ExpectExec().
		WithArgs("run-1", 2018, int64(1), "shops_count", "2", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("run-1", 2018, int64(2), "shops_count", "1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, adapter.SaveYear(context.Background(), m))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultsAdapter_SaveYearRollsBackOnUpsertFailure(t *testing.T) {
	adapter, mock, _ := newTestAdapter(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM prefecture_metrics WHERE year = $1`)).
		WithArgs(2019).
		WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO prefecture_metrics`))
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := adapter.SaveYear(context.Background(), storage.YearMetrics{
		RunID: "run-2",
		Year:  2019,
		Rows:  []storage.MetricRow{{BoundaryID: 1, Metric: "roads_length", Value: decimal.RequireFromString("10.5")}},
	})
	require.ErrorContains(t, err, "disk full")
	require.ErrorContains(t, err, "roads_length/1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultsAdapter_LoadYear(t *testing.T) {
	adapter, mock, _ := newTestAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT boundary_id, metric, value
		FROM prefecture_metrics
		WHERE year = $1
		ORDER BY boundary_id ASC, metric ASC
	`)).WithArgs(2020).WillReturnRows(
		sqlmock.NewRows([]string{"boundary_id", "metric", "value"}).
			AddRow(int64(1), "parks_area", "1523.75").
			AddRow(int64(1), "shops_count", "3"),
	)

	rows, err := adapter.LoadYear(context.Background(), 2020)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "parks_area", rows[0].Metric)
	require.True(t, decimal.RequireFromString("1523.75").Equal(rows[0].Value))
	require.True(t, decimal.NewFromInt(3).Equal(rows[1].Value))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultsAdapter_LoadYearRejectsBadValue(t *testing.T) {
	adapter, mock, _ := newTestAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM prefecture_metrics`)).WithArgs(2020).WillReturnRows(
		sqlmock.NewRows([]string{"boundary_id", "metric", "value"}).AddRow(int64(1), "shops_count", "abc"),
	)

	_, err := adapter.LoadYear(context.Background(), 2020)
	require.ErrorContains(t, err, "invalid value")
}

func TestValidateSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err = ValidateSchema(context.Background(), db)
	require.ErrorContains(t, err, "does not exist")
	require.NoError(t, mock.ExpectationsWereMet())
}
