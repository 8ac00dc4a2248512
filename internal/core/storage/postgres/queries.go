package postgres

// SQL for the per-year metrics table.

const (
	// queryValidateSchema checks that migrations have created the table.
	queryValidateSchema = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = 'prefecture_metrics'
		)
	`

	// queryDeleteYear clears a year before it is rewritten so columns that a
	// rerun no longer produces do not linger.
	queryDeleteYear = `DELETE FROM prefecture_metrics WHERE year = $1`

	queryUpsertMetric = `
		INSERT INTO prefecture_metrics (
			run_id, year, boundary_id, metric, value, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (year, boundary_id, metric)
		DO UPDATE SET
			run_id     = EXCLUDED.run_id,
			value      = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`

	queryLoadYear = `
		SELECT boundary_id, metric, value
		FROM prefecture_metrics
		WHERE year = $1
		ORDER BY boundary_id ASC, metric ASC
	`
)
