package store

import (
	"database/sql"
	"time"
)

// ForecastRun is an audit record of one forecast request.
type ForecastRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	City              string
	ModelVersion      sql.NullString
	DaysAhead         int
	Points            sql.NullInt64
	CorrectionApplied bool
	BaseResidual      sql.NullFloat64
	CorrectionReason  sql.NullString
	Success           bool
	ErrorMessage      sql.NullString
}

// RecordForecastRun inserts a completed run and sets its ID.
func (s *Store) RecordForecastRun(run *ForecastRun) error {
	if run == nil {
		return nil
	}
	if !run.FinishedAt.Valid {
		run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO forecast_runs (started_at, finished_at, city, model_version, days_ahead, points,
			correction_applied, base_residual, correction_reason, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.StartedAt, run.FinishedAt, NormalizeCity(run.City), run.ModelVersion, run.DaysAhead, run.Points,
		run.CorrectionApplied, run.BaseResidual, run.CorrectionReason, run.Success, run.ErrorMessage)
	if err != nil {
		return err
	}

	run.ID, err = result.LastInsertId()
	return err
}

// RecentForecastRuns returns the latest runs for a city, newest first.
func (s *Store) RecentForecastRuns(city string, limit int) ([]ForecastRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, city, model_version, days_ahead, points,
			correction_applied, base_residual, correction_reason, success, error_message
		FROM forecast_runs
		WHERE city = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, NormalizeCity(city), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ForecastRun
	for rows.Next() {
		var r ForecastRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.City, &r.ModelVersion, &r.DaysAhead, &r.Points,
			&r.CorrectionApplied, &r.BaseResidual, &r.CorrectionReason, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
