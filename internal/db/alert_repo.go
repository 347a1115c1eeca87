package db

import (
	"context"
	"time"

	"meetingalert/internal/types"
)

// Schema creates the scheduled_alerts table. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS scheduled_alerts (
    id                  TEXT PRIMARY KEY,
    event_id            TEXT        NOT NULL,
    stage               SMALLINT    NOT NULL CHECK (stage IN (1, 2)),
    scheduled_fire_time TIMESTAMPTZ NOT NULL,
    snooze_count        INTEGER     NOT NULL DEFAULT 0,
    original_fire_time  TIMESTAMPTZ,
    event_title         TEXT        NOT NULL DEFAULT '',
    event_start         TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS scheduled_alerts_fire_time_idx
    ON scheduled_alerts (scheduled_fire_time);
`

// AlertRepository stores the alert table in scheduled_alerts. Every Save
// replaces the table contents inside a single transaction.
type AlertRepository struct {
	db TxDB
}

// NewAlertRepository creates an AlertRepository over db.
func NewAlertRepository(db TxDB) *AlertRepository {
	return &AlertRepository{db: db}
}

// EnsureSchema applies Schema.
func (r *AlertRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return types.NewAppError(types.ErrCodeInternalPersistence, "failed to apply alert schema", err)
	}
	return nil
}

// Save replaces every row with alerts.
//
//	BEGIN;
//	DELETE FROM scheduled_alerts;
//	INSERT INTO scheduled_alerts (...) VALUES (...);  -- once per alert
//	COMMIT;
func (r *AlertRepository) Save(ctx context.Context, alerts []types.ScheduledAlert) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalPersistence, "failed to begin alert transaction", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM scheduled_alerts`); err != nil {
		return types.NewAppError(types.ErrCodeInternalPersistence, "failed to clear alerts", err)
	}

	now := time.Now().UTC()
	for _, a := range alerts {
		_, err := tx.Exec(ctx,
			`INSERT INTO scheduled_alerts (
				id, event_id, stage, scheduled_fire_time, snooze_count,
				original_fire_time, event_title, event_start, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			a.ID,
			a.EventID,
			int(a.Stage),
			a.ScheduledFireTime.UTC(),
			a.SnoozeCount,
			a.OriginalFireTime,
			a.EventTitle,
			a.EventStart.UTC(),
			now,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalPersistence, "failed to insert alert", err).
				WithDetails(map[string]any{"alert_id": a.ID})
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalPersistence, "failed to commit alerts", err)
	}
	return nil
}

// Load returns every row ordered by fire time.
func (r *AlertRepository) Load(ctx context.Context) ([]types.ScheduledAlert, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, event_id, stage, scheduled_fire_time, snooze_count,
		        original_fire_time, event_title, event_start
		 FROM scheduled_alerts
		 ORDER BY scheduled_fire_time, id`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalPersistence, "failed to query alerts", err)
	}
	defer rows.Close()

	var alerts []types.ScheduledAlert
	for rows.Next() {
		var (
			a     types.ScheduledAlert
			stage int
		)
		if err := rows.Scan(
			&a.ID,
			&a.EventID,
			&stage,
			&a.ScheduledFireTime,
			&a.SnoozeCount,
			&a.OriginalFireTime,
			&a.EventTitle,
			&a.EventStart,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalPersistence, "failed to scan alert row", err)
		}
		a.Stage = types.AlertStage(stage)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalPersistence, "error iterating alert rows", err)
	}
	return alerts, nil
}
