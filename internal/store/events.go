package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/shipwright/internal/models"
)

// DateLayout is the UTC day key of update metrics.
const DateLayout = "2006-01-02"

// AppendEvent stores a device event and bumps the update's coarse counters.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e *models.UpdateEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var counter string
		switch e.EventType {
		case models.EventDownload:
			counter = "download_count"
		case models.EventError:
			counter = "error_count"
		}
		if counter != "" {
			res, err := tx.ExecContext(ctx,
				"UPDATE ota_updates SET "+counter+" = "+counter+" + 1 WHERE id = ?", e.UpdateID)
			if err != nil {
				return dbError("bump update counter", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrUpdateNotFound
			}
		} else if _, err := getUpdate(ctx, tx, e.UpdateID); err != nil {
			return err
		}

		var duration sql.NullInt64
		if e.DurationMS != nil {
			duration = sql.NullInt64{Int64: *e.DurationMS, Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO update_events (id, update_id, event_type, platform, app_version, device_id, duration_ms, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.UpdateID, string(e.EventType), string(e.Platform), e.AppVersion,
			nullString(e.DeviceID), duration, nullString(e.Error), toMillis(e.CreatedAt),
		)
		if err != nil {
			return dbError("insert update event", err)
		}
		return nil
	})
}

// RefreshDailyMetric recomputes the (update, platform, appVersion, day) aggregate
// from the stored events and upserts it. Running it repeatedly is idempotent.
func (s *SQLiteStore) RefreshDailyMetric(ctx context.Context, updateID string, platform models.Platform, appVersion string, day time.Time) (*models.UpdateMetric, error) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	m := &models.UpdateMetric{
		UpdateID:   updateID,
		Platform:   platform,
		AppVersion: appVersion,
		Date:       start.Format(DateLayout),
		UpdatedAt:  s.now().UTC(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT
				COALESCE(SUM(CASE WHEN event_type = 'download' THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN event_type = 'apply' THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN event_type = 'error' THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN event_type = 'rollback' THEN 1 ELSE 0 END), 0),
				COALESCE(AVG(CASE WHEN event_type = 'download' THEN duration_ms END), 0),
				COALESCE(AVG(CASE WHEN event_type = 'apply' THEN duration_ms END), 0)
			FROM update_events
			WHERE update_id = ? AND platform = ? AND app_version = ? AND created_at >= ? AND created_at < ?`,
			updateID, string(platform), appVersion, toMillis(start), toMillis(end),
		).Scan(&m.Downloads, &m.SuccessCount, &m.FailureCount, &m.RollbackCount, &m.AvgDownloadMS, &m.AvgApplyMS)
		if err != nil {
			return dbError("aggregate update events", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO update_metrics (update_id, platform, app_version, date, downloads, success_count,
				failure_count, rollback_count, avg_download_ms, avg_apply_ms, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(update_id, platform, app_version, date) DO UPDATE SET
				downloads = excluded.downloads,
				success_count = excluded.success_count,
				failure_count = excluded.failure_count,
				rollback_count = excluded.rollback_count,
				avg_download_ms = excluded.avg_download_ms,
				avg_apply_ms = excluded.avg_apply_ms,
				updated_at = excluded.updated_at`,
			m.UpdateID, string(m.Platform), m.AppVersion, m.Date, m.Downloads, m.SuccessCount,
			m.FailureCount, m.RollbackCount, m.AvgDownloadMS, m.AvgApplyMS, toMillis(m.UpdatedAt),
		)
		if err != nil {
			return dbError("upsert update metric", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMetrics returns all daily aggregates of an update, newest day first.
func (s *SQLiteStore) ListMetrics(ctx context.Context, updateID string) ([]*models.UpdateMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT update_id, platform, app_version, date, downloads, success_count, failure_count,
			rollback_count, avg_download_ms, avg_apply_ms, updated_at
		FROM update_metrics WHERE update_id = ? ORDER BY date DESC, platform, app_version`, updateID)
	if err != nil {
		return nil, dbError("query update metrics", err)
	}
	defer rows.Close()

	var metrics []*models.UpdateMetric
	for rows.Next() {
		var (
			m         models.UpdateMetric
			platform  string
			updatedAt int64
		)
		if err := rows.Scan(&m.UpdateID, &platform, &m.AppVersion, &m.Date, &m.Downloads, &m.SuccessCount,
			&m.FailureCount, &m.RollbackCount, &m.AvgDownloadMS, &m.AvgApplyMS, &updatedAt); err != nil {
			return nil, dbError("scan update metric", err)
		}
		m.Platform = models.Platform(platform)
		m.UpdatedAt = fromMillis(updatedAt)
		metrics = append(metrics, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate update metrics", err)
	}
	return metrics, nil
}

// TopErrors returns the most frequent error messages reported for an update,
// most recent first among equal counts.
func (s *SQLiteStore) TopErrors(ctx context.Context, updateID string, limit int) ([]models.ErrorFrequency, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT error, COUNT(*) AS n
		FROM update_events
		WHERE update_id = ? AND event_type = 'error' AND error IS NOT NULL AND error != ''
		GROUP BY error
		ORDER BY n DESC, MAX(created_at) DESC
		LIMIT ?`, updateID, limit)
	if err != nil {
		return nil, dbError("query top errors", err)
	}
	defer rows.Close()

	var out []models.ErrorFrequency
	for rows.Next() {
		var f models.ErrorFrequency
		if err := rows.Scan(&f.Message, &f.Count); err != nil {
			return nil, dbError("scan top error", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate top errors", err)
	}
	return out, nil
}
