package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/shipwright/internal/models"
)

const updateColumns = `id, channel_id, version, external_update_id, group_id, manifest_url, runtime_version,
	platform, message, change_type, status, rollout_percent, download_count, error_count,
	can_rollback, rolled_back_to, published_at`

// InsertUpdate persists a published update as active. Its version is assigned
// as max+1 for the channel inside the transaction; at 100% rollout every other
// active update of the channel is archived in the same transaction.
func (s *SQLiteStore) InsertUpdate(ctx context.Context, u *models.OTAUpdate) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.PublishedAt.IsZero() {
		u.PublishedAt = s.now().UTC()
	}
	u.Status = models.UpdateActive

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM channels WHERE id = ?", u.ChannelID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrChannelNotFound
		}
		if err != nil {
			return dbError("read channel", err)
		}

		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(version), 0) + 1 FROM ota_updates WHERE channel_id = ?", u.ChannelID,
		).Scan(&u.Version); err != nil {
			return dbError("assign update version", err)
		}

		if u.RolloutPercent >= 100 {
			if err := archiveOtherActive(ctx, tx, u.ChannelID, u.ID); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO ota_updates ("+updateColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			u.ID, u.ChannelID, u.Version, u.ExternalUpdateID, u.GroupID, u.ManifestURL, u.RuntimeVersion,
			string(u.Platform), u.Message, u.ChangeType, string(u.Status), u.RolloutPercent,
			u.DownloadCount, u.ErrorCount, u.CanRollback, nullString(u.RolledBackTo), toMillis(u.PublishedAt),
		)
		if err != nil {
			return dbError("insert update", err)
		}
		return nil
	})
}

// GetUpdate returns the update with id or ErrUpdateNotFound.
func (s *SQLiteStore) GetUpdate(ctx context.Context, id string) (*models.OTAUpdate, error) {
	return getUpdate(ctx, s.db, id)
}

// ListUpdates returns the channel's updates, newest version first.
func (s *SQLiteStore) ListUpdates(ctx context.Context, channelID string) ([]*models.OTAUpdate, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+updateColumns+" FROM ota_updates WHERE channel_id = ? ORDER BY version DESC", channelID)
	if err != nil {
		return nil, dbError("query updates", err)
	}
	defer rows.Close()

	var updates []*models.OTAUpdate
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, dbError("scan update", err)
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate updates", err)
	}
	return updates, nil
}

// SetRolloutPercent raises the rollout of an active update. Lowering it is
// rejected with ErrRolloutDecrease; reaching 100 archives the channel's other
// active updates atomically.
func (s *SQLiteStore) SetRolloutPercent(ctx context.Context, id string, percent int) (*models.OTAUpdate, error) {
	var out *models.OTAUpdate
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		u, err := getUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if u.Status != models.UpdateActive {
			return ErrUpdateNotActive
		}
		if percent < u.RolloutPercent {
			return ErrRolloutDecrease
		}
		if percent == u.RolloutPercent {
			out = u
			return nil
		}
		if percent >= 100 {
			if err := archiveOtherActive(ctx, tx, u.ChannelID, u.ID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE ota_updates SET rollout_percent = ? WHERE id = ?", percent, id); err != nil {
			return dbError("update rollout", err)
		}
		u.RolloutPercent = percent
		out = u
		return nil
	})
	return out, err
}

// Rollback retires sourceID and reactivates targetID at 100% in one transaction.
// An empty targetID selects the highest earlier version of the channel that was
// not itself rolled back.
func (s *SQLiteStore) Rollback(ctx context.Context, sourceID, targetID string) (source, target *models.OTAUpdate, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		src, err := getUpdate(ctx, tx, sourceID)
		if err != nil {
			return err
		}
		if src.Status != models.UpdateActive || !src.CanRollback {
			return ErrNotRollbackable
		}

		var tgt *models.OTAUpdate
		if targetID != "" {
			tgt, err = getUpdate(ctx, tx, targetID)
			if errors.Is(err, ErrUpdateNotFound) {
				return ErrNoPreviousVersion
			}
			if err != nil {
				return err
			}
			if tgt.ChannelID != src.ChannelID || tgt.ID == src.ID {
				return ErrNoPreviousVersion
			}
		} else {
			row := tx.QueryRowContext(ctx,
				"SELECT "+updateColumns+` FROM ota_updates
				WHERE channel_id = ? AND version < ? AND status != ?
				ORDER BY version DESC LIMIT 1`,
				src.ChannelID, src.Version, string(models.UpdateRolledBack))
			tgt, err = scanUpdate(row)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoPreviousVersion
			}
			if err != nil {
				return dbError("select rollback target", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE ota_updates SET status = ?, can_rollback = 0, rolled_back_to = ? WHERE id = ?",
			string(models.UpdateRolledBack), tgt.ID, src.ID); err != nil {
			return dbError("mark update rolled back", err)
		}
		if err := archiveOtherActive(ctx, tx, src.ChannelID, tgt.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE ota_updates SET status = ?, rollout_percent = 100 WHERE id = ?",
			string(models.UpdateActive), tgt.ID); err != nil {
			return dbError("reactivate update", err)
		}

		src.Status = models.UpdateRolledBack
		src.CanRollback = false
		src.RolledBackTo = tgt.ID
		tgt.Status = models.UpdateActive
		tgt.RolloutPercent = 100
		source, target = src, tgt
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return source, target, nil
}

// archiveOtherActive archives every active update of the channel except keepID.
func archiveOtherActive(ctx context.Context, tx *sql.Tx, channelID, keepID string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE ota_updates SET status = ? WHERE channel_id = ? AND status = ? AND id != ?",
		string(models.UpdateArchived), channelID, string(models.UpdateActive), keepID)
	if err != nil {
		return dbError("archive active updates", err)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getUpdate(ctx context.Context, q queryRower, id string) (*models.OTAUpdate, error) {
	row := q.QueryRowContext(ctx, "SELECT "+updateColumns+" FROM ota_updates WHERE id = ?", id)
	u, err := scanUpdate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUpdateNotFound
	}
	if err != nil {
		return nil, dbError("scan update", err)
	}
	return u, nil
}

func scanUpdate(row scanner) (*models.OTAUpdate, error) {
	var (
		u                models.OTAUpdate
		platform, status string
		rolledBackTo     sql.NullString
		publishedAt      int64
	)
	err := row.Scan(&u.ID, &u.ChannelID, &u.Version, &u.ExternalUpdateID, &u.GroupID, &u.ManifestURL,
		&u.RuntimeVersion, &platform, &u.Message, &u.ChangeType, &status, &u.RolloutPercent,
		&u.DownloadCount, &u.ErrorCount, &u.CanRollback, &rolledBackTo, &publishedAt)
	if err != nil {
		return nil, err
	}
	u.Platform = models.Platform(platform)
	u.Status = models.UpdateStatus(status)
	u.RolledBackTo = rolledBackTo.String
	u.PublishedAt = fromMillis(publishedAt)
	return &u, nil
}
