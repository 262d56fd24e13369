package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/shipwright/internal/models"
)

const channelColumns = "id, project_id, name, is_default, runtime_version, branch_ref, created_at"

// CreateChannel inserts c. If c is the default, the project's previous default is cleared in the same transaction.
func (s *SQLiteStore) CreateChannel(ctx context.Context, c *models.Channel) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := projectExists(ctx, tx, c.ProjectID); err != nil {
			return err
		}
		if c.IsDefault {
			if _, err := tx.ExecContext(ctx, "UPDATE channels SET is_default = 0 WHERE project_id = ?", c.ProjectID); err != nil {
				return dbError("clear default channel", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO channels ("+channelColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
			c.ID, c.ProjectID, c.Name, c.IsDefault, nullString(c.RuntimeVersion), c.BranchRef, toMillis(c.CreatedAt),
		)
		if isUniqueViolation(err) {
			return ErrChannelExists
		}
		if err != nil {
			return dbError("insert channel", err)
		}
		return nil
	})
}

// GetChannel returns the channel with id or ErrChannelNotFound.
func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+channelColumns+" FROM channels WHERE id = ?", id)
	c, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, dbError("scan channel", err)
	}
	return c, nil
}

// ListChannels returns the project's channels by name.
func (s *SQLiteStore) ListChannels(ctx context.Context, projectID string) ([]*models.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE project_id = ? ORDER BY name", projectID)
	if err != nil {
		return nil, dbError("query channels", err)
	}
	defer rows.Close()

	var channels []*models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, dbError("scan channel", err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate channels", err)
	}
	return channels, nil
}

// DeleteChannel removes a channel; its updates, events and metrics cascade.
func (s *SQLiteStore) DeleteChannel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM channels WHERE id = ?", id)
	if err != nil {
		return dbError("delete channel", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// SetDefaultChannel makes channelID the only default channel of projectID.
func (s *SQLiteStore) SetDefaultChannel(ctx context.Context, projectID, channelID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, "SELECT project_id FROM channels WHERE id = ?", channelID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != projectID) {
			return ErrChannelNotFound
		}
		if err != nil {
			return dbError("read channel", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE channels SET is_default = (id = ?) WHERE project_id = ?", channelID, projectID); err != nil {
			return dbError("set default channel", err)
		}
		return nil
	})
}

func projectExists(ctx context.Context, tx *sql.Tx, projectID string) error {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM projects WHERE id = ?", projectID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrProjectNotFound
	}
	if err != nil {
		return dbError("read project", err)
	}
	return nil
}

func scanChannel(row scanner) (*models.Channel, error) {
	var (
		c         models.Channel
		runtime   sql.NullString
		createdAt int64
	)
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &c.IsDefault, &runtime, &c.BranchRef, &createdAt); err != nil {
		return nil, err
	}
	c.RuntimeVersion = runtime.String
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}
