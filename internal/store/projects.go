package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/shipwright/internal/models"
)

// CreateProject registers a project.
func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO projects (id, name, path, provider_project_id, created_at) VALUES (?, ?, ?, ?, ?)",
		p.ID, p.Name, p.Path, nullString(p.ProviderProjectID), toMillis(p.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ErrProjectExists
	}
	if err != nil {
		return dbError("insert project", err)
	}
	return nil
}

// GetProject returns the project with id or ErrProjectNotFound.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, path, provider_project_id, created_at FROM projects WHERE id = ?", id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, dbError("scan project", err)
	}
	return p, nil
}

// ListProjects returns all registered projects by name.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, path, provider_project_id, created_at FROM projects ORDER BY name, id")
	if err != nil {
		return nil, dbError("query projects", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, dbError("scan project", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate projects", err)
	}
	return projects, nil
}

// SetProviderProjectID writes the provider id if none is recorded yet.
func (s *SQLiteStore) SetProviderProjectID(ctx context.Context, id, providerProjectID string) (string, error) {
	var persisted string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE projects SET provider_project_id = ? WHERE id = ? AND provider_project_id IS NULL",
			providerProjectID, id)
		if err != nil {
			return dbError("set provider project id", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			persisted = providerProjectID
			return nil
		}
		var current sql.NullString
		err = tx.QueryRowContext(ctx, "SELECT provider_project_id FROM projects WHERE id = ?", id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProjectNotFound
		}
		if err != nil {
			return dbError("read provider project id", err)
		}
		persisted = current.String
		return nil
	})
	return persisted, err
}

func scanProject(row scanner) (*models.Project, error) {
	var (
		p          models.Project
		providerID sql.NullString
		createdAt  int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Path, &providerID, &createdAt); err != nil {
		return nil, err
	}
	p.ProviderProjectID = providerID.String
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}
