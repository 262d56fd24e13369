package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/shipwright/internal/models"
)

const buildColumns = `id, project_id, platform, version, profile, status, external_build_id,
	artifact_ref, logs_ref, error_summary, created_at, started_at, completed_at`

// CreateBuild inserts b. Empty ID and zero CreatedAt are filled in; a version
// <= 0 is replaced by the next version for (project, platform) in the same transaction.
func (s *SQLiteStore) CreateBuild(ctx context.Context, b *models.Build) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now().UTC()
	}
	if b.Status == "" {
		b.Status = models.BuildQueued
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if b.Version <= 0 {
			err := tx.QueryRowContext(ctx,
				"SELECT COALESCE(MAX(version), 0) + 1 FROM builds WHERE project_id = ? AND platform = ?",
				b.ProjectID, string(b.Platform),
			).Scan(&b.Version)
			if err != nil {
				return dbError("assign build version", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO builds (`+buildColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.ProjectID, string(b.Platform), b.Version, string(b.Profile), string(b.Status),
			nullString(b.ExternalBuildID), nullString(b.ArtifactRef), nullString(b.LogsRef), nullString(b.ErrorSummary),
			toMillis(b.CreatedAt), nullMillis(b.StartedAt), nullMillis(b.CompletedAt),
		)
		if err != nil {
			return dbError("insert build", err)
		}
		return nil
	})
}

// GetBuild returns the build with id or ErrBuildNotFound.
func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*models.Build, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+buildColumns+" FROM builds WHERE id = ?", id)
	return scanBuildRow(row)
}

// GetBuildByExternalID looks a build up by the provider's build id.
func (s *SQLiteStore) GetBuildByExternalID(ctx context.Context, externalID string) (*models.Build, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+buildColumns+" FROM builds WHERE external_build_id = ?", externalID)
	return scanBuildRow(row)
}

// ListBuilds returns a page of builds, newest first, and the total match count.
func (s *SQLiteStore) ListBuilds(ctx context.Context, filter models.BuildFilter) ([]*models.Build, int, error) {
	var where []string
	var args []any
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, string(filter.Platform))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM builds"+clause, args...).Scan(&total); err != nil {
		return nil, 0, dbError("count builds", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := max(filter.Offset, 0)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+buildColumns+" FROM builds"+clause+" ORDER BY created_at DESC, id LIMIT ? OFFSET ?",
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, dbError("query builds", err)
	}
	defer rows.Close()

	builds, err := scanBuilds(rows)
	if err != nil {
		return nil, 0, err
	}
	return builds, total, nil
}

// ListBuildsByStatus returns all builds in any of the given statuses, oldest first.
func (s *SQLiteStore) ListBuildsByStatus(ctx context.Context, statuses ...models.BuildStatus) ([]*models.Build, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+buildColumns+" FROM builds WHERE status IN ("+placeholders(len(args))+") ORDER BY created_at, id",
		args...,
	)
	if err != nil {
		return nil, dbError("query builds by status", err)
	}
	defer rows.Close()
	return scanBuilds(rows)
}

// TransitionBuild performs a conditional status write.
func (s *SQLiteStore) TransitionBuild(ctx context.Context, id string, to models.BuildStatus, m BuildMutation) (bool, error) {
	from := models.AllowedFrom(to)
	if len(from) == 0 {
		return false, nil
	}
	at := m.At
	if at.IsZero() {
		at = s.now()
	}

	sets := []string{"status = ?"}
	args := []any{string(to)}
	if m.ExternalBuildID != "" {
		sets = append(sets, "external_build_id = COALESCE(external_build_id, ?)")
		args = append(args, m.ExternalBuildID)
	}
	if m.ErrorSummary != "" {
		sets = append(sets, "error_summary = ?")
		args = append(args, m.ErrorSummary)
	}
	if to == models.BuildBuilding {
		sets = append(sets, "started_at = COALESCE(started_at, ?)")
		args = append(args, toMillis(at))
	}
	if to.Terminal() {
		sets = append(sets, "completed_at = ?")
		args = append(args, toMillis(at))
	}

	args = append(args, id)
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE builds SET "+strings.Join(sets, ", ")+" WHERE id = ? AND status IN ("+placeholders(len(from))+")",
		args...,
	)
	if err != nil {
		return false, dbError("transition build", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbError("transition build", err)
	}
	return n == 1, nil
}

// SetArtifactRef records the stored artifact key of a build.
func (s *SQLiteStore) SetArtifactRef(ctx context.Context, id, ref string) error {
	return s.setBuildColumn(ctx, "artifact_ref", id, ref)
}

// SetLogsRef records the stored logs key of a build.
func (s *SQLiteStore) SetLogsRef(ctx context.Context, id, ref string) error {
	return s.setBuildColumn(ctx, "logs_ref", id, ref)
}

func (s *SQLiteStore) setBuildColumn(ctx context.Context, column, id, value string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE builds SET "+column+" = ? WHERE id = ?", value, id)
	if err != nil {
		return dbError("update build "+column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBuildNotFound
	}
	return nil
}

func scanBuildRow(row scanner) (*models.Build, error) {
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBuildNotFound
	}
	if err != nil {
		return nil, dbError("scan build", err)
	}
	return b, nil
}

func scanBuilds(rows *sql.Rows) ([]*models.Build, error) {
	var builds []*models.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, dbError("scan build", err)
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate builds", err)
	}
	return builds, nil
}

func scanBuild(row scanner) (*models.Build, error) {
	var (
		b                                        models.Build
		platform, profile, status                string
		externalID, artifactRef, logsRef, errSum sql.NullString
		createdAt                                int64
		startedAt, completedAt                   sql.NullInt64
	)
	err := row.Scan(&b.ID, &b.ProjectID, &platform, &b.Version, &profile, &status, &externalID,
		&artifactRef, &logsRef, &errSum, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	b.Platform = models.Platform(platform)
	b.Profile = models.Profile(profile)
	b.Status = models.BuildStatus(status)
	b.ExternalBuildID = externalID.String
	b.ArtifactRef = artifactRef.String
	b.LogsRef = logsRef.String
	b.ErrorSummary = errSum.String
	b.CreatedAt = fromMillis(createdAt)
	b.StartedAt = timePtr(startedAt)
	b.CompletedAt = timePtr(completedAt)
	return &b, nil
}
