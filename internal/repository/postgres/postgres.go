package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL. Environment maps
// are sealed with envKey before they reach the database.
type Repository struct {
	pool   *pgxpool.Pool
	envKey string
}

// New constructs a Repository.
func New(pool *pgxpool.Pool, envKey string) *Repository {
	return &Repository{pool: pool, envKey: envKey}
}

// seq is a BIGSERIAL, so it follows insertion order even when created_at ties.
const (
	projectsByNameQuery = `SELECT id, name, source, created_at, deleted_at FROM projects
		WHERE name = $1 AND deleted_at IS NULL
		ORDER BY seq ASC`
	listProjectsQuery = `SELECT id, name, source, created_at, deleted_at FROM projects
		WHERE deleted_at IS NULL
		ORDER BY seq ASC`
)

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.ContainerRepository  = (*Repository)(nil)
	_ repository.ScaleGroupRepository = (*Repository)(nil)
	_ repository.Store                = (*Repository)(nil)
)

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// UpsertProject inserts a project unless project.ID already exists.
func (r *Repository) UpsertProject(ctx context.Context, project *domain.Project) (string, error) {
	if project == nil || strings.TrimSpace(project.Name) == "" {
		return "", repository.ErrInvalidArgument
	}
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO projects (id, name, source, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET id = projects.id
		RETURNING id`
	var id string
	if err := r.pool.QueryRow(ctx, query, project.ID, project.Name, project.Source, project.CreatedAt).Scan(&id); err != nil {
		return "", mapError(err)
	}
	return id, nil
}

// FindProjectByID fetches a project, including soft-deleted ones.
func (r *Repository) FindProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, name, source, created_at, deleted_at FROM projects WHERE id = $1`
	p, err := scanProject(r.pool.QueryRow(ctx, query, projectID))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

// FindProjectsByName returns live projects named name, oldest first.
func (r *Repository) FindProjectsByName(ctx context.Context, name string) ([]domain.Project, error) {
	return r.queryProjects(ctx, projectsByNameQuery, name)
}

// ListProjects returns live projects, oldest first.
func (r *Repository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return r.queryProjects(ctx, listProjectsQuery)
}

// SoftDeleteProject marks the project deleted without removing history.
func (r *Repository) SoftDeleteProject(ctx context.Context, projectID string, at time.Time) error {
	const query = `UPDATE projects SET deleted_at = COALESCE(deleted_at, $2) WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID, at.UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) queryProjects(ctx context.Context, query string, args ...any) ([]domain.Project, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var (
		p       domain.Project
		deleted sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Source, &p.CreatedAt, &deleted); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	if deleted.Valid {
		ts := deleted.Time.UTC()
		p.DeletedAt = &ts
	}
	return &p, nil
}

// mapError translates driver errors into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23505":
			return repository.ErrConflict
		case "23514", "22P02", "23502":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

func emptyToNil(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func intToNil(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func timePtrToNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	ts := t.Time.UTC()
	return &ts
}
