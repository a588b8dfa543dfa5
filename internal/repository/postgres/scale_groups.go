package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/repository"
	"github.com/jnoller/racer/pkg/crypto"
)

const groupColumns = `id, project_id, service_name, service_id, desired_instances, app_port, host_port, image, environment, command, status, created_at, updated_at`

// SaveScaleGroup inserts or updates a group keyed by id.
func (r *Repository) SaveScaleGroup(ctx context.Context, group *domain.ScaleGroup) error {
	if group == nil || group.DesiredInstances < 1 {
		return repository.ErrInvalidArgument
	}
	return r.saveGroup(ctx, r.pool, group)
}

// SupersedeContainers saves group and deletes the project's single-container rows together.
func (r *Repository) SupersedeContainers(ctx context.Context, group *domain.ScaleGroup, containerIDs []string) error {
	if group == nil || group.DesiredInstances < 1 {
		return repository.ErrInvalidArgument
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if len(containerIDs) > 0 {
		batch := &pgx.Batch{}
		for _, id := range containerIDs {
			batch.Queue(`DELETE FROM containers WHERE container_id = $1`, id)
		}
		br := tx.SendBatch(ctx, batch)
		for range containerIDs {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return mapError(err)
			}
		}
		if err := br.Close(); err != nil {
			return mapError(err)
		}
	}
	if err := r.saveGroup(ctx, tx, group); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) saveGroup(ctx context.Context, q querier, group *domain.ScaleGroup) error {
	env, err := crypto.SealEnv(r.envKey, group.Environment)
	if err != nil {
		return fmt.Errorf("seal environment: %w", err)
	}
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now
	const query = `INSERT INTO scale_groups (id, project_id, service_name, service_id, desired_instances, app_port, host_port, image, environment, command, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			service_id = EXCLUDED.service_id,
			desired_instances = EXCLUDED.desired_instances,
			app_port = EXCLUDED.app_port,
			host_port = EXCLUDED.host_port,
			image = EXCLUDED.image,
			environment = EXCLUDED.environment,
			command = EXCLUDED.command,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at`
	err = q.QueryRow(ctx, query,
		group.ID,
		group.ProjectID,
		group.ServiceName,
		group.ServiceID,
		group.DesiredInstances,
		group.AppPort,
		intToNil(group.HostPort),
		group.Image,
		env,
		emptyToNil(group.Command),
		group.Status,
		group.CreatedAt,
		group.UpdatedAt,
	).Scan(&group.CreatedAt)
	return mapError(err)
}

// ActiveScaleGroup returns the project's active group.
func (r *Repository) ActiveScaleGroup(ctx context.Context, projectID string) (*domain.ScaleGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM scale_groups WHERE project_id = $1 AND status = 'active'`
	g, err := r.scanGroup(r.pool.QueryRow(ctx, query, projectID))
	if err != nil {
		return nil, mapError(err)
	}
	return g, nil
}

// FindScaleGroupByService returns the newest group registered under serviceName.
func (r *Repository) FindScaleGroupByService(ctx context.Context, serviceName string) (*domain.ScaleGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM scale_groups WHERE service_name = $1 ORDER BY seq DESC LIMIT 1`
	g, err := r.scanGroup(r.pool.QueryRow(ctx, query, serviceName))
	if err != nil {
		return nil, mapError(err)
	}
	return g, nil
}

// ListScaleGroups returns all groups, oldest first.
func (r *Repository) ListScaleGroups(ctx context.Context) ([]domain.ScaleGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM scale_groups ORDER BY seq ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	groups := make([]domain.ScaleGroup, 0)
	for rows.Next() {
		g, err := r.scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// UpdateScaleGroupStatus changes a group's status.
func (r *Repository) UpdateScaleGroupStatus(ctx context.Context, groupID, status string, at time.Time) error {
	const query = `UPDATE scale_groups SET status = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, groupID, status, at.UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteScaleGroup removes a group. Missing rows are not an error.
func (r *Repository) DeleteScaleGroup(ctx context.Context, groupID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM scale_groups WHERE id = $1`, groupID)
	return mapError(err)
}

func (r *Repository) scanGroup(row pgx.Row) (*domain.ScaleGroup, error) {
	var (
		g        domain.ScaleGroup
		hostPort sql.NullInt64
		env      []byte
		command  sql.NullString
	)
	if err := row.Scan(&g.ID, &g.ProjectID, &g.ServiceName, &g.ServiceID, &g.DesiredInstances, &g.AppPort, &hostPort, &g.Image, &env, &command, &g.Status, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	if hostPort.Valid {
		g.HostPort = int(hostPort.Int64)
	}
	if command.Valid {
		g.Command = command.String
	}
	decoded, err := crypto.OpenEnv(r.envKey, env)
	if err != nil {
		return nil, fmt.Errorf("scale group %s: %w", g.ID, err)
	}
	g.Environment = decoded
	g.CreatedAt = g.CreatedAt.UTC()
	g.UpdatedAt = g.UpdatedAt.UTC()
	return &g, nil
}
