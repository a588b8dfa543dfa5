package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/repository"
	"github.com/jnoller/racer/pkg/crypto"
)

const containerColumns = `id, container_id, container_name, project_id, host_port, app_port, environment, command, image, status, created_at, started_at, stopped_at`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RecordContainer inserts a container record.
func (r *Repository) RecordContainer(ctx context.Context, record *domain.ContainerRecord) error {
	if record == nil || record.ContainerID == "" {
		return repository.ErrInvalidArgument
	}
	return r.insertContainer(ctx, r.pool, record)
}

// ReplaceContainer deletes the old record and inserts next in one transaction.
func (r *Repository) ReplaceContainer(ctx context.Context, oldContainerID string, next *domain.ContainerRecord) error {
	if next == nil || next.ContainerID == "" {
		return repository.ErrInvalidArgument
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM containers WHERE container_id = $1`, oldContainerID); err != nil {
		return mapError(err)
	}
	if err := r.insertContainer(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) insertContainer(ctx context.Context, q querier, record *domain.ContainerRecord) error {
	env, err := crypto.SealEnv(r.envKey, record.Environment)
	if err != nil {
		return fmt.Errorf("seal environment: %w", err)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO containers (container_id, container_name, project_id, host_port, app_port, environment, command, image, status, created_at, started_at, stopped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	err = q.QueryRow(ctx, query,
		record.ContainerID,
		record.ContainerName,
		record.ProjectID,
		intToNil(record.HostPort),
		record.AppPort,
		env,
		emptyToNil(record.Command),
		record.Image,
		record.Status,
		record.CreatedAt.UTC(),
		timePtrToNil(record.StartedAt),
		timePtrToNil(record.StoppedAt),
	).Scan(&record.ID)
	return mapError(err)
}

// FindContainer fetches the record for a runtime container id.
func (r *Repository) FindContainer(ctx context.Context, containerID string) (*domain.ContainerRecord, error) {
	query := `SELECT ` + containerColumns + ` FROM containers WHERE container_id = $1`
	c, err := r.scanContainer(r.pool.QueryRow(ctx, query, containerID))
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

// ListProjectContainers returns records of a project in insertion order.
func (r *Repository) ListProjectContainers(ctx context.Context, projectID string) ([]domain.ContainerRecord, error) {
	query := `SELECT ` + containerColumns + ` FROM containers WHERE project_id = $1 ORDER BY id ASC`
	return r.queryContainers(ctx, query, projectID)
}

// ListContainers returns all tracked records in insertion order.
func (r *Repository) ListContainers(ctx context.Context) ([]domain.ContainerRecord, error) {
	query := `SELECT ` + containerColumns + ` FROM containers ORDER BY id ASC`
	return r.queryContainers(ctx, query)
}

// UpdateContainerStatus caches the runtime-reported status.
func (r *Repository) UpdateContainerStatus(ctx context.Context, containerID, status string, at time.Time) error {
	const query = `UPDATE containers SET
			status = $2,
			started_at = CASE WHEN $2 = 'running' THEN COALESCE(started_at, $3) ELSE started_at END,
			stopped_at = CASE WHEN $2 IN ('stopped', 'failed') THEN $3 ELSE stopped_at END
		WHERE container_id = $1`
	tag, err := r.pool.Exec(ctx, query, containerID, status, at.UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteContainer removes container metadata. Missing rows are not an error.
func (r *Repository) DeleteContainer(ctx context.Context, containerID string) error {
	const query = `DELETE FROM containers WHERE container_id = $1`
	_, err := r.pool.Exec(ctx, query, containerID)
	return mapError(err)
}

// DeleteStoppedContainers removes stopped and failed records and returns what was removed.
func (r *Repository) DeleteStoppedContainers(ctx context.Context) ([]domain.ContainerRecord, error) {
	query := `DELETE FROM containers WHERE status IN ('stopped', 'failed') RETURNING ` + containerColumns
	return r.queryContainers(ctx, query)
}

// ActiveHostPorts lists host ports held by live containers and active scale groups.
func (r *Repository) ActiveHostPorts(ctx context.Context) ([]int, error) {
	const query = `SELECT host_port FROM containers
			WHERE host_port IS NOT NULL AND status IN ('starting', 'running', 'stopping')
		UNION
		SELECT host_port FROM scale_groups
			WHERE host_port IS NOT NULL AND status = 'active'
		ORDER BY 1`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var ports []int
	for rows.Next() {
		var port int
		if err := rows.Scan(&port); err != nil {
			return nil, err
		}
		ports = append(ports, port)
	}
	return ports, rows.Err()
}

func (r *Repository) queryContainers(ctx context.Context, query string, args ...any) ([]domain.ContainerRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var containers []domain.ContainerRecord
	for rows.Next() {
		c, err := r.scanContainer(rows)
		if err != nil {
			return nil, err
		}
		containers = append(containers, *c)
	}
	return containers, rows.Err()
}

func (r *Repository) scanContainer(row pgx.Row) (*domain.ContainerRecord, error) {
	var (
		c        domain.ContainerRecord
		hostPort sql.NullInt64
		env      []byte
		command  sql.NullString
		started  sql.NullTime
		stopped  sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.ContainerID, &c.ContainerName, &c.ProjectID, &hostPort, &c.AppPort, &env, &command, &c.Image, &c.Status, &c.CreatedAt, &started, &stopped); err != nil {
		return nil, err
	}
	if hostPort.Valid {
		c.HostPort = int(hostPort.Int64)
	}
	if command.Valid {
		c.Command = command.String
	}
	decoded, err := crypto.OpenEnv(r.envKey, env)
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", c.ContainerID, err)
	}
	c.Environment = decoded
	c.CreatedAt = c.CreatedAt.UTC()
	c.StartedAt = nullTimePtr(started)
	c.StoppedAt = nullTimePtr(stopped)
	return &c, nil
}
