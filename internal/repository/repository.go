package repository

import (
	"context"
	"time"

	"github.com/jnoller/racer/internal/domain"
)

// ProjectRepository persists projects.
type ProjectRepository interface {
	// UpsertProject returns the id of project, inserting it when project.ID is
	// empty or unknown. An empty name yields ErrInvalidArgument.
	UpsertProject(ctx context.Context, project *domain.Project) (string, error)
	FindProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	FindProjectsByName(ctx context.Context, name string) ([]domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	SoftDeleteProject(ctx context.Context, projectID string, at time.Time) error
}

// ContainerRepository stores container records.
type ContainerRepository interface {
	// RecordContainer inserts a record. Unknown projects yield ErrNotFound and
	// a host port already held by an active record yields ErrConflict.
	RecordContainer(ctx context.Context, record *domain.ContainerRecord) error
	// ReplaceContainer atomically deletes oldContainerID and records next.
	ReplaceContainer(ctx context.Context, oldContainerID string, next *domain.ContainerRecord) error
	FindContainer(ctx context.Context, containerID string) (*domain.ContainerRecord, error)
	ListProjectContainers(ctx context.Context, projectID string) ([]domain.ContainerRecord, error)
	ListContainers(ctx context.Context) ([]domain.ContainerRecord, error)
	UpdateContainerStatus(ctx context.Context, containerID, status string, at time.Time) error
	// DeleteContainer is idempotent.
	DeleteContainer(ctx context.Context, containerID string) error
	DeleteStoppedContainers(ctx context.Context) ([]domain.ContainerRecord, error)
	// ActiveHostPorts lists host ports held by active containers and active scale groups.
	ActiveHostPorts(ctx context.Context) ([]int, error)
}

// ScaleGroupRepository stores orchestrated service groups.
type ScaleGroupRepository interface {
	// SaveScaleGroup inserts or updates a group keyed by its id.
	SaveScaleGroup(ctx context.Context, group *domain.ScaleGroup) error
	ActiveScaleGroup(ctx context.Context, projectID string) (*domain.ScaleGroup, error)
	FindScaleGroupByService(ctx context.Context, serviceName string) (*domain.ScaleGroup, error)
	ListScaleGroups(ctx context.Context) ([]domain.ScaleGroup, error)
	UpdateScaleGroupStatus(ctx context.Context, groupID, status string, at time.Time) error
	DeleteScaleGroup(ctx context.Context, groupID string) error
}

// Store bundles every repository the lifecycle manager writes through.
type Store interface {
	ProjectRepository
	ContainerRepository
	ScaleGroupRepository
	// SupersedeContainers saves group and deletes the listed container rows in one transaction.
	SupersedeContainers(ctx context.Context, group *domain.ScaleGroup, containerIDs []string) error
	Ping(ctx context.Context) error
}
