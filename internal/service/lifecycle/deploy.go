package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/docker"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/repository"
)

// DeployRequest describes a new single-container deployment.
type DeployRequest struct {
	Name           string            `json:"project_name" validate:"required,max=200"`
	Source         string            `json:"source" validate:"required"`
	AppPort        int               `json:"app_port,omitempty" validate:"omitempty,min=1,max=65535"`
	Env            map[string]string `json:"environment,omitempty"`
	Command        string            `json:"command,omitempty"`
	CustomCommands []string          `json:"custom_commands,omitempty"`
	// ProjectID deploys another container into an existing project instead of creating one.
	ProjectID string `json:"project_id,omitempty"`
}

// DeployResult is the outcome of a deployment.
type DeployResult struct {
	Project   domain.Project         `json:"project"`
	Container domain.ContainerRecord `json:"container"`
	URL       string                 `json:"url"`
	Warnings  []string               `json:"warnings"`
}

// Deploy validates and builds the source, starts exactly one container on a
// freshly allocated host port, then records the project and the container.
func (m *Manager) Deploy(ctx context.Context, req DeployRequest) (DeployResult, error) {
	const op = "deploy"
	started := m.now()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return DeployResult{}, apperr.New(apperr.KindValidation, op, "", "project_name is required")
	}
	if strings.TrimSpace(req.Source) == "" {
		return DeployResult{}, apperr.New(apperr.KindValidation, op, name, "source path or git url is required")
	}
	appPort := req.AppPort
	if appPort == 0 {
		appPort = defaultAppPort
	}
	if appPort < 1 || appPort > 65535 {
		return DeployResult{}, apperr.New(apperr.KindValidation, op, name, fmt.Sprintf("app_port %d out of range", appPort))
	}
	command, err := parseCommand(req.Command)
	if err != nil {
		return DeployResult{}, apperr.Wrap(apperr.KindValidation, op, name, err)
	}
	if m.builder == nil || m.sources == nil {
		return DeployResult{}, apperr.New(apperr.KindInternal, op, name, "image builder not configured")
	}

	project := domain.Project{ID: uuid.NewString(), Name: name, Source: strings.TrimSpace(req.Source)}
	if id := strings.TrimSpace(req.ProjectID); id != "" {
		existing, err := m.store.FindProjectByID(ctx, id)
		if err != nil {
			return DeployResult{}, storeFailure(op, id, err)
		}
		if existing.Deleted() {
			return DeployResult{}, apperr.New(apperr.KindNotFound, op, id, "project was removed")
		}
		project = *existing
	}

	// Phase 1: source, image, port, container.
	checkout, err := m.sources.Resolve(ctx, project.Source)
	if err != nil {
		m.metrics.failure(op, apperr.KindSource)
		return DeployResult{}, apperr.Wrap(apperr.KindSource, op, name, err)
	}
	defer checkout.Release()

	validation := m.validate(checkout.Dir)
	if !validation.Valid {
		m.metrics.failure(op, apperr.KindSource)
		return DeployResult{}, apperr.New(apperr.KindSource, op, name, strings.Join(validation.Issues, "; "))
	}

	image, err := m.builder.BuildImage(ctx, checkout.Dir, name, req.CustomCommands)
	if err != nil {
		return DeployResult{}, m.runtimeFailure(op, name, fmt.Errorf("build image: %w", err))
	}

	hostPort, err := m.ports.Allocate(ctx)
	if err != nil {
		return DeployResult{}, m.runtimeFailure(op, name, fmt.Errorf("allocate host port: %w", err))
	}
	defer m.ports.Release(context.WithoutCancel(ctx), hostPort)

	env := domain.CloneEnv(req.Env)
	runCtx, cancel := m.runtimeCtx(ctx)
	defer cancel()
	state, err := m.runtime.RunContainer(runCtx, docker.RunSpec{
		Name:     containerName(name, m.now()),
		Image:    image,
		Command:  command,
		Env:      env,
		Labels:   docker.ManagedLabels(project.ID, project.Name),
		AppPort:  appPort,
		HostPort: hostPort,
	})
	if err != nil {
		m.publish(domain.EventFailed, project, "container failed to start", nil)
		return DeployResult{}, m.runtimeFailure(op, name, err)
	}
	m.logger.Info("container started", "project_id", project.ID, "container_id", state.ID, "host_port", hostPort)

	// Phase 2: persist.
	now := m.now().UTC()
	if _, err := m.store.UpsertProject(ctx, &project); err != nil {
		return DeployResult{}, m.consistencyFailure(op, name, err, "container_id", state.ID)
	}
	record := domain.ContainerRecord{
		ContainerID:   state.ID,
		ContainerName: state.Name,
		ProjectID:     project.ID,
		HostPort:      hostPort,
		AppPort:       appPort,
		Environment:   env,
		Command:       strings.TrimSpace(req.Command),
		Image:         image,
		Status:        recordStatus(state),
		CreatedAt:     now,
	}
	if !state.StartedAt.IsZero() {
		startedAt := state.StartedAt.UTC()
		record.StartedAt = &startedAt
	}
	if err := m.store.RecordContainer(ctx, &record); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			err = fmt.Errorf("host port %d already recorded: %w", hostPort, err)
		}
		return DeployResult{}, m.consistencyFailure(op, name, err, "container_id", state.ID, "project_id", project.ID)
	}

	m.metrics.success(op, started)
	m.logger.Info("project deployed", "project_id", project.ID, "project_name", project.Name, "container_id", record.ContainerID)
	m.publish(domain.EventDeployed, project, fmt.Sprintf("deployed on port %d", hostPort), func(e *domain.Event) {
		e.ContainerID = record.ContainerID
	})
	return DeployResult{
		Project:   project,
		Container: record,
		URL:       docker.ServiceURL(hostPort),
		Warnings:  validation.Warnings,
	}, nil
}
