package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/docker"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/service/resolve"
)

// ScaleRequest sets the replica count of a project.
type ScaleRequest struct {
	Ref       resolve.Reference `json:"ref"`
	Instances int               `json:"instances"`
	AppPort   int               `json:"app_port,omitempty"`
}

// ScaleResult reports the group after scaling. Clamped is set when fewer than
// one instance was requested; racer never scales a project to zero.
type ScaleResult struct {
	Group     domain.ScaleGroup `json:"group"`
	Requested int               `json:"requested_instances"`
	Clamped   bool              `json:"clamped"`
	Created   bool              `json:"created"`
	URL       string            `json:"url"`
	Warnings  []string          `json:"warnings"`
}

// ScaleTo converts a project into a replicated service on first use and
// adjusts the replica count afterwards.
func (m *Manager) ScaleTo(ctx context.Context, req ScaleRequest) (ScaleResult, error) {
	const op = "scale"
	started := m.now()
	ref := req.Ref.String()
	if req.Instances < 0 {
		return ScaleResult{}, apperr.New(apperr.KindValidation, op, ref, "instances cannot be negative")
	}
	if req.AppPort < 0 || req.AppPort > 65535 {
		return ScaleResult{}, apperr.New(apperr.KindValidation, op, ref, fmt.Sprintf("app_port %d out of range", req.AppPort))
	}
	instances, clamped := req.Instances, false
	if instances < 1 {
		instances, clamped = 1, true
	}

	target, err := m.resolver.ResolveOne(ctx, req.Ref)
	if err != nil {
		return ScaleResult{}, err
	}
	project := target.Project

	group, err := m.activeGroup(ctx, project.ID)
	if err != nil {
		return ScaleResult{}, storeFailure(op, ref, err)
	}
	result := ScaleResult{Requested: req.Instances, Clamped: clamped, Warnings: []string{}}
	if clamped {
		result.Warnings = append(result.Warnings, "scaling to zero is not permitted; use stop to remove the service")
	}

	if group != nil {
		runCtx, cancel := m.runtimeCtx(ctx)
		defer cancel()
		if err := m.runtime.UpdateService(runCtx, group.ServiceName, docker.ServiceUpdate{Replicas: &instances}); err != nil {
			return ScaleResult{}, m.runtimeFailure(op, ref, err)
		}
		group.DesiredInstances = instances
		group.UpdatedAt = m.now().UTC()
		if err := m.store.SaveScaleGroup(ctx, group); err != nil {
			return ScaleResult{}, m.consistencyFailure(op, ref, err, "service", group.ServiceName)
		}
		result.Group = *group
	} else {
		created, warnings, err := m.createGroup(ctx, op, ref, project, instances, req.AppPort)
		if err != nil {
			return ScaleResult{}, err
		}
		result.Group = created
		result.Created = true
		result.Warnings = append(result.Warnings, warnings...)
	}

	result.URL = docker.ServiceURL(result.Group.HostPort)
	m.metrics.success(op, started)
	m.logger.Info("project scaled", "project_id", project.ID, "service", result.Group.ServiceName, "instances", instances, "created", result.Created)
	m.publish(domain.EventScaled, project, fmt.Sprintf("scaled to %d instances", instances), func(e *domain.Event) {
		e.ServiceName = result.Group.ServiceName
	})
	return result, nil
}

func (m *Manager) createGroup(ctx context.Context, op, ref string, project domain.Project, instances, appPort int) (domain.ScaleGroup, []string, error) {
	containers, err := m.store.ListProjectContainers(ctx, project.ID)
	if err != nil {
		return domain.ScaleGroup{}, nil, storeFailure(op, ref, err)
	}
	if len(containers) == 0 {
		return domain.ScaleGroup{}, nil, apperr.New(apperr.KindNotFound, op, ref, "project has no container to scale from; deploy it first")
	}
	latest := containers[len(containers)-1]
	if latest.Image == "" {
		return domain.ScaleGroup{}, nil, apperr.New(apperr.KindValidation, op, ref, "latest container has no recorded image")
	}
	if appPort == 0 {
		appPort = latest.AppPort
	}
	command, err := parseCommand(latest.Command)
	if err != nil {
		return domain.ScaleGroup{}, nil, apperr.Wrap(apperr.KindValidation, op, ref, err)
	}

	// Phase 1: swarm, port, service, then retire the single containers.
	runCtx, cancel := m.runtimeCtx(ctx)
	defer cancel()
	if err := m.runtime.EnsureSwarm(runCtx); err != nil {
		return domain.ScaleGroup{}, nil, m.runtimeFailure(op, ref, err)
	}
	hostPort, err := m.ports.Allocate(ctx)
	if err != nil {
		return domain.ScaleGroup{}, nil, m.runtimeFailure(op, ref, fmt.Errorf("allocate host port: %w", err))
	}
	defer m.ports.Release(context.WithoutCancel(ctx), hostPort)

	name := serviceName(project.Name, project.ID)
	serviceID, err := m.runtime.CreateService(runCtx, docker.ServiceSpec{
		Name:     name,
		Image:    latest.Image,
		Command:  command,
		Env:      latest.Environment,
		Labels:   docker.ManagedLabels(project.ID, project.Name),
		Replicas: instances,
		AppPort:  appPort,
		HostPort: hostPort,
	})
	if err != nil {
		return domain.ScaleGroup{}, nil, m.runtimeFailure(op, ref, err)
	}
	m.logger.Info("service created", "project_id", project.ID, "service", name, "service_id", serviceID)

	var (
		superseded []string
		warnings   []string
	)
	for _, c := range containers {
		if err := m.runtime.RemoveContainer(runCtx, c.ContainerID); err != nil {
			m.logger.Warn("superseded container not removed", "container_id", c.ContainerID, "error", err)
			warnings = append(warnings, fmt.Sprintf("container %s could not be removed: %v", c.ContainerID, err))
			continue
		}
		superseded = append(superseded, c.ContainerID)
	}

	// Phase 2.
	now := m.now().UTC()
	group := domain.ScaleGroup{
		ID:               uuid.NewString(),
		ProjectID:        project.ID,
		ServiceName:      name,
		ServiceID:        serviceID,
		DesiredInstances: instances,
		AppPort:          appPort,
		HostPort:         hostPort,
		Image:            latest.Image,
		Environment:      domain.CloneEnv(latest.Environment),
		Command:          latest.Command,
		Status:           domain.GroupActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.store.SupersedeContainers(ctx, &group, superseded); err != nil {
		return domain.ScaleGroup{}, nil, m.consistencyFailure(op, ref, err, "service", name)
	}
	return group, warnings, nil
}
