package lifecycle

import (
	"context"
	"fmt"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/docker"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/service/resolve"
)

// StopRequest stops a project. Force skips the grace period; Remove also
// deletes the containers and their records and soft-deletes the project.
type StopRequest struct {
	Ref    resolve.Reference `json:"ref"`
	Force  bool              `json:"force"`
	Remove bool              `json:"remove"`
}

// StopResult lists what was stopped or removed.
type StopResult struct {
	Project        domain.Project `json:"project"`
	Stopped        []string       `json:"stopped_containers"`
	Removed        []string       `json:"removed_containers"`
	ServiceRemoved string         `json:"service_removed,omitempty"`
	ProjectRemoved bool           `json:"project_removed"`
}

// Stop halts a project's containers, or removes its service when it is scaled.
func (m *Manager) Stop(ctx context.Context, req StopRequest) (StopResult, error) {
	op := "stop"
	if req.Remove {
		op = "remove"
	}
	started := m.now()
	ref := req.Ref.String()
	target, err := m.resolver.ResolveOne(ctx, req.Ref)
	if err != nil {
		return StopResult{}, err
	}
	project := target.Project

	var group *domain.ScaleGroup
	if target.Container == nil {
		group, err = m.activeGroup(ctx, project.ID)
		if err != nil {
			return StopResult{}, storeFailure(op, ref, err)
		}
	}
	containers, err := m.targetContainers(ctx, target)
	if err != nil {
		return StopResult{}, storeFailure(op, ref, err)
	}

	result := StopResult{Project: project, Stopped: []string{}, Removed: []string{}}
	grace := m.cfg.StopGrace
	if req.Force {
		grace = 0
	}

	// Phase 1.
	runCtx, cancel := m.runtimeCtx(ctx)
	defer cancel()
	if group != nil {
		if err := m.runtime.RemoveService(runCtx, group.ServiceName); err != nil {
			return StopResult{}, m.runtimeFailure(op, ref, err)
		}
		result.ServiceRemoved = group.ServiceName
	}
	observed := make(map[string]string, len(containers))
	for _, c := range containers {
		if c.Active() {
			if err := m.runtime.StopContainer(runCtx, c.ContainerID, grace, req.Force); err != nil && !docker.IsNotFound(err) {
				return StopResult{}, m.runtimeFailure(op, ref, err)
			}
			result.Stopped = append(result.Stopped, c.ContainerID)
			if !req.Remove {
				status, err := m.observedStatus(runCtx, c.ContainerID)
				if err != nil {
					return StopResult{}, m.runtimeFailure(op, ref, err)
				}
				observed[c.ContainerID] = status
			}
		}
		if req.Remove {
			if err := m.runtime.RemoveContainer(runCtx, c.ContainerID); err != nil {
				return StopResult{}, m.runtimeFailure(op, ref, err)
			}
			result.Removed = append(result.Removed, c.ContainerID)
		}
	}

	// Phase 2.
	now := m.now().UTC()
	if group != nil {
		if err := m.store.UpdateScaleGroupStatus(ctx, group.ID, domain.GroupStopped, now); err != nil {
			return StopResult{}, m.consistencyFailure(op, ref, err, "service", group.ServiceName)
		}
	}
	for _, c := range containers {
		var err error
		switch {
		case req.Remove:
			err = m.store.DeleteContainer(ctx, c.ContainerID)
		case c.Active():
			err = m.store.UpdateContainerStatus(ctx, c.ContainerID, observed[c.ContainerID], now)
		}
		if err != nil {
			return StopResult{}, m.consistencyFailure(op, ref, err, "container_id", c.ContainerID)
		}
	}
	if req.Remove && target.Container == nil {
		if err := m.store.SoftDeleteProject(ctx, project.ID, now); err != nil {
			return StopResult{}, m.consistencyFailure(op, ref, err, "project_id", project.ID)
		}
		result.ProjectRemoved = true
	}

	m.metrics.success(op, started)
	m.logger.Info("project stopped", "project_id", project.ID, "stopped", len(result.Stopped), "removed", len(result.Removed), "service", result.ServiceRemoved)
	eventType := domain.EventStopped
	if req.Remove {
		eventType = domain.EventRemoved
	}
	m.publish(eventType, project, fmt.Sprintf("%d containers stopped", len(result.Stopped)), func(e *domain.Event) {
		e.ServiceName = result.ServiceRemoved
		if target.Container != nil {
			e.ContainerID = target.Container.ContainerID
		}
	})
	return result, nil
}

// RemoveProject stops and removes everything a project owns.
func (m *Manager) RemoveProject(ctx context.Context, projectID string) (StopResult, error) {
	if projectID == "" {
		return StopResult{}, apperr.New(apperr.KindValidation, "remove", "", "project_id is required")
	}
	return m.Stop(ctx, StopRequest{Ref: resolve.Reference{ProjectID: projectID}, Force: true, Remove: true})
}

// observedStatus reads back the state the runtime reports for a container that
// was just stopped. A container the runtime no longer knows is stopped.
func (m *Manager) observedStatus(ctx context.Context, containerID string) (string, error) {
	state, err := m.runtime.InspectContainer(ctx, containerID)
	if docker.IsNotFound(err) {
		return domain.StatusStopped, nil
	}
	if err != nil {
		return "", fmt.Errorf("inspect stopped container: %w", err)
	}
	if status := domain.StatusFromRuntime(state.State, state.ExitCode); status != "" {
		return status, nil
	}
	return domain.StatusStopped, nil
}
