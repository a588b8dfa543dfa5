package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/docker"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/repository"
)

// StopContainer stops a single container by runtime id, whether or not racer recorded it.
func (m *Manager) StopContainer(ctx context.Context, containerID string, force bool) error {
	const op = "stop_container"
	if strings.TrimSpace(containerID) == "" {
		return apperr.New(apperr.KindValidation, op, "", "container id is required")
	}
	grace := m.cfg.StopGrace
	if force {
		grace = 0
	}
	runCtx, cancel := m.runtimeCtx(ctx)
	defer cancel()
	if err := m.runtime.StopContainer(runCtx, containerID, grace, force); err != nil {
		if docker.IsNotFound(err) {
			return apperr.Wrap(apperr.KindNotFound, op, containerID, err)
		}
		return m.runtimeFailure(op, containerID, err)
	}
	status, err := m.observedStatus(runCtx, containerID)
	if err != nil {
		return m.runtimeFailure(op, containerID, err)
	}
	err = m.store.UpdateContainerStatus(ctx, containerID, status, m.now().UTC())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return m.consistencyFailure(op, containerID, err)
	}
	m.logger.Info("container stopped", "container_id", containerID, "force", force, "status", status)
	return nil
}

// RemoveContainer force-removes a container and deletes its record.
func (m *Manager) RemoveContainer(ctx context.Context, containerID string) error {
	const op = "remove_container"
	if strings.TrimSpace(containerID) == "" {
		return apperr.New(apperr.KindValidation, op, "", "container id is required")
	}
	runCtx, cancel := m.runtimeCtx(ctx)
	defer cancel()
	if err := m.runtime.RemoveContainer(runCtx, containerID); err != nil {
		return m.runtimeFailure(op, containerID, err)
	}
	if err := m.store.DeleteContainer(ctx, containerID); err != nil {
		return m.consistencyFailure(op, containerID, err)
	}
	m.logger.Info("container removed", "container_id", containerID)
	return nil
}

// CleanupResult lists containers removed by CleanupStopped.
type CleanupResult struct {
	Removed []string `json:"removed"`
}

// CleanupStopped removes every exited racer container from the runtime and
// then drops the stopped and failed records.
func (m *Manager) CleanupStopped(ctx context.Context) (CleanupResult, error) {
	const op = "cleanup"
	records, err := m.store.ListContainers(ctx)
	if err != nil {
		return CleanupResult{}, storeFailure(op, "", err)
	}
	runCtx, cancel := m.runtimeCtx(ctx)
	defer cancel()
	live, err := m.runtime.ListManagedContainers(runCtx)
	if err != nil {
		return CleanupResult{}, m.runtimeFailure(op, "", err)
	}

	targets := map[string]struct{}{}
	for _, rec := range records {
		if !rec.Active() {
			targets[rec.ContainerID] = struct{}{}
		}
	}
	for _, c := range live {
		if status := domain.StatusFromRuntime(c.State, c.ExitCode); status == domain.StatusStopped || status == domain.StatusFailed {
			targets[c.ID] = struct{}{}
		}
	}

	result := CleanupResult{Removed: []string{}}
	var failed []string
	for id := range targets {
		if err := m.runtime.RemoveContainer(runCtx, id); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		result.Removed = append(result.Removed, id)
	}
	sort.Strings(result.Removed)

	// Records go with their containers even when the stored status still
	// says running; the runtime saw them exited.
	for _, id := range result.Removed {
		if err := m.store.DeleteContainer(ctx, id); err != nil {
			return result, m.consistencyFailure(op, "", err, "container_id", id)
		}
	}
	if len(failed) > 0 {
		return result, m.runtimeFailure(op, "", errors.New(strings.Join(failed, "; ")))
	}
	if _, err := m.store.DeleteStoppedContainers(ctx); err != nil {
		return result, m.consistencyFailure(op, "", err)
	}
	m.logger.Info("stopped containers cleaned up", "removed", len(result.Removed))
	return result, nil
}

// RemoveService deletes a swarm service and the group that tracks it.
func (m *Manager) RemoveService(ctx context.Context, name string) error {
	const op = "remove_service"
	if strings.TrimSpace(name) == "" {
		return apperr.New(apperr.KindValidation, op, "", "service name is required")
	}
	runCtx, cancel := m.runtimeCtx(ctx)
	defer cancel()
	if err := m.runtime.RemoveService(runCtx, name); err != nil {
		return m.runtimeFailure(op, name, err)
	}
	group, err := m.store.FindScaleGroupByService(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return m.consistencyFailure(op, name, err)
	}
	if err := m.store.DeleteScaleGroup(ctx, group.ID); err != nil {
		return m.consistencyFailure(op, name, err)
	}
	m.logger.Info("service removed", "service", name, "project_id", group.ProjectID)
	return nil
}

// RefreshResult summarises a status refresh pass.
type RefreshResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
}

// RefreshStatus copies runtime-reported container and service states into the store.
func (m *Manager) RefreshStatus(ctx context.Context) (RefreshResult, error) {
	const op = "refresh"
	records, err := m.store.ListContainers(ctx)
	if err != nil {
		return RefreshResult{}, storeFailure(op, "", err)
	}
	var result RefreshResult
	now := m.now().UTC()
	for _, rec := range records {
		if !rec.Active() {
			continue
		}
		result.Checked++
		runCtx, cancel := m.runtimeCtx(ctx)
		state, err := m.runtime.InspectContainer(runCtx, rec.ContainerID)
		cancel()
		status := ""
		switch {
		case docker.IsNotFound(err):
			status = domain.StatusStopped
		case err != nil:
			return result, m.runtimeFailure(op, rec.ContainerID, err)
		default:
			status = domain.StatusFromRuntime(state.State, state.ExitCode)
		}
		if status == "" || status == rec.Status {
			continue
		}
		if err := m.store.UpdateContainerStatus(ctx, rec.ContainerID, status, now); err != nil {
			return result, m.consistencyFailure(op, rec.ContainerID, err)
		}
		result.Updated++
		m.logger.Info("container status changed", "container_id", rec.ContainerID, "from", rec.Status, "to", status)
		if status == domain.StatusFailed {
			if project, err := m.store.FindProjectByID(ctx, rec.ProjectID); err == nil {
				m.publish(domain.EventFailed, *project, "container exited with an error", func(e *domain.Event) {
					e.ContainerID = rec.ContainerID
				})
			}
		}
	}

	groups, err := m.store.ListScaleGroups(ctx)
	if err != nil {
		return result, storeFailure(op, "", err)
	}
	for _, g := range groups {
		if g.Status != domain.GroupActive {
			continue
		}
		result.Checked++
		runCtx, cancel := m.runtimeCtx(ctx)
		_, err := m.runtime.InspectService(runCtx, g.ServiceName)
		cancel()
		if err == nil {
			continue
		}
		if !docker.IsNotFound(err) {
			return result, m.runtimeFailure(op, g.ServiceName, err)
		}
		if err := m.store.UpdateScaleGroupStatus(ctx, g.ID, domain.GroupStopped, now); err != nil {
			return result, m.consistencyFailure(op, g.ServiceName, err)
		}
		result.Updated++
		m.logger.Info("service vanished", "service", g.ServiceName, "project_id", g.ProjectID)
	}
	return result, nil
}
