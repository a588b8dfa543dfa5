package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/docker"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/service/resolve"
)

// RedeployRequest restarts a project's containers. Env and Command default to
// the values recorded for each container; Env entries are merged on top.
type RedeployRequest struct {
	Ref            resolve.Reference `json:"ref"`
	Rebuild        bool              `json:"rebuild"`
	Env            map[string]string `json:"environment,omitempty"`
	Command        *string           `json:"command,omitempty"`
	AppPort        int               `json:"app_port,omitempty"`
	CustomCommands []string          `json:"custom_commands,omitempty"`
}

// RedeployResult lists the replacement containers and any updated groups.
type RedeployResult struct {
	Containers []domain.ContainerRecord `json:"containers"`
	Groups     []domain.ScaleGroup      `json:"groups"`
}

// Redeploy replaces every targeted container, reusing its host port when it is
// still free. A scaled project gets a forced rolling update instead. A name
// reference applies to all matching projects.
func (m *Manager) Redeploy(ctx context.Context, req RedeployRequest) (RedeployResult, error) {
	const op = "redeploy"
	started := m.now()
	ref := req.Ref.String()
	if req.AppPort < 0 || req.AppPort > 65535 {
		return RedeployResult{}, apperr.New(apperr.KindValidation, op, ref, fmt.Sprintf("app_port %d out of range", req.AppPort))
	}
	if req.Command != nil {
		if _, err := parseCommand(*req.Command); err != nil {
			return RedeployResult{}, apperr.Wrap(apperr.KindValidation, op, ref, err)
		}
	}

	var targets []resolve.Target
	if req.Ref.ByName() {
		all, err := m.resolver.ResolveAll(ctx, req.Ref)
		if err != nil {
			return RedeployResult{}, err
		}
		targets = all
	} else {
		one, err := m.resolver.ResolveOne(ctx, req.Ref)
		if err != nil {
			return RedeployResult{}, err
		}
		targets = []resolve.Target{one}
	}

	result := RedeployResult{Containers: []domain.ContainerRecord{}, Groups: []domain.ScaleGroup{}}
	for _, target := range targets {
		if err := m.redeployTarget(ctx, op, ref, target, req, &result); err != nil {
			return result, err
		}
	}
	if len(result.Containers) == 0 && len(result.Groups) == 0 {
		return result, apperr.New(apperr.KindNotFound, op, ref, "no containers to redeploy")
	}
	m.metrics.success(op, started)
	return result, nil
}

func (m *Manager) redeployTarget(ctx context.Context, op, ref string, target resolve.Target, req RedeployRequest, result *RedeployResult) error {
	project := target.Project
	group, err := m.activeGroup(ctx, project.ID)
	if err != nil {
		return storeFailure(op, ref, err)
	}
	var containers []domain.ContainerRecord
	if group == nil {
		containers, err = m.targetContainers(ctx, target)
		if err != nil {
			return storeFailure(op, ref, err)
		}
		if len(containers) == 0 {
			return nil
		}
	}

	image := ""
	if req.Rebuild {
		image, err = m.rebuild(ctx, op, project, req.CustomCommands)
		if err != nil {
			return err
		}
	}

	if group != nil {
		updated, err := m.redeployGroup(ctx, op, ref, *group, image, req)
		if err != nil {
			return err
		}
		result.Groups = append(result.Groups, updated)
		m.publish(domain.EventRedeployed, project, "service updated", func(e *domain.Event) {
			e.ServiceName = updated.ServiceName
		})
		return nil
	}

	for _, old := range containers {
		next, err := m.replaceContainer(ctx, op, ref, project, old, image, req)
		if err != nil {
			return err
		}
		result.Containers = append(result.Containers, next)
		m.publish(domain.EventRedeployed, project, fmt.Sprintf("replaced %s", old.ContainerID), func(e *domain.Event) {
			e.ContainerID = next.ContainerID
		})
	}
	return nil
}

func (m *Manager) rebuild(ctx context.Context, op string, project domain.Project, customCommands []string) (string, error) {
	if m.builder == nil || m.sources == nil {
		return "", apperr.New(apperr.KindInternal, op, project.Name, "image builder not configured")
	}
	if project.Source == "" {
		return "", apperr.New(apperr.KindValidation, op, project.Name, "project has no recorded source to rebuild from")
	}
	checkout, err := m.sources.Resolve(ctx, project.Source)
	if err != nil {
		m.metrics.failure(op, apperr.KindSource)
		return "", apperr.Wrap(apperr.KindSource, op, project.Name, err)
	}
	defer checkout.Release()
	if v := m.validate(checkout.Dir); !v.Valid {
		m.metrics.failure(op, apperr.KindSource)
		return "", apperr.New(apperr.KindSource, op, project.Name, strings.Join(v.Issues, "; "))
	}
	image, err := m.builder.BuildImage(ctx, checkout.Dir, project.Name, customCommands)
	if err != nil {
		return "", m.runtimeFailure(op, project.Name, fmt.Errorf("build image: %w", err))
	}
	return image, nil
}

func (m *Manager) redeployGroup(ctx context.Context, op, ref string, group domain.ScaleGroup, image string, req RedeployRequest) (domain.ScaleGroup, error) {
	env := mergeEnv(group.Environment, req.Env)
	upd := docker.ServiceUpdate{Image: image, Env: env, Force: true}
	if req.Command != nil {
		command, _ := parseCommand(*req.Command)
		if command == nil {
			command = []string{}
		}
		upd.Command = command
	}
	runCtx, cancel := m.runtimeCtx(ctx)
	defer cancel()
	if err := m.runtime.UpdateService(runCtx, group.ServiceName, upd); err != nil {
		return domain.ScaleGroup{}, m.runtimeFailure(op, ref, err)
	}

	if image != "" {
		group.Image = image
	}
	group.Environment = env
	if req.Command != nil {
		group.Command = strings.TrimSpace(*req.Command)
	}
	group.UpdatedAt = m.now().UTC()
	if err := m.store.SaveScaleGroup(ctx, &group); err != nil {
		return domain.ScaleGroup{}, m.consistencyFailure(op, ref, err, "service", group.ServiceName)
	}
	m.logger.Info("service redeployed", "project_id", group.ProjectID, "service", group.ServiceName)
	return group, nil
}

func (m *Manager) replaceContainer(ctx context.Context, op, ref string, project domain.Project, old domain.ContainerRecord, image string, req RedeployRequest) (domain.ContainerRecord, error) {
	if image == "" {
		image = old.Image
	}
	if image == "" {
		return domain.ContainerRecord{}, apperr.New(apperr.KindValidation, op, ref, fmt.Sprintf("container %s has no recorded image", old.ContainerID))
	}
	commandLine := old.Command
	if req.Command != nil {
		commandLine = strings.TrimSpace(*req.Command)
	}
	command, err := parseCommand(commandLine)
	if err != nil {
		return domain.ContainerRecord{}, apperr.Wrap(apperr.KindValidation, op, ref, err)
	}
	appPort := old.AppPort
	if req.AppPort != 0 {
		appPort = req.AppPort
	}
	env := mergeEnv(old.Environment, req.Env)

	// Phase 1: retire the old container, then start its replacement.
	runCtx, cancel := m.runtimeCtx(ctx)
	defer cancel()
	if err := m.runtime.StopContainer(runCtx, old.ContainerID, m.cfg.StopGrace, false); err != nil && !docker.IsNotFound(err) {
		return domain.ContainerRecord{}, m.runtimeFailure(op, ref, err)
	}
	if err := m.runtime.RemoveContainer(runCtx, old.ContainerID); err != nil {
		return domain.ContainerRecord{}, m.runtimeFailure(op, ref, err)
	}

	hostPort := old.HostPort
	ok, err := m.ports.Claim(ctx, hostPort)
	if err != nil {
		return domain.ContainerRecord{}, m.runtimeFailure(op, ref, fmt.Errorf("claim host port: %w", err))
	}
	if !ok {
		m.logger.Info("previous host port unavailable", "container_id", old.ContainerID, "host_port", hostPort)
		hostPort, err = m.ports.Allocate(ctx)
		if err != nil {
			return domain.ContainerRecord{}, m.runtimeFailure(op, ref, fmt.Errorf("allocate host port: %w", err))
		}
	}
	defer m.ports.Release(context.WithoutCancel(ctx), hostPort)

	state, err := m.runtime.RunContainer(runCtx, docker.RunSpec{
		Name:     containerName(project.Name, m.now()),
		Image:    image,
		Command:  command,
		Env:      env,
		Labels:   docker.ManagedLabels(project.ID, project.Name),
		AppPort:  appPort,
		HostPort: hostPort,
	})
	if err != nil {
		m.publish(domain.EventFailed, project, "replacement container failed to start", func(e *domain.Event) {
			e.ContainerID = old.ContainerID
		})
		return domain.ContainerRecord{}, m.runtimeFailure(op, ref, err)
	}

	// Phase 2.
	next := domain.ContainerRecord{
		ContainerID:   state.ID,
		ContainerName: state.Name,
		ProjectID:     project.ID,
		HostPort:      hostPort,
		AppPort:       appPort,
		Environment:   env,
		Command:       commandLine,
		Image:         image,
		Status:        recordStatus(state),
		CreatedAt:     m.now().UTC(),
	}
	if !state.StartedAt.IsZero() {
		startedAt := state.StartedAt.UTC()
		next.StartedAt = &startedAt
	}
	if err := m.store.ReplaceContainer(ctx, old.ContainerID, &next); err != nil {
		return domain.ContainerRecord{}, m.consistencyFailure(op, ref, err, "old_container_id", old.ContainerID, "container_id", state.ID)
	}
	m.logger.Info("container redeployed", "project_id", project.ID, "old_container_id", old.ContainerID, "container_id", next.ContainerID, "host_port", hostPort)
	return next, nil
}
