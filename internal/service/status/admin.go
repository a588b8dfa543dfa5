package status

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/docker"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/repository"
)

// ServiceView pairs a live service with the group that tracks it, if any.
type ServiceView struct {
	Service docker.ServiceState `json:"service"`
	Group   *domain.ScaleGroup  `json:"scale_group,omitempty"`
}

// Containers lists every racer-managed container known to the runtime.
func (s Service) Containers(ctx context.Context) ([]docker.ContainerState, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	list, err := s.runtime.ListManagedContainers(runCtx)
	if err != nil {
		return nil, runtimeError("list_containers", "", err)
	}
	return list, nil
}

// ContainerStatus reports a single container, merged with its record when racer tracks it.
func (s Service) ContainerStatus(ctx context.Context, id string) (domain.ContainerStatus, error) {
	if strings.TrimSpace(id) == "" {
		return domain.ContainerStatus{}, apperr.New(apperr.KindValidation, "container_status", "", "container id is required")
	}
	rec, err := s.store.FindContainer(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		rec = &domain.ContainerRecord{ContainerID: id}
	case err != nil:
		return domain.ContainerStatus{}, apperr.Wrap(apperr.KindInternal, "container_status", id, err)
	}
	probe := &runtimeProbe{}
	view := domain.StatusView{}
	out := s.containerView(ctx, *rec, probe, &view)
	if probe.down {
		return out, apperr.New(apperr.KindRuntime, "container_status", id, strings.Join(view.Warnings, "; "))
	}
	if !out.Live && rec.ProjectID == "" {
		return out, apperr.New(apperr.KindNotFound, "container_status", id, "container not found")
	}
	return out, nil
}

// ContainerLogs returns the tail of a container's output.
func (s Service) ContainerLogs(ctx context.Context, id string, tail int) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	logs, err := s.runtime.ContainerLogs(runCtx, id, tail)
	if err != nil {
		return "", runtimeError("container_logs", id, err)
	}
	return logs, nil
}

// StreamContainerLogs follows a container's output until ctx ends.
func (s Service) StreamContainerLogs(ctx context.Context, id string, tail int, w io.Writer) error {
	if err := s.runtime.StreamContainerLogs(ctx, id, tail, w); err != nil {
		return runtimeError("stream_logs", id, err)
	}
	return nil
}

// Services lists every racer-managed swarm service.
func (s Service) Services(ctx context.Context) ([]docker.ServiceState, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	list, err := s.runtime.ListManagedServices(runCtx)
	if err != nil {
		return nil, runtimeError("list_services", "", err)
	}
	return list, nil
}

// ServiceStatus reports a service and its tasks.
func (s Service) ServiceStatus(ctx context.Context, name string) (ServiceView, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	live, err := s.runtime.InspectService(runCtx, name)
	if err != nil {
		return ServiceView{}, runtimeError("service_status", name, err)
	}
	view := ServiceView{Service: live}
	group, err := s.store.FindScaleGroupByService(ctx, name)
	switch {
	case err == nil:
		view.Group = group
	case !errors.Is(err, repository.ErrNotFound):
		return view, apperr.Wrap(apperr.KindInternal, "service_status", name, err)
	}
	return view, nil
}

// ServiceLogs returns the tail of a service's output across replicas.
func (s Service) ServiceLogs(ctx context.Context, name string, tail int) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	logs, err := s.runtime.ServiceLogs(runCtx, name, tail)
	if err != nil {
		return "", runtimeError("service_logs", name, err)
	}
	return logs, nil
}

func runtimeError(op, ref string, err error) error {
	if docker.IsNotFound(err) {
		return apperr.Wrap(apperr.KindNotFound, op, ref, err)
	}
	return apperr.Wrap(apperr.KindRuntime, op, ref, err)
}
