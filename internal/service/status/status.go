// Package status merges persisted deployment records with live runtime state.
// It never writes to the store.
package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/docker/go-units"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/docker"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/repository"
	"github.com/jnoller/racer/internal/service/resolve"
)

// Project states derived from container and replica states.
const (
	StateRunning  = "running"
	StateStarting = "starting"
	StateDegraded = "degraded"
	StateStopped  = "stopped"
	StateFailed   = "failed"
	StateAbsent   = "absent"
	StateUnknown  = "unknown"
)

// Runtime is the read side of the container platform.
type Runtime interface {
	InspectContainer(ctx context.Context, id string) (docker.ContainerState, error)
	ListManagedContainers(ctx context.Context) ([]docker.ContainerState, error)
	ContainerLogs(ctx context.Context, id string, tail int) (string, error)
	StreamContainerLogs(ctx context.Context, id string, tail int, w io.Writer) error
	InspectService(ctx context.Context, nameOrID string) (docker.ServiceState, error)
	ListManagedServices(ctx context.Context) ([]docker.ServiceState, error)
	ServiceLogs(ctx context.Context, nameOrID string, tail int) (string, error)
}

// Store is the read side of the repository.
type Store interface {
	resolve.Store
	ListProjectContainers(ctx context.Context, projectID string) ([]domain.ContainerRecord, error)
	ActiveScaleGroup(ctx context.Context, projectID string) (*domain.ScaleGroup, error)
	FindScaleGroupByService(ctx context.Context, serviceName string) (*domain.ScaleGroup, error)
}

// Service answers status queries.
type Service struct {
	resolver *resolve.Resolver
	store    Store
	runtime  Runtime
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// New returns a status service.
func New(store Store, runtime Runtime, logger *slog.Logger, timeout time.Duration) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return Service{
		resolver: resolve.New(store),
		store:    store,
		runtime:  runtime,
		logger:   logger.With("component", "status"),
		timeout:  timeout,
		now:      time.Now,
	}
}

// GetStatus returns one view per project matching ref, or every live project when ref is empty.
func (s Service) GetStatus(ctx context.Context, ref resolve.Reference) ([]domain.StatusView, error) {
	targets, err := s.resolver.ResolveAll(ctx, ref)
	if err != nil {
		return nil, err
	}
	views := make([]domain.StatusView, 0, len(targets))
	for _, target := range targets {
		view, err := s.projectView(ctx, target)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// runtimeProbe remembers a runtime outage so that one request does not wait on it repeatedly.
type runtimeProbe struct {
	down bool
}

func (s Service) projectView(ctx context.Context, target resolve.Target) (domain.StatusView, error) {
	view := domain.StatusView{Project: target.Project, Containers: []domain.ContainerStatus{}, Warnings: []string{}}
	records := []domain.ContainerRecord{}
	if target.Container != nil {
		records = append(records, *target.Container)
	} else {
		list, err := s.store.ListProjectContainers(ctx, target.Project.ID)
		if err != nil {
			return view, apperr.Wrap(apperr.KindInternal, "status", target.Project.ID, err)
		}
		records = list
	}
	probe := &runtimeProbe{}
	for _, rec := range records {
		view.Containers = append(view.Containers, s.containerView(ctx, rec, probe, &view))
	}

	if target.Container == nil {
		group, err := s.store.ActiveScaleGroup(ctx, target.Project.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return view, apperr.Wrap(apperr.KindInternal, "status", target.Project.ID, err)
		default:
			gs := s.groupView(ctx, *group, probe, &view)
			view.Group = &gs
		}
	}
	view.State = projectState(view)
	return view, nil
}

func (s Service) containerView(ctx context.Context, rec domain.ContainerRecord, probe *runtimeProbe, view *domain.StatusView) domain.ContainerStatus {
	out := domain.ContainerStatus{Record: rec, State: rec.Status}
	if rec.Active() && rec.HostPort != 0 {
		out.URL = docker.ServiceURL(rec.HostPort)
	}
	if probe.down {
		return out
	}
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	live, err := s.runtime.InspectContainer(runCtx, rec.ContainerID)
	switch {
	case docker.IsNotFound(err):
		out.State = StateAbsent
		out.URL = ""
		view.Warnings = append(view.Warnings, fmt.Sprintf("container %s no longer exists in the runtime", shortID(rec.ContainerID)))
		return out
	case err != nil:
		probe.down = true
		view.Stale = true
		view.Warnings = append(view.Warnings, fmt.Sprintf("runtime unavailable, showing recorded state: %v", err))
		s.logger.Warn("runtime inspect failed", "container_id", rec.ContainerID, "error", err)
		return out
	}
	out.Live = true
	out.RuntimeState = live.State
	out.Health = live.Health
	out.LivePorts = live.Ports
	if status := domain.StatusFromRuntime(live.State, live.ExitCode); status != "" {
		out.State = status
	}
	if !live.StartedAt.IsZero() {
		started := live.StartedAt.UTC()
		out.LiveStartedAt = &started
		if out.State == domain.StatusRunning {
			out.Uptime = units.HumanDuration(s.now().Sub(started))
		}
	}
	if hp, ok := live.Ports[strconv.Itoa(rec.AppPort)+"/tcp"]; ok && out.State == domain.StatusRunning {
		out.URL = docker.ServiceURL(hp)
	}
	return out
}

func (s Service) groupView(ctx context.Context, group domain.ScaleGroup, probe *runtimeProbe, view *domain.StatusView) domain.GroupStatus {
	out := domain.GroupStatus{Group: group, Replicas: []domain.ReplicaStatus{}, URL: docker.ServiceURL(group.HostPort)}
	if probe.down {
		return out
	}
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	live, err := s.runtime.InspectService(runCtx, group.ServiceName)
	switch {
	case docker.IsNotFound(err):
		view.Warnings = append(view.Warnings, fmt.Sprintf("service %s no longer exists in the runtime", group.ServiceName))
		return out
	case err != nil:
		probe.down = true
		view.Stale = true
		view.Warnings = append(view.Warnings, fmt.Sprintf("runtime unavailable, showing recorded state: %v", err))
		s.logger.Warn("runtime service inspect failed", "service", group.ServiceName, "error", err)
		return out
	}
	out.Live = true
	out.Running = live.Running
	for _, t := range live.Tasks {
		out.Replicas = append(out.Replicas, domain.ReplicaStatus{
			TaskID:      t.ID,
			Slot:        t.Slot,
			State:       t.State,
			Desired:     t.Desired,
			ContainerID: t.ContainerID,
			Message:     t.Message,
			Error:       t.Error,
		})
	}
	return out
}

func projectState(view domain.StatusView) string {
	if view.Group != nil {
		g := view.Group
		switch {
		case !g.Live:
			return StateUnknown
		case g.Running >= g.Group.DesiredInstances:
			return StateRunning
		case g.Running > 0:
			return StateDegraded
		default:
			return StateStarting
		}
	}
	if len(view.Containers) == 0 {
		return StateAbsent
	}
	counts := map[string]int{}
	for _, c := range view.Containers {
		counts[c.State]++
	}
	total := len(view.Containers)
	switch {
	case counts[domain.StatusRunning] == total:
		return StateRunning
	case counts[domain.StatusRunning] > 0:
		return StateDegraded
	case counts[domain.StatusStarting] > 0:
		return StateStarting
	case counts[domain.StatusFailed] > 0:
		return StateFailed
	default:
		return StateStopped
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
