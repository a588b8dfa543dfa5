// Package lifecycle deploys, scales, redeploys and stops projects. Every
// operation first performs its runtime calls and only then writes to the
// store; a failed store write after a successful runtime change is reported
// as a consistency error and is not retried.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/docker"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/repository"
	"github.com/jnoller/racer/internal/service/resolve"
	"github.com/jnoller/racer/internal/source"
)

const (
	defaultAppPort        = 8000
	defaultRuntimeTimeout = 60 * time.Second
	defaultStopGrace      = 10 * time.Second
)

// Runtime is the container platform the manager drives.
type Runtime interface {
	RunContainer(ctx context.Context, spec docker.RunSpec) (docker.ContainerState, error)
	StopContainer(ctx context.Context, id string, grace time.Duration, force bool) error
	RemoveContainer(ctx context.Context, id string) error
	InspectContainer(ctx context.Context, id string) (docker.ContainerState, error)
	ListManagedContainers(ctx context.Context) ([]docker.ContainerState, error)
	EnsureSwarm(ctx context.Context) error
	CreateService(ctx context.Context, spec docker.ServiceSpec) (string, error)
	UpdateService(ctx context.Context, nameOrID string, upd docker.ServiceUpdate) error
	InspectService(ctx context.Context, nameOrID string) (docker.ServiceState, error)
	RemoveService(ctx context.Context, nameOrID string) error
}

// ImageBuilder builds a checkout into an image reference.
type ImageBuilder interface {
	BuildImage(ctx context.Context, dir, name string, customCommands []string) (string, error)
}

// SourceResolver materialises a local path or git URL.
type SourceResolver interface {
	Resolve(ctx context.Context, src string) (source.Checkout, error)
}

// Validator inspects a checkout before anything is built.
type Validator func(dir string) source.Validation

// PortAllocator hands out host ports.
type PortAllocator interface {
	Allocate(ctx context.Context) (int, error)
	Claim(ctx context.Context, port int) (bool, error)
	Release(ctx context.Context, port int)
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(event domain.Event)
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Store    repository.Store
	Runtime  Runtime
	Builder  ImageBuilder
	Sources  SourceResolver
	Validate Validator
	Ports    PortAllocator
	Events   Publisher
}

// Config tunes runtime call behaviour.
type Config struct {
	RuntimeTimeout time.Duration
	StopGrace      time.Duration
}

// Manager is the explicit context object every lifecycle operation runs against.
type Manager struct {
	store    repository.Store
	resolver *resolve.Resolver
	runtime  Runtime
	builder  ImageBuilder
	sources  SourceResolver
	validate Validator
	ports    PortAllocator
	events   Publisher
	logger   *slog.Logger
	cfg      Config
	metrics  *metrics
	now      func() time.Time
}

// New constructs a Manager.
func New(deps Deps, logger *slog.Logger, cfg Config) (*Manager, error) {
	if deps.Store == nil || deps.Runtime == nil || deps.Ports == nil {
		return nil, fmt.Errorf("lifecycle: store, runtime and ports are required")
	}
	if deps.Validate == nil {
		deps.Validate = source.Validate
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RuntimeTimeout <= 0 {
		cfg.RuntimeTimeout = defaultRuntimeTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	return &Manager{
		store:    deps.Store,
		resolver: resolve.New(deps.Store),
		runtime:  deps.Runtime,
		builder:  deps.Builder,
		sources:  deps.Sources,
		validate: deps.Validate,
		ports:    deps.Ports,
		events:   deps.Events,
		logger:   logger.With("component", "lifecycle"),
		cfg:      cfg,
		metrics:  newMetrics(),
		now:      time.Now,
	}, nil
}

// Resolver exposes the manager's identifier resolver.
func (m *Manager) Resolver() *resolve.Resolver {
	return m.resolver
}

func (m *Manager) runtimeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.RuntimeTimeout)
}

func (m *Manager) runtimeFailure(op, ref string, err error) error {
	m.logger.Warn("runtime call failed", "op", op, "ref", ref, "error", err)
	m.metrics.failure(op, apperr.KindRuntime)
	return apperr.Wrap(apperr.KindRuntime, op, ref, err)
}

func (m *Manager) consistencyFailure(op, ref string, err error, attrs ...any) error {
	args := append([]any{"op", op, "ref", ref, "error", err}, attrs...)
	m.logger.Error("store write failed after runtime change", args...)
	m.metrics.failure(op, apperr.KindConsistency)
	return apperr.Wrap(apperr.KindConsistency, op, ref, err)
}

// storeFailure classifies a read failure that happens before any runtime call.
func storeFailure(op, ref string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, op, ref, err)
	}
	return apperr.Wrap(apperr.KindInternal, op, ref, err)
}

func (m *Manager) publish(eventType string, project domain.Project, message string, attrs func(*domain.Event)) {
	if m.events == nil {
		return
	}
	evt := domain.Event{
		Type:        eventType,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Message:     message,
		At:          m.now().UTC(),
	}
	if attrs != nil {
		attrs(&evt)
	}
	m.events.Publish(evt)
}

func (m *Manager) activeGroup(ctx context.Context, projectID string) (*domain.ScaleGroup, error) {
	group, err := m.store.ActiveScaleGroup(ctx, projectID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return group, err
}

func (m *Manager) targetContainers(ctx context.Context, target resolve.Target) ([]domain.ContainerRecord, error) {
	if target.Container != nil {
		return []domain.ContainerRecord{*target.Container}, nil
	}
	return m.store.ListProjectContainers(ctx, target.Project.ID)
}

func recordStatus(state docker.ContainerState) string {
	if status := domain.StatusFromRuntime(state.State, state.ExitCode); status != "" {
		return status
	}
	return domain.StatusStarting
}
