package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jnoller/racer/internal/docker"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/ports"
	"github.com/jnoller/racer/internal/repository"
	"github.com/jnoller/racer/internal/repository/memory"
	"github.com/jnoller/racer/internal/source"
)

type fakeService struct {
	spec     docker.ServiceSpec
	replicas int
	updates  []docker.ServiceUpdate
}

type fakeRuntime struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*docker.ContainerState
	runs       []docker.RunSpec
	stops      []string
	services   map[string]*fakeService
	swarmInits int

	runErr     error
	inspectErr error
	createErr  error
	removeErr  error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: map[string]*docker.ContainerState{}, services: map[string]*fakeService{}}
}

func notFound(id string) error {
	return fmt.Errorf("%s: %w", id, docker.ErrNotFound)
}

func (f *fakeRuntime) RunContainer(_ context.Context, spec docker.RunSpec) (docker.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return docker.ContainerState{}, f.runErr
	}
	f.seq++
	state := docker.ContainerState{
		ID:        fmt.Sprintf("%012x%052d", f.seq, 0),
		Name:      spec.Name,
		Image:     spec.Image,
		State:     "running",
		StartedAt: time.Now(),
		Ports:     map[string]int{strconv.Itoa(spec.AppPort) + "/tcp": spec.HostPort},
		Labels:    spec.Labels,
	}
	f.containers[state.ID] = &state
	f.runs = append(f.runs, spec)
	return state, nil
}

func (f *fakeRuntime) StopContainer(_ context.Context, id string, _ time.Duration, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return notFound(id)
	}
	f.stops = append(f.stops, id)
	if c.State != "running" {
		// the engine leaves an exited container untouched
		return nil
	}
	c.State = "exited"
	if force {
		c.ExitCode = 137
	}
	return nil
}

// crash marks a container exited behind racer's back.
func (f *fakeRuntime) crash(id string, exitCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.State = "exited"
		c.ExitCode = exitCode
	}
}

func (f *fakeRuntime) RemoveContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeRuntime) InspectContainer(_ context.Context, id string) (docker.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspectErr != nil {
		return docker.ContainerState{}, f.inspectErr
	}
	c, ok := f.containers[id]
	if !ok {
		return docker.ContainerState{}, notFound(id)
	}
	return *c, nil
}

func (f *fakeRuntime) ListManagedContainers(context.Context) ([]docker.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]docker.ContainerState, 0, len(f.containers))
	for _, c := range f.containers {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeRuntime) EnsureSwarm(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swarmInits++
	return nil
}

func (f *fakeRuntime) CreateService(_ context.Context, spec docker.ServiceSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.services[spec.Name] = &fakeService{spec: spec, replicas: spec.Replicas}
	return "svc-" + spec.Name, nil
}

func (f *fakeRuntime) UpdateService(_ context.Context, name string, upd docker.ServiceUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[name]
	if !ok {
		return notFound(name)
	}
	if upd.Replicas != nil {
		svc.replicas = *upd.Replicas
	}
	svc.updates = append(svc.updates, upd)
	return nil
}

func (f *fakeRuntime) InspectService(_ context.Context, name string) (docker.ServiceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspectErr != nil {
		return docker.ServiceState{}, f.inspectErr
	}
	svc, ok := f.services[name]
	if !ok {
		return docker.ServiceState{}, notFound(name)
	}
	return docker.ServiceState{ID: "svc-" + name, Name: name, Image: svc.spec.Image, Replicas: svc.replicas, Running: svc.replicas}, nil
}

func (f *fakeRuntime) RemoveService(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.services, name)
	return nil
}

type fakeBuilder struct {
	mu     sync.Mutex
	builds int
	err    error
}

func (b *fakeBuilder) BuildImage(_ context.Context, _, name string, _ []string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.builds++
	return fmt.Sprintf("racer/%s:%d", name, b.builds), nil
}

type fakeSources struct{}

func (fakeSources) Resolve(_ context.Context, src string) (source.Checkout, error) {
	if src == "unreachable" {
		return source.Checkout{}, errors.New("clone failed")
	}
	return source.Checkout{Dir: src}, nil
}

func fakeValidate(dir string) source.Validation {
	if dir == "invalid" {
		return source.Validation{Issues: []string{"no conda-project.yml found"}}
	}
	return source.Validation{Valid: true, Path: dir, Warnings: []string{}}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) Publish(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// recordFailStore fails container writes after the runtime has done its part.
type recordFailStore struct {
	*memory.Store
}

func (recordFailStore) RecordContainer(context.Context, *domain.ContainerRecord) error {
	return errors.New("connection reset")
}

func (recordFailStore) ReplaceContainer(context.Context, string, *domain.ContainerRecord) error {
	return errors.New("connection reset")
}

type harness struct {
	store   repository.Store
	mem     *memory.Store
	runtime *fakeRuntime
	builder *fakeBuilder
	events  *eventRecorder
	mgr     *Manager
}

func newHarness(t *testing.T, wrap func(*memory.Store) repository.Store) *harness {
	t.Helper()
	mem := memory.New()
	var store repository.Store = mem
	if wrap != nil {
		store = wrap(mem)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	alloc, err := ports.New(store, ports.Options{Start: 41000, End: 41999, Logger: logger})
	if err != nil {
		t.Fatalf("allocator: %v", err)
	}
	h := &harness{store: store, mem: mem, runtime: newFakeRuntime(), builder: &fakeBuilder{}, events: &eventRecorder{}}
	h.mgr, err = New(Deps{
		Store:    store,
		Runtime:  h.runtime,
		Builder:  h.builder,
		Sources:  fakeSources{},
		Validate: fakeValidate,
		Ports:    alloc,
		Events:   h.events,
	}, logger, Config{RuntimeTimeout: 5 * time.Second, StopGrace: time.Second})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return h
}

func (h *harness) deploy(t *testing.T, req DeployRequest) DeployResult {
	t.Helper()
	if req.Source == "" {
		req.Source = "./" + req.Name
	}
	res, err := h.mgr.Deploy(context.Background(), req)
	if err != nil {
		t.Fatalf("deploy %s: %v", req.Name, err)
	}
	return res
}
