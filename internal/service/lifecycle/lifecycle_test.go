package lifecycle

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/repository"
	"github.com/jnoller/racer/internal/repository/memory"
	"github.com/jnoller/racer/internal/service/resolve"
)

func TestDeployStartsContainerAndRecordsProject(t *testing.T) {
	h := newHarness(t, nil)
	res := h.deploy(t, DeployRequest{Name: "my-app", AppPort: 8000, Env: map[string]string{"A": "1"}, Command: "python app.py"})

	if res.Project.Name != "my-app" {
		t.Fatalf("expected project my-app, got %s", res.Project.Name)
	}
	if res.Container.HostPort < 41000 || res.Container.HostPort > 41999 {
		t.Fatalf("host port %d out of range", res.Container.HostPort)
	}
	if res.Container.Status != domain.StatusRunning {
		t.Fatalf("expected running, got %s", res.Container.Status)
	}
	if !strings.HasPrefix(res.Container.ContainerName, "my-app-") || resolve.ExtractName(res.Container.ContainerName) != "my-app" {
		t.Fatalf("container name %q does not map back to the project", res.Container.ContainerName)
	}
	run := h.runtime.runs[0]
	if run.AppPort != 8000 || run.Env["A"] != "1" || strings.Join(run.Command, " ") != "python app.py" {
		t.Fatalf("unexpected run spec %+v", run)
	}

	target, err := h.mgr.Resolver().ResolveOne(context.Background(), resolve.Reference{Name: "my-app"})
	if err != nil || target.Project.ID != res.Project.ID {
		t.Fatalf("expected project to resolve by name, got %+v (%v)", target, err)
	}
	if got := h.events.types(); len(got) != 1 || got[0] != domain.EventDeployed {
		t.Fatalf("expected deployed event, got %v", got)
	}
}

func TestDeployDistinctNamesGetDistinctPorts(t *testing.T) {
	h := newHarness(t, nil)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = map[int]string{}
		names = []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta"}
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			res, err := h.mgr.Deploy(context.Background(), DeployRequest{Name: name, Source: "./" + name})
			if err != nil {
				t.Errorf("deploy %s: %v", name, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if other, ok := seen[res.Container.HostPort]; ok {
				t.Errorf("port %d assigned to both %s and %s", res.Container.HostPort, other, name)
			}
			seen[res.Container.HostPort] = name
		}(name)
	}
	wg.Wait()
	if len(seen) != len(names) {
		t.Fatalf("expected %d distinct ports, got %d", len(names), len(seen))
	}
}

func TestDeployValidation(t *testing.T) {
	h := newHarness(t, nil)
	cases := []DeployRequest{
		{Name: "", Source: "./x"},
		{Name: "x", Source: ""},
		{Name: "x", Source: "./x", AppPort: 70000},
		{Name: "x", Source: "./x", Command: `python "unterminated`},
	}
	for _, req := range cases {
		if _, err := h.mgr.Deploy(context.Background(), req); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}
}

func TestDeployPhaseOneFailureWritesNothing(t *testing.T) {
	cases := []struct {
		name   string
		source string
		setup  func(h *harness)
		want   error
	}{
		{name: "invalid project", source: "invalid", want: apperr.ErrSource},
		{name: "clone failure", source: "unreachable", want: apperr.ErrSource},
		{name: "build failure", source: "./app", setup: func(h *harness) { h.builder.err = errors.New("no space left") }, want: apperr.ErrRuntime},
		{name: "run failure", source: "./app", setup: func(h *harness) { h.runtime.runErr = errors.New("daemon unavailable") }, want: apperr.ErrRuntime},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			if tc.setup != nil {
				tc.setup(h)
			}
			_, err := h.mgr.Deploy(context.Background(), DeployRequest{Name: "app", Source: tc.source})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			projects, _ := h.store.ListProjects(context.Background())
			containers, _ := h.store.ListContainers(context.Background())
			if len(projects) != 0 || len(containers) != 0 {
				t.Fatalf("expected no writes, got %d projects and %d containers", len(projects), len(containers))
			}
		})
	}
}

func TestDeployPhaseTwoFailureIsConsistencyError(t *testing.T) {
	h := newHarness(t, func(m *memory.Store) repository.Store { return recordFailStore{m} })
	_, err := h.mgr.Deploy(context.Background(), DeployRequest{Name: "app", Source: "./app"})
	if !errors.Is(err, apperr.ErrConsistency) {
		t.Fatalf("expected consistency error, got %v", err)
	}
	if len(h.runtime.containers) != 1 {
		t.Fatalf("runtime container must be left in place, got %d", len(h.runtime.containers))
	}
}

func TestDeployIntoExistingProject(t *testing.T) {
	h := newHarness(t, nil)
	first := h.deploy(t, DeployRequest{Name: "api"})
	second := h.deploy(t, DeployRequest{Name: "api", ProjectID: first.Project.ID})
	if second.Project.ID != first.Project.ID {
		t.Fatalf("expected same project")
	}
	containers, _ := h.store.ListProjectContainers(context.Background(), first.Project.ID)
	if len(containers) != 2 {
		t.Fatalf("expected 2 containers, got %d", len(containers))
	}
	third := h.deploy(t, DeployRequest{Name: "api"})
	if third.Project.ID == first.Project.ID {
		t.Fatalf("deploy without project_id must create a new project")
	}
}

func TestScaleCreatesGroupThenClampsZero(t *testing.T) {
	h := newHarness(t, nil)
	dep := h.deploy(t, DeployRequest{Name: "web", Env: map[string]string{"K": "V"}, Command: "serve --port 8000"})
	ctx := context.Background()

	res, err := h.mgr.ScaleTo(ctx, ScaleRequest{Ref: resolve.Reference{Name: "web"}, Instances: 3})
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	if !res.Created || res.Group.DesiredInstances != 3 || res.Clamped {
		t.Fatalf("unexpected scale result %+v", res)
	}
	if h.runtime.swarmInits != 1 {
		t.Fatalf("expected swarm to be ensured")
	}
	svc := h.runtime.services[res.Group.ServiceName]
	if svc == nil || svc.spec.Image != dep.Container.Image || svc.spec.Env["K"] != "V" || strings.Join(svc.spec.Command, " ") != "serve --port 8000" {
		t.Fatalf("service not created from latest container: %+v", svc)
	}
	if !strings.HasPrefix(res.Group.ServiceName, "racer-web-") {
		t.Fatalf("unexpected service name %s", res.Group.ServiceName)
	}
	containers, _ := h.store.ListProjectContainers(ctx, dep.Project.ID)
	if len(containers) != 0 {
		t.Fatalf("expected superseded container rows to be removed, got %d", len(containers))
	}
	if _, ok := h.runtime.containers[dep.Container.ContainerID]; ok {
		t.Fatalf("expected superseded container to be removed from runtime")
	}

	res, err = h.mgr.ScaleTo(ctx, ScaleRequest{Ref: resolve.Reference{ProjectID: dep.Project.ID}, Instances: 0})
	if err != nil {
		t.Fatalf("scale to zero: %v", err)
	}
	if !res.Clamped || res.Requested != 0 || res.Group.DesiredInstances != 1 || res.Created {
		t.Fatalf("expected clamp to 1, got %+v", res)
	}
	if svc.replicas != 1 {
		t.Fatalf("expected runtime replicas 1, got %d", svc.replicas)
	}
	group, err := h.store.ActiveScaleGroup(ctx, dep.Project.ID)
	if err != nil || group.DesiredInstances != 1 {
		t.Fatalf("expected persisted group with 1 instance, got %+v (%v)", group, err)
	}

	if _, err := h.mgr.ScaleTo(ctx, ScaleRequest{Ref: resolve.Reference{Name: "web"}, Instances: -1}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for negative instances, got %v", err)
	}
}

func TestScaleServiceCreateFailureWritesNothing(t *testing.T) {
	h := newHarness(t, nil)
	dep := h.deploy(t, DeployRequest{Name: "web"})
	h.runtime.createErr = errors.New("swarm unavailable")
	if _, err := h.mgr.ScaleTo(context.Background(), ScaleRequest{Ref: resolve.Reference{Name: "web"}, Instances: 2}); !errors.Is(err, apperr.ErrRuntime) {
		t.Fatalf("expected runtime error, got %v", err)
	}
	if _, err := h.store.ActiveScaleGroup(context.Background(), dep.Project.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no group, got %v", err)
	}
	containers, _ := h.store.ListProjectContainers(context.Background(), dep.Project.ID)
	if len(containers) != 1 {
		t.Fatalf("expected container record untouched")
	}
}

func TestStopAmbiguousNameRequiresProjectID(t *testing.T) {
	h := newHarness(t, nil)
	first := h.deploy(t, DeployRequest{Name: "shared"})
	h.deploy(t, DeployRequest{Name: "shared"})
	ctx := context.Background()

	if _, err := h.mgr.Stop(ctx, StopRequest{Ref: resolve.Reference{Name: "shared"}}); !errors.Is(err, apperr.ErrAmbiguous) {
		t.Fatalf("expected ambiguous error, got %v", err)
	}
	res, err := h.mgr.Stop(ctx, StopRequest{Ref: resolve.Reference{ProjectID: first.Project.ID}})
	if err != nil {
		t.Fatalf("stop by id: %v", err)
	}
	if len(res.Stopped) != 1 || res.Stopped[0] != first.Container.ContainerID {
		t.Fatalf("unexpected stop result %+v", res)
	}
	rec, err := h.store.FindContainer(ctx, first.Container.ContainerID)
	if err != nil || rec.Status != domain.StatusStopped || rec.StoppedAt == nil {
		t.Fatalf("expected stopped record kept as history, got %+v (%v)", rec, err)
	}
}

func TestStopRemoveSoftDeletesProject(t *testing.T) {
	h := newHarness(t, nil)
	dep := h.deploy(t, DeployRequest{Name: "gone"})
	ctx := context.Background()
	res, err := h.mgr.RemoveProject(ctx, dep.Project.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !res.ProjectRemoved || len(res.Removed) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := h.store.FindContainer(ctx, dep.Container.ContainerID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected container row deleted, got %v", err)
	}
	if _, err := h.mgr.Resolver().ResolveOne(ctx, resolve.Reference{Name: "gone"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("removed project must not resolve, got %v", err)
	}
	if len(h.runtime.containers) != 0 {
		t.Fatalf("expected runtime container removed")
	}
}

func TestStopScaledProjectRemovesService(t *testing.T) {
	h := newHarness(t, nil)
	dep := h.deploy(t, DeployRequest{Name: "web"})
	ctx := context.Background()
	scaled, err := h.mgr.ScaleTo(ctx, ScaleRequest{Ref: resolve.Reference{Name: "web"}, Instances: 2})
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	res, err := h.mgr.Stop(ctx, StopRequest{Ref: resolve.Reference{Name: "web"}})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if res.ServiceRemoved != scaled.Group.ServiceName {
		t.Fatalf("expected service %s removed, got %q", scaled.Group.ServiceName, res.ServiceRemoved)
	}
	if _, ok := h.runtime.services[scaled.Group.ServiceName]; ok {
		t.Fatalf("expected runtime service removed")
	}
	if _, err := h.store.ActiveScaleGroup(ctx, dep.Project.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no active group after stop, got %v", err)
	}
}

func TestRedeployPreservesEnvAndCommand(t *testing.T) {
	h := newHarness(t, nil)
	dep := h.deploy(t, DeployRequest{Name: "svc", Env: map[string]string{"A": "1", "B": "2"}, Command: "python app.py --debug"})
	ctx := context.Background()

	res, err := h.mgr.Redeploy(ctx, RedeployRequest{Ref: resolve.Reference{Name: "svc"}})
	if err != nil {
		t.Fatalf("redeploy: %v", err)
	}
	if len(res.Containers) != 1 {
		t.Fatalf("expected one replacement, got %d", len(res.Containers))
	}
	next := res.Containers[0]
	if next.ContainerID == dep.Container.ContainerID {
		t.Fatalf("expected a new container")
	}
	if next.Environment["A"] != "1" || next.Environment["B"] != "2" || next.Command != "python app.py --debug" {
		t.Fatalf("env or command not preserved: %+v", next)
	}
	if next.HostPort != dep.Container.HostPort || next.Image != dep.Container.Image {
		t.Fatalf("expected same port and image, got %d %s", next.HostPort, next.Image)
	}
	if h.builder.builds != 1 {
		t.Fatalf("redeploy without rebuild must not build, got %d builds", h.builder.builds)
	}
	run := h.runtime.runs[len(h.runtime.runs)-1]
	if strings.Join(run.Command, " ") != "python app.py --debug" || run.Env["B"] != "2" {
		t.Fatalf("runtime did not receive preserved settings: %+v", run)
	}
	all, _ := h.store.ListProjectContainers(ctx, dep.Project.ID)
	if len(all) != 1 || all[0].ContainerID != next.ContainerID {
		t.Fatalf("expected the record to be replaced, got %+v", all)
	}
}

func TestRedeployOverridesAndRebuild(t *testing.T) {
	h := newHarness(t, nil)
	dep := h.deploy(t, DeployRequest{Name: "svc", Env: map[string]string{"A": "1"}, Command: "run"})
	cmd := "run --fast"
	res, err := h.mgr.Redeploy(context.Background(), RedeployRequest{
		Ref:     resolve.Reference{ContainerID: dep.Container.ContainerID},
		Rebuild: true,
		Env:     map[string]string{"B": "2"},
		Command: &cmd,
	})
	if err != nil {
		t.Fatalf("redeploy: %v", err)
	}
	next := res.Containers[0]
	if next.Environment["A"] != "1" || next.Environment["B"] != "2" {
		t.Fatalf("expected merged env, got %v", next.Environment)
	}
	if next.Command != "run --fast" || next.Image == dep.Container.Image || h.builder.builds != 2 {
		t.Fatalf("expected override command and rebuilt image, got %+v", next)
	}
}

func TestRedeployFallsBackToFreshPort(t *testing.T) {
	h := newHarness(t, nil)
	dep := h.deploy(t, DeployRequest{Name: "svc"})
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(dep.Container.HostPort)))
	if err != nil {
		t.Skipf("cannot occupy port %d: %v", dep.Container.HostPort, err)
	}
	defer ln.Close()

	res, err := h.mgr.Redeploy(context.Background(), RedeployRequest{Ref: resolve.Reference{ProjectID: dep.Project.ID}})
	if err != nil {
		t.Fatalf("redeploy: %v", err)
	}
	if res.Containers[0].HostPort == dep.Container.HostPort {
		t.Fatalf("expected a fresh port while %d is taken", dep.Container.HostPort)
	}
}

func TestRedeployByNameAppliesToAllMatches(t *testing.T) {
	h := newHarness(t, nil)
	h.deploy(t, DeployRequest{Name: "dup"})
	h.deploy(t, DeployRequest{Name: "dup"})
	res, err := h.mgr.Redeploy(context.Background(), RedeployRequest{Ref: resolve.Reference{Name: "dup"}})
	if err != nil {
		t.Fatalf("redeploy: %v", err)
	}
	if len(res.Containers) != 2 {
		t.Fatalf("expected both projects redeployed, got %d", len(res.Containers))
	}
}

func TestRedeployPhaseTwoFailure(t *testing.T) {
	h := newHarness(t, nil)
	dep := h.deploy(t, DeployRequest{Name: "svc"})
	failing := recordFailStore{h.mem}
	h.mgr.store = failing
	_, err := h.mgr.Redeploy(context.Background(), RedeployRequest{Ref: resolve.Reference{ProjectID: dep.Project.ID}})
	if !errors.Is(err, apperr.ErrConsistency) {
		t.Fatalf("expected consistency error, got %v", err)
	}
}

func TestRedeployScaledProjectForcesServiceUpdate(t *testing.T) {
	h := newHarness(t, nil)
	h.deploy(t, DeployRequest{Name: "web", Env: map[string]string{"A": "1"}})
	ctx := context.Background()
	scaled, err := h.mgr.ScaleTo(ctx, ScaleRequest{Ref: resolve.Reference{Name: "web"}, Instances: 2})
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	res, err := h.mgr.Redeploy(ctx, RedeployRequest{Ref: resolve.Reference{Name: "web"}, Env: map[string]string{"B": "2"}})
	if err != nil {
		t.Fatalf("redeploy: %v", err)
	}
	if len(res.Groups) != 1 || res.Groups[0].Environment["A"] != "1" || res.Groups[0].Environment["B"] != "2" {
		t.Fatalf("unexpected group result %+v", res.Groups)
	}
	updates := h.runtime.services[scaled.Group.ServiceName].updates
	last := updates[len(updates)-1]
	if !last.Force || last.Env["B"] != "2" {
		t.Fatalf("expected forced update with merged env, got %+v", last)
	}
}

func TestRefreshStatusFollowsRuntime(t *testing.T) {
	h := newHarness(t, nil)
	crashed := h.deploy(t, DeployRequest{Name: "crash"})
	vanished := h.deploy(t, DeployRequest{Name: "vanish"})
	healthy := h.deploy(t, DeployRequest{Name: "ok"})
	h.runtime.containers[crashed.Container.ContainerID].State = "exited"
	h.runtime.containers[crashed.Container.ContainerID].ExitCode = 1
	delete(h.runtime.containers, vanished.Container.ContainerID)

	res, err := h.mgr.RefreshStatus(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.Checked != 3 || res.Updated != 2 {
		t.Fatalf("unexpected refresh result %+v", res)
	}
	ctx := context.Background()
	for id, want := range map[string]string{
		crashed.Container.ContainerID:  domain.StatusFailed,
		vanished.Container.ContainerID: domain.StatusStopped,
		healthy.Container.ContainerID:  domain.StatusRunning,
	} {
		rec, _ := h.store.FindContainer(ctx, id)
		if rec.Status != want {
			t.Fatalf("container %s: expected %s, got %s", id, want, rec.Status)
		}
	}
	types := h.events.types()
	if types[len(types)-1] != domain.EventFailed {
		t.Fatalf("expected failed event, got %v", types)
	}

	h.runtime.inspectErr = errors.New("daemon down")
	if _, err := h.mgr.RefreshStatus(ctx); !errors.Is(err, apperr.ErrRuntime) {
		t.Fatalf("expected runtime error, got %v", err)
	}
}

func TestCleanupStoppedRemovesExitedContainers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	stopped := h.deploy(t, DeployRequest{Name: "old"})
	running := h.deploy(t, DeployRequest{Name: "live"})
	if err := h.mgr.StopContainer(ctx, stopped.Container.ContainerID, false); err != nil {
		t.Fatalf("stop container: %v", err)
	}
	res, err := h.mgr.CleanupStopped(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0] != stopped.Container.ContainerID {
		t.Fatalf("unexpected cleanup result %+v", res)
	}
	if _, err := h.store.FindContainer(ctx, stopped.Container.ContainerID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected stopped row removed, got %v", err)
	}
	if _, err := h.store.FindContainer(ctx, running.Container.ContainerID); err != nil {
		t.Fatalf("running row must stay: %v", err)
	}
}

func TestCleanupStoppedDropsRecordsOfCrashedContainers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	dep := h.deploy(t, DeployRequest{Name: "crashy"})
	id := dep.Container.ContainerID
	h.runtime.crash(id, 1)

	res, err := h.mgr.CleanupStopped(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0] != id {
		t.Fatalf("expected %s removed, got %+v", id, res)
	}
	if _, ok := h.runtime.containers[id]; ok {
		t.Fatalf("expected runtime container removed")
	}
	if rec, err := h.store.FindContainer(ctx, id); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected record removed with its container, got %+v (%v)", rec, err)
	}
	ports, err := h.store.ActiveHostPorts(ctx)
	if err != nil {
		t.Fatalf("active ports: %v", err)
	}
	if len(ports) != 0 {
		t.Fatalf("expected no held host ports, got %v", ports)
	}
}

func TestStopRecordsRuntimeReportedStatus(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	graceful := h.deploy(t, DeployRequest{Name: "calm"})
	forced := h.deploy(t, DeployRequest{Name: "hard"})

	if _, err := h.mgr.Stop(ctx, StopRequest{Ref: resolve.Reference{Name: "calm"}}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := h.mgr.Stop(ctx, StopRequest{Ref: resolve.Reference{Name: "hard"}, Force: true}); err != nil {
		t.Fatalf("force stop: %v", err)
	}
	cases := map[string]string{
		graceful.Container.ContainerID: domain.StatusStopped,
		forced.Container.ContainerID:   domain.StatusFailed,
	}
	for id, want := range cases {
		rec, err := h.store.FindContainer(ctx, id)
		if err != nil {
			t.Fatalf("find %s: %v", id, err)
		}
		if rec.Status != want || rec.StoppedAt == nil {
			t.Fatalf("container %s: expected %s with stopped_at, got %s", id, want, rec.Status)
		}
	}
}

func TestForceStopOfAlreadyExitedContainer(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	dep := h.deploy(t, DeployRequest{Name: "quiet"})
	id := dep.Container.ContainerID
	h.runtime.crash(id, 0)

	res, err := h.mgr.Stop(ctx, StopRequest{Ref: resolve.Reference{Name: "quiet"}, Force: true})
	if err != nil {
		t.Fatalf("force stop of exited container: %v", err)
	}
	if len(res.Stopped) != 1 || res.Stopped[0] != id {
		t.Fatalf("unexpected stop result %+v", res)
	}
	rec, err := h.store.FindContainer(ctx, id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.Status != domain.StatusStopped {
		t.Fatalf("expected runtime-reported stopped, got %s", rec.Status)
	}
}

func TestStopContainerRecordsRuntimeReportedStatus(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	dep := h.deploy(t, DeployRequest{Name: "adm-force"})
	if err := h.mgr.StopContainer(ctx, dep.Container.ContainerID, true); err != nil {
		t.Fatalf("stop container: %v", err)
	}
	rec, err := h.store.FindContainer(ctx, dep.Container.ContainerID)
	if err != nil || rec.Status != domain.StatusFailed {
		t.Fatalf("expected failed after kill, got %+v (%v)", rec, err)
	}
}

func TestAdminContainerAndServiceOperations(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	dep := h.deploy(t, DeployRequest{Name: "adm"})

	if err := h.mgr.StopContainer(ctx, "missing", false); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown container, got %v", err)
	}
	if err := h.mgr.RemoveContainer(ctx, dep.Container.ContainerID); err != nil {
		t.Fatalf("remove container: %v", err)
	}
	if _, err := h.store.FindContainer(ctx, dep.Container.ContainerID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected row removed, got %v", err)
	}

	other := h.deploy(t, DeployRequest{Name: "svc"})
	scaled, err := h.mgr.ScaleTo(ctx, ScaleRequest{Ref: resolve.Reference{ProjectID: other.Project.ID}, Instances: 2})
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	if err := h.mgr.RemoveService(ctx, scaled.Group.ServiceName); err != nil {
		t.Fatalf("remove service: %v", err)
	}
	if _, err := h.store.FindScaleGroupByService(ctx, scaled.Group.ServiceName); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected group deleted, got %v", err)
	}
}
