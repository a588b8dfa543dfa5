package docker

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/go-connections/nat"
)

func TestEnvListRoundTrip(t *testing.T) {
	env := map[string]string{"B": "2", "A": "x=y"}
	list := EnvList(env)
	if len(list) != 2 || list[0] != "A=x=y" || list[1] != "B=2" {
		t.Fatalf("unexpected env list %v", list)
	}
	back := ParseEnvList(append(list, "broken"))
	if back["A"] != "x=y" || back["B"] != "2" || len(back) != 2 {
		t.Fatalf("unexpected parsed env %v", back)
	}
	if EnvList(nil) != nil {
		t.Fatalf("expected nil for empty env")
	}
}

func TestDecodeBuildStream(t *testing.T) {
	var lines []string
	stream := `{"stream":"Step 1/2 : FROM base\n"}{"status":"Pulling","id":"abc"}{"aux":{"ID":"sha256:1"}}`
	if err := decodeBuildStream(strings.NewReader(stream), func(s string) { lines = append(lines, s) }); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(lines) != 3 || lines[0] != "Step 1/2 : FROM base" || lines[1] != "abc Pulling" {
		t.Fatalf("unexpected lines %q", lines)
	}
	err := decodeBuildStream(strings.NewReader(`{"errorDetail":{"message":"boom"}}`), nil)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected build error, got %v", err)
	}
}

func TestBuildServiceSpec(t *testing.T) {
	spec := buildServiceSpec(ServiceSpec{
		Name:     "racer-app-1234abcd",
		Image:    "racer/app:1",
		Command:  []string{"python", "app.py"},
		Env:      map[string]string{"K": "V"},
		Replicas: 3,
		AppPort:  8000,
		HostPort: 8010,
	})
	if *spec.Mode.Replicated.Replicas != 3 {
		t.Fatalf("expected 3 replicas")
	}
	hc := spec.TaskTemplate.ContainerSpec.Healthcheck
	if hc.Interval != 30*time.Second || hc.Retries != 3 || !strings.Contains(hc.Test[1], "localhost:8000/health") {
		t.Fatalf("unexpected healthcheck %+v", hc)
	}
	rp := spec.TaskTemplate.RestartPolicy
	if rp.Condition != swarm.RestartPolicyConditionOnFailure || *rp.MaxAttempts != 3 || *rp.Delay != 5*time.Second {
		t.Fatalf("unexpected restart policy %+v", rp)
	}
	port := spec.EndpointSpec.Ports[0]
	if port.TargetPort != 8000 || port.PublishedPort != 8010 {
		t.Fatalf("unexpected port config %+v", port)
	}
}

func TestStateFromInspect(t *testing.T) {
	inspect := types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:   "abc",
			Name: "/app-1700000000-deadbeef",
			State: &types.ContainerState{
				Status:    "running",
				StartedAt: "2024-01-02T03:04:05.123Z",
				Health:    &types.Health{Status: "healthy"},
			},
		},
		Config: &container.Config{Image: "racer/app", Labels: map[string]string{LabelManaged: "true"}},
		NetworkSettings: &types.NetworkSettings{
			NetworkSettingsBase: types.NetworkSettingsBase{
				Ports: nat.PortMap{"8000/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "8042"}}},
			},
		},
	}
	st := stateFromInspect(inspect)
	if st.Name != "app-1700000000-deadbeef" || st.State != "running" || st.Health != "healthy" {
		t.Fatalf("unexpected state %+v", st)
	}
	if st.Ports["8000/tcp"] != 8042 {
		t.Fatalf("expected host port 8042, got %v", st.Ports)
	}
	if st.StartedAt.IsZero() {
		t.Fatalf("expected started at to be parsed")
	}
}

func TestWrapNotFound(t *testing.T) {
	if wrap("op", nil) != nil {
		t.Fatalf("expected nil")
	}
	err := wrap("op", errors.New("plain"))
	if IsNotFound(err) {
		t.Fatalf("plain error should not be not-found")
	}
}

func TestManagedLabels(t *testing.T) {
	labels := ManagedLabels("p1", "app")
	if labels[LabelManaged] != "true" || labels[LabelProjectID] != "p1" || labels[LabelProjectName] != "app" {
		t.Fatalf("unexpected labels %v", labels)
	}
}

func TestContextExcludes(t *testing.T) {
	dir := t.TempDir()
	got, err := contextExcludes(dir)
	if err != nil {
		t.Fatalf("excludes without ignore file: %v", err)
	}
	if len(got) != 1 || got[0] != ".git" {
		t.Fatalf("expected default .git exclude, got %v", got)
	}

	ignore := "# local envs\nenvs/\n*\n"
	if err := os.WriteFile(filepath.Join(dir, ".dockerignore"), []byte(ignore), 0o644); err != nil {
		t.Fatalf("write ignore file: %v", err)
	}
	got, err = contextExcludes(dir)
	if err != nil {
		t.Fatalf("excludes: %v", err)
	}
	joined := strings.Join(got, " ")
	if !strings.Contains(joined, "envs") || !strings.Contains(joined, "!Dockerfile") || !strings.Contains(joined, "!.dockerignore") {
		t.Fatalf("expected envs excluded and Dockerfile kept, got %v", got)
	}
}
