package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// RunSpec describes a single container to start.
type RunSpec struct {
	Name     string
	Image    string
	Command  []string
	Env      map[string]string
	Labels   map[string]string
	AppPort  int
	HostPort int
}

// ContainerState is the live view of a container as reported by the daemon.
type ContainerState struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Image     string            `json:"image"`
	State     string            `json:"state"`
	ExitCode  int               `json:"exit_code"`
	Health    string            `json:"health,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Ports     map[string]int    `json:"ports"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// RunContainer creates and starts a container publishing AppPort on HostPort.
func (c *Client) RunContainer(ctx context.Context, spec RunSpec) (ContainerState, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return ContainerState{}, fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return ContainerState{}, fmt.Errorf("image name cannot be empty")
	}
	appPort, err := nat.NewPort("tcp", strconv.Itoa(spec.AppPort))
	if err != nil {
		return ContainerState{}, fmt.Errorf("app port: %w", err)
	}
	config := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Command,
		Env:          EnvList(spec.Env),
		Labels:       spec.Labels,
		ExposedPorts: nat.PortSet{appPort: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			appPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.HostPort)}},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	created, err := c.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return ContainerState{}, wrap("container create", err)
	}
	if err := c.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = c.inner.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return ContainerState{}, wrap("container start", err)
	}
	return c.InspectContainer(ctx, created.ID)
}

// InspectContainer returns the live state of a container.
func (c *Client) InspectContainer(ctx context.Context, id string) (ContainerState, error) {
	if strings.TrimSpace(id) == "" {
		return ContainerState{}, fmt.Errorf("container id cannot be empty")
	}
	inspect, err := c.inner.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerState{}, wrap("container inspect", err)
	}
	return stateFromInspect(inspect), nil
}

func stateFromInspect(inspect types.ContainerJSON) ContainerState {
	out := ContainerState{
		Ports: map[string]int{},
	}
	if inspect.ContainerJSONBase != nil {
		out.ID = inspect.ID
		out.Name = strings.TrimPrefix(inspect.Name, "/")
		if st := inspect.State; st != nil {
			out.State = st.Status
			out.ExitCode = st.ExitCode
			if st.Health != nil {
				out.Health = st.Health.Status
			}
			if ts, err := time.Parse(time.RFC3339Nano, st.StartedAt); err == nil && !ts.IsZero() {
				out.StartedAt = ts
			}
		}
	}
	if inspect.Config != nil {
		out.Image = inspect.Config.Image
		out.Labels = inspect.Config.Labels
	}
	if inspect.NetworkSettings != nil {
		for port, bindings := range inspect.NetworkSettings.Ports {
			for _, b := range bindings {
				if hp, err := strconv.Atoi(strings.TrimSpace(b.HostPort)); err == nil {
					out.Ports[string(port)] = hp
					break
				}
			}
		}
	}
	return out
}

// StopContainer stops a container. Force sends SIGKILL with no grace period.
// A container that has already exited is left as is.
func (c *Client) StopContainer(ctx context.Context, id string, grace time.Duration, force bool) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("container id cannot be empty")
	}
	seconds := int(grace.Seconds())
	opts := container.StopOptions{Timeout: &seconds}
	if force {
		seconds = 0
		opts.Signal = "SIGKILL"
	}
	return wrap("container stop", c.inner.ContainerStop(ctx, id, opts))
}

// RemoveContainer force-removes a container. Missing containers are not an error.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("container id cannot be empty")
	}
	err := wrap("container remove", c.inner.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}))
	if isNotFound(err) {
		return nil
	}
	return err
}

// ListManagedContainers returns every container carrying the racer managed label.
func (c *Client) ListManagedContainers(ctx context.Context) ([]ContainerState, error) {
	list, err := c.inner.ContainerList(ctx, container.ListOptions{All: true, Filters: managedFilter()})
	if err != nil {
		return nil, wrap("container list", err)
	}
	out := make([]ContainerState, 0, len(list))
	for _, item := range list {
		st := ContainerState{
			ID:     item.ID,
			Image:  item.Image,
			State:  item.State,
			Labels: item.Labels,
			Ports:  map[string]int{},
		}
		if len(item.Names) > 0 {
			st.Name = strings.TrimPrefix(item.Names[0], "/")
		}
		for _, p := range item.Ports {
			if p.PublicPort != 0 {
				st.Ports[fmt.Sprintf("%d/%s", p.PrivatePort, p.Type)] = int(p.PublicPort)
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// ContainerLogs returns the last tail lines of combined stdout/stderr.
func (c *Client) ContainerLogs(ctx context.Context, id string, tail int) (string, error) {
	rc, err := c.inner.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tailArg(tail),
	})
	if err != nil {
		return "", wrap("container logs", err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("read container logs: %w", err)
	}
	return buf.String(), nil
}

// StreamContainerLogs follows a container's output, writing demultiplexed bytes to w until ctx ends.
func (c *Client) StreamContainerLogs(ctx context.Context, id string, tail int, w io.Writer) error {
	rc, err := c.inner.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       tailArg(tail),
	})
	if err != nil {
		return wrap("container logs", err)
	}
	defer rc.Close()
	if _, err := stdcopy.StdCopy(w, w, rc); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream container logs: %w", err)
	}
	return nil
}

// EnvList renders an environment map as sorted KEY=VALUE pairs.
func EnvList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// ParseEnvList is the inverse of EnvList. Entries without '=' are ignored.
func ParseEnvList(list []string) map[string]string {
	out := make(map[string]string, len(list))
	for _, kv := range list {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func tailArg(tail int) string {
	if tail <= 0 {
		return "all"
	}
	return strconv.Itoa(tail)
}
