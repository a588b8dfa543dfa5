package docker

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/pkg/stdcopy"
)

// Swarm settings applied to every replicated service.
const (
	swarmListenAddr    = "0.0.0.0:2377"
	swarmAdvertiseAddr = "127.0.0.1"

	restartDelay       = 5 * time.Second
	restartMaxAttempts = 3

	healthInterval    = 30 * time.Second
	healthTimeout     = 10 * time.Second
	healthRetries     = 3
	healthStartPeriod = 60 * time.Second
)

// ServiceSpec describes a replicated service to create.
type ServiceSpec struct {
	Name     string
	Image    string
	Command  []string
	Env      map[string]string
	Labels   map[string]string
	Replicas int
	AppPort  int
	HostPort int
}

// ServiceUpdate lists the fields to change on an existing service. Nil fields are left as-is.
type ServiceUpdate struct {
	Replicas *int
	Image    string
	Env      map[string]string
	Command  []string
	Force    bool
}

// TaskState is one replica of a service.
type TaskState struct {
	ID          string `json:"id"`
	Slot        int    `json:"slot"`
	State       string `json:"state"`
	Desired     string `json:"desired_state"`
	ContainerID string `json:"container_id,omitempty"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ServiceState is the live view of a service.
type ServiceState struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Image    string            `json:"image"`
	Replicas int               `json:"replicas"`
	Running  int               `json:"running"`
	Labels   map[string]string `json:"labels,omitempty"`
	Tasks    []TaskState       `json:"tasks"`
}

// EnsureSwarm initialises a single-node swarm when the daemon is not part of one.
func (c *Client) EnsureSwarm(ctx context.Context) error {
	info, err := c.inner.Info(ctx)
	if err != nil {
		return wrap("docker info", err)
	}
	if info.Swarm.LocalNodeState == swarm.LocalNodeStateActive {
		if !info.Swarm.ControlAvailable {
			return fmt.Errorf("docker node is part of a swarm but is not a manager")
		}
		return nil
	}
	_, err = c.inner.SwarmInit(ctx, swarm.InitRequest{
		ListenAddr:    swarmListenAddr,
		AdvertiseAddr: swarmAdvertiseAddr,
	})
	return wrap("swarm init", err)
}

// CreateService creates a replicated service publishing AppPort on HostPort.
func (c *Client) CreateService(ctx context.Context, spec ServiceSpec) (string, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return "", fmt.Errorf("service name cannot be empty")
	}
	if spec.Replicas < 1 {
		return "", fmt.Errorf("service replicas must be at least 1")
	}
	resp, err := c.inner.ServiceCreate(ctx, buildServiceSpec(spec), types.ServiceCreateOptions{})
	if err != nil {
		return "", wrap("service create", err)
	}
	return resp.ID, nil
}

func buildServiceSpec(spec ServiceSpec) swarm.ServiceSpec {
	replicas := uint64(spec.Replicas)
	delay := restartDelay
	attempts := uint64(restartMaxAttempts)
	return swarm.ServiceSpec{
		Annotations: swarm.Annotations{Name: spec.Name, Labels: spec.Labels},
		TaskTemplate: swarm.TaskSpec{
			ContainerSpec: &swarm.ContainerSpec{
				Image:   spec.Image,
				Args:    spec.Command,
				Env:     EnvList(spec.Env),
				Labels:  spec.Labels,
				Healthcheck: &container.HealthConfig{
					Test:        []string{"CMD-SHELL", fmt.Sprintf("curl -f http://localhost:%d/health || exit 1", spec.AppPort)},
					Interval:    healthInterval,
					Timeout:     healthTimeout,
					Retries:     healthRetries,
					StartPeriod: healthStartPeriod,
				},
			},
			RestartPolicy: &swarm.RestartPolicy{
				Condition:   swarm.RestartPolicyConditionOnFailure,
				Delay:       &delay,
				MaxAttempts: &attempts,
			},
		},
		Mode: swarm.ServiceMode{Replicated: &swarm.ReplicatedService{Replicas: &replicas}},
		EndpointSpec: &swarm.EndpointSpec{
			Ports: []swarm.PortConfig{{
				Protocol:      swarm.PortConfigProtocolTCP,
				TargetPort:    uint32(spec.AppPort),
				PublishedPort: uint32(spec.HostPort),
				PublishMode:   swarm.PortConfigPublishModeIngress,
			}},
		},
	}
}

// UpdateService applies upd to the named service using its current version.
func (c *Client) UpdateService(ctx context.Context, nameOrID string, upd ServiceUpdate) error {
	svc, _, err := c.inner.ServiceInspectWithRaw(ctx, nameOrID, types.ServiceInspectOptions{})
	if err != nil {
		return wrap("service inspect", err)
	}
	spec := svc.Spec
	if upd.Replicas != nil {
		if *upd.Replicas < 1 {
			return fmt.Errorf("service replicas must be at least 1")
		}
		replicas := uint64(*upd.Replicas)
		spec.Mode = swarm.ServiceMode{Replicated: &swarm.ReplicatedService{Replicas: &replicas}}
	}
	if spec.TaskTemplate.ContainerSpec != nil {
		if upd.Image != "" {
			spec.TaskTemplate.ContainerSpec.Image = upd.Image
		}
		if upd.Env != nil {
			spec.TaskTemplate.ContainerSpec.Env = EnvList(upd.Env)
		}
		if upd.Command != nil {
			spec.TaskTemplate.ContainerSpec.Args = upd.Command
		}
	}
	if upd.Force {
		spec.TaskTemplate.ForceUpdate++
	}
	_, err = c.inner.ServiceUpdate(ctx, svc.ID, svc.Version, spec, types.ServiceUpdateOptions{})
	return wrap("service update", err)
}

// InspectService returns the service definition together with its tasks.
func (c *Client) InspectService(ctx context.Context, nameOrID string) (ServiceState, error) {
	svc, _, err := c.inner.ServiceInspectWithRaw(ctx, nameOrID, types.ServiceInspectOptions{})
	if err != nil {
		return ServiceState{}, wrap("service inspect", err)
	}
	out := serviceState(svc)
	tasks, err := c.inner.TaskList(ctx, types.TaskListOptions{
		Filters: filters.NewArgs(filters.Arg("service", svc.ID)),
	})
	if err != nil {
		return out, wrap("task list", err)
	}
	for _, t := range tasks {
		ts := TaskState{
			ID:      t.ID,
			Slot:    t.Slot,
			State:   string(t.Status.State),
			Desired: string(t.DesiredState),
			Message: t.Status.Message,
			Error:   t.Status.Err,
		}
		if t.Status.ContainerStatus != nil {
			ts.ContainerID = t.Status.ContainerStatus.ContainerID
		}
		if t.Status.State == swarm.TaskStateRunning {
			out.Running++
		}
		out.Tasks = append(out.Tasks, ts)
	}
	return out, nil
}

func serviceState(svc swarm.Service) ServiceState {
	out := ServiceState{
		ID:     svc.ID,
		Name:   svc.Spec.Name,
		Labels: svc.Spec.Labels,
	}
	if cs := svc.Spec.TaskTemplate.ContainerSpec; cs != nil {
		out.Image = cs.Image
	}
	if r := svc.Spec.Mode.Replicated; r != nil && r.Replicas != nil {
		out.Replicas = int(*r.Replicas)
	}
	return out
}

// ListManagedServices returns every service carrying the racer managed label.
func (c *Client) ListManagedServices(ctx context.Context) ([]ServiceState, error) {
	list, err := c.inner.ServiceList(ctx, types.ServiceListOptions{Filters: managedFilter()})
	if err != nil {
		return nil, wrap("service list", err)
	}
	out := make([]ServiceState, 0, len(list))
	for _, svc := range list {
		out = append(out, serviceState(svc))
	}
	return out, nil
}

// RemoveService deletes a service. Missing services are not an error.
func (c *Client) RemoveService(ctx context.Context, nameOrID string) error {
	err := wrap("service remove", c.inner.ServiceRemove(ctx, nameOrID))
	if isNotFound(err) {
		return nil
	}
	return err
}

// ServiceLogs returns the last tail lines across all replicas of a service.
func (c *Client) ServiceLogs(ctx context.Context, nameOrID string, tail int) (string, error) {
	rc, err := c.inner.ServiceLogs(ctx, nameOrID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tailArg(tail),
	})
	if err != nil {
		return "", wrap("service logs", err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("read service logs: %w", err)
	}
	return buf.String(), nil
}

// ServiceURL formats the public address of a published port.
func ServiceURL(hostPort int) string {
	return "http://localhost:" + strconv.Itoa(hostPort)
}
