package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jnoller/racer/internal/docker"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/service/lifecycle"
	"github.com/jnoller/racer/internal/service/status"
)

// Token is an admin bearer token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login exchanges the admin password for a token.
func (c *Client) Login(ctx context.Context, password string) (Token, error) {
	out, _, err := call[Token](ctx, c, http.MethodPost, "/admin/login", map[string]string{"password": password}, "", "token")
	return out, err
}

// Containers lists racer-managed containers.
func (c *Client) Containers(ctx context.Context, token string) ([]docker.ContainerState, error) {
	out, _, err := call[[]docker.ContainerState](ctx, c, http.MethodGet, "/admin/containers", nil, token, "containers")
	return out, err
}

// ContainerStatus reports one container.
func (c *Client) ContainerStatus(ctx context.Context, token, id string) (domain.ContainerStatus, error) {
	out, _, err := call[domain.ContainerStatus](ctx, c, http.MethodGet, containerPath(id, "status"), nil, token, "status")
	return out, err
}

// ContainerLogs returns the last tail lines of a container's output.
func (c *Client) ContainerLogs(ctx context.Context, token, id string, tail int) (string, error) {
	path := fmt.Sprintf("%s?tail=%d", containerPath(id, "logs"), tail)
	out, _, err := call[string](ctx, c, http.MethodGet, path, nil, token, "logs")
	return out, err
}

// StopContainer stops one container.
func (c *Client) StopContainer(ctx context.Context, token, id string, force bool) error {
	path := containerPath(id, "stop")
	if force {
		path += "?force=true"
	}
	_, err := c.do(ctx, http.MethodPost, path, nil, token)
	return err
}

// RemoveContainer force-removes one container and its record.
func (c *Client) RemoveContainer(ctx context.Context, token, id string) error {
	_, err := c.do(ctx, http.MethodDelete, containerPath(id, ""), nil, token)
	return err
}

// Cleanup removes exited containers and their records.
func (c *Client) Cleanup(ctx context.Context, token string) (lifecycle.CleanupResult, error) {
	out, _, err := call[lifecycle.CleanupResult](ctx, c, http.MethodPost, "/admin/containers/cleanup", nil, token, "cleanup")
	return out, err
}

// Services lists racer-managed swarm services.
func (c *Client) Services(ctx context.Context, token string) ([]docker.ServiceState, error) {
	out, _, err := call[[]docker.ServiceState](ctx, c, http.MethodGet, "/admin/swarm/services", nil, token, "services")
	return out, err
}

// ServiceStatus reports one service and its tasks.
func (c *Client) ServiceStatus(ctx context.Context, token, name string) (status.ServiceView, error) {
	out, _, err := call[status.ServiceView](ctx, c, http.MethodGet, servicePath(name, "status"), nil, token, "status")
	return out, err
}

// ServiceLogs returns the last tail lines across a service's replicas.
func (c *Client) ServiceLogs(ctx context.Context, token, name string, tail int) (string, error) {
	path := fmt.Sprintf("%s?tail=%d", servicePath(name, "logs"), tail)
	out, _, err := call[string](ctx, c, http.MethodGet, path, nil, token, "logs")
	return out, err
}

// RemoveService deletes a service and the group tracking it.
func (c *Client) RemoveService(ctx context.Context, token, name string) error {
	_, err := c.do(ctx, http.MethodDelete, servicePath(name, ""), nil, token)
	return err
}

func containerPath(id, action string) string {
	p := "/admin/containers/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func servicePath(name, action string) string {
	p := "/admin/swarm/service/" + url.PathEscape(name)
	if action != "" {
		p += "/" + action
	}
	return p
}
