package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/service/lifecycle"
	"github.com/jnoller/racer/internal/service/resolve"
	"github.com/jnoller/racer/internal/source"
)

// Health returns the raw health report. A degraded API yields an APIError with status 503.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	env, err := c.do(ctx, http.MethodGet, "/health", nil, "")
	return rawFields(env), err
}

// Liveness reports whether the API process is up.
func (c *Client) Liveness(ctx context.Context) (string, error) {
	_, msg, err := call[int](ctx, c, http.MethodGet, "/liveness", nil, "", "")
	return msg, err
}

// Ready returns per-component readiness.
func (c *Client) Ready(ctx context.Context) (map[string]any, error) {
	env, err := c.do(ctx, http.MethodGet, "/ready", nil, "")
	return rawFields(env), err
}

// Info describes the API and the container engine behind it.
func (c *Client) Info(ctx context.Context) (map[string]any, error) {
	out, _, err := call[map[string]any](ctx, c, http.MethodGet, "/info", nil, "", "info")
	return out, err
}

// Validate checks a local path or git URL.
func (c *Client) Validate(ctx context.Context, src string) (source.Validation, string, error) {
	return call[source.Validation](ctx, c, http.MethodPost, "/api/v1/validate", map[string]string{"source": src}, "", "validation")
}

// Dockerfile is the Dockerfile a deployment of a source would build with.
type Dockerfile struct {
	Content        string `json:"content"`
	ProjectDefined bool   `json:"project_defined"`
}

// Dockerfile previews the Dockerfile for src.
func (c *Client) Dockerfile(ctx context.Context, src string, customCommands []string) (Dockerfile, error) {
	body := map[string]any{"source": src, "custom_commands": customCommands}
	out, _, err := call[Dockerfile](ctx, c, http.MethodPost, "/api/v1/dockerfile", body, "", "dockerfile")
	return out, err
}

// Deploy builds and starts a project.
func (c *Client) Deploy(ctx context.Context, req lifecycle.DeployRequest) (lifecycle.DeployResult, error) {
	out, _, err := call[lifecycle.DeployResult](ctx, c, http.MethodPost, "/api/v1/deploy", req, "", "deployment")
	return out, err
}

// Projects lists every live project with its status.
func (c *Client) Projects(ctx context.Context) ([]domain.StatusView, error) {
	out, _, err := call[[]domain.StatusView](ctx, c, http.MethodGet, "/api/v1/projects", nil, "", "projects")
	return out, err
}

// RemoveProject removes a project and everything it runs.
func (c *Client) RemoveProject(ctx context.Context, projectID string) (lifecycle.StopResult, error) {
	out, _, err := call[lifecycle.StopResult](ctx, c, http.MethodDelete, "/api/v1/projects/"+url.PathEscape(projectID), nil, "", "result")
	return out, err
}

// Status returns the views matching ref, or every project for an empty ref.
func (c *Client) Status(ctx context.Context, ref resolve.Reference) ([]domain.StatusView, error) {
	q := url.Values{}
	if ref.ProjectID != "" {
		q.Set("project_id", ref.ProjectID)
	}
	if ref.ContainerID != "" {
		q.Set("container_id", ref.ContainerID)
	}
	if ref.Name != "" {
		q.Set("project_name", ref.Name)
	}
	path := "/api/v1/status"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	out, _, err := call[[]domain.StatusView](ctx, c, http.MethodGet, path, nil, "", "status")
	return out, err
}

// RedeployInput mirrors the rerun request body.
type RedeployInput struct {
	resolve.Reference
	Rebuild        bool              `json:"rebuild"`
	Env            map[string]string `json:"environment,omitempty"`
	Command        *string           `json:"command,omitempty"`
	AppPort        int               `json:"app_port,omitempty"`
	CustomCommands []string          `json:"custom_commands,omitempty"`
}

// Redeploy restarts a project's containers, optionally rebuilding the image.
func (c *Client) Redeploy(ctx context.Context, in RedeployInput) (lifecycle.RedeployResult, string, error) {
	return call[lifecycle.RedeployResult](ctx, c, http.MethodPost, "/api/v1/rerun", in, "", "redeploy")
}

// Scale sets a project's replica count.
func (c *Client) Scale(ctx context.Context, ref resolve.Reference, instances, appPort int) (lifecycle.ScaleResult, string, error) {
	body := struct {
		resolve.Reference
		Instances int `json:"instances"`
		AppPort   int `json:"app_port,omitempty"`
	}{ref, instances, appPort}
	return call[lifecycle.ScaleResult](ctx, c, http.MethodPost, "/api/v1/scale", body, "", "scale")
}

// Stop stops, and with remove deletes, a project.
func (c *Client) Stop(ctx context.Context, ref resolve.Reference, force, remove bool) (lifecycle.StopResult, string, error) {
	body := struct {
		resolve.Reference
		Force  bool `json:"force"`
		Remove bool `json:"remove"`
	}{ref, force, remove}
	return call[lifecycle.StopResult](ctx, c, http.MethodPost, "/api/v1/stop", body, "", "stop")
}

func rawFields(env envelope) map[string]any {
	out := make(map[string]any, len(env.Fields))
	for k := range env.Fields {
		var v any
		if err := env.Field(k, &v); err == nil {
			out[k] = v
		}
	}
	return out
}
