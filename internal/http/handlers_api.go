package httpx

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/service/lifecycle"
	"github.com/jnoller/racer/internal/service/resolve"
)

type sourcePayload struct {
	Source      string `json:"source"`
	ProjectPath string `json:"project_path"`
	GitURL      string `json:"git_url"`
}

// location accepts the source field or the project_path/git_url pair.
func (p sourcePayload) location() string {
	for _, s := range []string{p.Source, p.GitURL, p.ProjectPath} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func (r *Router) handleValidate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload sourcePayload
	if err := r.decode(req, &payload); err != nil {
		r.writeFailure(w, req, err)
		return
	}
	src := payload.location()
	if src == "" {
		r.writeFailure(w, req, apperr.New(apperr.KindValidation, "validate", "", "source is required"))
		return
	}
	v, err := r.sources.Validate(req.Context(), src)
	if err != nil {
		r.writeFailure(w, req, apperr.Wrap(apperr.KindSource, "validate", src, err))
		return
	}
	msg := "project is valid"
	if !v.Valid {
		msg = "project is invalid: " + strings.Join(v.Issues, "; ")
	}
	writeOK(w, http.StatusOK, msg, "validation", v)
}

func (r *Router) handleDockerfile(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		sourcePayload
		CustomCommands []string `json:"custom_commands"`
	}
	if err := r.decode(req, &payload); err != nil {
		r.writeFailure(w, req, err)
		return
	}
	src := payload.location()
	if src == "" {
		r.writeFailure(w, req, apperr.New(apperr.KindValidation, "dockerfile", "", "source is required"))
		return
	}
	content, owned, err := r.sources.Dockerfile(req.Context(), src, r.baseImage, payload.CustomCommands)
	if err != nil {
		r.writeFailure(w, req, apperr.Wrap(apperr.KindSource, "dockerfile", src, err))
		return
	}
	msg := "generated Dockerfile"
	if owned {
		msg = "project provides its own Dockerfile"
	}
	writeOK(w, http.StatusOK, msg, "dockerfile", map[string]any{
		"content":         content,
		"project_defined": owned,
	})
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		lifecycle.DeployRequest
		ProjectPath string `json:"project_path"`
		GitURL      string `json:"git_url"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		r.writeFailure(w, req, err)
		return
	}
	deploy := payload.DeployRequest
	if deploy.Source == "" {
		deploy.Source = sourcePayload{GitURL: payload.GitURL, ProjectPath: payload.ProjectPath}.location()
	}
	if err := r.check(&deploy); err != nil {
		r.writeFailure(w, req, err)
		return
	}
	result, err := r.lifecycle.Deploy(req.Context(), deploy)
	if err != nil {
		r.writeFailure(w, req, err)
		return
	}
	msg := fmt.Sprintf("deployed %s at %s", result.Project.Name, result.URL)
	writeOK(w, http.StatusCreated, msg, "deployment", result)
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	views, err := r.status.GetStatus(req.Context(), resolve.Reference{})
	if err != nil {
		r.writeFailure(w, req, err)
		return
	}
	writeOK(w, http.StatusOK, fmt.Sprintf("%d projects", len(views)), "projects", views)
}

func (r *Router) handleProject(w http.ResponseWriter, req *http.Request) {
	id := strings.Trim(strings.TrimPrefix(req.URL.Path, "/api/v1/projects/"), "/")
	if id == "" || strings.Contains(id, "/") {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		views, err := r.status.GetStatus(req.Context(), resolve.Reference{ProjectID: id})
		if err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeOK(w, http.StatusOK, "project status", "status", views[0])
	case http.MethodDelete:
		result, err := r.lifecycle.RemoveProject(req.Context(), id)
		if err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeOK(w, http.StatusOK, "project removed", "result", result)
	default:
		r.methodNotAllowed(w)
	}
}

// handleStatus accepts the reference as query parameters or, for POST, as a JSON body.
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	var ref resolve.Reference
	switch req.Method {
	case http.MethodGet:
		ref = referenceFromQuery(req)
	case http.MethodPost:
		if err := r.decode(req, &ref); err != nil {
			r.writeFailure(w, req, err)
			return
		}
	default:
		r.methodNotAllowed(w)
		return
	}
	views, err := r.status.GetStatus(req.Context(), ref)
	if err != nil {
		r.writeFailure(w, req, err)
		return
	}
	msg := fmt.Sprintf("%d projects", len(views))
	if len(views) == 1 {
		msg = fmt.Sprintf("%s is %s", views[0].Project.Name, views[0].State)
	}
	writeOK(w, http.StatusOK, msg, "status", views)
}

func (r *Router) handleRerun(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		resolve.Reference
		Rebuild        *bool             `json:"rebuild"`
		NoRebuild      bool              `json:"no_rebuild"`
		Env            map[string]string `json:"environment"`
		Command        *string           `json:"command"`
		AppPort        int               `json:"app_port" validate:"omitempty,min=1,max=65535"`
		CustomCommands []string          `json:"custom_commands"`
	}
	if err := r.decode(req, &payload); err != nil {
		r.writeFailure(w, req, err)
		return
	}
	rebuild := !payload.NoRebuild
	if payload.Rebuild != nil {
		rebuild = *payload.Rebuild
	}
	result, err := r.lifecycle.Redeploy(req.Context(), lifecycle.RedeployRequest{
		Ref:            payload.Reference,
		Rebuild:        rebuild,
		Env:            payload.Env,
		Command:        payload.Command,
		AppPort:        payload.AppPort,
		CustomCommands: payload.CustomCommands,
	})
	if err != nil {
		r.writeFailure(w, req, err)
		return
	}
	msg := fmt.Sprintf("redeployed %d containers and %d services", len(result.Containers), len(result.Groups))
	writeOK(w, http.StatusOK, msg, "redeploy", result)
}

func (r *Router) handleScale(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		resolve.Reference
		Instances *int `json:"instances" validate:"required,gte=0"`
		AppPort   int  `json:"app_port" validate:"omitempty,min=1,max=65535"`
	}
	if err := r.decode(req, &payload); err != nil {
		r.writeFailure(w, req, err)
		return
	}
	result, err := r.lifecycle.ScaleTo(req.Context(), lifecycle.ScaleRequest{
		Ref:       payload.Reference,
		Instances: *payload.Instances,
		AppPort:   payload.AppPort,
	})
	if err != nil {
		r.writeFailure(w, req, err)
		return
	}
	msg := fmt.Sprintf("scaled to %d instances", result.Group.DesiredInstances)
	if result.Clamped {
		msg += fmt.Sprintf(" (requested %d)", result.Requested)
	}
	writeOK(w, http.StatusOK, msg, "scale", result)
}

func (r *Router) handleStop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		resolve.Reference
		Force  bool `json:"force"`
		Remove bool `json:"remove"`
	}
	if err := r.decode(req, &payload); err != nil {
		r.writeFailure(w, req, err)
		return
	}
	result, err := r.lifecycle.Stop(req.Context(), lifecycle.StopRequest{
		Ref:    payload.Reference,
		Force:  payload.Force,
		Remove: payload.Remove,
	})
	if err != nil {
		r.writeFailure(w, req, err)
		return
	}
	msg := fmt.Sprintf("stopped %s", result.Project.Name)
	if result.ProjectRemoved {
		msg = fmt.Sprintf("removed %s", result.Project.Name)
	}
	writeOK(w, http.StatusOK, msg, "stop", result)
}
