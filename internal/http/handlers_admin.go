package httpx

import (
	"fmt"
	"net/http"
	"strings"
)

func (r *Router) handleAdminContainers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	list, err := r.status.Containers(req.Context())
	if err != nil {
		r.writeFailure(w, req, err)
		return
	}
	writeOK(w, http.StatusOK, fmt.Sprintf("%d containers", len(list)), "containers", list)
}

func (r *Router) handleAdminCleanup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	result, err := r.lifecycle.CleanupStopped(req.Context())
	if err != nil {
		r.writeFailure(w, req, err)
		return
	}
	writeOK(w, http.StatusOK, fmt.Sprintf("removed %d containers", len(result.Removed)), "cleanup", result)
}

// handleAdminContainer serves /admin/containers/{id}[/status|/logs|/logs/stream|/stop].
func (r *Router) handleAdminContainer(w http.ResponseWriter, req *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(req.URL.Path, "/admin/containers/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		r.notFound(w)
		return
	}
	switch {
	case action == "" && req.Method == http.MethodDelete:
		if err := r.lifecycle.RemoveContainer(req.Context(), id); err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeOK(w, http.StatusOK, "container removed", "container_id", id)
	case action == "status" && req.Method == http.MethodGet:
		st, err := r.status.ContainerStatus(req.Context(), id)
		if err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"message":      "container is " + st.State,
			"container_id": id,
			"status":       st,
		})
	case action == "logs" && req.Method == http.MethodGet:
		tail, err := queryInt(req, "tail", defaultLogTail)
		if err != nil {
			r.writeFailure(w, req, err)
			return
		}
		logs, err := r.status.ContainerLogs(req.Context(), id, tail)
		if err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"message":      "container logs",
			"container_id": id,
			"logs":         logs,
		})
	case action == "logs/stream" && req.Method == http.MethodGet:
		r.streamContainerLogs(w, req, id)
	case action == "stop" && req.Method == http.MethodPost:
		if err := r.lifecycle.StopContainer(req.Context(), id, queryBool(req, "force")); err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeOK(w, http.StatusOK, "container stopped", "container_id", id)
	case action == "" || action == "status" || action == "logs" || action == "logs/stream" || action == "stop":
		r.methodNotAllowed(w)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleAdminServices(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	list, err := r.status.Services(req.Context())
	if err != nil {
		r.writeFailure(w, req, err)
		return
	}
	writeOK(w, http.StatusOK, fmt.Sprintf("%d services", len(list)), "services", list)
}

// handleAdminService serves /admin/swarm/service/{name}[/status|/logs].
func (r *Router) handleAdminService(w http.ResponseWriter, req *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(req.URL.Path, "/admin/swarm/service/"), "/")
	name, action, _ := strings.Cut(rest, "/")
	if name == "" {
		r.notFound(w)
		return
	}
	switch {
	case action == "" && req.Method == http.MethodDelete:
		if err := r.lifecycle.RemoveService(req.Context(), name); err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeOK(w, http.StatusOK, "service removed", "service_name", name)
	case action == "status" && req.Method == http.MethodGet:
		view, err := r.status.ServiceStatus(req.Context(), name)
		if err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"message":      fmt.Sprintf("%d/%d replicas running", view.Service.Running, view.Service.Replicas),
			"service_name": name,
			"status":       view,
		})
	case action == "logs" && req.Method == http.MethodGet:
		tail, err := queryInt(req, "tail", defaultLogTail)
		if err != nil {
			r.writeFailure(w, req, err)
			return
		}
		logs, err := r.status.ServiceLogs(req.Context(), name, tail)
		if err != nil {
			r.writeFailure(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"message":      "service logs",
			"service_name": name,
			"logs":         logs,
		})
	case action == "" || action == "status" || action == "logs":
		r.methodNotAllowed(w)
	default:
		r.notFound(w)
	}
}
