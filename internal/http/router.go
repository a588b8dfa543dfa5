// Package httpx exposes racer's lifecycle, status and admin operations over HTTP.
package httpx

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jnoller/racer/internal/docker"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/service/lifecycle"
	"github.com/jnoller/racer/internal/service/resolve"
	"github.com/jnoller/racer/internal/service/status"
	"github.com/jnoller/racer/internal/source"
	"github.com/jnoller/racer/internal/ws"
)

// Lifecycle mutates deployments.
type Lifecycle interface {
	Deploy(ctx context.Context, req lifecycle.DeployRequest) (lifecycle.DeployResult, error)
	ScaleTo(ctx context.Context, req lifecycle.ScaleRequest) (lifecycle.ScaleResult, error)
	Redeploy(ctx context.Context, req lifecycle.RedeployRequest) (lifecycle.RedeployResult, error)
	Stop(ctx context.Context, req lifecycle.StopRequest) (lifecycle.StopResult, error)
	RemoveProject(ctx context.Context, projectID string) (lifecycle.StopResult, error)
	StopContainer(ctx context.Context, containerID string, force bool) error
	RemoveContainer(ctx context.Context, containerID string) error
	CleanupStopped(ctx context.Context) (lifecycle.CleanupResult, error)
	RemoveService(ctx context.Context, name string) error
}

// StatusReader answers read-only queries.
type StatusReader interface {
	GetStatus(ctx context.Context, ref resolve.Reference) ([]domain.StatusView, error)
	Containers(ctx context.Context) ([]docker.ContainerState, error)
	ContainerStatus(ctx context.Context, id string) (domain.ContainerStatus, error)
	ContainerLogs(ctx context.Context, id string, tail int) (string, error)
	StreamContainerLogs(ctx context.Context, id string, tail int, w io.Writer) error
	Services(ctx context.Context) ([]docker.ServiceState, error)
	ServiceStatus(ctx context.Context, name string) (status.ServiceView, error)
	ServiceLogs(ctx context.Context, name string, tail int) (string, error)
}

// Sources validates projects and previews their Dockerfiles.
type Sources interface {
	Validate(ctx context.Context, src string) (source.Validation, error)
	Dockerfile(ctx context.Context, src, baseImage string, commands []string) (string, bool, error)
}

// Deps collects the router's collaborators.
type Deps struct {
	Lifecycle Lifecycle
	Status    StatusReader
	Sources   Sources
	Hub       *ws.Hub
	Limiter   RateLimiter
	Admin     AdminAuth

	DBHealth     func(context.Context) error
	DockerHealth func(context.Context) error
	EngineInfo   func(context.Context) (docker.EngineInfo, error)

	BaseImage string
	Version   string
	PortRange [2]int
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	lifecycle Lifecycle
	status    StatusReader
	sources   Sources
	hub       *ws.Hub
	limiter   RateLimiter
	admin     AdminAuth
	upgrader  websocket.Upgrader
	validate  *validator.Validate

	dbHealth     func(context.Context) error
	dockerHealth func(context.Context) error
	engineInfo   func(context.Context) (docker.EngineInfo, error)
	baseImage    string
	version      string
	portRange    [2]int
	started      time.Time

	metricsOnce    sync.Once
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
	streamClients  *prometheus.GaugeVec
}

const (
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 15 * time.Second
	defaultLogTail     = 100
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, deps Deps) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "http"),
		lifecycle: deps.Lifecycle,
		status:    deps.Status,
		sources:   deps.Sources,
		hub:       deps.Hub,
		limiter:   deps.Limiter,
		admin:     deps.Admin,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		validate:     newValidator(),
		dbHealth:     deps.DBHealth,
		dockerHealth: deps.DockerHealth,
		engineInfo:   deps.EngineInfo,
		baseImage:    deps.BaseImage,
		version:      deps.Version,
		portRange:    deps.PortRange,
		started:      time.Now(),
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if !r.admin.enabled() {
		r.logger.Warn("admin authentication disabled; set ADMIN_JWT_SECRET to protect /admin")
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	read := func(route string, h http.HandlerFunc) http.HandlerFunc { return r.limited(route, ruleRead, h) }
	write := func(route string, h http.HandlerFunc) http.HandlerFunc { return r.limited(route, ruleWrite, h) }
	stream := func(route string, h http.HandlerFunc) http.HandlerFunc { return r.limited(route, ruleStream, h) }
	admin := func(route string, h http.HandlerFunc) http.HandlerFunc {
		return r.requireAdmin(r.limited(route, ruleAdmin, h))
	}

	r.handle("/health", r.handleHealth)
	r.handle("/liveness", r.handleLiveness)
	r.handle("/ready", r.handleReady)
	r.handle("/info", read("info", r.handleInfo))
	r.mux.Handle("/metrics", promhttp.Handler())

	r.handle("/api/v1/validate", write("validate", r.handleValidate))
	r.handle("/api/v1/dockerfile", write("dockerfile", r.handleDockerfile))
	r.handle("/api/v1/deploy", write("deploy", r.handleDeploy))
	r.handle("/api/v1/projects", read("projects", r.handleProjects))
	r.handle("/api/v1/projects/", write("project", r.handleProject))
	r.handle("/api/v1/status", read("status", r.handleStatus))
	r.handle("/api/v1/rerun", write("rerun", r.handleRerun))
	r.handle("/api/v1/scale", write("scale", r.handleScale))
	r.handle("/api/v1/stop", write("stop", r.handleStop))
	r.handle("/api/v1/events", stream("events", r.handleEventsSSE))
	r.handle("/api/v1/events/ws", stream("events_ws", r.handleEventsWS))

	r.handle("/admin/login", r.limited("admin_login", ruleLogin, r.handleAdminLogin))
	r.handle("/admin/containers", admin("admin_containers", r.handleAdminContainers))
	r.handle("/admin/containers/cleanup", admin("admin_cleanup", r.handleAdminCleanup))
	r.handle("/admin/containers/", admin("admin_container", r.handleAdminContainer))
	r.handle("/admin/swarm/services", admin("admin_services", r.handleAdminServices))
	r.handle("/admin/swarm/service/", admin("admin_service", r.handleAdminService))
}

func (r *Router) handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.audit(pattern, h))
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components, healthy := r.probe(req.Context())
	state := "healthy"
	code := http.StatusOK
	if !healthy {
		state = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"success":    healthy,
		"message":    "racer api " + state,
		"status":     state,
		"version":    r.version,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) handleLiveness(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeOK(w, http.StatusOK, "alive", "uptime_seconds", int(time.Since(r.started).Seconds()))
}

func (r *Router) handleReady(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components, healthy := r.probe(req.Context())
	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success":    false,
			"message":    "not ready",
			"error":      "not_ready",
			"components": components,
		})
		return
	}
	writeOK(w, http.StatusOK, "ready", "components", components)
}

func (r *Router) probe(parent context.Context) (map[string]any, bool) {
	ctx, cancel := context.WithTimeout(parent, healthCheckTimeout)
	defer cancel()
	components := make(map[string]any)
	healthy := true
	check := func(name string, fn func(context.Context) error) {
		if fn == nil {
			return
		}
		if err := fn(ctx); err != nil {
			healthy = false
			components[name] = map[string]any{"status": "down", "error": err.Error()}
			return
		}
		components[name] = map[string]any{"status": "up"}
	}
	check("database", r.dbHealth)
	check("docker", r.dockerHealth)
	return components, healthy
}

func (r *Router) handleInfo(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info := map[string]any{
		"name":       "racer",
		"version":    r.version,
		"port_range": map[string]int{"start": r.portRange[0], "end": r.portRange[1]},
		"base_image": r.baseImage,
		"admin_auth": r.admin.enabled(),
	}
	if r.engineInfo != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		engine, err := r.engineInfo(ctx)
		if err != nil {
			info["docker_error"] = err.Error()
		} else {
			info["docker"] = engine
		}
	}
	writeOK(w, http.StatusOK, "racer api", "info", info)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		code := recorder.status
		if code == 0 {
			code = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, code, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", code,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		actor := "anonymous"
		if _, ok := adminFromContext(ctx); ok {
			actor = "admin"
		}
		fields = append(fields, "actor", actor)

		switch {
		case code >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case code >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not_found", "not found")
}
