package httpx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/docker"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/service/lifecycle"
	"github.com/jnoller/racer/internal/service/resolve"
	"github.com/jnoller/racer/internal/service/status"
	"github.com/jnoller/racer/internal/source"
	"github.com/jnoller/racer/internal/ws"
	"github.com/jnoller/racer/pkg/crypto"
)

type fakeLifecycle struct {
	mu        sync.Mutex
	deploys   []lifecycle.DeployRequest
	scales    []lifecycle.ScaleRequest
	redeploys []lifecycle.RedeployRequest
	stops     []lifecycle.StopRequest
	err       error
}

func (f *fakeLifecycle) Deploy(_ context.Context, req lifecycle.DeployRequest) (lifecycle.DeployResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deploys = append(f.deploys, req)
	if f.err != nil {
		return lifecycle.DeployResult{}, f.err
	}
	return lifecycle.DeployResult{
		Project:   domain.Project{ID: "p1", Name: req.Name},
		Container: domain.ContainerRecord{ContainerID: "c1", HostPort: 8001, AppPort: 8000, Status: domain.StatusRunning},
		URL:       "http://localhost:8001",
	}, nil
}

func (f *fakeLifecycle) ScaleTo(_ context.Context, req lifecycle.ScaleRequest) (lifecycle.ScaleResult, error) {
	f.scales = append(f.scales, req)
	n := req.Instances
	clamped := n < 1
	if clamped {
		n = 1
	}
	return lifecycle.ScaleResult{Group: domain.ScaleGroup{DesiredInstances: n}, Requested: req.Instances, Clamped: clamped}, f.err
}

func (f *fakeLifecycle) Redeploy(_ context.Context, req lifecycle.RedeployRequest) (lifecycle.RedeployResult, error) {
	f.redeploys = append(f.redeploys, req)
	return lifecycle.RedeployResult{}, f.err
}

func (f *fakeLifecycle) Stop(_ context.Context, req lifecycle.StopRequest) (lifecycle.StopResult, error) {
	f.stops = append(f.stops, req)
	if f.err != nil {
		return lifecycle.StopResult{}, f.err
	}
	return lifecycle.StopResult{Project: domain.Project{Name: req.Ref.Name}}, nil
}

func (f *fakeLifecycle) RemoveProject(_ context.Context, id string) (lifecycle.StopResult, error) {
	return lifecycle.StopResult{Project: domain.Project{ID: id}, ProjectRemoved: true}, f.err
}

func (f *fakeLifecycle) StopContainer(context.Context, string, bool) error { return f.err }
func (f *fakeLifecycle) RemoveContainer(context.Context, string) error     { return f.err }
func (f *fakeLifecycle) RemoveService(context.Context, string) error       { return f.err }

func (f *fakeLifecycle) CleanupStopped(context.Context) (lifecycle.CleanupResult, error) {
	return lifecycle.CleanupResult{Removed: []string{"c9"}}, f.err
}

type fakeStatus struct {
	views []domain.StatusView
	err   error
	refs  []resolve.Reference
}

func (f *fakeStatus) GetStatus(_ context.Context, ref resolve.Reference) ([]domain.StatusView, error) {
	f.refs = append(f.refs, ref)
	return f.views, f.err
}

func (f *fakeStatus) Containers(context.Context) ([]docker.ContainerState, error) {
	return []docker.ContainerState{{ID: "c1", State: "running"}}, f.err
}

func (f *fakeStatus) ContainerStatus(_ context.Context, id string) (domain.ContainerStatus, error) {
	return domain.ContainerStatus{State: "running", Record: domain.ContainerRecord{ContainerID: id}}, f.err
}

func (f *fakeStatus) ContainerLogs(context.Context, string, int) (string, error) {
	return "hello\n", f.err
}

func (f *fakeStatus) StreamContainerLogs(ctx context.Context, _ string, _ int, w io.Writer) error {
	if _, err := w.Write([]byte("line one")); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (f *fakeStatus) Services(context.Context) ([]docker.ServiceState, error) { return nil, f.err }

func (f *fakeStatus) ServiceStatus(_ context.Context, name string) (status.ServiceView, error) {
	return status.ServiceView{Service: docker.ServiceState{Name: name, Replicas: 3, Running: 3}}, f.err
}

func (f *fakeStatus) ServiceLogs(context.Context, string, int) (string, error) { return "svc", f.err }

type fakeSources struct{}

func (fakeSources) Validate(_ context.Context, src string) (source.Validation, error) {
	if src == "missing" {
		return source.Validation{}, errors.New("no such directory")
	}
	return source.Validation{Valid: true, Path: src}, nil
}

func (fakeSources) Dockerfile(_ context.Context, _, base string, cmds []string) (string, bool, error) {
	out, err := source.RenderDockerfile(base, cmds)
	return out, false, err
}

type harness struct {
	router    *Router
	lifecycle *fakeLifecycle
	status    *fakeStatus
	hub       *ws.Hub
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{lifecycle: &fakeLifecycle{}, status: &fakeStatus{}, hub: ws.NewHub(logger)}
	deps := Deps{
		Lifecycle: h.lifecycle,
		Status:    h.status,
		Sources:   fakeSources{},
		Hub:       h.hub,
		Version:   "test",
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.router = NewRouter(logger, deps)
	t.Cleanup(h.router.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, out
}

func TestDeployEnvelope(t *testing.T) {
	h := newHarness(t, nil)
	rec, body := h.do(t, http.MethodPost, "/api/v1/deploy", map[string]any{
		"project_name": "my-app",
		"project_path": "/src/my-app",
		"app_port":     8000,
		"environment":  map[string]string{"A": "1"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["success"] != true || body["deployment"] == nil {
		t.Fatalf("unexpected envelope %v", body)
	}
	got := h.lifecycle.deploys[0]
	if got.Source != "/src/my-app" || got.Env["A"] != "1" || got.AppPort != 8000 {
		t.Fatalf("unexpected deploy request %+v", got)
	}
}

func TestDeployValidation(t *testing.T) {
	h := newHarness(t, nil)
	rec, body := h.do(t, http.MethodPost, "/api/v1/deploy", map[string]any{"source": "/src"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if body["success"] != false || body["error"] != string(apperr.KindValidation) {
		t.Fatalf("unexpected envelope %v", body)
	}
	if !strings.Contains(body["message"].(string), "project_name is required") {
		t.Fatalf("expected field message, got %q", body["message"])
	}
	if len(h.lifecycle.deploys) != 0 {
		t.Fatalf("expected no deploy call")
	}

	rec, _ = h.do(t, http.MethodGet, "/api/v1/deploy", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		kind apperr.Kind
		code int
	}{
		{apperr.KindValidation, http.StatusUnprocessableEntity},
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindAmbiguous, http.StatusConflict},
		{apperr.KindRuntime, http.StatusBadGateway},
		{apperr.KindSource, http.StatusUnprocessableEntity},
		{apperr.KindConsistency, http.StatusConflict},
		{apperr.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newHarness(t, nil)
		h.lifecycle.err = apperr.New(tc.kind, "stop", "web", "boom")
		rec, body := h.do(t, http.MethodPost, "/api/v1/stop", map[string]any{"project_name": "web"})
		if rec.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.kind, tc.code, rec.Code)
		}
		if body["error"] != string(tc.kind) {
			t.Fatalf("%s: unexpected error kind %v", tc.kind, body["error"])
		}
	}
}

func TestStatusQueryAndBody(t *testing.T) {
	h := newHarness(t, nil)
	h.status.views = []domain.StatusView{{Project: domain.Project{ID: "p1", Name: "my-app"}, State: "running"}}

	rec, body := h.do(t, http.MethodGet, "/api/v1/status?project_name=my-app", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["message"] != "my-app is running" {
		t.Fatalf("unexpected message %v", body["message"])
	}
	rec, _ = h.do(t, http.MethodPost, "/api/v1/status", map[string]string{"container_id": "abcd"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if h.status.refs[0].Name != "my-app" || h.status.refs[1].ContainerID != "abcd" {
		t.Fatalf("unexpected refs %+v", h.status.refs)
	}
}

func TestScaleAndRerunPayloads(t *testing.T) {
	h := newHarness(t, nil)
	rec, body := h.do(t, http.MethodPost, "/api/v1/scale", map[string]any{"project_name": "web"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without instances, got %d", rec.Code)
	}
	rec, body = h.do(t, http.MethodPost, "/api/v1/scale", map[string]any{"project_name": "web", "instances": 0})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", rec.Code, body)
	}
	if !strings.Contains(body["message"].(string), "requested 0") {
		t.Fatalf("expected clamp message, got %v", body["message"])
	}

	rec, _ = h.do(t, http.MethodPost, "/api/v1/rerun", map[string]any{"project_id": "p1", "no_rebuild": true, "command": "python app.py"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := h.lifecycle.redeploys[0]
	if got.Rebuild || got.Command == nil || *got.Command != "python app.py" || got.Ref.ProjectID != "p1" {
		t.Fatalf("unexpected redeploy request %+v", got)
	}
	h.do(t, http.MethodPost, "/api/v1/rerun", map[string]any{"project_id": "p1"})
	if !h.lifecycle.redeploys[1].Rebuild {
		t.Fatalf("expected rebuild by default")
	}
}

func TestValidateAndDockerfile(t *testing.T) {
	h := newHarness(t, nil)
	rec, body := h.do(t, http.MethodPost, "/api/v1/validate", map[string]string{"project_path": "missing"})
	if rec.Code != http.StatusUnprocessableEntity || body["error"] != string(apperr.KindSource) {
		t.Fatalf("expected source error, got %d %v", rec.Code, body)
	}
	rec, body = h.do(t, http.MethodPost, "/api/v1/dockerfile", map[string]any{"source": "/src", "custom_commands": []string{"pip install x"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	df := body["dockerfile"].(map[string]any)
	if !strings.Contains(df["content"].(string), "RUN pip install x") {
		t.Fatalf("expected custom command in Dockerfile")
	}
}

func TestAdminRequiresToken(t *testing.T) {
	hash, err := crypto.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h := newHarness(t, func(d *Deps) {
		d.Admin = AdminAuth{PasswordHash: hash, JWTSecret: "s3cret", TokenTTL: time.Minute}
	})

	rec, _ := h.do(t, http.MethodGet, "/admin/containers", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec, _ = h.do(t, http.MethodPost, "/admin/login", map[string]string{"password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rec.Code)
	}
	rec, body := h.do(t, http.MethodPost, "/admin/login", map[string]string{"password": "hunter22"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	token := body["token"].(map[string]any)["access_token"].(string)

	rec, body = h.do(t, http.MethodGet, "/admin/containers", nil, "Authorization", "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	if len(body["containers"].([]any)) != 1 {
		t.Fatalf("expected one container, got %v", body["containers"])
	}
	rec, body = h.do(t, http.MethodGet, "/admin/containers/c1/logs?tail=5", nil, "Authorization", "Bearer "+token)
	if rec.Code != http.StatusOK || body["logs"] != "hello\n" {
		t.Fatalf("unexpected logs response %d %v", rec.Code, body)
	}
	rec, body = h.do(t, http.MethodPost, "/admin/containers/cleanup", nil, "Authorization", "Bearer "+token)
	if rec.Code != http.StatusOK || body["message"] != "removed 1 containers" {
		t.Fatalf("unexpected cleanup response %d %v", rec.Code, body)
	}
	rec, _ = h.do(t, http.MethodGet, "/admin/swarm/service/racer-web-1/status", nil, "Authorization", "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for service status, got %d", rec.Code)
	}
	rec, _ = h.do(t, http.MethodGet, "/admin/containers/c1/bogus", nil, "Authorization", "Bearer "+token)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Admin = AdminAuth{PasswordHash: "$2a$10$invalid", JWTSecret: "s"}
	})
	var rec *httptest.ResponseRecorder
	for i := 0; i <= ruleLogin.Limit; i++ {
		rec, _ = h.do(t, http.MethodPost, "/admin/login", map[string]string{"password": "x"})
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" || rec.Header().Get("X-RateLimit-Limit") != "12" || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected rate limit headers, got %v", rec.Header())
	}
}

func TestReadyReportsComponents(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.DBHealth = func(context.Context) error { return nil }
		d.DockerHealth = func(context.Context) error { return errors.New("daemon down") }
	})
	rec, body := h.do(t, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	comps := body["components"].(map[string]any)
	if comps["docker"].(map[string]any)["status"] != "down" || comps["database"].(map[string]any)["status"] != "up" {
		t.Fatalf("unexpected components %v", comps)
	}
	rec, _ = h.do(t, http.MethodGet, "/liveness", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected liveness 200, got %d", rec.Code)
	}
}

func TestEventsOverSSEAndWebsocket(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?project_id=p1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("sse request: %v", err)
	}
	defer resp.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// registration happens after the handshake; give both handlers a moment
	time.Sleep(50 * time.Millisecond)
	h.hub.Publish(domain.Event{Type: domain.EventStopped, ProjectID: "p1", Message: "stopped"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws: %v", err)
	}
	if !strings.Contains(string(msg), `"type":"stopped"`) {
		t.Fatalf("unexpected ws payload %s", msg)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, `"project_id":"p1"`) {
				t.Fatalf("unexpected sse line %q", line)
			}
			break
		}
	}
}

func TestRedisRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rl, err := NewRedisRateLimiter(mr.Addr(), "", 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	defer rl.Close()

	ctx := context.Background()
	q := Quota{Limit: 2, Window: time.Minute}
	for i := 1; i <= 2; i++ {
		if d := rl.Allow(ctx, "ip:1.2.3.4", q); !d.Allowed || d.Count != i {
			t.Fatalf("request %d: expected allowed, got %+v", i, d)
		}
	}
	if d := rl.Allow(ctx, "ip:1.2.3.4", q); d.Allowed {
		t.Fatalf("expected third request to be limited")
	}
	mr.FastForward(2 * time.Minute)
	if d := rl.Allow(ctx, "ip:1.2.3.4", q); !d.Allowed || d.Count != 1 {
		t.Fatalf("expected window reset, got %+v", d)
	}

	mr.Close()
	if d := rl.Allow(ctx, "ip:1.2.3.4", q); !d.Allowed {
		t.Fatalf("expected fail-open when redis is down")
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	rl := NewMemoryRateLimiter().(*memoryRateLimiter)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()
	q := Quota{Limit: 1, Window: time.Minute}

	rl.Allow(ctx, "k", q)
	rl.Allow(ctx, "other", q)
	if d := rl.Allow(ctx, "k", q); d.Allowed || d.Count != 1 {
		t.Fatalf("expected second request to be limited, got %+v", d)
	}
	now = now.Add(10 * time.Minute)
	if d := rl.Allow(ctx, "k", q); !d.Allowed || d.Count != 1 {
		t.Fatalf("expected new window, got %+v", d)
	}
	if _, ok := rl.windows["other"]; ok {
		t.Fatalf("expected expired windows to be swept")
	}
}
