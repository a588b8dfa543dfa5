package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jnoller/racer/internal/ws"
)

func (r *Router) handleEventsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "internal_error", "event streaming is disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}
	projectID := strings.TrimSpace(req.URL.Query().Get("project_id"))
	client := ws.NewSSEClient(w, flusher, r.logger)
	defer r.trackStream("sse")()
	r.hub.Register(projectID, client)
	defer r.hub.Unregister(projectID, client)

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			client.Close()
			return
		case <-client.Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "internal_error", "event streaming is disabled")
		return
	}
	projectID := strings.TrimSpace(req.URL.Query().Get("project_id"))
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	done := r.trackStream("ws")
	r.hub.Register(projectID, client)
	go func() {
		defer done()
		defer r.hub.Unregister(projectID, client)
		client.WaitClosed()
	}()
}

// streamContainerLogs follows a container's output over a websocket until either side closes.
func (r *Router) streamContainerLogs(w http.ResponseWriter, req *http.Request, id string) {
	tail, err := queryInt(req, "tail", defaultLogTail)
	if err != nil {
		r.writeFailure(w, req, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	done := r.trackStream("logs")
	ctx, cancel := context.WithCancel(context.Background())
	go client.WaitClosed()
	go func() {
		<-client.Done()
		cancel()
	}()
	go func() {
		defer done()
		defer cancel()
		defer client.Close()
		if err := r.status.StreamContainerLogs(ctx, id, tail, client); err != nil && ctx.Err() == nil {
			r.logger.Warn("log stream ended", "container_id", id, "error", err)
			_ = client.Send([]byte("error: " + err.Error()))
		}
	}()
}
