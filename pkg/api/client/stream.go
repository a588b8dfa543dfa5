package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jnoller/racer/internal/domain"
)

// FollowContainerLogs copies a container's live output to w until ctx is
// cancelled or the server closes the stream.
func (c *Client) FollowContainerLogs(ctx context.Context, token, id string, tail int, w io.Writer) error {
	path := fmt.Sprintf("%s?tail=%d", containerPath(id, "logs/stream"), tail)
	conn, err := c.dial(ctx, path, token)
	if err != nil {
		return err
	}
	return readFrames(ctx, conn, func(data []byte) error {
		_, err := w.Write(data)
		return err
	})
}

// Events delivers lifecycle events for projectID, or for every project when it
// is empty, until ctx is cancelled.
func (c *Client) Events(ctx context.Context, projectID string, fn func(domain.Event)) error {
	path := "/api/v1/events/ws"
	if strings.TrimSpace(projectID) != "" {
		path += "?project_id=" + url.QueryEscape(projectID)
	}
	conn, err := c.dial(ctx, path, "")
	if err != nil {
		return err
	}
	return readFrames(ctx, conn, func(data []byte) error {
		var evt domain.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		fn(evt)
		return nil
	})
}

func (c *Client) dial(ctx context.Context, path, token string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if env, decErr := decodeEnvelope(data); decErr == nil {
				return nil, apiErrorFrom(resp.StatusCode, env)
			}
			return nil, APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		}
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return conn, nil
}

var noDeadline time.Time

func readFrames(ctx context.Context, conn *websocket.Conn, fn func([]byte) error) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), noDeadline)
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var netErr *websocket.CloseError
			if errors.As(err, &netErr) {
				return fmt.Errorf("stream closed: %s", netErr.Text)
			}
			return err
		}
		if err := fn(data); err != nil {
			return err
		}
	}
}
