// Package client is a typed Go client for the racer HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jnoller/racer/internal/apperr"
)

// DefaultBaseURL is used when no API URL is configured.
const DefaultBaseURL = "http://localhost:8001"

// Client provides typed access to the racer API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout bounds every request. Builds can take minutes, so the default is generous.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Minute},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// BaseURL reports the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError represents a failure envelope returned by the API.
type APIError struct {
	Status  int
	Kind    apperr.Kind
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return e.Message
}

// KindOf returns the error kind carried by an APIError, or "" for transport failures.
func KindOf(err error) apperr.Kind {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// envelope is the common response shape; payload fields stay raw until requested.
type envelope struct {
	Success bool
	Message string
	Fields  map[string]json.RawMessage
}

// Field decodes the payload stored under key into v.
func (e envelope) Field(key string, v any) error {
	raw, ok := e.Fields[key]
	if !ok {
		return fmt.Errorf("response has no %q field", key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string) (envelope, error) {
	if c == nil {
		return envelope{}, fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return envelope{}, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return envelope{}, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, fmt.Errorf("read response: %w", err)
	}
	env, decodeErr := decodeEnvelope(data)
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := apiErrorFrom(resp.StatusCode, env)
		if decodeErr != nil {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return env, apiErr
	}
	if decodeErr != nil {
		return envelope{}, fmt.Errorf("decode response: %w", decodeErr)
	}
	return env, nil
}

func apiErrorFrom(status int, env envelope) APIError {
	apiErr := APIError{Status: status, Message: env.Message}
	if raw, ok := env.Fields["error"]; ok {
		var kind string
		_ = json.Unmarshal(raw, &kind)
		apiErr.Kind = apperr.Kind(kind)
	}
	return apiErr
}

func decodeEnvelope(data []byte) (envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return envelope{}, err
	}
	env := envelope{Fields: fields}
	if raw, ok := fields["success"]; ok {
		_ = json.Unmarshal(raw, &env.Success)
	}
	if raw, ok := fields["message"]; ok {
		_ = json.Unmarshal(raw, &env.Message)
	}
	return env, nil
}

// call performs a request and decodes the payload under key.
func call[T any](ctx context.Context, c *Client, method, path string, body any, token, key string) (T, string, error) {
	var out T
	env, err := c.do(ctx, method, path, body, token)
	if err != nil {
		return out, "", err
	}
	if key == "" {
		return out, env.Message, nil
	}
	if err := env.Field(key, &out); err != nil {
		return out, env.Message, err
	}
	return out, env.Message, nil
}
