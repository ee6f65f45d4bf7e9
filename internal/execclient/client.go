// Package execclient talks to a remote execution service over its JSON API
// and streams run events over SSE or websocket.
package execclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/haatos/runbatch/internal"
	"github.com/haatos/runbatch/internal/events"
	"github.com/haatos/runbatch/internal/store"
)

type Transport string

const (
	TransportSSE Transport = "sse"
	TransportWS  Transport = "ws"
)

func (t Transport) IsValid() bool {
	return t == TransportSSE || t == TransportWS
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("execution service responded %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL   string
	apiKey    string
	transport Transport
	http      *http.Client
	stream    *http.Client
	dialer    *websocket.Dialer
}

type Option func(*Client)

func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t.IsValid() {
			c.transport = t
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		transport: TransportSSE,
		http:      &http.Client{Timeout: 30 * time.Second},
		stream:    &http.Client{},
		dialer:    websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("err encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	c.authorize(req.Header)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("err calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("err decoding %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.apiKey != "" {
		h.Set(internal.APIKeyHeader, c.apiKey)
	}
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Message != "" {
		apiErr.Message = body.Message
	}
	return apiErr
}

func (c *Client) CreateBatch(ctx context.Context, br store.BatchRequest) (*store.BatchRuns, error) {
	out := new(store.BatchRuns)
	if err := c.do(ctx, http.MethodPost, "/api/batches", br, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetBatch(ctx context.Context, batchID int64) (*store.BatchRuns, error) {
	out := new(store.BatchRuns)
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/batches/%d", batchID), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListBatches(ctx context.Context, limit int64) ([]store.BatchRuns, error) {
	var out []store.BatchRuns
	path := "/api/batches?limit=" + strconv.FormatInt(limit, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RenameBatch(ctx context.Context, batchID int64, name string) error {
	body := map[string]string{"name": name}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/batches/%d", batchID), body, nil)
}

func (c *Client) DeleteBatch(ctx context.Context, batchID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/batches/%d", batchID), nil, nil)
}

func (c *Client) GetRun(ctx context.Context, runID int64) (*store.Run, error) {
	out := new(store.Run)
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/runs/%d", runID), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetRunResult(ctx context.Context, runID int64) (*store.Result, error) {
	out := new(store.Result)
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/runs/%d/result", runID), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListRunEvents(ctx context.Context, runID, since int64) ([]events.Event, error) {
	var envs []events.Envelope
	path := fmt.Sprintf("/api/runs/%d/events?since=%d", runID, since)
	if err := c.do(ctx, http.MethodGet, path, nil, &envs); err != nil {
		return nil, err
	}
	out := make([]events.Event, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.Event())
	}
	return out, nil
}

func (c *Client) RetryTest(ctx context.Context, runID int64, testName string) error {
	body := map[string]string{"test_name": testName}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/runs/%d/retry", runID), body, nil)
}

func (c *Client) CancelRun(ctx context.Context, runID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/runs/%d/cancel", runID), nil, nil)
}

// SubscribeRunEvents opens a push subscription delivering the events of
// runID with a sequence number above since.
func (c *Client) SubscribeRunEvents(ctx context.Context, runID, since int64) (events.Stream, error) {
	if c.transport == TransportWS {
		s, err := c.subscribeWS(ctx, runID, since)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := c.subscribeSSE(ctx, runID, since)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Client) wsURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}
