package commands

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
)

// Client calls the civitas HTTP surface.
type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(base, token string, timeout time.Duration) *Client {
	return &Client{base: trimServer(base), token: token, http: &http.Client{Timeout: timeout}}
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

// SignalView is a signal as the server renders it. Payload stays raw so the
// CLI can print it verbatim.
type SignalView struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Priority      string          `json:"priority"`
	Confidence    float64         `json:"confidence"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// EmitRequest mirrors the body of POST /signals.
type EmitRequest struct {
	Type          string          `json:"type"`
	Source        string          `json:"source,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      string          `json:"priority,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status      int
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("server returned %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

func (c *Client) Emit(ctx context.Context, req EmitRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode signal: %w", err)
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/signals", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) Recent(ctx context.Context, typ string, limit int) ([]SignalView, error) {
	q := url.Values{}
	if typ != "" {
		q.Set("type", typ)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/signals/recent"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []SignalView
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, into any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Stream connects to /signals/stream. The server replays recent activity
// first, then pushes live signals.
func (c *Client) Stream(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.base + "/signals/stream")
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	c.authorize(header)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect stream: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	return conn, nil
}
