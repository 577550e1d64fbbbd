// Package client talks to the matching API from the outside. The swapwatch
// command uses it to poll while the event channel is down.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"skillswap-backend/internal/service"

	"github.com/google/uuid"
)

// Client is a minimal HTTP client of the /v1 API
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
}

// New creates a client for baseURL, e.g. http://localhost:8080
func New(baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL must be http or https, got '%s'", u.Scheme)
	}
	return &Client{
		baseURL:    u,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// APIError is a non-2xx reply of the server
type APIError struct {
	Status  int
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Kind, e.Message)
}

// parseAPIError reads the error envelope of the API. Anything else, such as
// a proxy error page, is kept verbatim as the message.
func parseAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Message == "" {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &APIError{Status: status, Kind: envelope.Error.Kind, Message: msg}
	}
	envelope.Error.Status = status
	return &envelope.Error
}

// Dashboard fetches GET /v1/matches?userId=
func (c *Client) Dashboard(ctx context.Context, userID string) (*service.Dashboard, error) {
	u := c.baseURL.JoinPath("v1", "matches")
	u.RawQuery = url.Values{"userId": {userID}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var dashboard service.Dashboard
	if err := json.Unmarshal(body, &dashboard); err != nil {
		return nil, fmt.Errorf("decode dashboard: %w", err)
	}
	return &dashboard, nil
}

// EventURL returns the WebSocket URL of the event channel for userID
func (c *Client) EventURL(userID string) string {
	u := c.baseURL.JoinPath("v1", "ws")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"userId": {userID}}.Encode()
	return u.String()
}

// AuthHeader returns the header to send on the WebSocket upgrade
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// Inbox remembers which incoming requests were already reported, so pushes
// and polls can be merged without showing a request twice
type Inbox struct {
	mu   sync.Mutex
	seen map[uuid.UUID]bool
}

func NewInbox() *Inbox {
	return &Inbox{seen: make(map[uuid.UUID]bool)}
}

// MarkSeen records id and reports whether it was new
func (i *Inbox) MarkSeen(id uuid.UUID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.seen[id] {
		return false
	}
	i.seen[id] = true
	return true
}

// Unseen returns the requests of views not reported before and marks them
func (i *Inbox) Unseen(views []service.RequestView) []service.RequestView {
	var fresh []service.RequestView
	for _, v := range views {
		if i.MarkSeen(v.RequestID) {
			fresh = append(fresh, v)
		}
	}
	return fresh
}
