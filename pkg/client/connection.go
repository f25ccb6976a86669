// Package client implements the HTTP connection to a device cloud account.
// Every service package talks to the cloud through the Connection interface;
// the HTTPConnection implementation handles authentication, retries and
// error reporting so the protocol layers above it never touch net/http.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// Connection is the transport collaborator used by all service APIs.
// Implementations must return the raw response body on success and an
// error (typically *HTTPError) on any non-successful status.
type Connection interface {
	Get(ctx context.Context, path string) ([]byte, error)
	GetJSON(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body []byte) ([]byte, error)
	Put(ctx context.Context, path string, body []byte) ([]byte, error)
	Delete(ctx context.Context, path string) ([]byte, error)
}

// HTTPError is returned when the cloud answers with a non-successful
// HTTP status after all retry attempts are spent.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("device cloud %s to %s failed - HTTP(%d)", e.Method, e.URL, e.StatusCode)
}

// Statuses the cloud uses for successful operations. 204 is the success
// status for DELETE.
func isSuccess(code int) bool {
	switch code {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return true
	}
	return false
}

// HTTPConnection is the production Connection backed by a pooled HTTP
// client. It retries failed requests a fixed number of times with a one
// second pause between attempts; anything smarter (backoff, jitter) is the
// caller's job via Retries=0 and wrapping.
type HTTPConnection struct {
	baseURL  string
	username string
	password string
	retries  int
	client   *http.Client
}

// NewHTTPConnection creates a connection to the given base URL using HTTP
// Basic authentication. retries is the number of additional attempts made
// after a failed request; 0 means requests are attempted exactly once.
func NewHTTPConnection(baseURL, username, password string, retries int, timeout time.Duration) *HTTPConnection {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = timeout
	return &HTTPConnection{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		retries:  retries,
		client:   httpClient,
	}
}

// BaseURL returns the account base URL this connection points at.
func (c *HTTPConnection) BaseURL() string { return c.baseURL }

func (c *HTTPConnection) makeURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *HTTPConnection) do(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	url := c.makeURL(path)
	attempts := c.retries + 1

	var lastStatus int
	var lastBody []byte
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
			slog.Debug("Retrying request", "component", "Connection", "method", method, "url", url, "attempt", attempt+1)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.username, c.password)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("device cloud %s to %s failed: %w", method, url, err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading response from %s: %w", url, err)
		}
		if isSuccess(resp.StatusCode) {
			return respBody, nil
		}
		lastStatus = resp.StatusCode
		lastBody = respBody
		slog.Warn("Request failed", "component", "Connection", "method", method, "url", url, "status", resp.StatusCode)
	}

	return nil, &HTTPError{Method: method, URL: url, StatusCode: lastStatus, Body: lastBody}
}

func (c *HTTPConnection) Get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

func (c *HTTPConnection) GetJSON(ctx context.Context, path string, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, nil, map[string]string{"Accept": "application/json"})
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *HTTPConnection) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *HTTPConnection) Put(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPut, path, body, nil)
}

func (c *HTTPConnection) Delete(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Ping verifies the configured credentials by fetching a single device
// from DeviceCore.
func (c *HTTPConnection) Ping(ctx context.Context) error {
	_, err := c.Get(ctx, "/ws/DeviceCore?size=1")
	return err
}
