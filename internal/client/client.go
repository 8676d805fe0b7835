// Package client provides a shared Go client for the mcpoold HTTP API.
// Used by the CLI and the integration harness — replaces per-binary
// unix socket boilerplate.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Client talks to mcpoold over a unix socket.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client connected to the mcpoold unix socket at socketPath.
func New(socketPath string) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					d.Timeout = 5 * time.Second
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 0, // no timeout for streaming
		},
		baseURL: "http://mcpool",
	}
}

// DefaultSocketPath returns the default mcpoold socket path (~/.mcpool/mcpoold.sock).
func DefaultSocketPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mcpool", "mcpoold.sock")
}

// NewDefault creates a client using the default socket path.
func NewDefault() *Client {
	return New(DefaultSocketPath())
}

// --- Daemon ---

// Status returns the daemon and pool summary.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var out DaemonStatus
	if err := c.doJSON(ctx, "GET", "/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Server management ---

// ListServers returns the status of every pooled server.
func (c *Client) ListServers(ctx context.Context) ([]ServerStatus, error) {
	var out []ServerStatus
	if err := c.doJSON(ctx, "GET", "/v1/servers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetServer returns a single server's status by id.
func (c *Client) GetServer(ctx context.Context, id string) (*ServerStatus, error) {
	var out ServerStatus
	if err := c.doJSON(ctx, "GET", "/v1/servers/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddServer registers a server with the pool and starts connecting it.
func (c *Client) AddServer(ctx context.Context, req AddServerRequest) (*ServerStatus, error) {
	var out ServerStatus
	if err := c.doJSON(ctx, "POST", "/v1/servers", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveServer drops a server from the pool and kills its child process.
func (c *Client) RemoveServer(ctx context.Context, id string) error {
	return c.doJSON(ctx, "DELETE", "/v1/servers/"+url.PathEscape(id), nil, nil)
}

// CheckServer runs a health probe against one server now. A failed probe
// is reported in the result, not as an error.
func (c *Client) CheckServer(ctx context.Context, id string) (*CheckResult, error) {
	var out CheckResult
	if err := c.doJSON(ctx, "POST", "/v1/servers/"+url.PathEscape(id)+"/check", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Logs ---

// StreamLogs returns a reader over a server's captured stderr (NDJSON,
// one LogEntry per line). With follow the stream stays open for new
// lines until ctx is canceled. Caller must close the returned ReadCloser.
func (c *Client) StreamLogs(ctx context.Context, id string, follow bool, tail int) (io.ReadCloser, error) {
	params := url.Values{}
	if follow {
		params.Set("follow", "true")
	}
	if tail > 0 {
		params.Set("tail", strconv.Itoa(tail))
	}
	path := "/v1/servers/" + url.PathEscape(id) + "/logs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	resp, err := c.doRaw(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// --- Tools ---

// Tools returns the pool's tool routing table.
func (c *Client) Tools(ctx context.Context) (*ToolTable, error) {
	var out ToolTable
	if err := c.doJSON(ctx, "GET", "/v1/tools", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CallTool routes one tool call through the pool.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error) {
	body := map[string]any{"arguments": args}
	var out ToolCallResult
	if err := c.doJSON(ctx, "POST", "/v1/tools/"+url.PathEscape(name)+"/call", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Resources ---

// AllResources lists resources across every ready server.
func (c *Client) AllResources(ctx context.Context) ([]Resource, error) {
	var out []Resource
	if err := c.doJSON(ctx, "GET", "/v1/resources", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ServerResources lists resources advertised by one server.
func (c *Client) ServerResources(ctx context.Context, id string) ([]Resource, error) {
	var out []Resource
	if err := c.doJSON(ctx, "GET", "/v1/servers/"+url.PathEscape(id)+"/resources", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadResource reads one resource's text through a server.
func (c *Client) ReadResource(ctx context.Context, id, uri string) (*ResourceText, error) {
	body := map[string]string{"uri": uri}
	var out ResourceText
	if err := c.doJSON(ctx, "POST", "/v1/servers/"+url.PathEscape(id)+"/resources/read", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- History ---

// HistoryOpts filters a history query. Zero values mean no filter and
// the daemon's default limit.
type HistoryOpts struct {
	ServerID string
	Type     string
	Limit    int
}

// History returns recent pool events, newest first.
func (c *Client) History(ctx context.Context, opts HistoryOpts) ([]HistoryEvent, error) {
	params := url.Values{}
	if opts.ServerID != "" {
		params.Set("server", opts.ServerID)
	}
	if opts.Type != "" {
		params.Set("type", opts.Type)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/v1/history"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var out []HistoryEvent
	if err := c.doJSON(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportHistory streams the full event log as gzip-compressed NDJSON.
// The caller must close the reader.
func (c *Client) ExportHistory(ctx context.Context) (io.ReadCloser, error) {
	resp, err := c.doRaw(ctx, "GET", "/v1/history/export", nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// --- Internal helpers ---

// doJSON makes a JSON request and decodes the JSON response into result.
// If body is non-nil, it's encoded as JSON. If result is nil, the response body is discarded.
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	resp, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// doRaw makes an HTTP request and returns the raw response.
// Caller is responsible for closing resp.Body.
func (c *Client) doRaw(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, parseError(resp)
	}
	return resp, nil
}

// parseError reads an error response body and returns an APIError.
func parseError(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}
