// Package mcp implements the client half of the Model Context Protocol:
// the initialize handshake and the typed tool and resource operations,
// layered on a line-framed JSON-RPC stdio transport.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/xfeldman/mcpool/internal/jsonrpc"
	"github.com/xfeldman/mcpool/internal/transport"
)

// DefaultProtocolVersion is the MCP revision this client speaks.
const DefaultProtocolVersion = "2024-11-05"

// Transport is the request/response channel the client drives. The
// stdio transport satisfies it; tests substitute fakes.
type Transport interface {
	Connect(ctx context.Context) error
	Call(ctx context.Context, method string, params any) (*jsonrpc.Response, error)
	Notify(ctx context.Context, method string, params any) error
	IsConnected() bool
	Close() error
}

// Options configure a Client. Zero values get sensible defaults.
type Options struct {
	// Label prefixes log lines, usually the pool server id.
	Label string

	// ProtocolVersion sent in the initialize request.
	ProtocolVersion string

	// ClientInfo identifies this client to the server.
	ClientInfo Info

	// OnStateChange, when set, observes every state transition. It is
	// invoked synchronously after the transition is recorded and must
	// not block for long.
	OnStateChange func(from, to State)
}

// Client wraps one transport and tracks the MCP session over it: the
// connection state machine, the initialized flag, and the server
// identity captured from the handshake. A Client drives one child
// process for its lifetime; recovery from a dead child is a new Client.
type Client struct {
	tr   Transport
	opts Options

	mu          sync.Mutex
	state       State
	initialized bool
	serverInfo  *Info
}

// New builds a Client over tr. The transport is owned by the client
// from here on; Close tears it down.
func New(tr Transport, opts Options) *Client {
	if opts.Label == "" {
		opts.Label = "client"
	}
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = DefaultProtocolVersion
	}
	if opts.ClientInfo == (Info{}) {
		opts.ClientInfo = Info{Name: "mcpool", Version: "dev"}
	}
	return &Client{tr: tr, opts: opts, state: StateDisconnected}
}

// Connect spawns the child process and attaches the protocol reader.
// On success the client is connected but not yet initialized.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot connect from state %q", st)
	}
	c.mu.Unlock()

	c.setState(StateConnecting)
	if err := c.tr.Connect(ctx); err != nil {
		c.fail()
		return err
	}
	c.setState(StateConnected)
	return nil
}

// Initialize performs the MCP handshake: the initialize request
// followed by the initialized notification. On success the client is
// ready and typed operations may be issued. Any failure, remote or
// transport, lands the client in the error state.
func (c *Client) Initialize(ctx context.Context) (*Info, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		st := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot initialize from state %q", ErrInitFailed, st)
	}
	c.mu.Unlock()

	c.setState(StateInitializing)

	params := initializeParams{
		ProtocolVersion: c.opts.ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      c.opts.ClientInfo,
	}
	resp, err := c.tr.Call(ctx, "initialize", params)
	if err != nil {
		c.fail()
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	if resp.Error != nil {
		c.fail()
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, resp.Error)
	}

	var result initializeResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			c.fail()
			return nil, fmt.Errorf("%w: decoding result: %v", ErrInitFailed, err)
		}
	}

	if err := c.tr.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.fail()
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.initialized = true
	c.mu.Unlock()
	c.setState(StateReady)

	if result.ServerInfo != nil {
		log.Printf("mcp %s: ready (server %s %s)", c.opts.Label, result.ServerInfo.Name, result.ServerInfo.Version)
	} else {
		log.Printf("mcp %s: ready", c.opts.Label)
	}
	return result.ServerInfo, nil
}

// ListTools fetches the server's advertised tools.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: tools/list result: %v", ErrDecode, err)
	}
	return result.Tools, nil
}

// CallTool invokes a named tool. A result carrying isError=true is
// returned as data; only JSON-RPC error responses become errors.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	resp, err := c.call(ctx, "tools/call", toolCallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var result ToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: tools/call result: %v", ErrDecode, err)
	}
	return &result, nil
}

// ListResources fetches the server's advertised resources.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	resp, err := c.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: resources/list result: %v", ErrDecode, err)
	}
	return result.Resources, nil
}

// ReadResource reads a resource by URI and returns the text of its
// first content entry.
func (c *Client) ReadResource(ctx context.Context, uri string) (string, error) {
	resp, err := c.call(ctx, "resources/read", readResourceParams{URI: uri})
	if err != nil {
		return "", err
	}
	var result struct {
		Contents []resourceContent `json:"contents"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("%w: resources/read result: %v", ErrDecode, err)
	}
	if len(result.Contents) == 0 || result.Contents[0].Text == nil {
		return "", fmt.Errorf("%w: %s", ErrBadResourceShape, uri)
	}
	return *result.Contents[0].Text, nil
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerInfo returns the identity the server reported during
// initialize, or nil before a successful handshake.
func (c *Client) ServerInfo() *Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// IsConnected reports whether the child is alive and the handshake has
// completed.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	init := c.initialized
	c.mu.Unlock()
	return init && c.tr.IsConnected()
}

// Close marks the client uninitialized, forgets the server identity,
// and tears the transport down. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	c.initialized = false
	c.serverInfo = nil
	from := c.state
	c.state = StateDisconnected
	c.mu.Unlock()
	c.notifyState(from, StateDisconnected)
	return c.tr.Close()
}

// Fail forces the client into the error state and drops the
// initialized flag. The pool uses it when a health probe fails without
// the transport itself reporting loss.
func (c *Client) Fail() {
	c.fail()
}

// call guards a typed operation: ready-state check, dispatch, remote
// error unwrapping, and connection poisoning on transport failure.
func (c *Client) call(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	c.mu.Lock()
	ready := c.initialized && c.state == StateReady
	c.mu.Unlock()
	if !ready {
		return nil, ErrNotInitialized
	}

	resp, err := c.tr.Call(ctx, method, params)
	if err != nil {
		c.noteFailure(err)
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}

// noteFailure demotes the client to the error state when the transport
// is gone for good. Per-request timeouts and decode errors leave the
// connection usable.
func (c *Client) noteFailure(err error) {
	if errors.Is(err, transport.ErrRead) || errors.Is(err, transport.ErrWrite) ||
		errors.Is(err, transport.ErrNotConnected) || errors.Is(err, transport.ErrClosed) {
		c.fail()
	}
}

func (c *Client) fail() {
	c.mu.Lock()
	c.initialized = false
	from := c.state
	c.state = StateError
	c.mu.Unlock()
	c.notifyState(from, StateError)
}

func (c *Client) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	c.notifyState(from, to)
}

func (c *Client) notifyState(from, to State) {
	if from != to && c.opts.OnStateChange != nil {
		c.opts.OnStateChange(from, to)
	}
}
