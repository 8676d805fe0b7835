package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/xfeldman/mcpool/internal/jsonrpc"
	"github.com/xfeldman/mcpool/internal/transport"
)

// stubTransport satisfies Transport with canned per-method replies and
// records everything the client sends.
type stubTransport struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	reqs      []stubRequest
	notifies  []string
	replies   map[string]stubReply

	connectErr error
}

type stubRequest struct {
	method string
	params json.RawMessage
}

type stubReply struct {
	resp *jsonrpc.Response
	err  error
}

func newStub() *stubTransport {
	return &stubTransport{replies: map[string]stubReply{}}
}

func (s *stubTransport) on(method string, resp *jsonrpc.Response, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[method] = stubReply{resp: resp, err: err}
}

func (s *stubTransport) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *stubTransport) Call(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.reqs = append(s.reqs, stubRequest{method: method, params: raw})
	reply, ok := s.replies[method]
	s.mu.Unlock()
	if !ok {
		return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: "1", Result: json.RawMessage(`{}`)}, nil
	}
	return reply.resp, reply.err
}

func (s *stubTransport) Notify(ctx context.Context, method string, params any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifies = append(s.notifies, method)
	return nil
}

func (s *stubTransport) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

func (s *stubTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.connected = false
	return nil
}

func (s *stubTransport) lastParams(t *testing.T, method string) json.RawMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.reqs) - 1; i >= 0; i-- {
		if s.reqs[i].method == method {
			return s.reqs[i].params
		}
	}
	t.Fatalf("no %q request recorded", method)
	return nil
}

func result(t *testing.T, v any) *jsonrpc.Response {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: "1", Result: raw}
}

func remoteError(code int, msg string) *jsonrpc.Response {
	return &jsonrpc.Response{
		JSONRPC: jsonrpc.Version,
		ID:      "1",
		Error:   &jsonrpc.Error{Code: code, Message: msg},
	}
}

func newReadyClient(t *testing.T, stub *stubTransport) *Client {
	t.Helper()
	if _, ok := stub.replies["initialize"]; !ok {
		stub.on("initialize", result(t, map[string]any{
			"protocolVersion": DefaultProtocolVersion,
			"serverInfo":      map[string]string{"name": "mock", "version": "1.0.0"},
			"capabilities":    map[string]any{},
		}), nil)
	}
	c := New(stub, Options{Label: "test"})
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestInitialize_Handshake(t *testing.T) {
	stub := newStub()
	stub.on("initialize", result(t, map[string]any{
		"serverInfo":   map[string]string{"name": "mock", "version": "1.0.0"},
		"capabilities": map[string]any{},
	}), nil)

	c := New(stub, Options{Label: "test"})
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	info, err := c.Initialize(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if info == nil || info.Name != "mock" || info.Version != "1.0.0" {
		t.Errorf("server info = %+v, want mock 1.0.0", info)
	}
	if got := c.State(); got != StateReady {
		t.Errorf("state = %s, want %s", got, StateReady)
	}
	if !c.IsConnected() {
		t.Error("IsConnected = false after successful initialize")
	}

	// The handshake must carry the protocol version, a capabilities
	// object, and the client identity.
	params := stub.lastParams(t, "initialize")
	var sent struct {
		ProtocolVersion string          `json:"protocolVersion"`
		Capabilities    json.RawMessage `json:"capabilities"`
		ClientInfo      Info            `json:"clientInfo"`
	}
	if err := json.Unmarshal(params, &sent); err != nil {
		t.Fatal(err)
	}
	if sent.ProtocolVersion != DefaultProtocolVersion {
		t.Errorf("protocolVersion = %q, want %q", sent.ProtocolVersion, DefaultProtocolVersion)
	}
	if string(sent.Capabilities) != "{}" {
		t.Errorf("capabilities = %s, want {}", sent.Capabilities)
	}
	if sent.ClientInfo.Name == "" {
		t.Error("clientInfo.name is empty")
	}

	if len(stub.notifies) != 1 || stub.notifies[0] != "notifications/initialized" {
		t.Errorf("notifications = %v, want [notifications/initialized]", stub.notifies)
	}
}

func TestInitialize_OnlyFromConnected(t *testing.T) {
	c := New(newStub(), Options{})
	_, err := c.Initialize(context.Background())
	if !errors.Is(err, ErrInitFailed) {
		t.Errorf("Initialize before Connect = %v, want ErrInitFailed", err)
	}
}

func TestInitialize_RemoteError(t *testing.T) {
	stub := newStub()
	stub.on("initialize", remoteError(-32603, "broken server"), nil)

	c := New(stub, Options{})
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	_, err := c.Initialize(ctx)
	if !errors.Is(err, ErrInitFailed) {
		t.Fatalf("Initialize = %v, want ErrInitFailed", err)
	}
	var remote *jsonrpc.Error
	if !errors.As(err, &remote) || remote.Code != -32603 {
		t.Errorf("cause = %v, want wrapped remote error -32603", err)
	}
	if got := c.State(); got != StateError {
		t.Errorf("state = %s, want %s", got, StateError)
	}

	if _, err := c.ListTools(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ListTools after failed init = %v, want ErrNotInitialized", err)
	}
}

func TestOperationsBeforeInitialize(t *testing.T) {
	c := New(newStub(), Options{})
	ctx := context.Background()

	if _, err := c.ListTools(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ListTools = %v, want ErrNotInitialized", err)
	}
	if _, err := c.CallTool(ctx, "echo", nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("CallTool = %v, want ErrNotInitialized", err)
	}
	if _, err := c.ListResources(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ListResources = %v, want ErrNotInitialized", err)
	}
	if _, err := c.ReadResource(ctx, "demo://x"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ReadResource = %v, want ErrNotInitialized", err)
	}
}

func TestListTools_DecodesSchema(t *testing.T) {
	stub := newStub()
	stub.on("tools/list", result(t, map[string]any{
		"tools": []map[string]any{{
			"name":        "echo",
			"description": "Echo",
			"inputSchema": map[string]any{
				"type":       "object",
				"properties": map[string]any{"message": map[string]string{"type": "string"}},
				"required":   []string{"message"},
			},
		}},
	}), nil)
	c := newReadyClient(t, stub)

	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 1 {
		t.Fatalf("len(tools) = %d, want 1", len(tools))
	}
	tool := tools[0]
	if tool.Name != "echo" || tool.Description != "Echo" {
		t.Errorf("tool = %+v, want echo/Echo", tool)
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "message" {
		t.Errorf("required = %v, want [message]", tool.InputSchema.Required)
	}
	if _, ok := tool.InputSchema.Properties["message"]; !ok {
		t.Error("schema properties missing \"message\"")
	}
}

func TestListTools_DecodeFailure(t *testing.T) {
	stub := newStub()
	stub.on("tools/list", result(t, map[string]any{"tools": "not a list"}), nil)
	c := newReadyClient(t, stub)

	_, err := c.ListTools(context.Background())
	if !errors.Is(err, ErrDecode) {
		t.Errorf("ListTools = %v, want ErrDecode", err)
	}
	// A shape problem is not a connection problem.
	if got := c.State(); got != StateReady {
		t.Errorf("state = %s, want %s", got, StateReady)
	}
}

func TestCallTool_Success(t *testing.T) {
	stub := newStub()
	stub.on("tools/call", result(t, map[string]any{
		"content":  "hi",
		"isError":  false,
		"mimeType": "text/plain",
	}), nil)
	c := newReadyClient(t, stub)

	res, err := c.CallTool(context.Background(), "echo", map[string]any{"message": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hi" {
		t.Errorf("content = %v, want %q", res.Content, "hi")
	}
	if res.IsError {
		t.Error("isError = true, want false")
	}
	if res.MimeType != "text/plain" {
		t.Errorf("mimeType = %q, want text/plain", res.MimeType)
	}
}

func TestCallTool_RemoteError(t *testing.T) {
	stub := newStub()
	stub.on("tools/call", remoteError(-32601, "Tool 'nonexistent' not found"), nil)
	c := newReadyClient(t, stub)

	_, err := c.CallTool(context.Background(), "nonexistent", map[string]any{})
	var remote *jsonrpc.Error
	if !errors.As(err, &remote) {
		t.Fatalf("CallTool = %v, want remote error", err)
	}
	if remote.Code != -32601 {
		t.Errorf("code = %d, want -32601", remote.Code)
	}
	if !strings.Contains(remote.Message, "not found") {
		t.Errorf("message = %q, want mention of not found", remote.Message)
	}
	// Remote errors ride a healthy connection.
	if got := c.State(); got != StateReady {
		t.Errorf("state = %s, want %s", got, StateReady)
	}
}

func TestCallTool_IsErrorResultIsData(t *testing.T) {
	stub := newStub()
	stub.on("tools/call", result(t, map[string]any{
		"content": "tool blew up",
		"isError": true,
	}), nil)
	c := newReadyClient(t, stub)

	res, err := c.CallTool(context.Background(), "fail", nil)
	if err != nil {
		t.Fatalf("CallTool = %v, want nil (isError results are data)", err)
	}
	if !res.IsError {
		t.Error("isError = false, want true")
	}
}

func TestCallTool_NilArgumentsBecomeEmptyObject(t *testing.T) {
	stub := newStub()
	c := newReadyClient(t, stub)

	if _, err := c.CallTool(context.Background(), "echo", nil); err != nil {
		t.Fatal(err)
	}
	params := stub.lastParams(t, "tools/call")
	var sent struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &sent); err != nil {
		t.Fatal(err)
	}
	if sent.Name != "echo" {
		t.Errorf("name = %q, want echo", sent.Name)
	}
	if string(sent.Arguments) != "{}" {
		t.Errorf("arguments = %s, want {}", sent.Arguments)
	}
}

func TestListResources(t *testing.T) {
	stub := newStub()
	stub.on("resources/list", result(t, map[string]any{
		"resources": []map[string]any{{
			"uri":      "demo://motd",
			"name":     "Message of the day",
			"mimeType": "text/plain",
		}},
	}), nil)
	c := newReadyClient(t, stub)

	resources, err := c.ListResources(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(resources) != 1 || resources[0].URI != "demo://motd" {
		t.Errorf("resources = %+v, want one demo://motd", resources)
	}
}

func TestReadResource_FirstText(t *testing.T) {
	stub := newStub()
	stub.on("resources/read", result(t, map[string]any{
		"contents": []map[string]any{
			{"uri": "demo://motd", "mimeType": "text/plain", "text": "hello"},
			{"uri": "demo://motd", "text": "ignored"},
		},
	}), nil)
	c := newReadyClient(t, stub)

	text, err := c.ReadResource(context.Background(), "demo://motd")
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello" {
		t.Errorf("text = %q, want %q", text, "hello")
	}

	params := stub.lastParams(t, "resources/read")
	if want := `{"uri":"demo://motd"}`; string(params) != want {
		t.Errorf("params = %s, want %s", params, want)
	}
}

func TestReadResource_BadShape(t *testing.T) {
	shapes := map[string]any{
		"no contents":    map[string]any{},
		"empty contents": map[string]any{"contents": []any{}},
		"no text":        map[string]any{"contents": []map[string]any{{"uri": "demo://x"}}},
	}
	for name, shape := range shapes {
		t.Run(name, func(t *testing.T) {
			stub := newStub()
			stub.on("resources/read", result(t, shape), nil)
			c := newReadyClient(t, stub)

			_, err := c.ReadResource(context.Background(), "demo://x")
			if !errors.Is(err, ErrBadResourceShape) {
				t.Errorf("ReadResource = %v, want ErrBadResourceShape", err)
			}
		})
	}
}

func TestTransportLossPoisonsClient(t *testing.T) {
	stub := newStub()
	c := newReadyClient(t, stub)

	stub.on("tools/list", nil, fmt.Errorf("%w: connection lost", transport.ErrRead))
	if _, err := c.ListTools(context.Background()); !errors.Is(err, transport.ErrRead) {
		t.Fatalf("ListTools = %v, want ErrRead", err)
	}
	if got := c.State(); got != StateError {
		t.Errorf("state = %s, want %s", got, StateError)
	}
	if c.IsConnected() {
		t.Error("IsConnected = true after transport loss")
	}
	if _, err := c.ListTools(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ListTools after loss = %v, want ErrNotInitialized", err)
	}
}

func TestTimeoutDoesNotPoisonClient(t *testing.T) {
	stub := newStub()
	c := newReadyClient(t, stub)

	stub.on("tools/call", nil, fmt.Errorf("%w after 200ms", transport.ErrTimeout))
	if _, err := c.CallTool(context.Background(), "slow", nil); !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("CallTool = %v, want ErrTimeout", err)
	}
	if got := c.State(); got != StateReady {
		t.Errorf("state = %s, want %s (timeouts leave the connection up)", got, StateReady)
	}

	stub.on("tools/list", result(t, map[string]any{"tools": []any{}}), nil)
	if _, err := c.ListTools(context.Background()); err != nil {
		t.Errorf("ListTools after timeout = %v, want nil", err)
	}
}

func TestClose_ResetsClient(t *testing.T) {
	stub := newStub()
	c := newReadyClient(t, stub)

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state = %s, want %s", got, StateDisconnected)
	}
	if c.ServerInfo() != nil {
		t.Error("ServerInfo retained after Close")
	}
	if c.IsConnected() {
		t.Error("IsConnected = true after Close")
	}
	if !stub.closed {
		t.Error("transport not closed")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestStateCallback_FullLifecycle(t *testing.T) {
	stub := newStub()
	var mu sync.Mutex
	var seen []State

	c := New(stub, Options{OnStateChange: func(from, to State) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	}})
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	want := []State{StateConnecting, StateConnected, StateInitializing, StateReady, StateDisconnected}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestConnect_SpawnFailureLandsInError(t *testing.T) {
	stub := newStub()
	stub.connectErr = fmt.Errorf("%w: no such file", transport.ErrSpawn)

	c := New(stub, Options{})
	err := c.Connect(context.Background())
	if !errors.Is(err, transport.ErrSpawn) {
		t.Fatalf("Connect = %v, want ErrSpawn", err)
	}
	if got := c.State(); got != StateError {
		t.Errorf("state = %s, want %s", got, StateError)
	}
}
