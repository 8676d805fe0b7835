// Package pool manages a set of named MCP server connections: add and
// remove, scheduled health probes, a tool index that tracks name
// collisions across servers, and strategy-based routing of tool calls.
//
// Each server runs disconnected -> connecting -> connected ->
// initializing -> ready; failures land in error. Only ready servers
// receive traffic. Connect failures are retried on a budget; a server
// that dies after that is re-added, not auto-reconnected.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/xfeldman/mcpool/internal/config"
	"github.com/xfeldman/mcpool/internal/jsonrpc"
	"github.com/xfeldman/mcpool/internal/mcp"
	"github.com/xfeldman/mcpool/internal/transport"
)

var (
	// ErrNilConfig is returned by AddServer for a nil server config.
	ErrNilConfig = errors.New("nil server config")

	// ErrServerRemoved is returned for operations racing a RemoveServer.
	ErrServerRemoved = errors.New("server removed from pool")

	// ErrUnknownServer is returned for operations naming an id that is
	// not in the pool.
	ErrUnknownServer = errors.New("unknown server")

	// ErrNoServerForTool is returned when no ready server advertises a
	// requested tool.
	ErrNoServerForTool = errors.New("no ready server for tool")
)

// EventType tags pool events recorded to history.
type EventType string

const (
	EventServerAdded   EventType = "server_added"
	EventServerRemoved EventType = "server_removed"
	EventStateChange   EventType = "state_change"
	EventHealthCheck   EventType = "health_check"
	EventToolCall      EventType = "tool_call"
)

// Event is one observable pool occurrence.
type Event struct {
	Type     EventType
	ServerID string
	Detail   map[string]any
}

// ServerStatus is an observable snapshot of one pooled server.
type ServerStatus struct {
	ServerID        string
	Name            string
	State           mcp.State
	LastError       string
	LastHealthCheck time.Time
	Latency         time.Duration
	Healthy         bool
}

// ServerResource pairs a resource with the server advertising it.
type ServerResource struct {
	ServerID string
	Resource mcp.Resource
}

// TransportFactory builds the transport for one server config. Tests
// substitute fakes here.
type TransportFactory func(sc config.ServerConfig) mcp.Transport

// entry is the pool's record of one server.
type entry struct {
	mu sync.Mutex

	cfg    config.ServerConfig
	client *mcp.Client
	state  mcp.State

	lastErr         string
	lastHealthCheck time.Time
	lastLatency     time.Duration
	removed         bool
}

func (e *entry) isRemoved() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removed
}

func (e *entry) snapshot() ServerStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ServerStatus{
		ServerID:        e.cfg.ID,
		Name:            e.cfg.Name,
		State:           e.state,
		LastError:       e.lastErr,
		LastHealthCheck: e.lastHealthCheck,
		Latency:         e.lastLatency,
		Healthy:         e.state == mcp.StateReady && e.lastErr == "",
	}
}

// Manager owns the server entries and drives their lifecycle.
type Manager struct {
	cfg      *config.Config
	strategy Strategy

	mu        sync.Mutex
	entries   map[string]*entry
	toolIndex map[string]map[string]struct{}
	started   bool
	stopped   bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	newTransport TransportFactory
	clientInfo   mcp.Info
	onStderr     func(serverID, line string)
	onEvent      func(Event)
}

// NewManager creates a pool manager. The strategy routes tool calls;
// servers listed in cfg connect when Start runs.
func NewManager(cfg *config.Config, strategy Strategy) *Manager {
	m := &Manager{
		cfg:       cfg,
		strategy:  strategy,
		entries:   make(map[string]*entry),
		toolIndex: make(map[string]map[string]struct{}),
		stopCh:    make(chan struct{}),
	}
	m.newTransport = func(sc config.ServerConfig) mcp.Transport {
		tcfg := transport.Config{
			Command:        sc.Command,
			Args:           sc.Args,
			Env:            sc.Env,
			Label:          sc.ID,
			RequestTimeout: cfg.ConnectionTimeout.Duration(),
		}
		if m.onStderr != nil {
			id := sc.ID
			tcfg.OnStderr = func(line string) { m.onStderr(id, line) }
		}
		return transport.New(tcfg)
	}
	return m
}

// SetTransportFactory replaces how server transports are built. Call
// before Start.
func (m *Manager) SetTransportFactory(fn TransportFactory) {
	m.newTransport = fn
}

// SetClientInfo sets the identity sent in initialize handshakes.
func (m *Manager) SetClientInfo(info mcp.Info) {
	m.clientInfo = info
}

// OnStderr registers a sink for child stderr lines. Call before Start.
func (m *Manager) OnStderr(fn func(serverID, line string)) {
	m.onStderr = fn
}

// OnEvent registers a sink for pool events (e.g. the history store).
// Call before Start.
func (m *Manager) OnEvent(fn func(Event)) {
	m.onEvent = fn
}

// Strategy returns the active selection strategy.
func (m *Manager) Strategy() Strategy {
	return m.strategy
}

// Start connects every enabled configured server in parallel and begins
// the background health-check loop.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	log.Printf("pool: starting, strategy %s, %d configured servers", m.strategy.Name(), len(m.cfg.Servers))
	for i := range m.cfg.Servers {
		sc := m.cfg.Servers[i]
		if err := m.AddServer(&sc); err != nil {
			log.Printf("pool: add server %s: %v", sc.ID, err)
		}
	}

	m.wg.Add(1)
	go m.healthLoop()
}

// Stop cancels the health loop, removes every entry, and waits for all
// pool tasks to finish. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	for _, id := range m.ServerIDs() {
		m.RemoveServer(id)
	}
	m.wg.Wait()
	log.Printf("pool: stopped")
}

// AddServer registers a server and starts its connect sequence in the
// background. The call succeeds as soon as the server is submitted;
// connect failures surface through ServerStatuses, not here. A disabled
// config is accepted and skipped.
func (m *Manager) AddServer(sc *config.ServerConfig) error {
	if sc == nil {
		return ErrNilConfig
	}
	if !sc.IsEnabled() {
		log.Printf("pool: server %s disabled, skipping", sc.ID)
		return nil
	}
	if sc.ID == "" {
		return fmt.Errorf("server id is required")
	}
	if sc.Command == "" {
		return fmt.Errorf("server %s: command is required", sc.ID)
	}

	cfg := *sc
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	cfg.Args = append([]string(nil), sc.Args...)
	if sc.Env != nil {
		cfg.Env = make(map[string]string, len(sc.Env))
		for k, v := range sc.Env {
			cfg.Env[k] = v
		}
	}

	e := &entry{cfg: cfg, state: mcp.StateDisconnected}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return fmt.Errorf("pool manager is stopped")
	}
	if _, exists := m.entries[cfg.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("server %s already in pool", cfg.ID)
	}
	m.entries[cfg.ID] = e
	m.mu.Unlock()

	log.Printf("pool: added server %s (%s)", cfg.ID, cfg.Command)
	m.emit(Event{Type: EventServerAdded, ServerID: cfg.ID, Detail: map[string]any{
		"name":    cfg.Name,
		"command": cfg.Command,
	}})

	m.wg.Add(1)
	go m.connectServer(e)
	return nil
}

// RemoveServer closes a server's client and forgets the entry.
// Removing an absent id succeeds.
func (m *Manager) RemoveServer(id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	e.removed = true
	c := e.client
	e.client = nil
	e.state = mcp.StateDisconnected
	e.mu.Unlock()

	m.dropFromIndex(id)
	if c != nil {
		if err := c.Close(); err != nil {
			log.Printf("pool %s: close: %v", id, err)
		}
	}

	log.Printf("pool: removed server %s", id)
	m.emit(Event{Type: EventServerRemoved, ServerID: id})
	return nil
}

// connectServer runs the retry loop for one entry: create transport,
// connect, initialize, index tools. Remote initialize errors are not
// retried; transport failures are, up to the configured budget.
func (m *Manager) connectServer(e *entry) {
	defer m.wg.Done()
	id := e.cfg.ID
	attempts := 1 + m.cfg.MaxRetries

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(m.cfg.RetryDelay.Duration()):
			case <-m.stopCh:
				return
			}
		}
		if e.isRemoved() {
			return
		}

		err := m.attemptConnect(e)
		if err == nil {
			m.refreshTools(e)
			return
		}
		if errors.Is(err, ErrServerRemoved) {
			return
		}
		m.setEntryState(e, mcp.StateError, err.Error())
		log.Printf("pool %s: connect attempt %d/%d failed: %v", id, attempt, attempts, err)

		if isRemoteInitError(err) {
			log.Printf("pool %s: server rejected initialize, not retrying", id)
			return
		}
	}
	log.Printf("pool %s: exhausted %d connect attempts", id, attempts)
}

func (m *Manager) attemptConnect(e *entry) error {
	sc := e.cfg
	tr := m.newTransport(sc)
	c := mcp.New(tr, mcp.Options{
		Label:      sc.ID,
		ClientInfo: m.clientInfo,
		OnStateChange: func(from, to mcp.State) {
			m.handleClientState(sc.ID, from, to)
		},
	})

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		c.Close()
		return ErrServerRemoved
	}
	e.client = c
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectionTimeout.Duration())
	defer cancel()

	m.setEntryState(e, mcp.StateConnecting, "")
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return err
	}
	m.setEntryState(e, mcp.StateConnected, "")

	m.setEntryState(e, mcp.StateInitializing, "")
	if _, err := c.Initialize(ctx); err != nil {
		c.Close()
		return err
	}
	m.setEntryState(e, mcp.StateReady, "")
	return nil
}

// isRemoteInitError reports whether the initialize handshake failed
// with a JSON-RPC error from the server, as opposed to a transport
// problem worth retrying.
func isRemoteInitError(err error) bool {
	var remote *jsonrpc.Error
	return errors.Is(err, mcp.ErrInitFailed) && errors.As(err, &remote)
}

// handleClientState reacts to client-driven transitions. The connect
// sequence records its own progress, so only a spontaneous loss of a
// ready connection matters here.
func (m *Manager) handleClientState(id string, from, to mcp.State) {
	if to != mcp.StateError {
		return
	}
	e := m.lookup(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.removed || e.state != mcp.StateReady {
		e.mu.Unlock()
		return
	}
	e.state = mcp.StateError
	if e.lastErr == "" {
		e.lastErr = "connection lost"
	}
	errMsg := e.lastErr
	e.mu.Unlock()

	m.dropFromIndex(id)
	log.Printf("pool %s: connection lost", id)
	m.emit(Event{Type: EventStateChange, ServerID: id, Detail: map[string]any{
		"from":  string(mcp.StateReady),
		"to":    string(mcp.StateError),
		"error": errMsg,
	}})
}

func (m *Manager) setEntryState(e *entry, to mcp.State, errMsg string) {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return
	}
	from := e.state
	e.state = to
	e.lastErr = errMsg
	e.mu.Unlock()
	if from == to {
		return
	}
	if from == mcp.StateReady {
		m.dropFromIndex(e.cfg.ID)
	}
	detail := map[string]any{"from": string(from), "to": string(to)}
	if errMsg != "" {
		detail["error"] = errMsg
	}
	m.emit(Event{Type: EventStateChange, ServerID: e.cfg.ID, Detail: detail})
}

// healthLoop probes every ready server on the configured interval.
func (m *Manager) healthLoop() {
	defer m.wg.Done()
	interval := m.cfg.HealthCheckInterval.Duration()
	log.Printf("pool: health checks every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.HealthCheckAll(context.Background())
		}
	}
}

// HealthCheck probes one server with a tools/list request and records
// the observed latency. A failed probe marks the server errored; it is
// not retried here.
func (m *Manager) HealthCheck(ctx context.Context, id string) error {
	e := m.lookup(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownServer, id)
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServerRemoved, id)
	}
	if e.state != mcp.StateReady {
		st := e.state
		e.mu.Unlock()
		return fmt.Errorf("server %s is not ready (state %s)", id, st)
	}
	c := e.client
	e.mu.Unlock()
	if c == nil {
		return fmt.Errorf("server %s has no client", id)
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectionTimeout.Duration())
	defer cancel()

	start := time.Now()
	_, err := c.ListTools(probeCtx)
	latency := time.Since(start)

	if err != nil {
		c.Fail()
		m.setEntryState(e, mcp.StateError, err.Error())
		log.Printf("pool %s: health check failed: %v", id, err)
		m.emit(Event{Type: EventHealthCheck, ServerID: id, Detail: map[string]any{
			"ok":    false,
			"error": err.Error(),
		}})
		return err
	}

	e.mu.Lock()
	e.lastHealthCheck = time.Now()
	e.lastLatency = latency
	e.lastErr = ""
	e.mu.Unlock()
	m.emit(Event{Type: EventHealthCheck, ServerID: id, Detail: map[string]any{
		"ok":         true,
		"latency_ms": latency.Milliseconds(),
	}})
	return nil
}

// HealthCheckAll probes every ready server in parallel and waits for
// all probes to finish.
func (m *Manager) HealthCheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range m.readyIDs() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.HealthCheck(ctx, id)
		}(id)
	}
	wg.Wait()
}

// refreshTools lists a freshly ready server's tools and replaces its
// index entries with them.
func (m *Manager) refreshTools(e *entry) {
	id := e.cfg.ID
	e.mu.Lock()
	c := e.client
	removed := e.removed
	e.mu.Unlock()
	if c == nil || removed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectionTimeout.Duration())
	defer cancel()
	tools, err := c.ListTools(ctx)
	if err != nil {
		log.Printf("pool %s: tool discovery failed: %v", id, err)
		return
	}

	names := make([]string, 0, len(tools))
	for _, t := range tools {
		if t.Name != "" {
			names = append(names, t.Name)
		}
	}

	m.mu.Lock()
	for name, set := range m.toolIndex {
		delete(set, id)
		if len(set) == 0 {
			delete(m.toolIndex, name)
		}
	}
	for _, name := range names {
		set, ok := m.toolIndex[name]
		if !ok {
			set = make(map[string]struct{})
			m.toolIndex[name] = set
		}
		set[id] = struct{}{}
	}
	m.mu.Unlock()
	log.Printf("pool %s: indexed %d tools", id, len(names))
}

// dropFromIndex removes a server from every tool-index entry.
func (m *Manager) dropFromIndex(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, set := range m.toolIndex {
		delete(set, id)
		if len(set) == 0 {
			delete(m.toolIndex, name)
		}
	}
}

// AllTools maps every indexed tool name to its owning server. A name
// advertised by several servers resolves to the lexicographically
// smallest id, so routing stays reproducible.
func (m *Manager) AllTools() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.toolIndex))
	for name, set := range m.toolIndex {
		winner := ""
		for id := range set {
			if winner == "" || id < winner {
				winner = id
			}
		}
		if winner != "" {
			out[name] = winner
		}
	}
	return out
}

// Conflicts returns the tool names advertised by more than one server,
// with the contenders sorted.
func (m *Manager) Conflicts() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string)
	for name, set := range m.toolIndex {
		if len(set) < 2 {
			continue
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[name] = ids
	}
	return out
}

// ClientForTool routes a tool name through the active strategy and
// returns the chosen server's client and id.
func (m *Manager) ClientForTool(tool string) (*mcp.Client, string, bool) {
	m.mu.Lock()
	set := m.toolIndex[tool]
	candidates := make([]string, 0, len(set))
	for id := range set {
		candidates = append(candidates, id)
	}
	m.mu.Unlock()
	if len(candidates) == 0 {
		return nil, "", false
	}
	sort.Strings(candidates)

	id, ok := m.strategy.SelectForTool(tool, candidates, m.statusMap())
	if !ok {
		return nil, "", false
	}
	e := m.lookup(id)
	if e == nil {
		return nil, "", false
	}
	e.mu.Lock()
	c := e.client
	e.mu.Unlock()
	if c == nil {
		return nil, "", false
	}
	return c, id, true
}

// CallTool routes a tool call to the server chosen by the strategy and
// returns the result together with the serving server's id.
func (m *Manager) CallTool(ctx context.Context, tool string, args map[string]any) (*mcp.ToolResult, string, error) {
	c, id, ok := m.ClientForTool(tool)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNoServerForTool, tool)
	}

	start := time.Now()
	res, err := c.CallTool(ctx, tool, args)
	detail := map[string]any{
		"tool":        tool,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		detail["error"] = err.Error()
		m.emit(Event{Type: EventToolCall, ServerID: id, Detail: detail})
		return nil, id, err
	}
	detail["is_error"] = res.IsError
	m.emit(Event{Type: EventToolCall, ServerID: id, Detail: detail})
	return res, id, nil
}

// AllResources lists resources from every ready server. Per-server
// failures are logged and skipped.
func (m *Manager) AllResources(ctx context.Context) []ServerResource {
	out := []ServerResource{}
	for _, id := range m.readyIDs() {
		c, ok := m.GetClient(id)
		if !ok {
			continue
		}
		resources, err := c.ListResources(ctx)
		if err != nil {
			log.Printf("pool %s: list resources: %v", id, err)
			continue
		}
		for _, r := range resources {
			out = append(out, ServerResource{ServerID: id, Resource: r})
		}
	}
	return out
}

// ServerIDs returns the pooled server ids, sorted.
func (m *Manager) ServerIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// ServerStatuses returns a status snapshot per server, sorted by id.
func (m *Manager) ServerStatuses() []ServerStatus {
	entries := m.entrySnapshot()
	out := make([]ServerStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// GetStatus returns the status of one server.
func (m *Manager) GetStatus(id string) (ServerStatus, bool) {
	e := m.lookup(id)
	if e == nil {
		return ServerStatus{}, false
	}
	return e.snapshot(), true
}

// GetClient returns the client attached to a server.
func (m *Manager) GetClient(id string) (*mcp.Client, bool) {
	e := m.lookup(id)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	c := e.client
	e.mu.Unlock()
	return c, c != nil
}

// IsServerReady reports whether a server is ready for operations.
func (m *Manager) IsServerReady(id string) bool {
	e := m.lookup(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == mcp.StateReady
}

func (m *Manager) lookup(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[id]
}

func (m *Manager) entrySnapshot() []*entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

func (m *Manager) statusMap() map[string]ServerStatus {
	entries := m.entrySnapshot()
	out := make(map[string]ServerStatus, len(entries))
	for _, e := range entries {
		st := e.snapshot()
		out[st.ServerID] = st
	}
	return out
}

func (m *Manager) readyIDs() []string {
	entries := m.entrySnapshot()
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.state == mcp.StateReady {
			ids = append(ids, e.cfg.ID)
		}
		e.mu.Unlock()
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) emit(ev Event) {
	if m.onEvent != nil {
		m.onEvent(ev)
	}
}
