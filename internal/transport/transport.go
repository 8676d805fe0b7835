// Package transport owns a single MCP server child process and the
// line-framed JSON-RPC 2.0 traffic over its standard input/output.
//
// One reader goroutine per transport consumes stdout and routes responses to
// pending callers by request id. Writes are serialized by a mutex so frames
// from concurrent senders never interleave. Request ids come from an atomic
// counter starting at 1 and are never reused within a connection.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xfeldman/mcpool/internal/jsonrpc"
)

const (
	// DefaultRequestTimeout bounds a single call when the config does not
	// say otherwise.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultKillGrace is how long Close waits for the child to exit on
	// stdin EOF before killing it.
	DefaultKillGrace = 5 * time.Second

	// maxFrameSize bounds a single stdout line.
	maxFrameSize = 1024 * 1024
)

// Config describes the child process a transport supervises.
type Config struct {
	// Command is the executable to spawn. Required.
	Command string

	// Args are appended to the command in order. May be empty, never nil
	// semantics: a nil slice is treated as empty.
	Args []string

	// Env entries are added to the parent environment, overriding parent
	// values on key collision. The parent environment is never replaced.
	Env map[string]string

	// Label names the transport in log lines. Defaults to the command
	// base name.
	Label string

	// RequestTimeout bounds each call. Defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration

	// KillGrace is the shutdown grace period. Defaults to DefaultKillGrace.
	KillGrace time.Duration

	// OnStderr, when set, receives each line the child writes to stderr on
	// a dedicated goroutine. When nil, stderr goes to the null device.
	OnStderr func(line string)
}

// pendingResult is the one-shot completion delivered to a waiting caller.
type pendingResult struct {
	resp *jsonrpc.Response
	err  error
}

// Stdio is a transport over one child process. The zero value is not usable;
// construct with New.
type Stdio struct {
	cfg   Config
	label string

	nextID atomic.Int64

	// mu guards the connection flags, the child handles, and the pending
	// table. It is never held across I/O.
	mu        sync.Mutex
	connected bool
	closed    bool
	exited    bool
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	pending   map[string]chan pendingResult

	// wmu serializes frame writes so concurrent senders are ordered and
	// lines never interleave.
	wmu sync.Mutex

	readerDone chan struct{}
	stderrDone chan struct{}
	waitDone   chan struct{}
}

// New builds a transport for the given child process. Nothing is spawned
// until Connect.
func New(cfg Config) *Stdio {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	label := cfg.Label
	if label == "" {
		label = filepath.Base(cfg.Command)
	}
	return &Stdio{
		cfg:     cfg,
		label:   label,
		pending: make(map[string]chan pendingResult),
	}
}

// Connect spawns the child and starts the reader. A second Connect on a live
// transport is rejected; a closed transport cannot be reconnected.
func (t *Stdio) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.connected {
		return fmt.Errorf("transport %s: already connected", t.label)
	}
	if t.cfg.Command == "" {
		return fmt.Errorf("%w: empty command", ErrSpawn)
	}

	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	var stderr io.ReadCloser
	if t.cfg.OnStderr != nil {
		stderr, err = cmd.StderrPipe()
		if err != nil {
			return fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
		}
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.connected = true
	t.exited = false
	t.readerDone = make(chan struct{})
	t.waitDone = make(chan struct{})
	if stderr != nil {
		t.stderrDone = make(chan struct{})
		go t.stderrLoop(stderr)
	} else {
		t.stderrDone = nil
	}

	go t.readLoop(stdout)
	go t.reap(cmd, t.readerDone, t.stderrDone, t.waitDone)

	return nil
}

// reap waits for both pipe readers to finish, then collects the child's exit
// status. Wait must not run concurrently with pipe reads.
func (t *Stdio) reap(cmd *exec.Cmd, readerDone, stderrDone, waitDone chan struct{}) {
	<-readerDone
	if stderrDone != nil {
		<-stderrDone
	}
	err := cmd.Wait()

	t.mu.Lock()
	t.exited = true
	t.mu.Unlock()
	if err != nil {
		log.Printf("transport %s: child exited: %v", t.label, err)
	}
	close(waitDone)
}

// Call sends a request and waits for its response, the per-request timeout,
// or ctx cancellation, whichever comes first. The returned response may carry
// a remote error object; translating that into a Go error is the caller's
// concern.
func (t *Stdio) Call(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, method)
	}
	id := strconv.FormatInt(t.nextID.Add(1), 10)
	respCh := make(chan pendingResult, 1)
	t.pending[id] = respCh
	t.mu.Unlock()

	if err := t.writeFrame(jsonrpc.NewRequest(id, method, params)); err != nil {
		t.takePending(id)
		return nil, err
	}

	timer := time.NewTimer(t.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case r := <-respCh:
		return r.resp, r.err
	case <-timer.C:
		if _, ok := t.takePending(id); ok {
			return nil, fmt.Errorf("%w: %s after %v", ErrTimeout, method, t.cfg.RequestTimeout)
		}
		// The reader removed the entry first; its result is in flight.
		r := <-respCh
		return r.resp, r.err
	case <-ctx.Done():
		if _, ok := t.takePending(id); ok {
			return nil, ctx.Err()
		}
		r := <-respCh
		return r.resp, r.err
	}
}

// Notify sends a request that expects no response. Only framing and write
// failures propagate.
func (t *Stdio) Notify(ctx context.Context, method string, params any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotConnected, method)
	}
	t.mu.Unlock()

	return t.writeFrame(jsonrpc.NewNotification(method, params))
}

// writeFrame encodes v and writes it as one line under the writer mutex.
// A write failure poisons the transport; an encode failure does not.
func (t *Stdio) writeFrame(v any) error {
	data, err := jsonrpc.EncodeFrame(v)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrDecode, err)
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	t.mu.Lock()
	stdin := t.stdin
	connected := t.connected
	t.mu.Unlock()
	if !connected || stdin == nil {
		return ErrNotConnected
	}

	if _, err := stdin.Write(data); err != nil {
		werr := fmt.Errorf("%w: %v", ErrWrite, err)
		t.poison(werr)
		return werr
	}
	return nil
}

// readLoop consumes stdout lines until EOF or a read error. Malformed lines
// are logged and skipped; the reader never panics the connection.
func (t *Stdio) readLoop(r io.Reader) {
	defer close(t.readerDone)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		msg, err := jsonrpc.DecodeMessage(line)
		if err != nil {
			log.Printf("transport %s: skipping malformed line: %v", t.label, err)
			continue
		}

		switch {
		case msg.IsResponse():
			t.deliver(msg.Response())
		case msg.IsNotification():
			// Server-initiated notifications are not part of the client
			// surface; drop them quietly.
		default:
			log.Printf("transport %s: dropping unclassified message", t.label)
		}
	}

	readErr := scanner.Err()

	t.mu.Lock()
	wasConnected := t.connected
	t.connected = false
	drained := t.drainPendingLocked()
	t.mu.Unlock()

	if !wasConnected {
		// Close already drained and logged.
		return
	}

	failure := fmt.Errorf("%w: connection lost", ErrRead)
	if readErr != nil {
		failure = fmt.Errorf("%w: %v", ErrRead, readErr)
	}
	log.Printf("transport %s: reader stopped: %v (%d pending failed)", t.label, failure, len(drained))
	for _, ch := range drained {
		ch <- pendingResult{err: failure}
	}
}

// stderrLoop forwards child stderr lines to the configured handler. It never
// touches the protocol reader.
func (t *Stdio) stderrLoop(r io.Reader) {
	defer close(t.stderrDone)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	for scanner.Scan() {
		t.cfg.OnStderr(scanner.Text())
	}
}

// deliver routes a response to its pending caller. Whoever removes the entry
// from the table owns the single send on its channel.
func (t *Stdio) deliver(resp *jsonrpc.Response) {
	ch, ok := t.takePending(string(resp.ID))
	if !ok {
		// Likely a response to an already-timed-out request.
		log.Printf("transport %s: no pending request for id %s", t.label, resp.ID)
		return
	}
	if err := resp.Validate(); err != nil {
		ch <- pendingResult{err: fmt.Errorf("%w: %v", ErrDecode, err)}
		return
	}
	ch <- pendingResult{resp: resp}
}

// takePending removes and returns the pending entry for id.
func (t *Stdio) takePending(id string) (chan pendingResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return ch, ok
}

// drainPendingLocked empties the pending table and returns the waiter
// channels. Caller holds mu and sends the failure after releasing it.
func (t *Stdio) drainPendingLocked() []chan pendingResult {
	drained := make([]chan pendingResult, 0, len(t.pending))
	for id, ch := range t.pending {
		delete(t.pending, id)
		drained = append(drained, ch)
	}
	return drained
}

// poison marks the transport errored and fails everything outstanding.
// Subsequent sends fail fast with ErrNotConnected.
func (t *Stdio) poison(cause error) {
	t.mu.Lock()
	wasConnected := t.connected
	t.connected = false
	drained := t.drainPendingLocked()
	t.mu.Unlock()

	if wasConnected {
		log.Printf("transport %s: poisoned: %v (%d pending failed)", t.label, cause, len(drained))
	}
	for _, ch := range drained {
		ch <- pendingResult{err: cause}
	}
}

// IsConnected reports whether the transport is live and the child has not
// been reaped.
func (t *Stdio) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected && !t.exited
}

// Close shuts the transport down: outstanding requests fail with ErrClosed,
// stdin is closed so the child can exit on EOF, and the child is killed
// after the grace period if it lingers. Close is idempotent.
func (t *Stdio) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	drained := t.drainPendingLocked()
	stdin := t.stdin
	cmd := t.cmd
	waitDone := t.waitDone
	t.mu.Unlock()

	for _, ch := range drained {
		ch <- pendingResult{err: ErrClosed}
	}

	if cmd == nil {
		// Never connected.
		return nil
	}

	if stdin != nil {
		stdin.Close()
	}

	select {
	case <-waitDone:
	case <-time.After(t.cfg.KillGrace):
		log.Printf("transport %s: child did not exit within %v, killing", t.label, t.cfg.KillGrace)
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		<-waitDone
	}
	return nil
}
