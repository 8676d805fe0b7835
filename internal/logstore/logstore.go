// Package logstore provides durable per-server stderr capture with
// in-memory ring buffers and NDJSON file persistence. MCP servers are
// told to keep stdout for protocol frames, so everything a child
// prints for humans lands here.
package logstore

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	gzip "github.com/klauspost/compress/gzip"
)

const (
	maxLines     = 10000
	maxBytes     = 5 * 1024 * 1024  // 5MB in-memory ring buffer
	maxFileBytes = 10 * 1024 * 1024 // 10MB per log file before rotation
)

// Entry is a single stderr line from an MCP server.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	ServerID  string    `json:"server_id"`
	Line      string    `json:"line"`
}

// Store manages stderr capture for all pooled servers.
type Store struct {
	mu      sync.RWMutex
	logs    map[string]*ServerLog
	logsDir string
}

// NewStore creates a new log store, creating logsDir if needed.
func NewStore(logsDir string) *Store {
	os.MkdirAll(logsDir, 0700)
	return &Store{
		logs:    make(map[string]*ServerLog),
		logsDir: logsDir,
	}
}

// GetOrCreate returns the ServerLog for the given server, creating it
// if needed.
func (s *Store) GetOrCreate(serverID string) *ServerLog {
	s.mu.RLock()
	sl, ok := s.logs[serverID]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if sl, ok := s.logs[serverID]; ok {
		return sl
	}

	filePath := filepath.Join(s.logsDir, serverID+".ndjson")
	sl = newServerLog(serverID, filePath)
	s.logs[serverID] = sl
	return sl
}

// Get returns the ServerLog for the given server, or nil if not found.
func (s *Store) Get(serverID string) *ServerLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logs[serverID]
}

// Append records one stderr line for a server. This is the shape the
// pool's stderr hook expects.
func (s *Store) Append(serverID, line string) {
	s.GetOrCreate(serverID).Append(line)
}

// Remove closes the log for a server and removes its files from disk.
func (s *Store) Remove(serverID string) {
	s.mu.Lock()
	sl, ok := s.logs[serverID]
	if ok {
		delete(s.logs, serverID)
	}
	s.mu.Unlock()

	if ok {
		sl.Close()
		filePath := filepath.Join(s.logsDir, serverID+".ndjson")
		os.Remove(filePath)
		os.Remove(filePath + ".1.gz")
	}
}

// Close closes every server log. Files stay on disk.
func (s *Store) Close() {
	s.mu.Lock()
	logs := make([]*ServerLog, 0, len(s.logs))
	for _, sl := range s.logs {
		logs = append(logs, sl)
	}
	s.logs = make(map[string]*ServerLog)
	s.mu.Unlock()

	for _, sl := range logs {
		sl.Close()
	}
}

// ServerLog is a per-server ring buffer with disk persistence and live
// subscriptions.
type ServerLog struct {
	mu       sync.Mutex
	serverID string

	// Ring buffer
	entries    []Entry
	head       int
	count      int
	totalBytes int

	// Subscribers
	subs []chan Entry

	// File persistence
	filePath  string
	file      *os.File
	fileBytes int64
}

func newServerLog(serverID, filePath string) *ServerLog {
	sl := &ServerLog{
		serverID: serverID,
		entries:  make([]Entry, maxLines),
		filePath: filePath,
	}

	// Open or create log file
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err == nil {
		sl.file = f
		info, _ := f.Stat()
		if info != nil {
			sl.fileBytes = info.Size()
		}
	}

	return sl
}

// Append adds a line to the ring buffer, persists it to disk, and
// notifies subscribers.
func (sl *ServerLog) Append(line string) {
	entry := Entry{
		Timestamp: time.Now(),
		ServerID:  sl.serverID,
		Line:      line,
	}

	sl.mu.Lock()

	entrySize := len(line) + 64 // approximate overhead

	// Evict entries if over byte cap
	for sl.count > 0 && sl.totalBytes+entrySize > maxBytes {
		oldest := sl.entries[sl.head]
		sl.totalBytes -= len(oldest.Line) + 64
		sl.head = (sl.head + 1) % maxLines
		sl.count--
	}

	// Evict if at max lines
	if sl.count >= maxLines {
		oldest := sl.entries[sl.head]
		sl.totalBytes -= len(oldest.Line) + 64
		sl.head = (sl.head + 1) % maxLines
		sl.count--
	}

	idx := (sl.head + sl.count) % maxLines
	sl.entries[idx] = entry
	sl.count++
	sl.totalBytes += entrySize

	// Write to file
	if sl.file != nil {
		data, err := json.Marshal(entry)
		if err == nil {
			data = append(data, '\n')
			n, err := sl.file.Write(data)
			if err == nil {
				sl.fileBytes += int64(n)
				if sl.fileBytes > maxFileBytes {
					sl.rotate()
				}
			}
		}
	}

	// Copy subs slice to notify outside lock
	subs := make([]chan Entry, len(sl.subs))
	copy(subs, sl.subs)
	sl.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

// rotate compresses the current file to a .1.gz sibling and starts a
// fresh one. Uses klauspost/compress/gzip; stderr logs squeeze well.
func (sl *ServerLog) rotate() {
	if sl.file != nil {
		sl.file.Close()
		sl.file = nil
	}
	if err := compressFile(sl.filePath, sl.filePath+".1.gz"); err == nil {
		os.Remove(sl.filePath)
	}
	f, err := os.OpenFile(sl.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err == nil {
		sl.file = f
		sl.fileBytes = 0
	}
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Read returns buffered entries filtered by since time, limited to the
// last tail entries. If tail <= 0, all matching entries are returned.
func (sl *ServerLog) Read(since time.Time, tail int) []Entry {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var result []Entry
	for i := 0; i < sl.count; i++ {
		idx := (sl.head + i) % maxLines
		e := sl.entries[idx]
		if !since.IsZero() && !e.Timestamp.After(since) {
			continue
		}
		result = append(result, e)
	}

	if tail > 0 && len(result) > tail {
		result = result[len(result)-tail:]
	}
	return result
}

// Subscribe returns a channel for live entries, the existing buffered
// entries, and an unsubscribe function.
func (sl *ServerLog) Subscribe() (ch chan Entry, existing []Entry, unsub func()) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	ch = make(chan Entry, 100)
	sl.subs = append(sl.subs, ch)

	existing = make([]Entry, 0, sl.count)
	for i := 0; i < sl.count; i++ {
		idx := (sl.head + i) % maxLines
		existing = append(existing, sl.entries[idx])
	}

	unsub = func() {
		sl.mu.Lock()
		defer sl.mu.Unlock()
		for i, s := range sl.subs {
			if s == ch {
				sl.subs = append(sl.subs[:i], sl.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}

	return ch, existing, unsub
}

// Close closes the file handle and all subscriber channels.
func (sl *ServerLog) Close() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.file != nil {
		sl.file.Close()
		sl.file = nil
	}
	for _, ch := range sl.subs {
		close(ch)
	}
	sl.subs = nil
}
