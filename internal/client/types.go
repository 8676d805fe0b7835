package client

import "time"

// DaemonStatus summarizes mcpoold and its pool.
type DaemonStatus struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Strategy  string `json:"strategy"`
	Servers   int    `json:"servers"`
	Ready     int    `json:"ready"`
	Tools     int    `json:"tools"`
	Conflicts int    `json:"conflicts"`
	Events    int    `json:"events"`
}

// ServerStatus is one pooled server's state as reported by mcpoold.
type ServerStatus struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	State           string `json:"state"`
	Healthy         bool   `json:"healthy"`
	LastError       string `json:"last_error,omitempty"`
	LastHealthCheck string `json:"last_health_check,omitempty"`
	LatencyMS       int64  `json:"latency_ms,omitempty"`
}

// AddServerRequest describes a server to register with the pool.
type AddServerRequest struct {
	ID      string            `json:"id"`
	Name    string            `json:"name,omitempty"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// CheckResult is the outcome of an on-demand health probe.
type CheckResult struct {
	ID        string `json:"id"`
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Resource is one MCP resource. ServerID identifies the advertising
// server when the listing spans the whole pool.
type Resource struct {
	ServerID    string `json:"server_id,omitempty"`
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

// ResourceText is the text content of one read resource.
type ResourceText struct {
	URI  string `json:"uri"`
	Text string `json:"text"`
}

// ToolTable maps each tool name to the server that serves it, plus the
// names advertised by more than one server.
type ToolTable struct {
	Tools     map[string]string   `json:"tools"`
	Conflicts map[string][]string `json:"conflicts,omitempty"`
}

// ToolCallResult is the routed outcome of one tool call.
type ToolCallResult struct {
	ServerID   string `json:"server_id"`
	Content    any    `json:"content"`
	IsError    bool   `json:"is_error"`
	MimeType   string `json:"mime_type,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// HistoryEvent is one recorded pool event.
type HistoryEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	SessionID string         `json:"session_id,omitempty"`
	ServerID  string         `json:"server_id,omitempty"`
	Type      string         `json:"type"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// LogEntry is a single captured stderr line from a pooled server.
type LogEntry struct {
	Timestamp time.Time `json:"ts"`
	ServerID  string    `json:"server_id"`
	Line      string    `json:"line"`
}

// APIError is returned when the API returns an error response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsNotFound reports whether err is a 404 from mcpoold.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 404
}
