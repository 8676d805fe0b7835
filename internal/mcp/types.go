package mcp

import "encoding/json"

// Info names one side of the MCP handshake, client or server.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Tool is one server-advertised callable.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"inputSchema,omitempty"`
}

// InputSchema is the JSON-schema fragment describing a tool's arguments.
// Property values are kept raw; the client routes them, it does not
// validate against them.
type InputSchema struct {
	Type       string                     `json:"type,omitempty"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
	Required   []string                   `json:"required,omitempty"`
}

// ToolResult is the outcome of a tools/call request. IsError marks a
// tool-level failure reported by the server as data; it is not a
// protocol error.
type ToolResult struct {
	Content  any    `json:"content"`
	IsError  bool   `json:"isError,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Resource is one server-advertised readable, identified by URI.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Info           `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      *Info           `json:"serverInfo"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type resourceContent struct {
	URI      string  `json:"uri"`
	MimeType string  `json:"mimeType,omitempty"`
	Text     *string `json:"text,omitempty"`
}
