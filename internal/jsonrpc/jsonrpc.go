// Package jsonrpc provides the line-framed JSON-RPC 2.0 wire types used to
// talk to MCP servers over child-process stdio. One message per line, UTF-8
// JSON, newline-delimited; json.Marshal never emits a raw newline so frames
// cannot split.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only accepted jsonrpc field value.
const Version = "2.0"

// Standard error codes seen on the receive side.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ID is a request identifier. This client always emits string ids, but a
// server is allowed to echo one back as a JSON number; decoding normalizes
// both forms to the decimal string so pending-table lookups compare equal.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", data)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON always emits the string form.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

// Request is an outgoing call or notification. A notification has no id.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest builds a call expecting a response.
func NewRequest(id, method string, params any) *Request {
	return &Request{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// NewNotification builds a fire-and-forget request.
func NewNotification(method string, params any) *Request {
	return &Request{JSONRPC: Version, Method: method, Params: params}
}

// Response is an incoming reply. Exactly one of Result/Error is present in a
// well-formed response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Validate reports a protocol violation when result and error are both
// present or both absent.
func (r *Response) Validate() error {
	hasResult := len(r.Result) > 0
	hasError := r.Error != nil
	switch {
	case hasResult && hasError:
		return fmt.Errorf("response %s carries both result and error", r.ID)
	case !hasResult && !hasError:
		return fmt.Errorf("response %s carries neither result nor error", r.ID)
	}
	return nil
}

// Error is a JSON-RPC error object returned by the server. It implements
// error so remote failures flow through ordinary error returns and can be
// recovered with errors.As.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message is the superset shape used to classify a line before routing:
// a response carries an id and no method, a notification a method and no id.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsResponse reports whether the message answers an outstanding call.
func (m *Message) IsResponse() bool {
	return m.ID != "" && m.Method == ""
}

// IsNotification reports whether the message is server-initiated with no
// reply expected.
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == ""
}

// Response converts a classified message into a Response.
func (m *Message) Response() *Response {
	return &Response{JSONRPC: m.JSONRPC, ID: m.ID, Result: m.Result, Error: m.Error}
}

// EncodeFrame serializes v and appends the line delimiter.
func EncodeFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeMessage parses one received line, tolerating trailing CR/LF.
func DecodeMessage(line []byte) (*Message, error) {
	line = bytes.TrimRight(line, "\r\n")
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
