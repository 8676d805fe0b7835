// mcpool-demo — a small MCP (Model Context Protocol) server over stdio.
// Bundled so the pool has a real child to spawn in examples and
// integration tests: add it with `mcpool add demo -- mcpool-demo`.
//
// Tools: echo, add, sleep, env, fail. Resources: demo://motd and
// demo://env/{NAME}.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xfeldman/mcpool/internal/version"
)

// --- JSON-RPC types ---

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"` // null for notifications
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// --- MCP types ---

type mcpInitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ServerInfo      mcpServerInfo   `json:"serverInfo"`
	Capabilities    mcpCapabilities `json:"capabilities"`
	Instructions    string          `json:"instructions,omitempty"`
}

type mcpServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type mcpCapabilities struct {
	Tools     *struct{} `json:"tools,omitempty"`
	Resources *struct{} `json:"resources,omitempty"`
}

type mcpTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type mcpToolsListResult struct {
	Tools []mcpTool `json:"tools"`
}

type mcpToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type mcpContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type mcpToolResult struct {
	Content []mcpContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

type mcpResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type mcpResourcesListResult struct {
	Resources []mcpResource `json:"resources"`
}

type mcpReadResourceParams struct {
	URI string `json:"uri"`
}

type mcpResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

type mcpReadResourceResult struct {
	Contents []mcpResourceContent `json:"contents"`
}

func rawJSON(s string) json.RawMessage {
	return json.RawMessage(s)
}

// --- Tool definitions ---

var tools = []mcpTool{
	{
		Name:        "echo",
		Description: "Echo the given text back.",
		InputSchema: rawJSON(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "Text to echo back."}
			},
			"required": ["text"]
		}`),
	},
	{
		Name:        "add",
		Description: "Add two numbers and return the sum.",
		InputSchema: rawJSON(`{
			"type": "object",
			"properties": {
				"a": {"type": "number", "description": "First addend."},
				"b": {"type": "number", "description": "Second addend."}
			},
			"required": ["a", "b"]
		}`),
	},
	{
		Name:        "sleep",
		Description: "Sleep for the given number of milliseconds, then return. Useful for exercising timeouts and latency-based routing.",
		InputSchema: rawJSON(`{
			"type": "object",
			"properties": {
				"ms": {"type": "integer", "description": "Milliseconds to sleep (max 60000)."}
			},
			"required": ["ms"]
		}`),
	},
	{
		Name:        "env",
		Description: "Return the value of one of this server's environment variables.",
		InputSchema: rawJSON(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Environment variable name."}
			},
			"required": ["name"]
		}`),
	},
	{
		Name:        "fail",
		Description: "Always return a tool-level error. Useful for exercising isError handling.",
		InputSchema: rawJSON(`{
			"type": "object",
			"properties": {
				"message": {"type": "string", "description": "Error text to return."}
			}
		}`),
	},
}

// --- Tool handlers ---

func handleEcho(args json.RawMessage) *mcpToolResult {
	var params struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	return textResult(params.Text)
}

func handleAdd(args json.RawMessage) *mcpToolResult {
	var params struct {
		A *float64 `json:"a"`
		B *float64 `json:"b"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	if params.A == nil || params.B == nil {
		return errorResult("a and b are required")
	}
	sum := *params.A + *params.B
	return textResult(strconv.FormatFloat(sum, 'f', -1, 64))
}

func handleSleep(args json.RawMessage) *mcpToolResult {
	var params struct {
		MS int `json:"ms"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	if params.MS < 0 {
		return errorResult("ms must not be negative")
	}
	if params.MS > 60000 {
		params.MS = 60000
	}
	time.Sleep(time.Duration(params.MS) * time.Millisecond)
	return textResult(fmt.Sprintf("slept %dms", params.MS))
}

func handleEnv(args json.RawMessage) *mcpToolResult {
	var params struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	if params.Name == "" {
		return errorResult("name is required")
	}
	value, ok := os.LookupEnv(params.Name)
	if !ok {
		return errorResult(fmt.Sprintf("environment variable %s is not set", params.Name))
	}
	return textResult(value)
}

func handleFail(args json.RawMessage) *mcpToolResult {
	var params struct {
		Message string `json:"message"`
	}
	json.Unmarshal(args, &params)
	if params.Message == "" {
		params.Message = "intentional failure"
	}
	return errorResult(params.Message)
}

// --- Resources ---

const motdURI = "demo://motd"

func motd() string {
	if v := os.Getenv("DEMO_MOTD"); v != "" {
		return v
	}
	return "hello from mcpool-demo"
}

func listResources() mcpResourcesListResult {
	return mcpResourcesListResult{
		Resources: []mcpResource{
			{
				URI:         motdURI,
				Name:        "Message of the day",
				Description: "Static greeting; override with the DEMO_MOTD environment variable. Environment variables are also readable directly as demo://env/{NAME}.",
				MimeType:    "text/plain",
			},
		},
	}
}

func readResource(uri string) (*mcpReadResourceResult, *rpcError) {
	var text string
	switch {
	case uri == motdURI:
		text = motd()
	case strings.HasPrefix(uri, "demo://env/"):
		name := strings.TrimPrefix(uri, "demo://env/")
		value, ok := os.LookupEnv(name)
		if !ok {
			return nil, &rpcError{Code: -32602, Message: "environment variable not set: " + name}
		}
		text = value
	default:
		return nil, &rpcError{Code: -32602, Message: "unknown resource: " + uri}
	}
	return &mcpReadResourceResult{
		Contents: []mcpResourceContent{{URI: uri, MimeType: "text/plain", Text: text}},
	}, nil
}

// --- Result helpers ---

func textResult(text string) *mcpToolResult {
	return &mcpToolResult{
		Content: []mcpContent{{Type: "text", Text: text}},
	}
}

func errorResult(msg string) *mcpToolResult {
	return &mcpToolResult{
		Content: []mcpContent{{Type: "text", Text: msg}},
		IsError: true,
	}
}

// --- Tool dispatch ---

var toolHandlers = map[string]func(json.RawMessage) *mcpToolResult{
	"echo":  handleEcho,
	"add":   handleAdd,
	"sleep": handleSleep,
	"env":   handleEnv,
	"fail":  handleFail,
}

// --- Main loop ---

func main() {
	enc := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	// Allow large messages (16MB)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req jsonRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(jsonRPCResponse{
				JSONRPC: "2.0",
				Error:   &rpcError{Code: -32700, Message: "parse error"},
				ID:      nil,
			})
			continue
		}

		// Notifications (no id) — just acknowledge silently
		if req.ID == nil {
			continue
		}

		var result interface{}
		var rpcErr *rpcError

		switch req.Method {
		case "initialize":
			result = mcpInitializeResult{
				ProtocolVersion: "2024-11-05",
				ServerInfo: mcpServerInfo{
					Name:    "mcpool-demo",
					Version: version.Version(),
				},
				Capabilities: mcpCapabilities{
					Tools:     &struct{}{},
					Resources: &struct{}{},
				},
				Instructions: "Demo server bundled with mcpool. The echo, add, sleep, env, and fail tools exercise routing, latency measurement, and error handling. Read demo://motd or demo://env/{NAME} for resource access.",
			}

		case "tools/list":
			result = mcpToolsListResult{Tools: tools}

		case "tools/call":
			var callParams mcpToolCallParams
			if err := json.Unmarshal(req.Params, &callParams); err != nil {
				rpcErr = &rpcError{Code: -32602, Message: "invalid params: " + err.Error()}
			} else {
				handler, ok := toolHandlers[callParams.Name]
				if !ok {
					rpcErr = &rpcError{Code: -32602, Message: "unknown tool: " + callParams.Name}
				} else {
					result = handler(callParams.Arguments)
				}
			}

		case "resources/list":
			result = listResources()

		case "resources/read":
			var readParams mcpReadResourceParams
			if err := json.Unmarshal(req.Params, &readParams); err != nil {
				rpcErr = &rpcError{Code: -32602, Message: "invalid params: " + err.Error()}
			} else {
				res, errObj := readResource(readParams.URI)
				if errObj != nil {
					rpcErr = errObj
				} else {
					result = res
				}
			}

		default:
			rpcErr = &rpcError{Code: -32601, Message: "method not found: " + req.Method}
		}

		enc.Encode(jsonRPCResponse{
			JSONRPC: "2.0",
			Result:  result,
			Error:   rpcErr,
			ID:      req.ID,
		})
	}
}
