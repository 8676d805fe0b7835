package mcp

import "errors"

var (
	// ErrNotInitialized is returned when a typed operation is attempted
	// before a successful initialize handshake, or after the client has
	// left the ready state.
	ErrNotInitialized = errors.New("client not initialized")

	// ErrInitFailed wraps the transport or remote error that aborted the
	// initialize handshake.
	ErrInitFailed = errors.New("initialize failed")

	// ErrDecode is returned when a well-formed JSON-RPC result does not
	// match the expected MCP payload shape.
	ErrDecode = errors.New("unexpected response shape")

	// ErrBadResourceShape is returned by ReadResource when the server
	// reply carries no readable text content.
	ErrBadResourceShape = errors.New("malformed resource contents")
)
