package transport

import "errors"

// Failure kinds, distinguishable by the caller via errors.Is. Each value is
// wrapped with request context when returned.
var (
	// ErrSpawn means the child process could not be launched.
	ErrSpawn = errors.New("spawn failed")

	// ErrNotConnected means an operation was attempted before Connect or
	// after the transport errored.
	ErrNotConnected = errors.New("not connected")

	// ErrWrite means a framed request could not be written to stdin.
	ErrWrite = errors.New("write failed")

	// ErrRead means the stdout reader failed or hit EOF with requests
	// outstanding.
	ErrRead = errors.New("read failed")

	// ErrDecode means a frame violated the wire protocol.
	ErrDecode = errors.New("decode failed")

	// ErrTimeout means a single request exceeded its deadline. The
	// connection survives.
	ErrTimeout = errors.New("request timed out")

	// ErrClosed means the transport was shut down while the request was
	// outstanding.
	ErrClosed = errors.New("transport closed")
)
