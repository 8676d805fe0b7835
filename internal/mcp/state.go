package mcp

// State is the connection state of one MCP server client.
//
// The lifecycle runs disconnected -> connecting -> connected ->
// initializing -> ready. Unrecoverable transport failures land in
// error; Close returns to disconnected from anywhere.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateError        State = "error"
)

// IsTransitional reports whether the state is a waypoint inside the
// connect sequence rather than a resting point.
func (s State) IsTransitional() bool {
	return s == StateConnecting || s == StateInitializing
}

// IsStable is the complement of IsTransitional.
func (s State) IsStable() bool {
	return !s.IsTransitional()
}

// CanPerformOperations reports whether typed client operations may be
// issued. Only ready qualifies.
func (s State) CanPerformOperations() bool {
	return s == StateReady
}

// IsConnected reports whether the child process pipes are held open in
// this state.
func (s State) IsConnected() bool {
	return s == StateConnected || s == StateInitializing || s == StateReady
}

func (s State) String() string {
	return string(s)
}
