package models

// SSE event names on the executor stream.
const (
	EventConnected = "connected"
	EventCommand   = "command"
	EventKeepalive = "keepalive"
	EventError     = "error"
)

// ConnectedEvent is the data of the initial connected event.
type ConnectedEvent struct {
	SessionID        string `json:"session_id"`
	ClusterID        string `json:"cluster_id"`
	KeepaliveSeconds int    `json:"keepalive_seconds,omitempty"`
}

// KeepaliveEvent is the data of a keepalive event.
type KeepaliveEvent struct {
	TS int64 `json:"ts"`
}

// ErrorEvent is the data of an error event emitted before the server
// terminates a stream.
type ErrorEvent struct {
	Error string `json:"error"`
}

// StreamEvent is one parsed SSE frame as seen by the executor client.
type StreamEvent struct {
	Event string
	Data  []byte
}
