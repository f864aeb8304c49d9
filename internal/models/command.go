package models

import "time"

// Command result statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusTimeout = "timeout"
)

// Command size limits.
const (
	MaxArgs   = 64
	MaxArgLen = 256
)

// ExecuteRequest is the body of POST /debug/execute. The dispatcher composes
// the final argv as [command_type, args..., "-n", namespace, extra_args...].
type ExecuteRequest struct {
	ClusterID      string   `json:"cluster_id"`
	CommandType    string   `json:"command_type"`
	Args           []string `json:"args,omitempty"`
	Namespace      string   `json:"namespace,omitempty"`
	ExtraArgs      []string `json:"extra_args,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	CorrelationID  string   `json:"correlation_id,omitempty"`
}

// CommandPayload is the wire form published on executor-commands:{cluster_id}
// and forwarded verbatim as the data of an SSE command event.
type CommandPayload struct {
	ID             string   `json:"id"`
	Args           []string `json:"args"`
	DeadlineUnixMS int64    `json:"deadline_unix_ms"`
	CorrelationID  string   `json:"correlation_id,omitempty"`
}

// Deadline returns the payload deadline as wall-clock time.
func (p *CommandPayload) Deadline() time.Time {
	return time.UnixMilli(p.DeadlineUnixMS)
}

// Result is one completed command execution as posted by an executor.
// Stored under command:result:{command_id} until the waiting dispatcher
// collects it or the slot TTL expires.
type Result struct {
	CommandID       string     `json:"command_id"`
	Status          string     `json:"status"`
	Output          string     `json:"output,omitempty"`
	Error           string     `json:"error,omitempty"`
	ExecutionTimeMS int64      `json:"execution_time_ms,omitempty"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty"`
	Truncated       bool       `json:"truncated,omitempty"`
}

// ExecuteResponse is the uniform dispatch envelope returned to callers.
// Failures are distinguished by status and error, not by the shape of the body.
type ExecuteResponse struct {
	CommandID       string `json:"command_id"`
	ClusterID       string `json:"cluster_id"`
	Status          string `json:"status"`
	Output          string `json:"output,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMS int64  `json:"execution_time_ms,omitempty"`
}

// EnvelopeFor converts a stored result into the dispatch envelope.
func EnvelopeFor(clusterID string, r *Result) *ExecuteResponse {
	return &ExecuteResponse{
		CommandID:       r.CommandID,
		ClusterID:       clusterID,
		Status:          r.Status,
		Output:          r.Output,
		Error:           r.Error,
		ExecutionTimeMS: r.ExecutionTimeMS,
	}
}
