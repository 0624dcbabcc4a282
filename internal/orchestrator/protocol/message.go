// Package protocol defines the framed wire messages exchanged between the
// orchestrator server and robot connections.
package protocol

import (
	"encoding/json"
	"time"
)

// Version is the wire format version this package implements.
const Version = 1

// Type identifies a message's payload shape.
type Type string

const (
	Handshake    Type = "HANDSHAKE"
	HandshakeAck Type = "HANDSHAKE_ACK"
	Heartbeat    Type = "HEARTBEAT"
	RobotStatus  Type = "ROBOT_STATUS"
	ExecuteJob   Type = "EXECUTE_JOB"
	JobAccepted  Type = "JOB_ACCEPTED"
	JobRejected  Type = "JOB_REJECTED"
	JobProgress  Type = "JOB_PROGRESS"
	JobCompleted Type = "JOB_COMPLETED"
	JobFailed    Type = "JOB_FAILED"
	JobCancelled Type = "JOB_CANCELLED"
	ErrorMsg     Type = "ERROR"
)

// Message is the envelope carried over the wire: version, type, a
// correlation id, a timestamp, and a type-specific payload.
type Message struct {
	Version   int             `json:"version"`
	Type      Type            `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// HandshakePayload is the client->server HANDSHAKE payload.
type HandshakePayload struct {
	RobotID      string   `json:"robot_id"`
	Name         string   `json:"name"`
	Token        string   `json:"token"`
	Capabilities []string `json:"capabilities"`
	Tags         []string `json:"tags"`
	Environment  string   `json:"environment"`
}

// HandshakeAckPayload is the server->client HANDSHAKE_ACK payload.
type HandshakeAckPayload struct {
	SessionID     string `json:"session_id"`
	ServerVersion string `json:"server_version"`
}

// HeartbeatPayload is the client->server HEARTBEAT payload.
type HeartbeatPayload struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	ActiveJobs    int     `json:"active_jobs"`
}

// RobotStatusPayload announces an out-of-band robot status change.
type RobotStatusPayload struct {
	RobotID string `json:"robot_id"`
	Status  string `json:"status"`
}

// JobAcceptedPayload / JobRejectedPayload share a shape: the job id and an
// optional reason (populated only for rejections).
type JobAcceptedPayload struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason,omitempty"`
}

// JobProgressPayload is the client->server JOB_PROGRESS payload.
type JobProgressPayload struct {
	JobID       string `json:"job_id"`
	Progress    int    `json:"progress"`
	CurrentNode string `json:"current_node"`
}

// JobCompletedPayload is the client->server JOB_COMPLETED payload.
type JobCompletedPayload struct {
	JobID  string                 `json:"job_id"`
	Result map[string]interface{} `json:"result"`
}

// JobFailedPayload is the client->server JOB_FAILED payload.
type JobFailedPayload struct {
	JobID        string `json:"job_id"`
	ErrorMessage string `json:"error_message"`
}

// JobCancelledPayload is the client->server JOB_CANCELLED payload.
type JobCancelledPayload struct {
	JobID string `json:"job_id"`
}

// ErrorPayload carries a protocol-level error, e.g. a failed handshake.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
