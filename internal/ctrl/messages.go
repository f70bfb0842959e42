package ctrl

import "github.com/kabir325/fogpool/internal/pool"

// Message types exchanged on the client websocket.
const (
	TypeRegister       = "register"
	TypeRegisterAck    = "register_ack"
	TypeRegisterError  = "register_error"
	TypeHeartbeat      = "heartbeat"
	TypeHeartbeatError = "heartbeat_error"
	TypeInferRequest   = "infer_request"
	TypeInferResult    = "infer_result"
	TypeInferError     = "infer_error"
	TypeCancelJob      = "cancel_job"
	TypeAssignment     = "assignment"
)

// Error codes carried by register_error and heartbeat_error.
const (
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeUnknownClient   = "UNKNOWN_CLIENT"
	CodeDuplicateClient = "DUPLICATE_CLIENT"
	CodeUnavailable     = "UNAVAILABLE"
	CodeBadRequest      = "BAD_REQUEST"
	CodeInternal        = "INTERNAL"
)

type Envelope struct {
	Type string `json:"type"`
}

type RegisterMessage struct {
	Type         string          `json:"type"`
	ClientIDHint string          `json:"client_id_hint,omitempty"`
	ClientKey    string          `json:"client_key,omitempty"`
	Hostname     string          `json:"hostname"`
	Capability   pool.Capability `json:"capability"`
}

type RegisterAckMessage struct {
	Type          string    `json:"type"`
	ClientID      string    `json:"client_id"`
	Tier          pool.Tier `json:"tier"`
	AssignedModel string    `json:"assigned_model"`
	Score         float64   `json:"score"`
}

// ErrorMessage is sent as register_error or heartbeat_error.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HeartbeatMessage struct {
	Type       string           `json:"type"`
	TS         int64            `json:"ts"`
	Capability *pool.Capability `json:"capability,omitempty"`
}

type InferRequestMessage struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id"`
	QueryID string `json:"query_id"`
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
	Model   string `json:"model"`
}

type InferResultMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type InferErrorMessage struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

type CancelJobMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

type AssignmentMessage struct {
	Type          string    `json:"type"`
	Tier          pool.Tier `json:"tier"`
	AssignedModel string    `json:"assigned_model"`
	Score         float64   `json:"score"`
}
