package server

import "github.com/bdougie/framefx/internal/models"

// WebSocket message types
const (
	MessageTypeProgress = "progress"
	MessageTypeComplete = "complete"
	MessageTypeError    = "error"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// Message is the envelope shared by every websocket message.
type Message struct {
	Type string `json:"type"`
}

// ProgressMessage reports the phase and progress of a job. Progress is a
// percentage of the current phase.
type ProgressMessage struct {
	Type        string           `json:"type"`
	JobID       string           `json:"jobId"`
	Progress    int              `json:"progress"`
	Status      models.JobStatus `json:"status"`
	CurrentStep string           `json:"currentStep,omitempty"`
}

type CompleteMessage struct {
	Type   string      `json:"type"`
	JobID  string      `json:"jobId"`
	Result interface{} `json:"result"`
}

type ErrorMessage struct {
	Type  string      `json:"type"`
	JobID string      `json:"jobId"`
	Error ErrorDetail `json:"error"`
}
