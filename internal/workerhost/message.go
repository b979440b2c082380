// Package workerhost runs a frame renderer behind a message protocol so it
// can live in a separate process. Messages are JSON values, one per line,
// exchanged over the worker's standard input and output.
package workerhost

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/bdougie/framefx/internal/effects"
)

// MessageType discriminates protocol messages.
type MessageType string

const (
	// Sent by the worker.
	TypeReady    MessageType = "ready"
	TypeProgress MessageType = "progress"
	TypeDone     MessageType = "done"
	TypeError    MessageType = "error"

	// Sent by the orchestrator.
	TypeJob MessageType = "job"
)

// Message is one protocol message. Only the fields of its type are set.
type Message struct {
	Type MessageType `json:"type"`

	// job
	FramePaths  []string       `json:"framePaths,omitempty"`
	OutputDir   string         `json:"outputDir,omitempty"`
	EffectChain []effects.Spec `json:"effectChain,omitempty"`

	// progress
	Progress float64 `json:"progress,omitempty"`

	// error
	Reason string `json:"reason,omitempty"`
}

// Ready announces that a worker can accept its job.
func Ready() Message { return Message{Type: TypeReady} }

// Job assigns a partition of frames to a worker.
func Job(framePaths []string, outputDir string, chain []effects.Spec) Message {
	return Message{Type: TypeJob, FramePaths: framePaths, OutputDir: outputDir, EffectChain: chain}
}

// Progress reports the fraction of the worker's partition written so far.
func Progress(p float64) Message { return Message{Type: TypeProgress, Progress: p} }

// Done reports that every frame of the partition was written.
func Done() Message { return Message{Type: TypeDone} }

// Failure reports a terminal worker error.
func Failure(reason string) Message { return Message{Type: TypeError, Reason: reason} }

// encoder writes messages as JSON lines. Safe for concurrent use.
type encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newEncoder(w io.Writer) *encoder {
	return &encoder{enc: json.NewEncoder(w)}
}

func (e *encoder) send(m Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(m); err != nil {
		return fmt.Errorf("failed to send %s message: %w", m.Type, err)
	}
	return nil
}
