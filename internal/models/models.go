package models

import (
	"time"

	"github.com/bdougie/framefx/internal/effects"
)

// Frame represents one extracted image of a video
type Frame struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
}

// JobStatus is the lifecycle status of a recorded save job
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further updates are expected.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// JobRecord represents the stored history of one save job
type JobRecord struct {
	ID           string         `json:"id"`
	Source       string         `json:"source"`
	Destination  string         `json:"destination"`
	Effects      []effects.Spec `json:"effects"`
	Workers      int            `json:"workers"`
	Status       JobStatus      `json:"status"`
	Phase        string         `json:"phase,omitempty"`
	Progress     float64        `json:"progress"`
	Error        string         `json:"error,omitempty"`
	PublishedURL string         `json:"published_url,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}
