package saver

import (
	"fmt"

	"github.com/bdougie/framefx/internal/effects"
	"github.com/bdougie/framefx/internal/renderer"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DefaultWorkerCount is the number of worker processes used when a job does
// not ask for a specific count.
const DefaultWorkerCount = 4

var validate = validator.New()

// Job describes one save operation. It is not modified once created.
type Job struct {
	ID              string        `validate:"required,uuid"`
	SourceVideoPath string        `validate:"required"`
	DestinationPath string        `validate:"required"`
	EffectChain     effects.Chain `validate:"-"`
	WorkerCount     int           `validate:"gte=1"`
}

// NewJob creates a new job with a fresh ID. An empty destination defaults to
// "<name>-effected.mp4" next to the source, and a non-positive worker count
// to DefaultWorkerCount.
func NewJob(source, destination string, chain effects.Chain, workers int) (Job, error) {
	return NewJobWithID(uuid.NewString(), source, destination, chain, workers)
}

// NewJobWithID is NewJob for a caller that already allocated the ID.
func NewJobWithID(id, source, destination string, chain effects.Chain, workers int) (Job, error) {
	if destination == "" && source != "" {
		destination = renderer.DefaultVideoDestination(source)
	}
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	job := Job{
		ID:              id,
		SourceVideoPath: source,
		DestinationPath: destination,
		EffectChain:     chain,
		WorkerCount:     workers,
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Validate checks the job's fields and effect parameters.
func (j Job) Validate() error {
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	return j.EffectChain.Validate()
}
