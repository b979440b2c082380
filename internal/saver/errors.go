package saver

import (
	"errors"
	"fmt"
)

// ErrNoFrames is returned when extraction produced no frames to render.
var ErrNoFrames = errors.New("no frames extracted")

// WorkerError reports a worker that failed or exited before finishing.
type WorkerError struct {
	WorkerID int
	Reason   string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %d failed: %s", e.WorkerID, e.Reason)
}

// FilesystemError reports a failed workspace operation.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s '%s': %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }
