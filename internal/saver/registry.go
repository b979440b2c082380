package saver

import (
	"github.com/bdougie/framefx/internal/workerhost"
)

// WorkerStatus is the last known status of a worker.
type WorkerStatus string

const (
	WorkerRunning WorkerStatus = "running"
	WorkerDone    WorkerStatus = "done"
	WorkerFailed  WorkerStatus = "failed"
)

// WorkerState is the orchestrator's view of one worker.
type WorkerState struct {
	WorkerID int
	// Frames is the size of the partition sent to the worker, zero until
	// the worker is ready.
	Frames   int
	Progress float64
	Status   WorkerStatus
}

type workerEntry struct {
	handle *workerhost.Worker
	state  WorkerState
}

// workerRegistry tracks every worker of one save by its ID. It is owned by
// the coordinating goroutine and not safe for concurrent use.
type workerRegistry struct {
	order   []int
	workers map[int]*workerEntry
}

func newWorkerRegistry() *workerRegistry {
	return &workerRegistry{workers: make(map[int]*workerEntry)}
}

func (r *workerRegistry) add(id int, handle *workerhost.Worker) {
	r.order = append(r.order, id)
	r.workers[id] = &workerEntry{
		handle: handle,
		state:  WorkerState{WorkerID: id, Status: WorkerRunning},
	}
}

// report records a worker's progress. Values are clamped to [0,1] and never
// move backwards.
func (r *workerRegistry) report(id int, p float64) {
	e, ok := r.workers[id]
	if !ok || e.state.Status != WorkerRunning {
		return
	}
	if p > 1 {
		p = 1
	}
	if p > e.state.Progress {
		e.state.Progress = p
	}
}

func (r *workerRegistry) assign(id, frames int) {
	if e, ok := r.workers[id]; ok {
		e.state.Frames = frames
	}
}

func (r *workerRegistry) markDone(id int) {
	if e, ok := r.workers[id]; ok {
		e.state.Status = WorkerDone
		e.state.Progress = 1
	}
}

func (r *workerRegistry) markFailed(id int) {
	if e, ok := r.workers[id]; ok {
		e.state.Status = WorkerFailed
	}
}

// aggregate is the mean progress across all workers.
func (r *workerRegistry) aggregate() float64 {
	if len(r.workers) == 0 {
		return 0
	}
	var sum float64
	for _, e := range r.workers {
		sum += e.state.Progress
	}
	return sum / float64(len(r.workers))
}

func (r *workerRegistry) allDone() bool {
	for _, e := range r.workers {
		if e.state.Status != WorkerDone {
			return false
		}
	}
	return len(r.workers) > 0
}

func (r *workerRegistry) states() []WorkerState {
	out := make([]WorkerState, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.workers[id].state)
	}
	return out
}

func (r *workerRegistry) handles() []*workerhost.Worker {
	out := make([]*workerhost.Worker, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.workers[id].handle)
	}
	return out
}
