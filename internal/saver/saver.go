// Package saver orchestrates a video save: it extracts the source frames,
// shards them across worker hosts that render the effect chain, aggregates
// their progress and encodes the rendered frames into the output video.
package saver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/bdougie/framefx/internal/models"
	"github.com/bdougie/framefx/internal/workerhost"
)

// MediaTool extracts frames from and encodes frames into videos.
type MediaTool interface {
	ExtractFrames(ctx context.Context, src, destDir string, onProgress func(float64)) error
	Encode(ctx context.Context, framesDir, dest string) error
}

// State is the phase a save is in.
type State int

const (
	StateIdle State = iota
	StateExtracting
	StateRendering
	StateEncoding
	StateCleaningUp
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExtracting:
		return "extracting"
	case StateRendering:
		return "rendering"
	case StateEncoding:
		return "encoding"
	case StateCleaningUp:
		return "cleaning_up"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventType names a notification emitted during a save.
type EventType string

const (
	EventExtracting EventType = "extracting"
	EventRendering  EventType = "rendering"
	EventCreating   EventType = "creating"
	EventProgress   EventType = "progress"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is one notification. Progress is set for progress events and Err for
// error events.
type Event struct {
	Type     EventType
	Phase    State
	Progress float64
	Err      error
}

// Listener receives events on the goroutine running Save.
type Listener func(Event)

// Saver runs one job. It is single use.
type Saver struct {
	job     Job
	tool    MediaTool
	spawner workerhost.Spawner

	logger        *slog.Logger
	listener      Listener
	keepFailed    bool
	workerTimeout time.Duration
	now           func() time.Time

	mu      sync.Mutex
	state   State
	workers []WorkerState
}

// Option configures a Saver.
type Option func(*Saver)

// WithLogger sets the saver's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Saver) { s.logger = logger }
}

// WithListener registers the event listener.
func WithListener(l Listener) Option {
	return func(s *Saver) { s.listener = l }
}

// WithKeepFailedWorkspace leaves the workspace on disk when a save fails.
func WithKeepFailedWorkspace(keep bool) Option {
	return func(s *Saver) { s.keepFailed = keep }
}

// WithWorkerTimeout bounds the rendering phase. Zero means no limit.
func WithWorkerTimeout(d time.Duration) Option {
	return func(s *Saver) { s.workerTimeout = d }
}

// New creates a new saver for job.
func New(job Job, tool MediaTool, spawner workerhost.Spawner, opts ...Option) *Saver {
	s := &Saver{
		job:      job,
		tool:     tool,
		spawner:  spawner,
		logger:   slog.Default(),
		listener: func(Event) {},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Job returns the job being saved.
func (s *Saver) Job() Job { return s.job }

// State returns the current phase.
func (s *Saver) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Workers returns a snapshot of every worker's state.
func (s *Saver) Workers() []WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WorkerState(nil), s.workers...)
}

func (s *Saver) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Saver) emit(e Event) {
	if e.Phase == StateIdle {
		e.Phase = s.State()
	}
	s.listener(e)
}

// Save runs the whole pipeline and returns the first failure. The workspace
// is removed when Save returns unless the save failed and failed workspaces
// are kept.
func (s *Saver) Save(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return errors.New("save already started")
	}
	s.state = StateExtracting
	s.mu.Unlock()

	var ws Workspace
	defer func() {
		if err == nil {
			return
		}
		s.setState(StateFailed)
		s.logger.Error("Save failed", "job", s.job.ID, "error", err)
		if ws.Root != "" {
			if s.keepFailed {
				s.logger.Warn("Keeping workspace of failed save", "path", ws.Root)
			} else if rmErr := ws.remove(); rmErr != nil {
				s.logger.Warn("Failed to remove workspace", "error", rmErr)
			}
		}
		s.emit(Event{Type: EventError, Err: err})
	}()

	// Extract frames
	s.emit(Event{Type: EventExtracting})
	s.logger.Info("Processing video", "job", s.job.ID, "source", s.job.SourceVideoPath)

	ws, err = createWorkspace(filepath.Dir(s.job.SourceVideoPath), s.now())
	if err != nil {
		return err
	}
	err = s.tool.ExtractFrames(ctx, s.job.SourceVideoPath, ws.Original, func(p float64) {
		s.emit(Event{Type: EventProgress, Progress: p})
	})
	if err != nil {
		return fmt.Errorf("failed to extract frames: %w", err)
	}

	// Partition frames
	frames, err := listFrames(ws.Original)
	if err != nil {
		return err
	}
	parts, err := SplitEvenly(frames, s.job.WorkerCount)
	if err != nil {
		return err
	}
	s.logger.Info("Found frames to render", "frames", len(frames), "workers", len(parts))

	// Render partitions
	s.setState(StateRendering)
	s.emit(Event{Type: EventRendering})
	if err := s.render(ctx, parts, ws.Affected); err != nil {
		return err
	}

	// Encode output
	s.setState(StateEncoding)
	s.emit(Event{Type: EventCreating})
	if err := s.tool.Encode(ctx, ws.Affected, s.job.DestinationPath); err != nil {
		return fmt.Errorf("failed to encode video: %w", err)
	}

	s.setState(StateCleaningUp)
	if err := ws.remove(); err != nil {
		return err
	}
	ws = Workspace{}

	s.setState(StateDone)
	s.logger.Info("Saved video", "job", s.job.ID, "dest", s.job.DestinationPath)
	s.emit(Event{Type: EventDone, Progress: 1})
	return nil
}

type inboxMessage struct {
	workerID int
	msg      workerhost.Message
	closed   bool
}

// render runs one worker per partition until every worker reports done. The
// first worker failure kills all workers.
func (s *Saver) render(ctx context.Context, parts [][]models.Frame, outputDir string) (err error) {
	var cancel context.CancelFunc
	if s.workerTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.workerTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	specs, err := s.job.EffectChain.Specs()
	if err != nil {
		return err
	}

	reg := newWorkerRegistry()
	defer func() {
		for _, h := range reg.handles() {
			if err != nil {
				h.Kill()
			} else if cerr := h.Close(); cerr != nil {
				s.logger.Debug("worker exited with error", "worker", h.ID(), "error", cerr)
			}
		}
	}()

	inbox := make(chan inboxMessage)
	for id := range parts {
		h, err := s.spawner.Spawn(ctx, id)
		if err != nil {
			return &WorkerError{WorkerID: id, Reason: err.Error()}
		}
		reg.add(id, h)
		go forward(ctx, h, inbox)
	}
	s.snapshot(reg)

	for !reg.allDone() {
		var in inboxMessage
		select {
		case <-ctx.Done():
			return fmt.Errorf("rendering aborted: %w", ctx.Err())
		case in = <-inbox:
		}

		id := in.workerID
		if in.closed {
			if state := reg.workers[id].state; state.Status != WorkerDone {
				reg.markFailed(id)
				s.snapshot(reg)
				return &WorkerError{WorkerID: id, Reason: "worker exited before finishing"}
			}
			continue
		}

		switch in.msg.Type {
		case workerhost.TypeReady:
			s.logger.Debug("worker ready", "worker", id, "frames", len(parts[id]))
			job := workerhost.Job(framePaths(parts[id]), outputDir, specs)
			if err := reg.workers[id].handle.Send(job); err != nil {
				reg.markFailed(id)
				return &WorkerError{WorkerID: id, Reason: err.Error()}
			}
			reg.assign(id, len(parts[id]))
			s.snapshot(reg)
		case workerhost.TypeProgress:
			reg.report(id, in.msg.Progress)
			s.snapshot(reg)
			s.emit(Event{Type: EventProgress, Progress: reg.aggregate()})
		case workerhost.TypeDone:
			reg.markDone(id)
			s.snapshot(reg)
			s.emit(Event{Type: EventProgress, Progress: reg.aggregate()})
		case workerhost.TypeError:
			reg.markFailed(id)
			s.snapshot(reg)
			return &WorkerError{WorkerID: id, Reason: in.msg.Reason}
		default:
			s.logger.Warn("ignoring unexpected worker message", "worker", id, "type", in.msg.Type)
		}
	}
	return nil
}

func forward(ctx context.Context, h *workerhost.Worker, inbox chan<- inboxMessage) {
	for m := range h.Messages() {
		select {
		case inbox <- inboxMessage{workerID: h.ID(), msg: m}:
		case <-ctx.Done():
			return
		}
	}
	select {
	case inbox <- inboxMessage{workerID: h.ID(), closed: true}:
	case <-ctx.Done():
	}
}

func (s *Saver) snapshot(reg *workerRegistry) {
	states := reg.states()
	s.mu.Lock()
	s.workers = states
	s.mu.Unlock()
}
