package workerhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// WorkerCommand is the hidden subcommand a re-executed binary runs as.
const WorkerCommand = "worker"

var errKilled = errors.New("worker killed")

// Spawner starts worker hosts.
type Spawner interface {
	Spawn(ctx context.Context, id int) (*Worker, error)
}

// Worker is the orchestrator's handle on one running worker host.
type Worker struct {
	id       int
	enc      *encoder
	input    io.Closer
	messages chan Message
	readDone chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	wait func() error
	kill func()

	waitOnce sync.Once
	waitErr  error
}

func newWorker(id int, input io.WriteCloser, output io.Reader, wait func() error, kill func()) *Worker {
	w := &Worker{
		id:       id,
		enc:      newEncoder(input),
		input:    input,
		messages: make(chan Message, 16),
		readDone: make(chan struct{}),
		stopped:  make(chan struct{}),
		wait:     wait,
		kill:     kill,
	}
	go w.read(output)
	return w
}

func (w *Worker) read(output io.Reader) {
	defer close(w.readDone)
	defer close(w.messages)

	dec := json.NewDecoder(output)
	for {
		var m Message
		if err := dec.Decode(&m); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, errKilled) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				w.deliver(Failure(fmt.Sprintf("malformed worker output: %v", err)))
			}
			return
		}
		if !w.deliver(m) {
			// Keep the writer unblocked until it exits.
			_, _ = io.Copy(io.Discard, output)
			return
		}
	}
}

func (w *Worker) deliver(m Message) bool {
	select {
	case w.messages <- m:
		return true
	case <-w.stopped:
		return false
	}
}

// ID returns the worker's identifier.
func (w *Worker) ID() int { return w.id }

// Send writes a message to the worker.
func (w *Worker) Send(m Message) error { return w.enc.send(m) }

// Messages returns the worker's messages. The channel is closed when the
// worker's output ends.
func (w *Worker) Messages() <-chan Message { return w.messages }

// Close ends the worker's input and waits for its output to drain and the
// worker to exit. Messages not yet received are discarded.
func (w *Worker) Close() error {
	_ = w.input.Close()
	w.stopOnce.Do(func() { close(w.stopped) })
	<-w.readDone
	return w.waitExit()
}

// Kill terminates the worker immediately and waits for it to exit.
func (w *Worker) Kill() {
	w.stopOnce.Do(func() { close(w.stopped) })
	w.kill()
	_ = w.input.Close()
	_ = w.waitExit()
}

func (w *Worker) waitExit() error {
	w.waitOnce.Do(func() { w.waitErr = w.wait() })
	return w.waitErr
}

// ProcessSpawner runs each worker as a child process of the given executable,
// by default the running binary invoked with the worker subcommand.
type ProcessSpawner struct {
	Executable string
	Args       []string
	Env        []string
	// Stderr receives the worker's logs. Defaults to os.Stderr.
	Stderr io.Writer
	Logger *slog.Logger
}

// NewProcessSpawner creates a spawner that re-executes the current binary.
func NewProcessSpawner(logger *slog.Logger, args ...string) (*ProcessSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &ProcessSpawner{
		Executable: exe,
		Args:       append([]string{WorkerCommand}, args...),
		Logger:     logger,
	}, nil
}

// Spawn implements Spawner.
func (s *ProcessSpawner) Spawn(ctx context.Context, id int) (*Worker, error) {
	cmd := exec.CommandContext(ctx, s.Executable, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %d: %w", id, err)
	}

	if s.Logger != nil {
		s.Logger.Debug("spawned worker process", "worker", id, "pid", cmd.Process.Pid)
	}

	return newWorker(id, stdin, stdout, cmd.Wait, func() { _ = cmd.Process.Kill() }), nil
}

// InProcessSpawner runs each worker host on a goroutine, connected through
// pipes carrying the same serialized protocol as a child process.
type InProcessSpawner struct {
	Host *Host
}

// Spawn implements Spawner.
func (s *InProcessSpawner) Spawn(ctx context.Context, id int) (*Worker, error) {
	ctx, cancel := context.WithCancel(ctx)
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	done := make(chan error, 1)
	go func() {
		err := s.Host.Serve(ctx, inR, outW)
		outW.Close()
		inR.Close()
		done <- err
	}()

	wait := func() error {
		err := <-done
		cancel()
		return err
	}
	kill := func() {
		cancel()
		inR.CloseWithError(errKilled)
		outR.CloseWithError(errKilled)
	}
	return newWorker(id, inW, outR, wait, kill), nil
}
