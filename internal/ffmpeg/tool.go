package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// DefaultFPS is the output frame rate used by Encode.
const DefaultFPS = 25

// Tool runs registered executables.
type Tool struct {
	registry *Registry
	logger   *slog.Logger
	fps      int
}

// Option configures a Tool.
type Option func(*Tool)

// WithLogger sets the logger used for command tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tool) { t.logger = logger }
}

// WithFPS sets the encode frame rate.
func WithFPS(fps int) Option {
	return func(t *Tool) {
		if fps > 0 {
			t.fps = fps
		}
	}
}

// NewTool creates a new tool runner backed by registry.
func NewTool(registry *Registry, opts ...Option) *Tool {
	t := &Tool{
		registry: registry,
		logger:   slog.Default(),
		fps:      DefaultFPS,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Registry returns the registry the tool resolves executables from.
func (t *Tool) Registry() *Registry { return t.registry }

// Run executes name to completion and returns its standard output.
func (t *Tool) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	path, err := t.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	t.logger.Debug("running tool", "tool", name, "args", args)

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, executionError(ctx, name, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Process is a running tool whose diagnostic stream can be read line by line.
type Process struct {
	name    string
	ctx     context.Context
	cmd     *exec.Cmd
	lines   chan string
	done    chan struct{}
	recent  []string
	scanErr error
}

// Start launches name and streams its standard error. Lines are split on
// carriage returns as well as newlines since ffmpeg redraws its status line.
func (t *Tool) Start(ctx context.Context, name string, args ...string) (*Process, error) {
	path, err := t.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	t.logger.Debug("starting tool", "tool", name, "args", args)

	cmd := exec.CommandContext(ctx, path, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ToolExecutionError{Tool: name, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &ToolExecutionError{Tool: name, Err: err}
	}

	p := &Process{
		name:  name,
		ctx:   ctx,
		cmd:   cmd,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}
	go p.scan(stderr)
	return p, nil
}

func (p *Process) scan(r io.Reader) {
	defer close(p.done)
	defer close(p.lines)

	scanner := bufio.NewScanner(r)
	scanner.Split(ScanStatusLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p.recent = append(p.recent, line)
		if len(p.recent) > stderrTailLines {
			p.recent = p.recent[1:]
		}
		p.lines <- line
	}
	p.scanErr = scanner.Err()
}

// Lines returns the diagnostic stream. It is closed when the tool exits.
func (p *Process) Lines() <-chan string { return p.lines }

// Wait discards any unread diagnostics and waits for the tool to exit.
func (p *Process) Wait() error {
	for range p.lines {
	}
	<-p.done

	err := p.cmd.Wait()
	if err == nil && p.scanErr != nil {
		err = p.scanErr
	}
	if err != nil {
		return executionError(p.ctx, p.name, err, strings.Join(p.recent, "\n"))
	}
	return nil
}

// ScanStatusLines is a bufio.SplitFunc that breaks on '\n' or '\r'.
func ScanStatusLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func executionError(ctx context.Context, name string, err error, stderr string) error {
	if ctx.Err() != nil {
		return &ToolExecutionError{Tool: name, ExitCode: -1, Err: ctx.Err(), Stderr: tail(stderr, stderrTailLines)}
	}
	te := &ToolExecutionError{Tool: name, Stderr: tail(stderr, stderrTailLines)}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		te.ExitCode = exitErr.ExitCode()
	} else {
		te.Err = err
	}
	return te
}
