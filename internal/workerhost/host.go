package workerhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bdougie/framefx/internal/effects"
	"github.com/bdougie/framefx/internal/renderer"
)

// Host serves a single render job over a message stream.
type Host struct {
	logger   *slog.Logger
	poolSize int
	prober   renderer.SizeProber
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithSizeProber makes rendered jobs read the frame size with p instead of
// the image header.
func WithSizeProber(p renderer.SizeProber) HostOption {
	return func(h *Host) { h.prober = p }
}

// NewHost creates a new worker host.
func NewHost(logger *slog.Logger, poolSize int, opts ...HostOption) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{logger: logger, poolSize: poolSize}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve announces readiness on out, reads one job from in, renders it and
// reports progress, completion or failure. Any failure of the job is also
// sent as an error message; the returned error is for the caller's logs.
func (h *Host) Serve(ctx context.Context, in io.Reader, out io.Writer) (err error) {
	enc := newEncoder(out)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker panic: %v", p)
			_ = enc.send(Failure(err.Error()))
		}
	}()

	if err := enc.send(Ready()); err != nil {
		return err
	}

	var msg Message
	if err := json.NewDecoder(in).Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("input closed before a job was received")
		}
		err = fmt.Errorf("malformed job message: %w", err)
		_ = enc.send(Failure(err.Error()))
		return err
	}
	if msg.Type != TypeJob {
		err := fmt.Errorf("expected %s message, got %q", TypeJob, msg.Type)
		_ = enc.send(Failure(err.Error()))
		return err
	}

	if err := h.run(ctx, msg, enc); err != nil {
		_ = enc.send(Failure(err.Error()))
		return err
	}
	return enc.send(Done())
}

func (h *Host) run(ctx context.Context, job Message, enc *encoder) error {
	chain, err := effects.DecodeChain(job.EffectChain)
	if err != nil {
		return err
	}

	h.logger.Info("Starting render job", "frames", len(job.FramePaths), "output", job.OutputDir, "effects", len(chain))

	var sendErr error
	opts := []renderer.Option{
		renderer.WithPoolSize(h.poolSize),
		renderer.WithLogger(h.logger),
	}
	if h.prober != nil {
		opts = append(opts, renderer.WithSizeProber(h.prober))
	}
	r := renderer.New(job.FramePaths, job.OutputDir, chain, opts...)
	err = r.Render(ctx, func(p float64) {
		if sendErr == nil {
			sendErr = enc.send(Progress(p))
		}
	})
	if err != nil {
		return err
	}
	return sendErr
}
