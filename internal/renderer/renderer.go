// Package renderer runs a partition of frame images through an effect chain
// and writes the results under the same file names in an output directory.
package renderer

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bdougie/framefx/internal/effects"
	"github.com/bdougie/framefx/internal/ffmpeg"
	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"
)

// DefaultPoolSize is the number of surfaces a renderer keeps in flight.
const DefaultPoolSize = 2

// SizeProber reports the pixel size of an image file.
type SizeProber interface {
	Probe(ctx context.Context, path string) (ffmpeg.Dimensions, error)
}

// Renderer renders one ordered list of frames.
type Renderer struct {
	frames    []string
	outputDir string
	chain     effects.Chain
	poolSize  int
	prober    SizeProber
	logger    *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithPoolSize sets how many surfaces are allocated.
func WithPoolSize(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.poolSize = n
		}
	}
}

// WithSizeProber replaces the default header-based size detection.
func WithSizeProber(p SizeProber) Option {
	return func(r *Renderer) { r.prober = p }
}

// WithLogger sets the renderer's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) { r.logger = logger }
}

// New creates a new renderer for frames that writes into outputDir.
func New(frames []string, outputDir string, chain effects.Chain, opts ...Option) *Renderer {
	r := &Renderer{
		frames:    frames,
		outputDir: outputDir,
		chain:     chain,
		poolSize:  DefaultPoolSize,
		prober:    HeaderProber{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type rendered struct {
	path    string
	surface *image.NRGBA
	out     *image.NRGBA
	err     error
}

// Render processes every frame in order. onProgress receives the fraction of
// frames written after each write; an empty frame list reports 1 at once.
func (r *Renderer) Render(ctx context.Context, onProgress func(float64)) error {
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	total := len(r.frames)
	if total == 0 {
		onProgress(1)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory '%s': %w", r.outputDir, err)
	}

	size, err := r.prober.Probe(ctx, r.frames[0])
	if err != nil {
		return fmt.Errorf("failed to probe frame size: %w", err)
	}
	r.logger.Debug("rendering partition", "frames", total, "size", size.String(), "surfaces", r.poolSize)

	// A surface goes back to the pool only after its frame is written.
	pool := make(chan *image.NRGBA, r.poolSize)
	for i := 0; i < r.poolSize; i++ {
		pool <- image.NewNRGBA(image.Rect(0, 0, size.Width, size.Height))
	}

	g, ctx := errgroup.WithContext(ctx)
	pending := make(chan chan rendered, r.poolSize)

	g.Go(func() error {
		defer close(pending)
		for _, path := range r.frames {
			var surface *image.NRGBA
			select {
			case surface = <-pool:
			case <-ctx.Done():
				return ctx.Err()
			}

			result := make(chan rendered, 1)
			select {
			case pending <- result:
			case <-ctx.Done():
				return ctx.Err()
			}

			g.Go(func() error {
				out, err := r.renderFrame(path, surface, size)
				result <- rendered{path: path, surface: surface, out: out, err: err}
				return nil
			})
		}
		return nil
	})

	g.Go(func() error {
		written := 0
		for result := range pending {
			var res rendered
			select {
			case res = <-result:
			case <-ctx.Done():
				return ctx.Err()
			}
			if res.err != nil {
				return res.err
			}

			dest := filepath.Join(r.outputDir, filepath.Base(res.path))
			if err := imaging.Save(res.out, dest); err != nil {
				return fmt.Errorf("failed to write frame '%s': %w", dest, err)
			}
			pool <- res.surface

			written++
			onProgress(float64(written) / float64(total))
		}
		return nil
	})

	return g.Wait()
}

func (r *Renderer) renderFrame(path string, surface *image.NRGBA, size ffmpeg.Dimensions) (out *image.NRGBA, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic rendering frame '%s': %v", path, p)
		}
	}()

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load frame '%s': %w", path, err)
	}
	b := img.Bounds()
	if b.Dx() != size.Width || b.Dy() != size.Height {
		return nil, fmt.Errorf("frame '%s' is %dx%d, expected %s", path, b.Dx(), b.Dy(), size)
	}

	draw.Draw(surface, surface.Bounds(), img, b.Min, draw.Src)
	return r.chain.Apply(surface), nil
}

// HeaderProber reads the size from the image header without decoding pixels.
type HeaderProber struct{}

// Probe implements SizeProber.
func (HeaderProber) Probe(_ context.Context, path string) (ffmpeg.Dimensions, error) {
	f, err := os.Open(path)
	if err != nil {
		return ffmpeg.Dimensions{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return ffmpeg.Dimensions{}, fmt.Errorf("failed to read image header of '%s': %w", path, err)
	}
	return ffmpeg.Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}
