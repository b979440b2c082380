package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"text/tabwriter"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/bdougie/framefx/internal/config"
	"github.com/bdougie/framefx/internal/effects"
	"github.com/bdougie/framefx/internal/ffmpeg"
	"github.com/bdougie/framefx/internal/logging"
	"github.com/bdougie/framefx/internal/publish"
	"github.com/bdougie/framefx/internal/renderer"
	"github.com/bdougie/framefx/internal/saver"
	"github.com/bdougie/framefx/internal/service"
	"github.com/bdougie/framefx/internal/storage"
	"github.com/bdougie/framefx/internal/workerhost"
)

func runSave(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("save", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	config.RegisterRenderFlags(fs)
	video := fs.StringP("video", "i", "", "source video")
	out := fs.StringP("out", "o", "", "output video (default <name>-effected.mp4)")
	effectArgs := fs.StringArrayP("effect", "e", nil, "effect to apply, in order (kind:key=value,...)")
	if code := parseFlags(fs, args, stderr); code >= 0 {
		return code
	}
	if *video == "" {
		return fail(stderr, "save", errors.New("--video is required"))
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fail(stderr, "save", err)
	}
	logger := logging.New(cfg.Log, stderr)

	chain, err := effectChain(cfg, *effectArgs)
	if err != nil {
		return fail(stderr, "save", err)
	}
	specs, err := chain.Specs()
	if err != nil {
		return fail(stderr, "save", err)
	}

	spawner, err := newSpawner(fs, cfg, logger)
	if err != nil {
		return fail(stderr, "save", err)
	}

	var redisClient *redis.Client
	if cfg.Storage.Driver == storage.DriverRedis {
		redisClient = newRedisClient(cfg.Redis)
		defer redisClient.Close()
	}
	store, err := openStorage(ctx, cfg, redisClient)
	if err != nil {
		return fail(stderr, "save", err)
	}
	defer store.Close()

	svcCfg := service.Config{
		Storage:             store,
		Tool:                newTool(cfg, logger),
		Spawner:             spawner,
		Logger:              logger,
		KeepFailedWorkspace: cfg.Render.KeepFailedWorkspace,
		WorkerTimeout:       cfg.Render.WorkerTimeout,
	}
	if uploader, err := newUploader(ctx, cfg); err != nil {
		return fail(stderr, "save", err)
	} else if uploader != nil {
		svcCfg.Uploader = uploader
	}
	svc := service.NewSaveService(svcCfg)

	progress := &progressLine{w: stderr}
	rec, err := svc.Save(ctx, service.SaveRequest{
		Source:      *video,
		Destination: *out,
		Effects:     specs,
		Workers:     cfg.Render.Workers,
	}, progress.handle)
	progress.finish()
	if err != nil {
		return fail(stderr, "save", err)
	}

	fmt.Fprintln(stdout, rec.Destination)
	if rec.PublishedURL != "" {
		fmt.Fprintln(stdout, rec.PublishedURL)
	}
	return 0
}

func runImage(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("image", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	in := fs.StringP("in", "i", "", "source image")
	out := fs.StringP("out", "o", "", "output image (default <name>-effected.png)")
	effectArgs := fs.StringArrayP("effect", "e", nil, "effect to apply, in order (kind:key=value,...)")
	if code := parseFlags(fs, args, stderr); code >= 0 {
		return code
	}
	if *in == "" {
		return fail(stderr, "image", errors.New("--in is required"))
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fail(stderr, "image", err)
	}
	logger := logging.New(cfg.Log, stderr)

	chain, err := effectChain(cfg, *effectArgs)
	if err != nil {
		return fail(stderr, "image", err)
	}
	dest := *out
	if dest == "" {
		dest = renderer.DefaultImageDestination(*in)
	}

	if err := renderer.RenderImage(ctx, *in, dest, chain); err != nil {
		return fail(stderr, "image", err)
	}
	logger.Info("Saved image", "dest", dest)
	fmt.Fprintln(stdout, dest)
	return 0
}

func runCheck(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if code := parseFlags(fs, args, stderr); code >= 0 {
		return code
	}
	cfg, err := config.Load(fs)
	if err != nil {
		return fail(stderr, "check", err)
	}

	tool := newTool(cfg, logging.New(cfg.Log, stderr))
	status := 0
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tPATH\tSTATUS")
	for _, a := range tool.Check(ctx) {
		state := a.Version
		if a.Err != nil {
			state = "missing: " + a.Err.Error()
			status = 1
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Name, a.Path, state)
	}
	tw.Flush()
	return status
}

// runWorker serves one render job over stdin and stdout. Logs go to stderr,
// which the parent forwards.
func runWorker(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet(workerhost.WorkerCommand, pflag.ContinueOnError)
	config.RegisterFlags(fs)
	config.RegisterRenderFlags(fs)
	if code := parseFlags(fs, args, stderr); code >= 0 {
		return code
	}
	cfg, err := config.Load(fs)
	if err != nil {
		return fail(stderr, workerhost.WorkerCommand, err)
	}
	logger := logging.New(cfg.Log, stderr).With("pid", os.Getpid())

	host := workerhost.NewHost(logger, cfg.Render.PoolSize, workerhost.WithSizeProber(newTool(cfg, logger)))
	if err := host.Serve(ctx, os.Stdin, stdout); err != nil {
		logger.Error("Worker failed", "error", err)
		return 1
	}
	return 0
}

func effectChain(cfg *config.Config, args []string) (effects.Chain, error) {
	if len(args) > 0 {
		return effects.ParseAll(args)
	}
	return cfg.EffectChain()
}

func newTool(cfg *config.Config, logger *slog.Logger) *ffmpeg.Tool {
	registry := ffmpeg.NewRegistry()
	registry.Override(ffmpeg.FFmpeg, cfg.Binaries.FFmpeg)
	registry.Override(ffmpeg.FFprobe, cfg.Binaries.FFprobe)
	return ffmpeg.NewTool(registry, ffmpeg.WithLogger(logger), ffmpeg.WithFPS(cfg.Render.FPS))
}

// newSpawner starts workers as child processes of this binary, passing down
// the settings they need, or on goroutines when in_process is set.
func newSpawner(fs *pflag.FlagSet, cfg *config.Config, logger *slog.Logger) (workerhost.Spawner, error) {
	if cfg.Render.InProcess {
		return &workerhost.InProcessSpawner{Host: workerhost.NewHost(logger, cfg.Render.PoolSize)}, nil
	}

	args := []string{
		"--pool-size", strconv.Itoa(cfg.Render.PoolSize),
		"--log-level", cfg.Log.Level,
	}
	if cfg.Log.JSON {
		args = append(args, "--log-json")
	}
	if fs != nil {
		if path, _ := fs.GetString("config"); path != "" {
			args = append(args, "--config", path)
		}
	}
	return workerhost.NewProcessSpawner(logger, args...)
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func openStorage(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (storage.Storage, error) {
	return storage.Open(ctx, storage.Options{
		Driver:      cfg.Storage.Driver,
		Dir:         cfg.Storage.Dir,
		PostgresURL: cfg.Storage.PostgresURL,
		Redis:       redisClient,
	})
}

// newUploader returns nil when publishing is not configured.
func newUploader(ctx context.Context, cfg *config.Config) (*publish.Publisher, error) {
	if !cfg.S3.Enabled() {
		return nil, nil
	}
	return publish.New(ctx, cfg.S3)
}

// progressLine redraws one status line per phase.
type progressLine struct {
	w     io.Writer
	mu    sync.Mutex
	phase saver.EventType
	shown bool
}

func (p *progressLine) handle(e saver.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Type {
	case saver.EventExtracting, saver.EventRendering, saver.EventCreating:
		if p.shown {
			fmt.Fprintln(p.w)
		}
		p.phase = e.Type
		p.shown = true
		fmt.Fprintf(p.w, "\r%-10s %3d%%", p.phase, 0)
	case saver.EventProgress:
		fmt.Fprintf(p.w, "\r%-10s %3d%%", p.phase, service.Percent(e.Progress))
	}
}

func (p *progressLine) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shown {
		fmt.Fprintln(p.w)
		p.shown = false
	}
}
