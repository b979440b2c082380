package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bdougie/framefx/internal/config"
	"github.com/bdougie/framefx/internal/logging"
	"github.com/bdougie/framefx/internal/queue"
	"github.com/bdougie/framefx/internal/server"
	"github.com/bdougie/framefx/internal/service"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	config.RegisterRenderFlags(fs)
	fs.StringP("port", "p", "", "HTTP port (default 8000)")
	fs.Int("concurrency", 0, "saves run at the same time (default 1)")
	fs.String("media-root", "", "directory API sources and outputs must stay inside (default working directory)")
	if code := parseFlags(fs, args, stderr); code >= 0 {
		return code
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fail(stderr, "serve", err)
	}
	logger := logging.New(cfg.Log, stderr)

	mediaRoot := cfg.Server.MediaRoot
	if mediaRoot == "" {
		if mediaRoot, err = os.Getwd(); err != nil {
			return fail(stderr, "serve", err)
		}
	}

	redisClient := newRedisClient(cfg.Redis)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis not available", "addr", cfg.Redis.Addr, "error", err)
	}

	store, err := openStorage(ctx, cfg, redisClient)
	if err != nil {
		return fail(stderr, "serve", err)
	}
	defer store.Close()

	spawner, err := newSpawner(fs, cfg, logger)
	if err != nil {
		return fail(stderr, "serve", err)
	}

	hub := server.NewHub(logger)
	go hub.Run(ctx)

	tool := newTool(cfg, logger)
	svcCfg := service.Config{
		Storage:             store,
		Tool:                tool,
		Spawner:             spawner,
		Notifier:            hub,
		Logger:              logger,
		KeepFailedWorkspace: cfg.Render.KeepFailedWorkspace,
		WorkerTimeout:       cfg.Render.WorkerTimeout,
		MediaRoot:           mediaRoot,
	}
	if cfg.Effects != nil {
		chain, err := cfg.EffectChain()
		if err != nil {
			return fail(stderr, "serve", err)
		}
		svcCfg.DefaultChain = chain
	}
	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		return fail(stderr, "serve", err)
	}
	if uploader != nil {
		svcCfg.Uploader = uploader
	} else {
		logger.Info("Publishing not configured, outputs stay on local disk")
	}
	svc := service.NewSaveService(svcCfg)

	// Queue consumer
	redisOpt := queue.RedisOpt(cfg.Redis)
	queueClient := queue.NewClient(redisOpt)
	defer queueClient.Close()

	worker := queue.NewServer(redisOpt, cfg.Server.Concurrency, logger, logging.ParseLevel(cfg.Log.Level))
	if err := worker.Start(queue.NewServeMux(queue.NewHandler(svc, logger))); err != nil {
		return fail(stderr, "serve", err)
	}
	defer worker.Shutdown()

	services := map[string]bool{"publish": uploader != nil}
	for _, a := range tool.Check(ctx) {
		services[a.Name] = a.Err == nil
	}

	app := server.NewApp(server.Options{
		Jobs:      svc,
		Queue:     queueClient,
		Hub:       hub,
		Logger:    logger,
		AccessLog: stderr,
		Services:  services,
	})

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down server")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	logger.Info("Server starting", "addr", addr, "media_root", mediaRoot, "storage", cfg.Storage.Driver, "concurrency", cfg.Server.Concurrency)
	if err := app.Listen(addr); err != nil {
		return fail(stderr, "serve", err)
	}
	return 0
}
