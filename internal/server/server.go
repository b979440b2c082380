// Package server exposes save jobs over HTTP and streams their progress over
// websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/bdougie/framefx/internal/models"
	"github.com/bdougie/framefx/internal/service"
	"github.com/bdougie/framefx/internal/storage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	bodyLimit        = 1 << 20
)

// Jobs creates and looks up save jobs.
type Jobs interface {
	Create(ctx context.Context, req service.SaveRequest) (*models.JobRecord, error)
	Get(ctx context.Context, id string) (*models.JobRecord, error)
	List(ctx context.Context, limit int) ([]models.JobRecord, error)
	MarkFailed(ctx context.Context, id string, cause error) error
}

// Enqueuer schedules a recorded job for processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Options configures the HTTP app. AccessLog may be nil to disable request
// logging.
type Options struct {
	Jobs      Jobs
	Queue     Enqueuer
	Hub       *Hub
	Logger    *slog.Logger
	AccessLog io.Writer
	Services  map[string]bool
}

// Handler serves the job endpoints
type Handler struct {
	jobs      Jobs
	queue     Enqueuer
	validator *validator.Validate
	logger    *slog.Logger
	services  map[string]bool
}

// NewApp builds the fiber app with every route registered.
func NewApp(opts Options) *fiber.App {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Handler{
		jobs:      opts.Jobs,
		queue:     opts.Queue,
		validator: validator.New(),
		logger:    opts.Logger,
		services:  opts.Services,
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if opts.AccessLog != nil {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
			Output: opts.AccessLog,
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Get("/health", h.Health)

	api := app.Group("/api")
	api.Post("/jobs", h.Create)
	api.Get("/jobs", h.List)
	api.Get("/jobs/:jobId", h.Get)

	if opts.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
			opts.Hub.HandleConnection(c, c.Params("jobId"))
		}))
	}

	return app
}

// Health handles GET /health
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"services":  h.services,
	})
}

// Create handles POST /api/jobs
func (h *Handler) Create(c *fiber.Ctx) error {
	var req service.SaveRequest
	if err := c.BodyParser(&req); err != nil {
		return validationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return validationError(c, "Validation failed", formatValidationErrors(err))
	}

	rec, err := h.jobs.Create(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			return validationError(c, err.Error(), nil)
		}
		return serviceError(c, err.Error())
	}

	if err := h.queue.Enqueue(c.UserContext(), rec.ID); err != nil {
		h.logger.Error("Failed to enqueue job", "job", rec.ID, "error", err)
		if err := h.jobs.MarkFailed(c.UserContext(), rec.ID, fmt.Errorf("enqueue: %w", err)); err != nil {
			h.logger.Warn("Failed to mark job failed", "job", rec.ID, "error", err)
		}
		return serviceError(c, "failed to enqueue job")
	}

	h.logger.Info("Queued save job", "job", rec.ID, "source", rec.Source)
	return c.Status(fiber.StatusAccepted).JSON(rec)
}

// List handles GET /api/jobs
func (h *Handler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		return validationError(c, "limit must be between 1 and 100", nil)
	}

	jobs, err := h.jobs.List(c.UserContext(), limit)
	if err != nil {
		return serviceError(c, err.Error())
	}
	if jobs == nil {
		jobs = []models.JobRecord{}
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}

// Get handles GET /api/jobs/:jobId
func (h *Handler) Get(c *fiber.Ctx) error {
	rec, err := h.jobs.Get(c.UserContext(), c.Params("jobId"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notFound(c, "Job not found")
		}
		return serviceError(c, err.Error())
	}
	return c.JSON(rec)
}

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}
