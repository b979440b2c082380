// Package queue runs save jobs in the background over asynq.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bdougie/framefx/internal/config"
	"github.com/bdougie/framefx/internal/models"
	"github.com/bdougie/framefx/internal/saver"
)

const (
	TaskTypeSave = "save:process"
	QueueName    = "save"
	retention    = 24 * time.Hour
)

// Payload is the body of a save task.
type Payload struct {
	JobID string `json:"jobId"`
}

// NewSaveTask creates the task that runs a recorded job.
func NewSaveTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(Payload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSave, data), nil
}

// ParsePayload decodes the body of a save task.
func ParsePayload(t *asynq.Task) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return Payload{}, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if p.JobID == "" {
		return Payload{}, fmt.Errorf("task payload has no job id")
	}
	return p, nil
}

// RedisOpt builds the asynq connection options.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// Client enqueues save tasks
type Client struct {
	client *asynq.Client
}

// NewClient creates a new queue client
func NewClient(opt asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

// Enqueue schedules the job. Failed saves are not retried.
func (c *Client) Enqueue(ctx context.Context, jobID string) error {
	task, err := NewSaveTask(jobID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueName),
		asynq.MaxRetry(0),
		asynq.Retention(retention),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Close closes the connection to Redis.
func (c *Client) Close() error { return c.client.Close() }

// Runner executes a recorded job.
type Runner interface {
	Run(ctx context.Context, id string, listeners ...saver.Listener) (*models.JobRecord, error)
}

// Handler processes save tasks
type Handler struct {
	runner Runner
	logger *slog.Logger
}

// NewHandler creates a new task handler
func NewHandler(runner Runner, logger *slog.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

// ProcessTask runs the job named by the task.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	p, err := ParsePayload(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	h.logger.Info("Starting save job", "job", p.JobID)
	if _, err := h.runner.Run(ctx, p.JobID); err != nil {
		return fmt.Errorf("save job %s: %v: %w", p.JobID, err, asynq.SkipRetry)
	}
	return nil
}

// NewServeMux routes save tasks to h.
func NewServeMux(h *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeSave, h.ProcessTask)
	return mux
}

// NewServer creates the asynq server that consumes the save queue.
func NewServer(opt asynq.RedisClientOpt, concurrency int, logger *slog.Logger, level slog.Level) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		Logger:      &slogAdapter{logger: logger.With("component", "asynq")},
		LogLevel:    logLevel(level),
	})
}

func logLevel(level slog.Level) asynq.LogLevel {
	switch {
	case level <= slog.LevelDebug:
		return asynq.DebugLevel
	case level <= slog.LevelInfo:
		return asynq.InfoLevel
	case level <= slog.LevelWarn:
		return asynq.WarnLevel
	default:
		return asynq.ErrorLevel
	}
}

// slogAdapter lets asynq log through slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Debug(args ...interface{}) { a.logger.Debug(fmt.Sprint(args...)) }
func (a *slogAdapter) Info(args ...interface{})  { a.logger.Info(fmt.Sprint(args...)) }
func (a *slogAdapter) Warn(args ...interface{})  { a.logger.Warn(fmt.Sprint(args...)) }
func (a *slogAdapter) Error(args ...interface{}) { a.logger.Error(fmt.Sprint(args...)) }
func (a *slogAdapter) Fatal(args ...interface{}) { a.logger.Error(fmt.Sprint(args...)) }
