// Package service records save jobs, runs them through the saver and reports
// their progress to subscribers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bdougie/framefx/internal/effects"
	"github.com/bdougie/framefx/internal/models"
	"github.com/bdougie/framefx/internal/publish"
	"github.com/bdougie/framefx/internal/saver"
	"github.com/bdougie/framefx/internal/storage"
	"github.com/bdougie/framefx/internal/workerhost"
)

// Error codes sent to subscribers.
const (
	CodeWorkerFailed  = "WORKER_FAILED"
	CodeSaveFailed    = "SAVE_FAILED"
	CodePublishFailed = "PUBLISH_FAILED"
)

// progressStep is the smallest progress change that is persisted.
const progressStep = 0.05

// ErrInvalidRequest is wrapped by every request validation failure.
var ErrInvalidRequest = errors.New("invalid request")

// Notifier receives live updates about a job.
type Notifier interface {
	BroadcastProgress(jobID string, progress int, status models.JobStatus, step string)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID string, code, message string)
}

// Uploader publishes a finished render and returns where it can be fetched.
type Uploader interface {
	Upload(ctx context.Context, key, localPath string) (string, error)
}

// SaveRequest asks for a video to be saved with an effect chain.
type SaveRequest struct {
	Source      string         `json:"source" validate:"required"`
	Destination string         `json:"destination,omitempty"`
	Effects     []effects.Spec `json:"effects,omitempty"`
	Workers     int            `json:"workers,omitempty" validate:"gte=0,lte=64"`
}

// SaveResult is sent to subscribers when a job succeeds.
type SaveResult struct {
	Destination  string `json:"destination"`
	PublishedURL string `json:"publishedUrl,omitempty"`
}

// Config holds the collaborators of a SaveService. Notifier, Uploader and
// DefaultChain are optional.
type Config struct {
	Storage             storage.Storage
	Tool                saver.MediaTool
	Spawner             workerhost.Spawner
	Notifier            Notifier
	Uploader            Uploader
	Logger              *slog.Logger
	DefaultChain        effects.Chain
	KeepFailedWorkspace bool
	WorkerTimeout       time.Duration
	// MediaRoot confines sources and destinations when set.
	MediaRoot string
}

// SaveService creates and runs save jobs
type SaveService struct {
	cfg      Config
	validate *validator.Validate
	now      func() time.Time
}

// NewSaveService creates a new save service
func NewSaveService(cfg Config) *SaveService {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	return &SaveService{
		cfg:      cfg,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Create validates the request and records a queued job.
func (s *SaveService) Create(ctx context.Context, req SaveRequest) (*models.JobRecord, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := s.confine("source", req.Source); err != nil {
		return nil, err
	}
	if _, err := os.Stat(req.Source); err != nil {
		return nil, fmt.Errorf("%w: source video: %v", ErrInvalidRequest, err)
	}

	chain, err := s.chain(req.Effects)
	if err != nil {
		return nil, err
	}
	job, err := saver.NewJobWithID(uuid.NewString(), req.Source, req.Destination, chain, req.Workers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := s.confine("destination", job.DestinationPath); err != nil {
		return nil, err
	}
	specs, err := chain.Specs()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &models.JobRecord{
		ID:          job.ID,
		Source:      job.SourceVideoPath,
		Destination: job.DestinationPath,
		Effects:     specs,
		Workers:     job.WorkerCount,
		Status:      models.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.cfg.Storage.SaveJob(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	return rec, nil
}

// confine rejects paths that resolve outside the media root.
func (s *SaveService) confine(name, path string) error {
	if s.cfg.MediaRoot == "" {
		return nil
	}
	root, err := filepath.Abs(s.cfg.MediaRoot)
	if err != nil {
		return fmt.Errorf("media root: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRequest, name, err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || !filepath.IsLocal(rel) {
		return fmt.Errorf("%w: %s %q is outside the media root", ErrInvalidRequest, name, path)
	}
	return nil
}

func (s *SaveService) chain(specs []effects.Spec) (effects.Chain, error) {
	if len(specs) == 0 {
		return s.cfg.DefaultChain, nil
	}
	chain, err := effects.DecodeChain(specs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return chain, nil
}

// Get returns the record of a job.
func (s *SaveService) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	return s.cfg.Storage.GetJob(ctx, id)
}

// List returns recent jobs, newest first.
func (s *SaveService) List(ctx context.Context, limit int) ([]models.JobRecord, error) {
	return s.cfg.Storage.ListJobs(ctx, limit)
}

// Save records a job and runs it to completion.
func (s *SaveService) Save(ctx context.Context, req SaveRequest, listeners ...saver.Listener) (*models.JobRecord, error) {
	rec, err := s.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, rec.ID, listeners...)
}

// Run executes a recorded job. The record is updated as the save advances and
// is returned in its final state along with the save error, if any.
func (s *SaveService) Run(ctx context.Context, id string, listeners ...saver.Listener) (*models.JobRecord, error) {
	rec, err := s.cfg.Storage.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if rec.Status != models.StatusQueued {
		return rec, fmt.Errorf("job %s is %s, not queued", id, rec.Status)
	}

	chain, err := effects.DecodeChain(rec.Effects)
	if err != nil {
		return rec, s.fail(ctx, rec, CodeSaveFailed, err)
	}
	job, err := saver.NewJobWithID(rec.ID, rec.Source, rec.Destination, chain, rec.Workers)
	if err != nil {
		return rec, s.fail(ctx, rec, CodeSaveFailed, err)
	}

	rec.Status = models.StatusRunning
	s.persist(ctx, rec)

	t := &tracker{service: s, ctx: ctx, rec: rec, listeners: listeners}
	sv := saver.New(job, s.cfg.Tool, s.cfg.Spawner,
		saver.WithLogger(s.cfg.Logger.With("job", rec.ID)),
		saver.WithListener(t.handle),
		saver.WithKeepFailedWorkspace(s.cfg.KeepFailedWorkspace),
		saver.WithWorkerTimeout(s.cfg.WorkerTimeout),
	)
	if err := sv.Save(ctx); err != nil {
		code := CodeSaveFailed
		var we *saver.WorkerError
		if errors.As(err, &we) {
			code = CodeWorkerFailed
		}
		return rec, s.fail(ctx, rec, code, err)
	}

	if s.cfg.Uploader != nil {
		url, err := s.cfg.Uploader.Upload(ctx, publish.ObjectKey(rec.ID, rec.Destination), rec.Destination)
		if err != nil {
			return rec, s.fail(ctx, rec, CodePublishFailed, err)
		}
		rec.PublishedURL = url
	}

	s.finish(rec, models.StatusSucceeded)
	rec.Progress = 1
	s.persist(ctx, rec)
	s.cfg.Notifier.BroadcastComplete(rec.ID, SaveResult{
		Destination:  rec.Destination,
		PublishedURL: rec.PublishedURL,
	})
	s.cfg.Logger.Info("Job succeeded", "job", rec.ID, "dest", rec.Destination)
	return rec, nil
}

// MarkFailed fails a job that never started, such as one that could not be
// handed to the queue. Jobs that already left the queued state are kept.
func (s *SaveService) MarkFailed(ctx context.Context, id string, cause error) error {
	rec, err := s.cfg.Storage.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if rec.Status != models.StatusQueued {
		return nil
	}
	s.fail(ctx, rec, CodeSaveFailed, cause)
	return nil
}

func (s *SaveService) fail(ctx context.Context, rec *models.JobRecord, code string, err error) error {
	s.finish(rec, models.StatusFailed)
	rec.Error = err.Error()
	s.persist(ctx, rec)
	s.cfg.Notifier.BroadcastError(rec.ID, code, rec.Error)
	return err
}

func (s *SaveService) finish(rec *models.JobRecord, status models.JobStatus) {
	now := s.now().UTC()
	rec.Status = status
	rec.FinishedAt = &now
}

// persist stores the record. The job keeps running when history cannot be
// written.
func (s *SaveService) persist(ctx context.Context, rec *models.JobRecord) {
	rec.UpdatedAt = s.now().UTC()
	if err := s.cfg.Storage.SaveJob(context.WithoutCancel(ctx), rec); err != nil {
		s.cfg.Logger.Warn("Failed to record job", "job", rec.ID, "error", err)
	}
}

// tracker turns saver events into record updates and notifications.
type tracker struct {
	service   *SaveService
	ctx       context.Context
	rec       *models.JobRecord
	listeners []saver.Listener
	saved     float64
}

func (t *tracker) handle(e saver.Event) {
	for _, l := range t.listeners {
		l(e)
	}

	switch e.Type {
	case saver.EventExtracting, saver.EventRendering, saver.EventCreating:
		t.rec.Phase = string(e.Type)
		t.rec.Progress = 0
		t.saved = 0
		t.service.persist(t.ctx, t.rec)
		t.notify()
	case saver.EventProgress:
		t.rec.Progress = e.Progress
		if e.Progress-t.saved >= progressStep || (e.Progress == 1 && t.saved < 1) {
			t.saved = e.Progress
			t.service.persist(t.ctx, t.rec)
			t.notify()
		}
	}
}

func (t *tracker) notify() {
	t.service.cfg.Notifier.BroadcastProgress(t.rec.ID, Percent(t.rec.Progress), t.rec.Status, t.rec.Phase)
}

// Percent converts a progress fraction to a whole percentage.
func Percent(p float64) int {
	return int(math.Round(math.Max(0, math.Min(1, p)) * 100))
}

type nopNotifier struct{}

func (nopNotifier) BroadcastProgress(string, int, models.JobStatus, string) {}
func (nopNotifier) BroadcastComplete(string, interface{})                   {}
func (nopNotifier) BroadcastError(string, string, string)                   {}
