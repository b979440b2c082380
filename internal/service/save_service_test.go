package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/bdougie/framefx/internal/effects"
	"github.com/bdougie/framefx/internal/models"
	"github.com/bdougie/framefx/internal/saver"
	"github.com/bdougie/framefx/internal/storage"
	"github.com/bdougie/framefx/internal/workerhost"
)

type fakeTool struct {
	frames  int
	corrupt int
}

func (f *fakeTool) ExtractFrames(_ context.Context, _, destDir string, onProgress func(float64)) error {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i := 1; i <= f.frames; i++ {
		path := filepath.Join(destDir, fmt.Sprintf("frame%05d.png", i))
		if i == f.corrupt {
			if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
				return err
			}
		} else if err := imaging.Save(img, path); err != nil {
			return err
		}
		onProgress(float64(i) / float64(f.frames))
	}
	return nil
}

func (f *fakeTool) Encode(_ context.Context, _, dest string) error {
	return os.WriteFile(dest, []byte("video"), 0o644)
}

type recordingNotifier struct {
	mu       sync.Mutex
	progress []int
	steps    []string
	complete []interface{}
	errors   []string
}

func (n *recordingNotifier) BroadcastProgress(_ string, progress int, _ models.JobStatus, step string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, progress)
	if len(n.steps) == 0 || n.steps[len(n.steps)-1] != step {
		n.steps = append(n.steps, step)
	}
}

func (n *recordingNotifier) BroadcastComplete(_ string, result interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.complete = append(n.complete, result)
}

func (n *recordingNotifier) BroadcastError(_ string, code, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, code)
}

type fakeUploader struct {
	keys []string
	err  error
}

func (u *fakeUploader) Upload(_ context.Context, key, _ string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.keys = append(u.keys, key)
	return "https://cdn.example.com/" + key, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T, tool saver.MediaTool, notifier Notifier, uploader Uploader) (*SaveService, storage.Storage) {
	t.Helper()
	store, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := Config{
		Storage:      store,
		Tool:         tool,
		Spawner:      &workerhost.InProcessSpawner{Host: workerhost.NewHost(quietLogger(), 2)},
		Notifier:     notifier,
		Logger:       quietLogger(),
		DefaultChain: effects.Chain{effects.Grayscale{Intensity: 1}},
	}
	if uploader != nil {
		cfg.Uploader = uploader
	}
	return NewSaveService(cfg), store
}

func sourceVideo(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(src, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return src
}

func TestCreate_RecordsQueuedJob(t *testing.T) {
	svc, store := newService(t, &fakeTool{}, nil, nil)
	src := sourceVideo(t)

	rec, err := svc.Create(context.Background(), SaveRequest{Source: src})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Status != models.StatusQueued || rec.Workers != saver.DefaultWorkerCount {
		t.Errorf("got %+v", rec)
	}
	if filepath.Base(rec.Destination) != "clip-effected.mp4" {
		t.Errorf("destination: got %s", rec.Destination)
	}
	if len(rec.Effects) != 1 || rec.Effects[0].Kind != effects.KindGrayscale {
		t.Errorf("default chain not applied: %+v", rec.Effects)
	}

	stored, err := store.GetJob(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Source != src {
		t.Errorf("stored source: got %s", stored.Source)
	}
}

func TestCreate_InvalidRequests(t *testing.T) {
	svc, _ := newService(t, &fakeTool{}, nil, nil)
	src := sourceVideo(t)

	tests := []struct {
		name string
		req  SaveRequest
	}{
		{"missing source", SaveRequest{}},
		{"source does not exist", SaveRequest{Source: filepath.Join(t.TempDir(), "nope.mp4")}},
		{"too many workers", SaveRequest{Source: src, Workers: 65}},
		{"unknown effect", SaveRequest{Source: src, Effects: []effects.Spec{{Kind: "sepia"}}}},
		{"out of range effect", SaveRequest{Source: src, Effects: []effects.Spec{{Kind: effects.KindBlur, Params: map[string]any{"radius": 9}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tt.req); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("got %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestCreate_MediaRoot(t *testing.T) {
	svc, _ := newService(t, &fakeTool{}, nil, nil)
	src := sourceVideo(t)
	root := filepath.Dir(src)
	svc.cfg.MediaRoot = root

	outside := sourceVideo(t)
	tests := []struct {
		name string
		req  SaveRequest
	}{
		{"parent source", SaveRequest{Source: filepath.Join(root, "..", filepath.Base(root), "..", "clip.mp4")}},
		{"absolute source", SaveRequest{Source: outside}},
		{"parent destination", SaveRequest{Source: src, Destination: filepath.Join(root, "..", "out.mp4")}},
		{"source outside, destination inside", SaveRequest{Source: outside, Destination: filepath.Join(root, "out.mp4")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("got %v, want ErrInvalidRequest", err)
			}
		})
	}

	rec, err := svc.Create(context.Background(), SaveRequest{Source: src, Destination: filepath.Join(root, "sub", "..", "out.mp4")})
	if err != nil {
		t.Fatalf("Create inside root: %v", err)
	}
	if rec.Destination != filepath.Join(root, "sub", "..", "out.mp4") {
		t.Errorf("destination: got %s", rec.Destination)
	}
}

func TestMarkFailed(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, store := newService(t, &fakeTool{}, notifier, nil)
	rec, err := svc.Create(context.Background(), SaveRequest{Source: sourceVideo(t)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.MarkFailed(context.Background(), rec.ID, errors.New("enqueue: redis down")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	stored, err := store.GetJob(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != models.StatusFailed || stored.FinishedAt == nil || stored.Error != "enqueue: redis down" {
		t.Errorf("got %+v", stored)
	}
	if fmt.Sprint(notifier.errors) != fmt.Sprint([]string{CodeSaveFailed}) {
		t.Errorf("error codes: got %v", notifier.errors)
	}
	if _, err := svc.Run(context.Background(), rec.ID); err == nil {
		t.Error("expected error running a failed job")
	}

	if err := svc.MarkFailed(context.Background(), "missing", errors.New("x")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing job: got %v, want ErrNotFound", err)
	}
}

func TestSave_Succeeds(t *testing.T) {
	notifier := &recordingNotifier{}
	uploader := &fakeUploader{}
	svc, store := newService(t, &fakeTool{frames: 40}, notifier, uploader)

	var events int
	rec, err := svc.Save(context.Background(), SaveRequest{Source: sourceVideo(t), Workers: 2}, func(saver.Event) {
		events++
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rec.Status != models.StatusSucceeded || rec.Progress != 1 || rec.FinishedAt == nil {
		t.Errorf("got %+v", rec)
	}
	if events == 0 {
		t.Error("listener never called")
	}
	if len(uploader.keys) != 1 || rec.PublishedURL != "https://cdn.example.com/"+uploader.keys[0] {
		t.Errorf("published: keys=%v url=%q", uploader.keys, rec.PublishedURL)
	}

	stored, err := store.GetJob(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != models.StatusSucceeded || stored.PublishedURL == "" {
		t.Errorf("stored: got %+v", stored)
	}

	want := []string{"extracting", "rendering", "creating"}
	if fmt.Sprint(notifier.steps) != fmt.Sprint(want) {
		t.Errorf("steps: got %v, want %v", notifier.steps, want)
	}
	for i := 1; i < len(notifier.progress); i++ {
		if notifier.progress[i] < 0 || notifier.progress[i] > 100 {
			t.Errorf("progress out of range: %d", notifier.progress[i])
		}
	}
	if len(notifier.complete) != 1 || len(notifier.errors) != 0 {
		t.Errorf("complete=%d errors=%v", len(notifier.complete), notifier.errors)
	}
}

func TestSave_WorkerFailure(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, store := newService(t, &fakeTool{frames: 20, corrupt: 15}, notifier, nil)

	rec, err := svc.Save(context.Background(), SaveRequest{Source: sourceVideo(t), Workers: 2})
	var we *saver.WorkerError
	if !errors.As(err, &we) {
		t.Fatalf("got %v, want WorkerError", err)
	}
	if rec.Status != models.StatusFailed || rec.Error == "" {
		t.Errorf("got %+v", rec)
	}
	if fmt.Sprint(notifier.errors) != fmt.Sprint([]string{CodeWorkerFailed}) {
		t.Errorf("error codes: got %v", notifier.errors)
	}
	if len(notifier.complete) != 0 {
		t.Error("complete sent for failed job")
	}

	stored, _ := store.GetJob(context.Background(), rec.ID)
	if stored.Status != models.StatusFailed {
		t.Errorf("stored status: got %s", stored.Status)
	}
}

func TestSave_PublishFailure(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, _ := newService(t, &fakeTool{frames: 4}, notifier, &fakeUploader{err: errors.New("bucket gone")})

	rec, err := svc.Save(context.Background(), SaveRequest{Source: sourceVideo(t), Workers: 1})
	if err == nil {
		t.Fatal("expected publish error")
	}
	if rec.Status != models.StatusFailed {
		t.Errorf("status: got %s", rec.Status)
	}
	if fmt.Sprint(notifier.errors) != fmt.Sprint([]string{CodePublishFailed}) {
		t.Errorf("error codes: got %v", notifier.errors)
	}
}

func TestRun_RejectsFinishedJob(t *testing.T) {
	svc, _ := newService(t, &fakeTool{frames: 2}, nil, nil)
	rec, err := svc.Save(context.Background(), SaveRequest{Source: sourceVideo(t), Workers: 1})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := svc.Run(context.Background(), rec.ID); err == nil {
		t.Error("expected error running a finished job twice")
	}
}

func TestRun_UnknownJob(t *testing.T) {
	svc, _ := newService(t, &fakeTool{}, nil, nil)
	if _, err := svc.Run(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestPercent(t *testing.T) {
	tests := map[float64]int{-1: 0, 0: 0, 0.254: 25, 0.5: 50, 1: 100, 2: 100}
	for in, want := range tests {
		if got := Percent(in); got != want {
			t.Errorf("Percent(%v): got %d, want %d", in, got, want)
		}
	}
}
