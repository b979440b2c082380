package workerhost

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bdougie/framefx/internal/effects"
	"github.com/bdougie/framefx/internal/ffmpeg"
	"github.com/disintegration/imaging"
)

func quietHost() *Host {
	return NewHost(slog.New(slog.NewTextHandler(io.Discard, nil)), 2)
}

func writeFrames(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for i := 1; i <= n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("frame%05d.png", i))
		if err := imaging.Save(image.NewNRGBA(image.Rect(0, 0, 4, 4)), path); err != nil {
			t.Fatalf("save frame: %v", err)
		}
		paths = append(paths, path)
	}
	return paths
}

func decodeLines(t *testing.T, data []byte) []Message {
	t.Helper()
	var msgs []Message
	s := bufio.NewScanner(bytes.NewReader(data))
	for s.Scan() {
		var m Message
		if err := json.Unmarshal(s.Bytes(), &m); err != nil {
			t.Fatalf("decode %q: %v", s.Text(), err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func jobLine(t *testing.T, m Message) io.Reader {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(append(data, '\n'))
}

func TestServe_RendersJob(t *testing.T) {
	frames := writeFrames(t, 2)
	outDir := t.TempDir()
	specs, _ := effects.Chain{effects.Blur{Radius: 1}}.Specs()

	var out bytes.Buffer
	err := quietHost().Serve(context.Background(), jobLine(t, Job(frames, outDir, specs)), &out)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}

	msgs := decodeLines(t, out.Bytes())
	var types []string
	for _, m := range msgs {
		types = append(types, string(m.Type))
	}
	if got := strings.Join(types, ","); got != "ready,progress,progress,done" {
		t.Fatalf("messages: got %s", got)
	}
	if msgs[1].Progress != 0.5 || msgs[2].Progress != 1 {
		t.Errorf("progress: got %v, %v", msgs[1].Progress, msgs[2].Progress)
	}
	for _, f := range frames {
		if _, err := os.Stat(filepath.Join(outDir, filepath.Base(f))); err != nil {
			t.Errorf("missing output for %s", filepath.Base(f))
		}
	}
}

type recordingProber struct {
	paths []string
	err   error
}

func (p *recordingProber) Probe(_ context.Context, path string) (ffmpeg.Dimensions, error) {
	p.paths = append(p.paths, path)
	if p.err != nil {
		return ffmpeg.Dimensions{}, p.err
	}
	return ffmpeg.Dimensions{Width: 4, Height: 4}, nil
}

func TestServe_UsesSizeProber(t *testing.T) {
	frames := writeFrames(t, 3)
	prober := &recordingProber{}
	host := NewHost(slog.New(slog.NewTextHandler(io.Discard, nil)), 2, WithSizeProber(prober))

	var out bytes.Buffer
	if err := host.Serve(context.Background(), jobLine(t, Job(frames, t.TempDir(), nil)), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if len(prober.paths) != 1 || prober.paths[0] != frames[0] {
		t.Errorf("probed: got %v, want [%s]", prober.paths, frames[0])
	}

	prober = &recordingProber{err: errors.New("ffprobe missing")}
	host = NewHost(slog.New(slog.NewTextHandler(io.Discard, nil)), 2, WithSizeProber(prober))
	out.Reset()
	if err := host.Serve(context.Background(), jobLine(t, Job(frames, t.TempDir(), nil)), &out); err == nil {
		t.Fatal("expected error when the frame size cannot be read")
	}
	msgs := decodeLines(t, out.Bytes())
	if last := msgs[len(msgs)-1]; last.Type != TypeError || !strings.Contains(last.Reason, "ffprobe missing") {
		t.Errorf("got %+v, want error naming the prober failure", last)
	}
}

func TestServe_InvalidChain(t *testing.T) {
	chain := []effects.Spec{{Kind: effects.KindBlur, Params: map[string]any{"radius": 9}}}

	var out bytes.Buffer
	err := quietHost().Serve(context.Background(), jobLine(t, Job(writeFrames(t, 1), t.TempDir(), chain)), &out)
	if err == nil {
		t.Fatal("expected error for out of range radius")
	}

	msgs := decodeLines(t, out.Bytes())
	last := msgs[len(msgs)-1]
	if last.Type != TypeError || !strings.Contains(last.Reason, "blur") {
		t.Errorf("got %+v, want error message mentioning blur", last)
	}
}

func TestServe_UnexpectedMessage(t *testing.T) {
	var out bytes.Buffer
	if err := quietHost().Serve(context.Background(), jobLine(t, Done()), &out); err == nil {
		t.Fatal("expected error for non-job message")
	}
	msgs := decodeLines(t, out.Bytes())
	if len(msgs) != 2 || msgs[0].Type != TypeReady || msgs[1].Type != TypeError {
		t.Errorf("got %+v", msgs)
	}
}

func TestServe_MissingFrameReportsError(t *testing.T) {
	frames := []string{filepath.Join(t.TempDir(), "frame00001.png")}

	var out bytes.Buffer
	if err := quietHost().Serve(context.Background(), jobLine(t, Job(frames, t.TempDir(), nil)), &out); err == nil {
		t.Fatal("expected error for missing frame")
	}
	msgs := decodeLines(t, out.Bytes())
	if msgs[len(msgs)-1].Type != TypeError {
		t.Errorf("last message: got %s, want error", msgs[len(msgs)-1].Type)
	}
}

func receive(t *testing.T, w *Worker) (Message, bool) {
	t.Helper()
	select {
	case m, ok := <-w.Messages():
		return m, ok
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for worker message")
		return Message{}, false
	}
}

func TestInProcessSpawner_FullLifecycle(t *testing.T) {
	spawner := &InProcessSpawner{Host: quietHost()}
	w, err := spawner.Spawn(context.Background(), 3)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if w.ID() != 3 {
		t.Errorf("id: got %d", w.ID())
	}

	if m, _ := receive(t, w); m.Type != TypeReady {
		t.Fatalf("first message: got %s, want ready", m.Type)
	}
	if err := w.Send(Job(writeFrames(t, 4), t.TempDir(), nil)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var last float64
	for {
		m, ok := receive(t, w)
		if !ok {
			t.Fatal("stream ended before done")
		}
		if m.Type == TypeDone {
			break
		}
		if m.Type != TypeProgress {
			t.Fatalf("unexpected %s: %s", m.Type, m.Reason)
		}
		if m.Progress < last {
			t.Errorf("progress went backwards: %v after %v", m.Progress, last)
		}
		last = m.Progress
	}
	if last != 1 {
		t.Errorf("final progress: got %v, want 1", last)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestInProcessSpawner_Kill(t *testing.T) {
	spawner := &InProcessSpawner{Host: quietHost()}
	w, err := spawner.Spawn(context.Background(), 0)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if m, _ := receive(t, w); m.Type != TypeReady {
		t.Fatalf("first message: got %s", m.Type)
	}

	done := make(chan struct{})
	go func() {
		w.Kill()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Kill did not return")
	}
}

func TestWorker_MalformedOutput(t *testing.T) {
	inR, inW := io.Pipe()
	defer inR.Close()
	output := strings.NewReader("{\"type\":\"ready\"}\nnot json\n")

	w := newWorker(0, inW, output, func() error { return nil }, func() {})
	if m, _ := receive(t, w); m.Type != TypeReady {
		t.Fatalf("first message: got %s", m.Type)
	}
	m, _ := receive(t, w)
	if m.Type != TypeError || !strings.Contains(m.Reason, "malformed") {
		t.Errorf("got %+v, want malformed output error", m)
	}
	if _, ok := receive(t, w); ok {
		t.Error("expected closed message stream")
	}
}
