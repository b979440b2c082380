package renderer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/bdougie/framefx/internal/effects"
	"github.com/bdougie/framefx/internal/ffmpeg"
	"github.com/disintegration/imaging"
)

func writeFrames(t *testing.T, dir string, n, w, h int) []string {
	t.Helper()
	paths := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetNRGBA(x, y, color.NRGBA{R: uint8(i * 40), G: uint8(x * 20), B: uint8(y * 20), A: 255})
			}
		}
		path := filepath.Join(dir, fmt.Sprintf("frame%05d.png", i))
		if err := imaging.Save(img, path); err != nil {
			t.Fatalf("save frame: %v", err)
		}
		paths = append(paths, path)
	}
	return paths
}

func TestRender_WritesSameNamesInOrder(t *testing.T) {
	frames := writeFrames(t, t.TempDir(), 4, 8, 6)
	out := filepath.Join(t.TempDir(), "affected")
	chain := effects.Chain{effects.Grayscale{Intensity: 1}}

	var progress []float64
	err := New(frames, out, chain).Render(context.Background(), func(p float64) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	want := []float64{0.25, 0.5, 0.75, 1}
	if len(progress) != len(want) {
		t.Fatalf("progress: got %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress[%d]: got %v, want %v", i, progress[i], want[i])
		}
	}

	for _, src := range frames {
		dest := filepath.Join(out, filepath.Base(src))
		got, err := imaging.Open(dest)
		if err != nil {
			t.Fatalf("open rendered frame: %v", err)
		}
		orig, _ := imaging.Open(src)
		expected := chain.Apply(orig)
		if string(imaging.Clone(got).Pix) != string(expected.Pix) {
			t.Errorf("%s: rendered pixels differ from chain output", filepath.Base(src))
		}
	}
}

func TestRender_EmptyPartition(t *testing.T) {
	var progress []float64
	err := New(nil, t.TempDir(), nil).Render(context.Background(), func(p float64) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(progress) != 1 || progress[0] != 1 {
		t.Errorf("got %v, want [1]", progress)
	}
}

func TestRender_SingleSurface(t *testing.T) {
	frames := writeFrames(t, t.TempDir(), 5, 4, 4)
	out := t.TempDir()

	calls := 0
	err := New(frames, out, effects.Chain{effects.Blur{Radius: 1}}, WithPoolSize(1)).
		Render(context.Background(), func(float64) { calls++ })
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if calls != 5 {
		t.Errorf("progress calls: got %d, want 5", calls)
	}
	entries, _ := os.ReadDir(out)
	if len(entries) != 5 {
		t.Errorf("got %d output files, want 5", len(entries))
	}
}

func TestRender_MixedResolutionFails(t *testing.T) {
	dir := t.TempDir()
	frames := writeFrames(t, dir, 2, 8, 8)
	odd := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	oddPath := filepath.Join(dir, "frame00003.png")
	if err := imaging.Save(odd, oddPath); err != nil {
		t.Fatal(err)
	}
	frames = append(frames, oddPath)

	err := New(frames, t.TempDir(), nil).Render(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for mismatched frame size")
	}
}

func TestRender_MissingFrameFails(t *testing.T) {
	frames := writeFrames(t, t.TempDir(), 1, 4, 4)
	frames = append(frames, filepath.Join(t.TempDir(), "frame00002.png"))

	if err := New(frames, t.TempDir(), nil).Render(context.Background(), nil); err == nil {
		t.Fatal("expected error for missing frame")
	}
}

func TestRender_Cancelled(t *testing.T) {
	frames := writeFrames(t, t.TempDir(), 3, 4, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := New(frames, t.TempDir(), nil).Render(ctx, nil); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

type fixedProber struct{ d ffmpeg.Dimensions }

func (p fixedProber) Probe(context.Context, string) (ffmpeg.Dimensions, error) { return p.d, nil }

func TestRender_UsesSizeProber(t *testing.T) {
	frames := writeFrames(t, t.TempDir(), 1, 4, 4)
	prober := fixedProber{ffmpeg.Dimensions{Width: 5, Height: 5}}

	if err := New(frames, t.TempDir(), nil, WithSizeProber(prober)).Render(context.Background(), nil); err == nil {
		t.Fatal("expected size mismatch against probed dimensions")
	}
}

func TestRenderImage(t *testing.T) {
	dir := t.TempDir()
	src := writeFrames(t, dir, 1, 6, 6)[0]
	dest := DefaultImageDestination(src)

	if err := RenderImage(context.Background(), src, dest, effects.Chain{effects.Pixelate{Granularity: 3}}); err != nil {
		t.Fatalf("RenderImage: %v", err)
	}
	if filepath.Base(dest) != "frame00001-effected.png" {
		t.Errorf("dest: got %q", dest)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func TestDefaultVideoDestination(t *testing.T) {
	got := DefaultVideoDestination("/videos/holiday.mov")
	if got != filepath.Join("/videos", "holiday-effected.mp4") {
		t.Errorf("got %q", got)
	}
}
