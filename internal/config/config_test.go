package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdougie/framefx/internal/effects"
	"github.com/spf13/pflag"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	RegisterRenderFlags(fs)
	fs.String("port", "", "")
	fs.String("media-root", "", "")
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Render.Workers != 4 {
		t.Errorf("workers: got %d, want 4", cfg.Render.Workers)
	}
	if cfg.Render.PoolSize != 2 {
		t.Errorf("pool size: got %d, want 2", cfg.Render.PoolSize)
	}
	if cfg.Render.FPS != 25 {
		t.Errorf("fps: got %d, want 25", cfg.Render.FPS)
	}
	if cfg.Render.WorkerTimeout != 0 {
		t.Errorf("worker timeout: got %v, want 0", cfg.Render.WorkerTimeout)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Dir != ".data" {
		t.Errorf("storage: got %+v", cfg.Storage)
	}
	if cfg.Server.Port != "8000" {
		t.Errorf("port: got %q", cfg.Server.Port)
	}
	if cfg.S3.Enabled() {
		t.Error("s3 should be disabled by default")
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FRAMEFX_RENDER_WORKERS", "8")
	t.Setenv("FRAMEFX_RENDER_WORKER_TIMEOUT", "90s")
	t.Setenv("FRAMEFX_S3_BUCKET", "renders")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Render.Workers != 8 {
		t.Errorf("workers: got %d, want 8", cfg.Render.Workers)
	}
	if cfg.Render.WorkerTimeout != 90*time.Second {
		t.Errorf("worker timeout: got %v", cfg.Render.WorkerTimeout)
	}
	if !cfg.S3.Enabled() {
		t.Error("s3 should be enabled")
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FRAMEFX_RENDER_WORKERS", "8")

	cfg, err := Load(newFlags(t, "--workers", "2", "--in-process", "--port", "9090", "--media-root", "/srv/media"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Render.Workers != 2 {
		t.Errorf("workers: got %d, want 2", cfg.Render.Workers)
	}
	if !cfg.Render.InProcess {
		t.Error("in-process flag not applied")
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("port: got %q", cfg.Server.Port)
	}
	if cfg.Server.MediaRoot != "/srv/media" {
		t.Errorf("media root: got %q", cfg.Server.MediaRoot)
	}
}

func TestLoad_UnsetFlagsKeepDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(newFlags(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Render.Workers != 4 || cfg.Log.Level != "info" {
		t.Errorf("got workers=%d level=%q", cfg.Render.Workers, cfg.Log.Level)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := `
render:
  workers: 3
  fps: 30
storage:
  driver: postgres
  postgres_url: postgres://localhost/framefx
effects:
  - kind: grayscale
    params:
      intensity: 0.5
  - kind: blur
    params:
      radius: 2
`
	if err := os.WriteFile(filepath.Join(dir, "framefx.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Render.Workers != 3 || cfg.Render.FPS != 30 {
		t.Errorf("render: got %+v", cfg.Render)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("driver: got %q", cfg.Storage.Driver)
	}

	chain, err := cfg.EffectChain()
	if err != nil {
		t.Fatalf("EffectChain: %v", err)
	}
	if len(chain) != 2 || chain[0].Kind() != effects.KindGrayscale || chain[1].(effects.Blur).Radius != 2 {
		t.Errorf("chain: got %#v", chain)
	}
}

func TestLoad_ExplicitConfigPath(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(newFlags(t, "--config", path))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("level: got %q", cfg.Log.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero workers", map[string]string{"FRAMEFX_RENDER_WORKERS": "0"}},
		{"unknown driver", map[string]string{"FRAMEFX_STORAGE_DRIVER": "mongo"}},
		{"postgres without url", map[string]string{"FRAMEFX_STORAGE_DRIVER": "postgres"}},
		{"bad level", map[string]string{"FRAMEFX_LOG_LEVEL": "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(nil); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_InvalidEffect(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := "effects:\n  - kind: blur\n    params:\n      radius: 20\n"
	if err := os.WriteFile(filepath.Join(dir, "framefx.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(nil); err == nil {
		t.Error("expected error for out of range blur radius")
	}
}
