package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Encode assembles the numbered PNG frames in framesDir into an H.264 video
// at dest, replacing any existing file.
func (t *Tool) Encode(ctx context.Context, framesDir, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory for '%s': %w", dest, err)
	}

	fps := strconv.Itoa(t.fps)
	t.logger.Info("Encoding video", "frames", framesDir, "dest", dest, "fps", t.fps)

	_, err := t.Run(ctx, FFmpeg,
		"-hide_banner", "-nostdin",
		"-framerate", fps,
		"-i", filepath.Join(framesDir, FramePattern),
		"-c:v", "libx264",
		"-vf", "fps="+fps,
		"-pix_fmt", "yuv420p",
		dest,
		"-y",
	)
	return err
}
