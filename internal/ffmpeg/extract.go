package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FramePattern is the file name pattern of extracted and rendered frames.
const FramePattern = "frame%05d.png"

// ExtractFrames writes every frame of src into destDir as numbered PNG files.
// onProgress, when set, receives the fraction of frames extracted so far.
func (t *Tool) ExtractFrames(ctx context.Context, src, destDir string, onProgress func(float64)) error {
	// Check if video file exists
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("video file not accessible at '%s': %w", src, err)
	}

	// Create the frame directory
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create frame directory '%s': %w", destDir, err)
	}

	total, err := t.CountFrames(ctx, src)
	if err != nil {
		return fmt.Errorf("failed to count frames of '%s': %w", src, err)
	}

	t.logger.Info("Extracting frames", "video", src, "frames", total, "dir", destDir)

	proc, err := t.Start(ctx, FFmpeg,
		"-hide_banner", "-nostdin",
		"-i", src,
		filepath.Join(destDir, FramePattern),
	)
	if err != nil {
		return err
	}

	for line := range proc.Lines() {
		if n, ok := ParseFrameMarker(line); ok && onProgress != nil {
			onProgress(frameProgress(n, total))
		}
	}
	if err := proc.Wait(); err != nil {
		return err
	}

	if onProgress != nil {
		onProgress(1)
	}
	return nil
}
