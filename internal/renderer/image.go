package renderer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bdougie/framefx/internal/effects"
	"github.com/disintegration/imaging"
)

// RenderImage applies chain to the still image at src and writes it to dest.
// The output format follows dest's extension.
func RenderImage(ctx context.Context, src, dest string, chain effects.Chain) error {
	img, err := imaging.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open image '%s': %w", src, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := imaging.Save(chain.Apply(img), dest); err != nil {
		return fmt.Errorf("failed to save image '%s': %w", dest, err)
	}
	return nil
}

// DefaultImageDestination returns "<name>-effected.png" next to src.
func DefaultImageDestination(src string) string {
	return effectedPath(src, ".png")
}

// DefaultVideoDestination returns "<name>-effected.mp4" next to src.
func DefaultVideoDestination(src string) string {
	return effectedPath(src, ".mp4")
}

func effectedPath(src, ext string) string {
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(filepath.Dir(src), name+"-effected"+ext)
}
