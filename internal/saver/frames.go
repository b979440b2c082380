package saver

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bdougie/framefx/internal/models"
)

// listFrames returns the PNG frames in dir in lexicographic order, which is
// frame order for zero-padded names.
func listFrames(dir string) ([]models.Frame, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, &FilesystemError{Op: "read frames directory", Path: dir, Err: err}
	}

	var names []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(strings.ToLower(file.Name()), ".png") {
			names = append(names, file.Name())
		}
	}
	sort.Strings(names)

	frames := make([]models.Frame, 0, len(names))
	for i, name := range names {
		frames = append(frames, models.Frame{
			Index: frameIndex(name, i+1),
			Path:  filepath.Join(dir, name),
		})
	}
	return frames, nil
}

// frameIndex reads the number out of "frame00042.png", or returns fallback.
func frameIndex(name string, fallback int) int {
	digits := strings.TrimSuffix(strings.TrimPrefix(name, "frame"), filepath.Ext(name))
	n, err := strconv.Atoi(digits)
	if err != nil {
		return fallback
	}
	return n
}

func framePaths(frames []models.Frame) []string {
	paths := make([]string, len(frames))
	for i, f := range frames {
		paths[i] = f.Path
	}
	return paths
}
