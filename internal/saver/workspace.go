package saver

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Workspace is the temporary directory tree of one save: extracted frames in
// Original and rendered frames in Affected.
type Workspace struct {
	Root     string
	Original string
	Affected string
}

// createWorkspace makes "<sourceDir>/<unixMillis>/{original,affected}". A
// directory that already exists is never reused; the timestamp is bumped
// until a fresh one is created.
func createWorkspace(sourceDir string, now time.Time) (Workspace, error) {
	stamp := now.UnixMilli()
	var root string
	for {
		root = filepath.Join(sourceDir, strconv.FormatInt(stamp, 10))
		err := os.Mkdir(root, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return Workspace{}, &FilesystemError{Op: "create workspace", Path: root, Err: err}
		}
		stamp++
	}

	ws := Workspace{
		Root:     root,
		Original: filepath.Join(root, "original"),
		Affected: filepath.Join(root, "affected"),
	}
	for _, dir := range []string{ws.Original, ws.Affected} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return ws, &FilesystemError{Op: "create workspace", Path: dir, Err: err}
		}
	}
	return ws, nil
}

// remove deletes the whole workspace tree.
func (w Workspace) remove() error {
	if err := os.RemoveAll(w.Root); err != nil {
		return &FilesystemError{Op: "remove workspace", Path: w.Root, Err: err}
	}
	return nil
}
