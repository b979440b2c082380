package ffmpeg

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Dimensions is the pixel size of a video stream or image.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) String() string { return fmt.Sprintf("%dx%d", d.Width, d.Height) }

var reDimensions = regexp.MustCompile(`width=(\d+)\s*height=(\d+)`)

// Probe reports the width and height of the first stream in path.
func (t *Tool) Probe(ctx context.Context, path string) (Dimensions, error) {
	out, err := t.Run(ctx, FFprobe,
		"-v", "error",
		"-show_entries", "stream=width,height",
		"-of", "default=noprint_wrappers=1",
		path,
	)
	if err != nil {
		return Dimensions{}, err
	}
	return ParseDimensions(out)
}

// ParseDimensions reads ffprobe's "width=W height=H" output.
// Exported for testing without a real ffprobe binary.
func ParseDimensions(out []byte) (Dimensions, error) {
	m := reDimensions.FindSubmatch(out)
	if m == nil {
		return Dimensions{}, unparseable(FFprobe, out)
	}
	w, werr := strconv.Atoi(string(m[1]))
	h, herr := strconv.Atoi(string(m[2]))
	if werr != nil || herr != nil || w == 0 || h == 0 {
		return Dimensions{}, unparseable(FFprobe, out)
	}
	return Dimensions{Width: w, Height: h}, nil
}

// CountFrames decodes the first video stream of path and returns the number
// of frames read.
func (t *Tool) CountFrames(ctx context.Context, path string) (int, error) {
	out, err := t.Run(ctx, FFprobe,
		"-v", "error",
		"-count_frames",
		"-select_streams", "v:0",
		"-show_entries", "stream=nb_read_frames",
		"-of", "default=nokey=1:noprint_wrappers=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	return ParseFrameCount(out)
}

// ParseFrameCount reads the bare integer printed by a frame count probe.
func ParseFrameCount(out []byte) (int, error) {
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return 0, unparseable(FFprobe, out)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 {
		return 0, unparseable(FFprobe, out)
	}
	return n, nil
}

func unparseable(tool string, out []byte) error {
	return &ToolExecutionError{
		Tool:   tool,
		Stderr: tail(string(out), stderrTailLines),
		Err:    ErrUnparseableOutput,
	}
}
