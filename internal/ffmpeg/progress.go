package ffmpeg

import (
	"regexp"
	"strconv"
)

var reFrameMarker = regexp.MustCompile(`frame=\s*(\d+)`)

// ParseFrameMarker extracts the processed frame count from an ffmpeg status
// line such as "frame=  120 fps=60 q=-0.0 size=...".
func ParseFrameMarker(line string) (int, bool) {
	m := reFrameMarker.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// frameProgress converts a processed frame count into a fraction of total,
// capped at 1.
func frameProgress(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(processed) / float64(total)
	if p > 1 {
		return 1
	}
	return p
}
