package ffmpeg

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for resolving and interpreting the external tools.
var (
	ErrUnknownCapability   = errors.New("unknown capability")
	ErrUnsupportedPlatform = errors.New("capability not available on this platform")
	ErrUnparseableOutput   = errors.New("unparseable tool output")
)

// stderrTailLines is how much of the diagnostic stream a failure keeps.
const stderrTailLines = 20

// ToolExecutionError reports a failed external tool invocation.
type ToolExecutionError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Tool)
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, "\n%s", e.Stderr)
	}
	return b.String()
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// tail returns the last n non-empty lines of s.
func tail(s string, n int) string {
	lines := strings.FieldsFunc(s, isLineBreak)
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func isLineBreak(r rune) bool { return r == '\n' || r == '\r' }
