package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
)

// Availability describes whether a capability can be run on this machine.
type Availability struct {
	Name    string
	Path    string
	Version string
	Err     error
}

// Check resolves every registered capability and asks it for its version.
// It never stops on failure; each result carries its own error.
func (t *Tool) Check(ctx context.Context) []Availability {
	var results []Availability
	for _, name := range t.registry.Names() {
		a := Availability{Name: name}
		a.Path, a.Err = t.registry.Resolve(name)
		if a.Err == nil {
			var out []byte
			out, a.Err = t.Run(ctx, name, "-version")
			a.Version = firstLine(out)
		}
		results = append(results, a)
	}
	return results
}

func firstLine(out []byte) string {
	s := bufio.NewScanner(bytes.NewReader(out))
	if s.Scan() {
		return s.Text()
	}
	return ""
}
