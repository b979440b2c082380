// Package ffmpeg locates and runs the ffmpeg and ffprobe executables, and
// wraps the handful of invocations the pipeline needs: probing dimensions,
// counting frames, extracting frames to PNG and encoding them back to H.264.
package ffmpeg

import (
	"fmt"
	"runtime"
	"sort"
)

// Capability names known to the default registry.
const (
	FFmpeg  = "ffmpeg"
	FFprobe = "ffprobe"
)

// Registry maps a capability name to the executable that provides it on
// each operating system.
type Registry struct {
	goos     string
	binaries map[string]map[string]string
}

// NewRegistry creates a registry for ffmpeg and ffprobe that resolves them
// through PATH on the supported platforms.
func NewRegistry() *Registry {
	r := &Registry{
		goos:     runtime.GOOS,
		binaries: make(map[string]map[string]string),
	}
	for _, name := range []string{FFmpeg, FFprobe} {
		r.Register(name, "linux", name)
		r.Register(name, "darwin", name)
		r.Register(name, "freebsd", name)
		r.Register(name, "windows", name+".exe")
	}
	return r
}

// WithGOOS returns a copy of the registry that resolves for another platform.
func (r *Registry) WithGOOS(goos string) *Registry {
	c := &Registry{goos: goos, binaries: make(map[string]map[string]string, len(r.binaries))}
	for name, platforms := range r.binaries {
		c.binaries[name] = make(map[string]string, len(platforms))
		for platform, path := range platforms {
			c.binaries[name][platform] = path
		}
	}
	return c
}

// Register adds or replaces the executable for name on goos.
func (r *Registry) Register(name, goos, path string) {
	if r.binaries[name] == nil {
		r.binaries[name] = make(map[string]string)
	}
	r.binaries[name][goos] = path
}

// Override points name at path on the current platform. An empty path is
// ignored so unset configuration keeps the default.
func (r *Registry) Override(name, path string) {
	if path == "" {
		return
	}
	r.Register(name, r.goos, path)
}

// Resolve returns the executable for name on the current platform.
func (r *Registry) Resolve(name string) (string, error) {
	platforms, ok := r.binaries[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	path, ok := platforms[r.goos]
	if !ok {
		return "", fmt.Errorf("%w: %q on %s", ErrUnsupportedPlatform, name, r.goos)
	}
	return path, nil
}

// Names lists the registered capabilities in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.binaries))
	for name := range r.binaries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
