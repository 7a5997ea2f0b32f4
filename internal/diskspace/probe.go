// Package diskspace answers how many bytes are free on the volume that
// hosts a given path.
package diskspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Probe reports free space for the volume containing a path.
type Probe interface {
	FreeBytes(path string) (int64, error)
}

// DiskQueryError is returned when the operating system cannot tell how much
// space is free. Callers must abort rather than guess.
type DiskQueryError struct {
	Path string
	Err  error
}

func (e *DiskQueryError) Error() string {
	return fmt.Sprintf("query free disk space for %q: %v", e.Path, e.Err)
}

func (e *DiskQueryError) Unwrap() error { return e.Err }

// OSProbe queries the host operating system.
type OSProbe struct{}

var _ Probe = OSProbe{}

// New returns the probe for the current operating system.
func New() OSProbe { return OSProbe{} }

// FreeBytes returns the bytes available to the current user on the volume
// that holds path. The path does not need to exist yet: its nearest existing
// ancestor is queried instead.
func (OSProbe) FreeBytes(path string) (int64, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, &DiskQueryError{Path: path, Err: err}
	}
	existing, err := nearestExisting(abs)
	if err != nil {
		return 0, &DiskQueryError{Path: path, Err: err}
	}
	free, err := volumeFree(existing)
	if err != nil {
		return 0, &DiskQueryError{Path: existing, Err: err}
	}
	if free < 0 {
		return 0, &DiskQueryError{Path: existing, Err: fmt.Errorf("invalid free space value %d", free)}
	}
	return free, nil
}

// nearestExisting walks up from path until it finds something that exists.
func nearestExisting(path string) (string, error) {
	current := path
	for {
		if _, err := os.Stat(current); err == nil {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %q", path)
		}
		current = parent
	}
}
