//go:build !linux && !darwin && !freebsd && !windows

package diskspace

import (
	"errors"
	"runtime"
)

func volumeFree(string) (int64, error) {
	return 0, errors.New("free space query not supported on " + runtime.GOOS)
}
