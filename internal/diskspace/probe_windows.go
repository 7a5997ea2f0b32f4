//go:build windows

package diskspace

import (
	"math"

	"golang.org/x/sys/windows"
)

func volumeFree(path string) (int64, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	var freeToCaller, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &freeToCaller, &total, &totalFree); err != nil {
		return 0, err
	}
	if freeToCaller > math.MaxInt64 {
		return math.MaxInt64, nil
	}
	return int64(freeToCaller), nil
}
