//go:build !linux

package rt

import (
	"errors"
	"runtime"
)

// Elevate locks the calling goroutine to its OS thread. Scheduling classes are only
// changed on Linux.
func Elevate(priority int) (Class, error) {
	_ = priority
	runtime.LockOSThread()
	return Normal, errors.New("scheduling priority not supported on " + runtime.GOOS)
}
