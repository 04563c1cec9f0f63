//go:build linux

package rt

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

const nicePriority = -10

// Elevate locks the calling goroutine to its OS thread and asks for SCHED_FIFO at
// priority, falling back to a raised nice value. The goroutine stays locked; when it
// exits, its thread exits with it. The error collects every refused step and is
// informational: the returned Class is what the thread actually runs with.
func Elevate(priority int) (Class, error) {
	runtime.LockOSThread()

	tid := unix.Gettid()
	attr := unix.SchedAttr{
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	fifoErr := unix.SchedSetAttr(tid, &attr, 0)
	if fifoErr == nil {
		return RealTime, nil
	}

	niceErr := unix.Setpriority(unix.PRIO_PROCESS, tid, nicePriority)
	if niceErr == nil {
		return Niced, fmt.Errorf("sched_fifo: %w", fifoErr)
	}
	return Normal, errors.Join(
		fmt.Errorf("sched_fifo: %w", fifoErr),
		fmt.Errorf("setpriority: %w", niceErr),
	)
}
