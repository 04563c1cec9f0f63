// Package rt moves the calling goroutine onto a dedicated OS thread with the best
// scheduling class the process is allowed to use.
package rt

// Class is the scheduling class obtained by Elevate.
type Class int

const (
	// Normal means the thread kept the default time-sharing policy.
	Normal Class = iota
	// Niced means the thread got a raised nice value.
	Niced
	// RealTime means the thread runs under SCHED_FIFO.
	RealTime
)

func (c Class) String() string {
	switch c {
	case RealTime:
		return "realtime"
	case Niced:
		return "niced"
	default:
		return "normal"
	}
}

// DefaultPriority is the SCHED_FIFO priority requested for the control loop.
const DefaultPriority = 80
