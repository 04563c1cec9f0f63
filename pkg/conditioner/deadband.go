package conditioner

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// DeadbandMode selects how the deviation threshold is interpreted.
type DeadbandMode int

const (
	// Perceptual compares the deviation against a fraction of the last transmitted magnitude
	// (Weber's law), so small signals are resolved finer than large ones.
	Perceptual DeadbandMode = iota
	// Absolute compares the deviation against a fixed magnitude.
	Absolute
)

func (m DeadbandMode) String() string {
	switch m {
	case Perceptual:
		return "perceptual"
	case Absolute:
		return "absolute"
	default:
		return "unknown"
	}
}

// ParseDeadbandMode parses "perceptual" or "absolute". Empty selects Perceptual.
func ParseDeadbandMode(s string) (DeadbandMode, error) {
	switch s {
	case "", "perceptual":
		return Perceptual, nil
	case "absolute":
		return Absolute, nil
	default:
		return 0, fmt.Errorf("unknown deadband mode %q", s)
	}
}

// Deadband is a zero-order-hold data reducer. A sample is transmitted only when it
// deviates from the last transmitted sample by more than the threshold; otherwise
// the last transmitted sample is held.
type Deadband struct {
	threshold float64
	mode      DeadbandMode
	last      mgl64.Vec3
	primed    bool
}

// NewDeadband creates a deadband with the given threshold and mode.
func NewDeadband(threshold float64, mode DeadbandMode) *Deadband {
	return &Deadband{threshold: threshold, mode: mode}
}

// Update applies the stored threshold. See UpdateWith.
func (d *Deadband) Update(sample mgl64.Vec3) (mgl64.Vec3, bool) {
	return d.UpdateWith(sample, d.threshold)
}

// UpdateWith compares sample against the last transmitted value using threshold.
// It returns the value to send and whether the deadband fired. The first sample
// after construction or Reset always fires.
func (d *Deadband) UpdateWith(sample mgl64.Vec3, threshold float64) (mgl64.Vec3, bool) {
	if !d.primed {
		d.last = sample
		d.primed = true
		return sample, true
	}

	limit := threshold
	if d.mode == Perceptual {
		limit = threshold * d.last.Len()
	}
	if sample.Sub(d.last).Len() > limit {
		d.last = sample
		return sample, true
	}
	return d.last, false
}

// Last returns the last transmitted sample.
func (d *Deadband) Last() mgl64.Vec3 {
	return d.last
}

// Threshold returns the stored threshold.
func (d *Deadband) Threshold() float64 {
	return d.threshold
}

// SetThreshold replaces the stored threshold.
func (d *Deadband) SetThreshold(threshold float64) {
	d.threshold = threshold
}

// Reset forgets the last transmitted sample.
func (d *Deadband) Reset() {
	d.last = mgl64.Vec3{}
	d.primed = false
}
