// Package conditioner prepares raw device samples for control and transmission.
package conditioner

import "github.com/go-gl/mathgl/mgl64"

// Default noise parameters for Kalman.
const (
	DefaultProcessNoise     = 1e-3
	DefaultMeasurementNoise = 1e-2
)

// Kalman is a per-axis random-walk Kalman filter.
// It is owned by a single control loop and is not safe for concurrent use.
type Kalman struct {
	ProcessNoise     float64 // Q
	MeasurementNoise float64 // R

	estimate   mgl64.Vec3
	covariance mgl64.Vec3
	primed     bool
}

// NewKalman creates a filter. Zero noise values select the defaults.
func NewKalman(q, r float64) *Kalman {
	if q <= 0 {
		q = DefaultProcessNoise
	}
	if r <= 0 {
		r = DefaultMeasurementNoise
	}
	return &Kalman{ProcessNoise: q, MeasurementNoise: r}
}

// Apply runs one predict/update step with measurement z and returns the new estimate.
func (k *Kalman) Apply(z mgl64.Vec3) mgl64.Vec3 {
	if !k.primed {
		// Seed with the first measurement so the loop does not start from a zero estimate.
		k.estimate = z
		k.covariance = mgl64.Vec3{k.MeasurementNoise, k.MeasurementNoise, k.MeasurementNoise}
		k.primed = true
		return k.estimate
	}
	for i := range 3 {
		p := k.covariance[i] + k.ProcessNoise
		gain := p / (p + k.MeasurementNoise)
		k.estimate[i] += gain * (z[i] - k.estimate[i])
		k.covariance[i] = (1 - gain) * p
	}
	return k.estimate
}

// Estimate returns the current estimate without updating it.
func (k *Kalman) Estimate() mgl64.Vec3 {
	return k.estimate
}

// Reset forgets the estimate; the next Apply seeds from its measurement.
func (k *Kalman) Reset() {
	k.estimate = mgl64.Vec3{}
	k.covariance = mgl64.Vec3{}
	k.primed = false
}
