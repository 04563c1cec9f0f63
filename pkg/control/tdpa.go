// Package control implements the stabilizing controllers of the teleoperation link:
// the time-domain passivity ledger (TDPA), the scattering compensator (ISS), and the
// Stabilizer that keeps exactly one of them active.
package control

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// DefaultSampleInterval is the control period the controllers assume when none is given.
const DefaultSampleInterval = 0.001

// Epsilon below which a velocity or force is treated as zero when solving for the
// damping coefficients.
const Epsilon = 1e-3

// Ledger is the TDPA energy bookkeeping of one port.
//
// EIn only grows between calls to Initialize. After ForceRevise or VelocityRevise,
// EOut never exceeds ERecv on any axis.
type Ledger struct {
	SampleInterval float64

	EIn     mgl64.Vec3 // energy flowing into the local port
	EOut    mgl64.Vec3 // energy flowing out of the local port
	EInLast mgl64.Vec3 // EIn at the last transmitted sample
	ETrans  mgl64.Vec3 // energy sent to the peer
	ERecv   mgl64.Vec3 // energy made available by the peer
	Alpha   mgl64.Vec3 // master damping, N/(m/s)
	Beta    mgl64.Vec3 // slave admittance correction, (m/s)/N
}

// NewLedger creates a zeroed ledger. A non-positive interval selects DefaultSampleInterval.
func NewLedger(sampleInterval float64) *Ledger {
	if sampleInterval <= 0 {
		sampleInterval = DefaultSampleInterval
	}
	return &Ledger{SampleInterval: sampleInterval}
}

// ComputeEnergy accumulates one sample of port power vel·(-force) per axis.
func (l *Ledger) ComputeEnergy(vel, force mgl64.Vec3) {
	for i := range 3 {
		power := vel[i] * -force[i]
		if power >= 0 {
			l.EIn[i] += l.SampleInterval * power
		} else {
			l.EOut[i] -= l.SampleInterval * power
		}
	}
}

// ForceRevise accounts the sample and returns force with the passivity damping
// alpha·vel removed. Used on the master after a remote force arrives.
func (l *Ledger) ForceRevise(vel, force mgl64.Vec3) mgl64.Vec3 {
	l.ComputeEnergy(vel, force)
	revised := force
	for i := range 3 {
		l.Alpha[i] = 0
		if l.EOut[i] > l.ERecv[i] {
			if math.Abs(vel[i]) > Epsilon {
				l.Alpha[i] = (l.EOut[i] - l.ERecv[i]) / (l.SampleInterval * vel[i] * vel[i])
			}
			l.EOut[i] = l.ERecv[i]
		}
		revised[i] = force[i] - l.Alpha[i]*vel[i]
	}
	return revised
}

// VelocityRevise accounts the sample and returns vel with beta·force removed.
// Used on the slave before the commanded velocity reaches the environment.
func (l *Ledger) VelocityRevise(vel, force mgl64.Vec3) mgl64.Vec3 {
	l.ComputeEnergy(vel, force)
	revised := vel
	for i := range 3 {
		l.Beta[i] = 0
		if l.EOut[i] > l.ERecv[i] {
			if math.Abs(force[i]) > Epsilon {
				l.Beta[i] = (l.EOut[i] - l.ERecv[i]) / (l.SampleInterval * force[i] * force[i])
			}
			l.EOut[i] = l.ERecv[i]
		}
		revised[i] = vel[i] - l.Beta[i]*force[i]
	}
	return revised
}

// Transmit returns the energy to put on the wire. When the deadband fired the
// current EIn is sent and remembered; otherwise the value sent last time is repeated.
func (l *Ledger) Transmit(fired bool) mgl64.Vec3 {
	if fired {
		l.ETrans = l.EIn
		l.EInLast = l.EIn
	} else {
		l.ETrans = l.EInLast
	}
	return l.ETrans
}

// Receive records the energy reported by the peer.
func (l *Ledger) Receive(e mgl64.Vec3) {
	l.ERecv = e
}

// Initialize zeroes every accumulator.
func (l *Ledger) Initialize() {
	interval := l.SampleInterval
	*l = Ledger{SampleInterval: interval}
}
