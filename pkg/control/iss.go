package control

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/gwillem/hapticlink/pkg/device"
)

// Defaults for the compensator, taken from a Falcon-class device.
const (
	DefaultTau             = 0.005
	DefaultMuFactor        = 1.7
	DefaultStiffnessFactor = 0.5
	DefaultToolWorkspace   = 1.3
)

// Compensator is the ISS scattering compensator: a force lead term plus a velocity
// correction bounded by the maximum admissible impedance.
type Compensator struct {
	SampleInterval float64
	Tau            float64
	MuMax          float64
	MuFactor       float64

	LastForce mgl64.Vec3
	DForce    mgl64.Vec3
}

// NewCompensator creates a compensator. Non-positive arguments select the defaults.
func NewCompensator(sampleInterval, tau, muMax, muFactor float64) *Compensator {
	if sampleInterval <= 0 {
		sampleInterval = DefaultSampleInterval
	}
	if tau <= 0 {
		tau = DefaultTau
	}
	if muFactor <= 0 {
		muFactor = DefaultMuFactor
	}
	return &Compensator{
		SampleInterval: sampleInterval,
		Tau:            tau,
		MuMax:          muMax,
		MuFactor:       muFactor,
	}
}

// MuMax derives the maximum admissible impedance from the device's stiffness,
// scaled by the ratio of the virtual tool workspace to the physical one.
func MuMax(info device.Info, toolWorkspaceRadius, stiffnessFactor float64) float64 {
	scale := 1.0
	if info.WorkspaceRadius > 0 && toolWorkspaceRadius > 0 {
		scale = toolWorkspaceRadius / info.WorkspaceRadius
	}
	return info.MaxLinearStiffness / scale * stiffnessFactor
}

// ForceRevise updates the force derivative and returns force plus the lead term tau·dF/dt.
func (c *Compensator) ForceRevise(force mgl64.Vec3) mgl64.Vec3 {
	c.DForce = force.Sub(c.LastForce).Mul(1 / c.SampleInterval)
	c.LastForce = force
	return force.Add(c.DForce.Mul(c.Tau))
}

// VelocityRevise returns vel plus dF/dt scaled by 1/(MuMax·MuFactor).
// A compensator without an admissible impedance leaves vel unchanged.
func (c *Compensator) VelocityRevise(vel mgl64.Vec3) mgl64.Vec3 {
	mu := c.MuMax * c.MuFactor
	if mu <= 0 {
		return vel
	}
	return vel.Add(c.DForce.Mul(1 / mu))
}

// Initialize clears the derivative state so no stale derivative survives mode entry.
func (c *Compensator) Initialize() {
	c.LastForce = mgl64.Vec3{}
	c.DForce = mgl64.Vec3{}
}
