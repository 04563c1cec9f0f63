// Package environment computes the wrench the remote (slave) side pushes back with,
// given the commanded pose.
package environment

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gwillem/hapticlink/pkg/device"
)

// Environment renders the contact wrench at a pose.
type Environment interface {
	Render(p device.Pose) device.Wrench
}

// Free space: no contact at all.
type Free struct{}

func (Free) Render(device.Pose) device.Wrench { return device.Wrench{} }

// ForceField pulls the tool back to the origin and to the identity orientation.
type ForceField struct {
	// Kp is the linear stiffness in N/m.
	Kp float64
	// Kr is the angular stiffness in Nm/rad.
	Kr float64
}

// DefaultForceField returns the field rendered by the stock slave.
func DefaultForceField() ForceField {
	return ForceField{Kp: 25, Kr: 0.05}
}

func (f ForceField) Render(p device.Pose) device.Wrench {
	axis, angle := AxisAngle(p.Rotation)
	return device.Wrench{
		Force:  p.Position.Mul(-f.Kp),
		Torque: axis.Mul(-f.Kr * angle),
	}
}

// Wall is a horizontal plane at Height on z. Below it a spring-damper pushes up;
// above it the tool is free. The wall never pulls.
type Wall struct {
	Height    float64
	Stiffness float64
	Damping   float64
}

func (w Wall) Render(p device.Pose) device.Wrench {
	depth := w.Height - p.Position.Z()
	if depth <= 0 {
		return device.Wrench{}
	}
	fz := w.Stiffness*depth - w.Damping*p.LinearVelocity.Z()
	if fz < 0 {
		fz = 0
	}
	return device.Wrench{Force: mgl64.Vec3{0, 0, fz}}
}

// Config selects and parameterizes an environment.
type Config struct {
	Kind      string  `yaml:"kind"`
	Kp        float64 `yaml:"kp"`
	Kr        float64 `yaml:"kr"`
	Height    float64 `yaml:"height"`
	Stiffness float64 `yaml:"stiffness"`
	Damping   float64 `yaml:"damping"`
}

// New builds the environment named by cfg.Kind ("field", "wall" or "free").
func New(cfg Config) (Environment, error) {
	switch cfg.Kind {
	case "", "field":
		return ForceField{Kp: cfg.Kp, Kr: cfg.Kr}, nil
	case "wall":
		return Wall{Height: cfg.Height, Stiffness: cfg.Stiffness, Damping: cfg.Damping}, nil
	case "free":
		return Free{}, nil
	default:
		return nil, fmt.Errorf("unknown environment %q", cfg.Kind)
	}
}

// AxisAngle returns the rotation axis (unit length) and angle in [0, pi] of r.
// The identity yields a zero axis.
func AxisAngle(r mgl64.Mat3) (mgl64.Vec3, float64) {
	q := mgl64.Mat4ToQuat(r.Mat4()).Normalize()
	if q.W < 0 {
		q = q.Scale(-1)
	}
	w := math.Min(1, q.W)
	angle := 2 * math.Acos(w)
	s := math.Sqrt(1 - w*w)
	if s < 1e-9 {
		return mgl64.Vec3{}, 0
	}
	return q.V.Mul(1 / s), angle
}
