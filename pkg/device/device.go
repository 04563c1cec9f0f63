// Package device defines the haptic device collaborator of the control loop.
package device

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"
)

// Info describes the physical limits of a device.
type Info struct {
	Name               string
	MaxLinearForce     float64 // N
	MaxLinearStiffness float64 // N/m
	MaxLinearDamping   float64 // N/(m/s)
	WorkspaceRadius    float64 // m
}

// Falcon is the Novint Falcon, the reference device of the link.
var Falcon = Info{
	Name:               "Novint Falcon",
	MaxLinearForce:     8.0,
	MaxLinearStiffness: 3000.0,
	MaxLinearDamping:   20.0,
	WorkspaceRadius:    0.04,
}

// Pose is one sample of the device state.
type Pose struct {
	Position               mgl64.Vec3
	Rotation               mgl64.Mat3
	LinearVelocity         mgl64.Vec3
	AngularVelocity        mgl64.Vec3
	GripperAngle           float64
	GripperAngularVelocity float64
	Buttons                [4]bool
	Switches               uint32
}

// Wrench is the force output applied to a device.
type Wrench struct {
	Force        mgl64.Vec3
	Torque       mgl64.Vec3
	GripperForce float64
}

// Device is a haptic device. ReadPose and ApplyWrench are called from the control
// loop once per tick and must return within the tick.
type Device interface {
	Info() Info
	ReadPose(ctx context.Context) (Pose, error)
	ApplyWrench(ctx context.Context, w Wrench) error
	Close() error
}

// Clamp limits the force magnitude to the device's maximum linear force.
// Devices without a known limit are left unclamped.
func Clamp(info Info, w Wrench) Wrench {
	if info.MaxLinearForce <= 0 {
		return w
	}
	if n := w.Force.Len(); n > info.MaxLinearForce {
		w.Force = w.Force.Mul(info.MaxLinearForce / n)
	}
	return w
}
