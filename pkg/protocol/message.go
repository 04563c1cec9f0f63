// Package protocol defines the messages exchanged between master and slave and their
// fixed-size binary encoding.
//
// Master to slave (M2SSize = 201 bytes, little-endian, no padding):
//   - Bytes 0-23:    position (3 x float64)
//   - Bytes 24-47:   linear velocity (3 x float64)
//   - Bytes 48-71:   angular velocity (3 x float64)
//   - Bytes 72-143:  rotation (9 x float64, column-major)
//   - Bytes 144-151: gripper angle (float64)
//   - Bytes 152-159: gripper angular velocity (float64)
//   - Bytes 160-163: button0..button3 (1 byte each, 0 or 1)
//   - Bytes 164-167: user switches (uint32)
//   - Bytes 168-191: transmitted energy (3 x float64)
//   - Bytes 192-199: timestamp (int64, ns on the master's monotonic clock)
//   - Byte  200:     mode change (uint8)
//
// Slave to master (S2MSize = 88 bytes):
//   - Bytes 0-23:  force (3 x float64)
//   - Bytes 24-47: torque (3 x float64)
//   - Bytes 48-55: gripper force (float64)
//   - Bytes 56-79: transmitted energy (3 x float64)
//   - Bytes 80-87: timestamp echo (int64, copied from the M2S being answered)
//
// Frames carry no length prefix or version: the stream is cut at the known sizes.
package protocol

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gwillem/hapticlink/pkg/control"
)

// Message sizes in bytes.
const (
	M2SSize = 201
	S2MSize = 88
)

// ModeChange is the one-shot algorithm switch carried by M2S.
type ModeChange uint8

const (
	ChangeNone ModeChange = iota
	ChangeTDPA
	ChangeISS
	// ChangeKeep means no transition happened on this tick.
	ChangeKeep
)

func (c ModeChange) String() string {
	switch c {
	case ChangeNone:
		return "none"
	case ChangeTDPA:
		return "tdpa"
	case ChangeISS:
		return "iss"
	case ChangeKeep:
		return "keep"
	default:
		return fmt.Sprintf("change(%d)", uint8(c))
	}
}

// Valid reports whether c is a known value.
func (c ModeChange) Valid() bool {
	return c <= ChangeKeep
}

// ChangeTo returns the tag announcing a switch to m.
func ChangeTo(m control.Mode) ModeChange {
	switch m {
	case control.ModeTDPA:
		return ChangeTDPA
	case control.ModeISS:
		return ChangeISS
	default:
		return ChangeNone
	}
}

// Mode returns the mode a tag switches to; ok is false for ChangeKeep.
func (c ModeChange) Mode() (m control.Mode, ok bool) {
	switch c {
	case ChangeNone:
		return control.ModeNone, true
	case ChangeTDPA:
		return control.ModeTDPA, true
	case ChangeISS:
		return control.ModeISS, true
	default:
		return control.ModeNone, false
	}
}

// MessageM2S is the master's motion state.
type MessageM2S struct {
	Position               mgl64.Vec3
	LinearVelocity         mgl64.Vec3
	AngularVelocity        mgl64.Vec3
	Rotation               mgl64.Mat3
	GripperAngle           float64
	GripperAngularVelocity float64
	Buttons                [4]bool
	Switches               uint32
	Energy                 mgl64.Vec3
	Timestamp              int64
	ModeChange             ModeChange
}

// MessageS2M is the force rendered at the slave.
type MessageS2M struct {
	Force        mgl64.Vec3
	Torque       mgl64.Vec3
	GripperForce float64
	Energy       mgl64.Vec3
	Timestamp    int64
}
