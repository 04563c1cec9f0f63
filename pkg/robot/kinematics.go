package robot

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gwillem/hapticlink/pkg/device"
)

// DefaultScale maps a full joint sweep onto ±5 cm of tool travel.
const DefaultScale = 0.05

// maxGripperAngle is the gripper opening in radians at normalized +100.
const maxGripperAngle = 1.0

// PoseFromJoints converts normalized joint positions into a tool pose. Missing
// joints read as centered.
func PoseFromJoints(joints map[MotorName]float64, scale float64) device.Pose {
	var p device.Pose
	for i, name := range axisMotors {
		p.Position[i] = joints[name] / 100 * scale
	}
	p.Rotation = mgl64.Rotate3DZ(joints[WristRoll] / 100 * math.Pi)
	p.GripperAngle = (joints[Gripper] + 100) / 200 * maxGripperAngle
	return p
}

// JointsFromPose is the inverse of PoseFromJoints. Results are clamped to ±100.
func JointsFromPose(p device.Pose, scale float64) map[MotorName]float64 {
	joints := make(map[MotorName]float64, len(axisMotors)+2)
	clamp := func(v float64) float64 { return max(-100, min(100, v)) }

	if scale > 0 {
		for i, name := range axisMotors {
			joints[name] = clamp(p.Position[i] / scale * 100)
		}
	}
	// Column-major: [0] is m00 and [1] is m10.
	roll := math.Atan2(p.Rotation[1], p.Rotation[0])
	joints[WristRoll] = clamp(roll / math.Pi * 100)
	joints[Gripper] = clamp(p.GripperAngle/maxGripperAngle*200 - 100)
	return joints
}

// Mirror flips the joints that turn the other way on a facing arm.
func Mirror(joints map[MotorName]float64) map[MotorName]float64 {
	out := make(map[MotorName]float64, len(joints))
	for name, pos := range joints {
		if mirrored(name) {
			out[name] = -pos
		} else {
			out[name] = pos
		}
	}
	return out
}
