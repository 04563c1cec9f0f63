// Package robot drives SO-101 arms over a feetech servo bus, either as a passive
// leader read as a haptic input or as a follower that mirrors the commanded pose.
package robot

import "slices"

// MotorName identifies a joint of the arm.
type MotorName string

// SO-101 joints. Servo IDs run 1-6 in this order.
const (
	ShoulderPan  MotorName = "shoulder_pan"
	ShoulderLift MotorName = "shoulder_lift"
	ElbowFlex    MotorName = "elbow_flex"
	WristFlex    MotorName = "wrist_flex"
	WristRoll    MotorName = "wrist_roll"
	Gripper      MotorName = "gripper"
)

var motorOrder = [...]MotorName{ShoulderPan, ShoulderLift, ElbowFlex, WristFlex, WristRoll, Gripper}

// AllMotors returns the joints ordered by servo ID.
func AllMotors() []MotorName {
	return slices.Clone(motorOrder[:])
}

// ServoID is the factory bus ID of a joint, or 0 for an unknown name.
func ServoID(name MotorName) int {
	for i, m := range motorOrder {
		if m == name {
			return i + 1
		}
	}
	return 0
}

// axisMotors maps Cartesian axes x, y, z onto the joints that sweep them most
// directly. The mapping is a linear stand-in for kinematics, good enough to drive a
// tool point inside a small workspace.
var axisMotors = [3]MotorName{ShoulderPan, ElbowFlex, ShoulderLift}

// mirrored joints flip sign when the follower faces the leader.
func mirrored(name MotorName) bool {
	return name == ShoulderPan || name == WristRoll
}
