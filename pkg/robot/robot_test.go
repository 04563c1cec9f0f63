package robot

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/hapticlink/pkg/device"
)

type fakeJoints struct {
	mu       sync.Mutex
	read     map[MotorName]float64
	readErr  error
	written  []map[MotorName]float64
	enabled  bool
	disabled bool
	closed   bool
}

func (f *fakeJoints) Enable(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = true
	return nil
}

func (f *fakeJoints) Disable(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = true
	return nil
}

func (f *fakeJoints) ReadJoints(context.Context) (map[MotorName]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make(map[MotorName]float64, len(f.read))
	for k, v := range f.read {
		out[k] = v
	}
	return out, nil
}

func (f *fakeJoints) WriteJoints(_ context.Context, p map[MotorName]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p)
	return nil
}

func (f *fakeJoints) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeJoints) set(name MotorName, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read[name] = v
}

func (f *fakeJoints) last() map[MotorName]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.written) == 0 {
		return nil
	}
	return f.written[len(f.written)-1]
}

func TestPoseFromJoints(t *testing.T) {
	p := PoseFromJoints(map[MotorName]float64{
		ShoulderPan:  50,
		ElbowFlex:    -100,
		ShoulderLift: 20,
		WristRoll:    50,
		Gripper:      100,
	}, 0.1)

	assert.True(t, p.Position.ApproxEqual(mgl64.Vec3{0.05, -0.1, 0.02}), "got %v", p.Position)
	assert.True(t, p.Rotation.ApproxEqual(mgl64.Rotate3DZ(math.Pi/2)))
	assert.InDelta(t, maxGripperAngle, p.GripperAngle, 1e-12)
}

func TestJointsFromPose_Inverse(t *testing.T) {
	in := map[MotorName]float64{
		ShoulderPan:  30,
		ElbowFlex:    -40,
		ShoulderLift: 90,
		WristRoll:    -25,
		Gripper:      10,
	}
	out := JointsFromPose(PoseFromJoints(in, DefaultScale), DefaultScale)
	for name, want := range in {
		assert.InDelta(t, want, out[name], 1e-9, "%s", name)
	}
}

func TestJointsFromPose_Clamps(t *testing.T) {
	out := JointsFromPose(device.Pose{
		Position: mgl64.Vec3{1, -1, 0},
		Rotation: mgl64.Ident3(),
	}, DefaultScale)
	assert.Equal(t, 100.0, out[ShoulderPan])
	assert.Equal(t, -100.0, out[ElbowFlex])
	assert.Equal(t, 0.0, out[WristRoll])
}

func TestMirror(t *testing.T) {
	out := Mirror(map[MotorName]float64{ShoulderPan: 10, WristRoll: -5, Gripper: 7})
	assert.Equal(t, map[MotorName]float64{ShoulderPan: -10, WristRoll: 5, Gripper: 7}, out)
}

func TestLeader_SamplesInBackground(t *testing.T) {
	joints := &fakeJoints{read: map[MotorName]float64{ShoulderPan: 0}}
	l, err := NewLeader(context.Background(), joints, ArmConfig{Scale: 0.1}, nil)
	require.NoError(t, err)
	defer l.Close()
	assert.True(t, joints.disabled, "leader must be passive")

	joints.set(ShoulderPan, 100)
	require.Eventually(t, func() bool {
		p, err := l.ReadPose(context.Background())
		return err == nil && math.Abs(p.Position.X()-0.1) < 1e-12
	}, time.Second, time.Millisecond)

	require.NoError(t, l.ApplyWrench(context.Background(), device.Wrench{Force: mgl64.Vec3{1, 0, 0}}))
	assert.Equal(t, mgl64.Vec3{1, 0, 0}, l.Wrench().Force)
}

func TestLeader_ReadErrorIsSticky(t *testing.T) {
	joints := &fakeJoints{read: map[MotorName]float64{}}
	l, err := NewLeader(context.Background(), joints, ArmConfig{}, nil)
	require.NoError(t, err)

	boom := errors.New("bus timeout")
	joints.mu.Lock()
	joints.readErr = boom
	joints.mu.Unlock()

	require.Eventually(t, func() bool {
		_, err := l.ReadPose(context.Background())
		return errors.Is(err, boom)
	}, time.Second, time.Millisecond)

	require.NoError(t, l.Close())
	assert.True(t, joints.closed)
}

func TestFollower_WritesNewest(t *testing.T) {
	joints := &fakeJoints{}
	f, err := NewFollower(context.Background(), joints, ArmConfig{Scale: 0.1, Mirror: true}, nil)
	require.NoError(t, err)
	assert.True(t, joints.enabled)

	f.Mirror(device.Pose{Position: mgl64.Vec3{0.05, 0, 0}, Rotation: mgl64.Ident3()})
	require.Eventually(t, func() bool {
		last := joints.last()
		return last != nil && math.Abs(last[ShoulderPan]+50) < 1e-9
	}, time.Second, time.Millisecond, "mirrored shoulder_pan")

	require.NoError(t, f.Close())
	assert.True(t, joints.disabled)
	assert.True(t, joints.closed)
}
