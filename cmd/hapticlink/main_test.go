package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/hapticlink/pkg/config"
	"github.com/gwillem/hapticlink/pkg/control"
	"github.com/gwillem/hapticlink/pkg/device"
	"github.com/gwillem/hapticlink/pkg/robot"
	"github.com/gwillem/hapticlink/pkg/teleop"
	"github.com/gwillem/hapticlink/pkg/transport"
)

type fakeController struct {
	modes   []control.Mode
	full    bool
	stopped bool
	states  chan teleop.Snapshot
}

func (f *fakeController) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeController) States() <-chan teleop.Snapshot { return f.states }
func (f *fakeController) Hz() int                        { return 1000 }

func (f *fakeController) Stop() error {
	f.stopped = true
	return nil
}

func (f *fakeController) SetMode(m control.Mode) bool {
	if f.full {
		return false
	}
	f.modes = append(f.modes, m)
	return true
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestMasterCommand_Overrides(t *testing.T) {
	cfg := config.Default()
	c := MasterCommand{Slave: "10.0.0.2:9000", Hz: 500, Mode: "iss"}

	require.NoError(t, c.apply(cfg))
	assert.Equal(t, "10.0.0.2:9000", cfg.Network.SlaveAddr)
	assert.Equal(t, 500, cfg.Loop.Hz)
	mode, err := cfg.Mode()
	require.NoError(t, err)
	assert.Equal(t, control.ModeISS, mode)
}

func TestSlaveCommand_Overrides(t *testing.T) {
	cfg := config.Default()
	c := SlaveCommand{Listen: ":9001", Env: "wall"}

	require.NoError(t, c.apply(cfg))
	assert.Equal(t, ":9001", cfg.Network.Listen)
	assert.Equal(t, "wall", cfg.Environment.Kind)
	assert.Equal(t, config.Default().Loop.Hz, cfg.Loop.Hz, "zero hz keeps the configured rate")

	cfg.Loop.Hz = 20_000
	assert.ErrorIs(t, c.apply(cfg), config.ErrInvalid)
}

// useConfig points the global options at a headless run with body as the
// configuration file.
func useConfig(t *testing.T, body string) {
	t.Helper()
	saved := opts
	t.Cleanup(func() { opts = saved })

	path := filepath.Join(t.TempDir(), config.DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	opts.Config = path
	opts.Headless = true
}

func TestSlaveCommand_ListenInUseReturnsError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	useConfig(t, "log:\n  level: error\n")
	c := SlaveCommand{Listen: busy.Addr().String()}

	err = c.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}

func TestSlaveCommand_NoMasterReturnsError(t *testing.T) {
	useConfig(t, "network:\n  accept_timeout: 50ms\nlog:\n  level: error\n")
	c := SlaveCommand{Listen: "127.0.0.1:0"}

	start := time.Now()
	err := c.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no master connected")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMonitor_ModeKeys(t *testing.T) {
	ctrl := &fakeController{}
	m := newMonitor("master", ctrl, nil, nil)

	next, _ := m.Update(key("i"))
	next, _ = next.Update(key("n"))
	next.Update(key("x"))
	assert.Equal(t, []control.Mode{control.ModeISS, control.ModeNone}, ctrl.modes)

	ctrl.full = true
	next, _ = next.Update(key("t"))
	assert.Contains(t, next.(monitorModel).logs, "mode command dropped, queue full")
}

func TestMonitor_SlaveIgnoresModeKeys(t *testing.T) {
	ctrl := &fakeController{}
	m := newMonitor("slave", ctrl, nil, nil)

	m.Update(key("t"))
	assert.Empty(t, ctrl.modes)
	assert.Equal(t, "Press 'q' to quit", m.help())
}

type fakeSlaveController struct {
	fakeController
	toggles int
}

func (f *fakeSlaveController) ToggleEnvironment() bool {
	f.toggles++
	return true
}

func TestMonitor_SlaveTogglesEnvironment(t *testing.T) {
	ctrl := &fakeSlaveController{}
	m := newMonitor("slave", ctrl, nil, nil)

	next, _ := m.Update(key("f"))
	next.Update(key("t"))
	assert.Equal(t, 1, ctrl.toggles)
	assert.Empty(t, ctrl.modes)
	assert.Contains(t, m.help(), "'f'")

	next, _ = next.Update(stateMsg(teleop.Snapshot{EnvOff: true}))
	assert.Contains(t, next.View(), "environment off")
}

func TestMonitor_Quit(t *testing.T) {
	m := newMonitor("master", &fakeController{}, nil, nil)

	next, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.True(t, next.(monitorModel).quitting)
	assert.Equal(t, "Session stopped.\n", next.View())
}

func TestMonitor_ShowsSnapshot(t *testing.T) {
	m := newMonitor("master", &fakeController{}, nil, nil)
	assert.Contains(t, m.View(), "waiting for the control loop")

	s := teleop.Snapshot{Mode: control.ModeTDPA, Sent: 42, Received: 40, Err: "device read failed"}
	next, _ := m.Update(stateMsg(s))
	view := next.View()
	assert.Contains(t, view, "tdpa")
	assert.Contains(t, view, "sent 42")
	assert.Contains(t, view, "device read failed")
}

func TestObserver_ForwardKeepsNewest(t *testing.T) {
	obs := &observer{logger: slog.Default()}
	states := make(chan teleop.Snapshot)
	ui := make(chan teleop.Snapshot, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go obs.forward(ctx, states, ui)

	states <- teleop.Snapshot{Tick: 1}
	states <- teleop.Snapshot{Tick: 2}

	var got teleop.Snapshot
	assert.Eventually(t, func() bool {
		select {
		case got = <-ui:
		default:
		}
		return got.Tick == 2
	}, time.Second, time.Millisecond)
}

func TestStartObserver_Disabled(t *testing.T) {
	obs, err := startObserver(config.Default(), "master", slog.Default())
	require.NoError(t, err)
	assert.Nil(t, obs.metrics)
	assert.Nil(t, obs.hub)
	obs.Close()
}

func TestStartObserver_ServesMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Addr = "127.0.0.1:0"

	obs, err := startObserver(cfg, "slave", slog.Default())
	require.NoError(t, err)
	defer obs.Close()

	require.NotNil(t, obs.metrics)
	require.NotNil(t, obs.hub)
	assert.NotEqual(t, "127.0.0.1:0", obs.server.Addr())
}

type fakeServo struct {
	steps []int
	i     int
}

func (f *fakeServo) Position(context.Context) (int, error) {
	if f.i >= len(f.steps) {
		return 0, errors.New("bus timeout")
	}
	raw := f.steps[f.i]
	f.i++
	return raw, nil
}

func TestRangeModel_TracksTravel(t *testing.T) {
	ctx := context.Background()
	m := newRangeModel(ctx, map[robot.MotorName]rawReader{
		robot.ShoulderPan: &fakeServo{steps: []int{2000, 2400, 1500}},
		robot.Gripper:     &fakeServo{steps: []int{1000, 1100}},
		robot.ElbowFlex:   &fakeServo{},
	})
	require.Equal(t, []robot.MotorName{robot.ShoulderPan, robot.Gripper}, m.joints, "unreadable joints are left out")

	next, cmd := m.Update(sampleMsg(time.Now()))
	require.NotNil(t, cmd)
	next, _ = next.Update(sampleMsg(time.Now()))
	rm := next.(rangeModel)

	assert.Equal(t, robot.MotorCalibration{ID: 1, RangeMin: 1500, RangeMax: 2400}, rm.cal[robot.ShoulderPan])
	assert.Equal(t, robot.MotorCalibration{ID: 6, RangeMin: 1000, RangeMax: 1100}, rm.cal[robot.Gripper], "read errors keep the last range")
	assert.Equal(t, 1500, rm.now[robot.ShoulderPan])
	assert.Contains(t, rm.View(), "shoulder_pan")

	done, _ := rm.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, done.View())
}

func TestHasAllJoints(t *testing.T) {
	arm := func(ids ...int) []feetech.FoundServo {
		out := make([]feetech.FoundServo, len(ids))
		for i, id := range ids {
			out[i] = feetech.FoundServo{ID: id}
		}
		return out
	}
	assert.True(t, hasAllJoints(arm(6, 5, 4, 3, 2, 1)))
	assert.False(t, hasAllJoints(arm(1, 2, 3, 4, 5)))
	assert.False(t, hasAllJoints(arm(1, 2, 3, 4, 5, 7)))
}

// countingDevice counts pose reads so a test can tell the loop is still ticking.
type countingDevice struct {
	device.Device
	reads atomic.Int64
}

func (d *countingDevice) ReadPose(ctx context.Context) (device.Pose, error) {
	d.reads.Add(1)
	return d.Device.ReadPose(ctx)
}

func TestRunSession_MasterOutlivesSlave(t *testing.T) {
	cfg := config.Default()
	cfg.Loop.Realtime = false
	logger := slog.Default()

	ln, err := transport.Bind(transport.ListenConfig{Addr: "127.0.0.1:0"}, logger, nil)
	require.NoError(t, err)
	accepted := make(chan *transport.Server, 1)
	go func() {
		s, err := ln.Accept(context.Background())
		assert.NoError(t, err)
		accepted <- s
	}()

	client, err := transport.Dial(context.Background(), transport.DialConfig{Addr: ln.Addr().String(), Timeout: time.Second}, logger, nil)
	require.NoError(t, err)
	defer client.Close()
	slave := <-accepted
	require.NotNil(t, slave)

	dev := &countingDevice{Device: device.NewSimulated(device.DefaultSimulatedConfig())}
	master, err := teleop.NewMaster(dev, client, *cfg, teleop.Deps{Logger: logger})
	require.NoError(t, err)

	var readsAtHangup atomic.Int64
	go func() {
		time.Sleep(100 * time.Millisecond)
		readsAtHangup.Store(dev.reads.Load())
		slave.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = runSession(ctx, "master", master, client, &observer{logger: logger}, nil)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 550*time.Millisecond, "only the deadline ends a master session")
	assert.Greater(t, dev.reads.Load(), readsAtHangup.Load()+50, "control loop kept ticking without the slave")
	_, ok := client.Receive()
	assert.False(t, ok)
}

func TestRunSession_SlaveEndsWithMaster(t *testing.T) {
	ctrl := &fakeController{}
	link := &endingLink{err: fmt.Errorf("read m2s: %w", transport.ErrClosed)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	err := runSession(ctx, "slave", ctrl, link, &observer{logger: slog.Default()}, nil)

	assert.NoError(t, err, "a peer hang-up is a normal end")
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, ctrl.stopped, "the loop is stopped before resources are released")
}

type endingLink struct{ err error }

func (l *endingLink) Run(context.Context) error { return l.err }
func (l *endingLink) Close() error              { return nil }
