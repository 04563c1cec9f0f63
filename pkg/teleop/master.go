package teleop

import (
	"context"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gwillem/hapticlink/pkg/conditioner"
	"github.com/gwillem/hapticlink/pkg/config"
	"github.com/gwillem/hapticlink/pkg/control"
	"github.com/gwillem/hapticlink/pkg/device"
	"github.com/gwillem/hapticlink/pkg/protocol"
)

// ForceLink is the master's view of the connection. Neither method may block.
type ForceLink interface {
	Send(protocol.MessageM2S) bool
	Receive() (protocol.MessageS2M, bool)
}

// Master reads the operator's device, sends its motion and renders the force
// coming back.
type Master struct {
	*runner

	dev  device.Device
	info device.Info
	link ForceLink
	stab *control.Stabilizer

	velFilter   *conditioner.Kalman
	forceFilter *conditioner.Kalman
	posBand     *conditioner.Deadband
	velBand     *conditioner.Deadband
	damping     mgl64.Vec3

	epoch         time.Time
	pendingChange protocol.ModeChange
	wrench        device.Wrench
	roundTrip     time.Duration

	tick     uint64
	sent     uint64
	received uint64
	lastErr  error
}

// NewMaster builds the master controller from cfg.
func NewMaster(dev device.Device, link ForceLink, cfg config.Config, deps Deps) (*Master, error) {
	deps.fill()
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}
	bandMode, err := cfg.DeadbandMode()
	if err != nil {
		return nil, err
	}

	r := newRunner("master", cfg.Loop.Hz, cfg.Loop.SnapshotHz, cfg.Loop.Realtime, cfg.Loop.Priority, deps)
	dt := r.interval.Seconds()
	info := dev.Info()
	muMax := control.MuMax(info, cfg.ISS.ToolWorkspace, cfg.ISS.StiffnessFactor)

	m := &Master{
		runner:        r,
		dev:           dev,
		info:          info,
		link:          link,
		stab:          control.NewStabilizer(control.NewLedger(dt), control.NewCompensator(dt, cfg.ISS.Tau, muMax, cfg.ISS.MuFactor)),
		posBand:       conditioner.NewDeadband(cfg.Deadband.Position, bandMode),
		velBand:       conditioner.NewDeadband(cfg.Deadband.Velocity, bandMode),
		damping:       mgl64.Vec3(cfg.Device.Damping),
		epoch:         deps.Now(),
		pendingChange: protocol.ChangeKeep,
	}
	if cfg.Filter.Velocity {
		m.velFilter = conditioner.NewKalman(cfg.Filter.ProcessNoise, cfg.Filter.MeasurementNoise)
	}
	if cfg.Filter.Force {
		m.forceFilter = conditioner.NewKalman(cfg.Filter.ProcessNoise, cfg.Filter.MeasurementNoise)
	}

	m.stab.SetMode(mode)
	// The slave starts in ModeNone; announce the initial mode with the first message.
	m.pendingChange = protocol.ChangeTo(mode)
	m.metrics.Mode(int(mode))
	m.logger.Info("master configured",
		"device", info.Name, "mode", mode, "mu_max", muMax,
		"deadband", bandMode, "velocity_filter", cfg.Filter.Velocity, "force_filter", cfg.Filter.Force)
	return m, nil
}

// Mode returns the active stabilizer. Only safe to call when the loop is not running.
func (m *Master) Mode() control.Mode {
	return m.stab.Mode()
}

// Run executes the control loop until ctx is cancelled or Stop is called. The last
// wrench is cleared on exit so the device is left without force.
func (m *Master) Run(ctx context.Context) error {
	err := m.run(ctx, m.step)
	if werr := m.dev.ApplyWrench(context.Background(), device.Wrench{}); werr != nil {
		m.logger.Warn("failed to release device force", "error", werr)
	}
	return err
}

func (m *Master) step(ctx context.Context) {
	m.tick++
	now := m.now()

	for {
		mode, ok := m.nextCommand()
		if !ok {
			break
		}
		m.switchMode(mode)
	}

	pose, err := m.dev.ReadPose(ctx)
	if err != nil {
		m.lastErr = err
		m.deviceError("read", err)
		m.apply(ctx)
		return
	}
	m.lastErr = nil

	vel := pose.LinearVelocity
	if m.velFilter != nil {
		vel = m.velFilter.Apply(vel)
	}

	pos, posFired := m.posBand.Update(pose.Position)
	held, velFired := m.velBand.Update(vel)
	if !posFired {
		m.metrics.Suppressed("position")
	}
	if !velFired {
		m.metrics.Suppressed("velocity")
	}
	fired := posFired || velFired

	msg := protocol.MessageM2S{
		Position:               pos,
		LinearVelocity:         m.stab.MasterVelocity(held),
		AngularVelocity:        pose.AngularVelocity,
		Rotation:               pose.Rotation,
		GripperAngle:           pose.GripperAngle,
		GripperAngularVelocity: pose.GripperAngularVelocity,
		Buttons:                pose.Buttons,
		Switches:               pose.Switches,
		Energy:                 m.stab.Ledger().Transmit(fired),
		Timestamp:              now.Sub(m.epoch).Nanoseconds(),
		ModeChange:             m.pendingChange,
	}
	if fired || m.pendingChange != protocol.ChangeKeep {
		if m.link.Send(msg) {
			m.sent++
			m.pendingChange = protocol.ChangeKeep
		}
	}

	if reply, ok := m.link.Receive(); ok {
		m.received++
		m.onForce(now, vel, reply)
	}
	m.apply(ctx)

	if m.wantSnapshot(m.tick) {
		m.sendState(m.snapshot(now, pose.Position, vel))
	}
}

func (m *Master) switchMode(mode control.Mode) {
	if mode == m.stab.Mode() {
		return
	}
	m.stab.SetMode(mode)
	m.pendingChange = protocol.ChangeTo(mode)
	m.metrics.Mode(int(mode))
	m.logger.Info("stabilizer switched", "mode", mode)
}

// onForce turns one force message into the wrench rendered until the next one.
func (m *Master) onForce(now time.Time, vel mgl64.Vec3, reply protocol.MessageS2M) {
	if reply.Timestamp > 0 {
		sentAt := m.epoch.Add(time.Duration(reply.Timestamp))
		if rtt := now.Sub(sentAt); rtt >= 0 {
			m.roundTrip = rtt
			m.metrics.RoundTrip(rtt)
		}
	}

	ledger := m.stab.Ledger()
	ledger.Receive(reply.Energy)
	// TDPA on the raw force, then the filter, then the ISS lead so the filter
	// does not smooth the lead away.
	force := m.stab.ForceRevise(vel, reply.Force)
	if m.forceFilter != nil {
		force = m.forceFilter.Apply(force)
	}
	force = m.stab.ForceLead(force)
	for i := range 3 {
		force[i] -= m.damping[i] * vel[i]
	}

	m.wrench = device.Wrench{
		Force:        force,
		Torque:       reply.Torque,
		GripperForce: reply.GripperForce,
	}
	m.metrics.Energy("in", ledger.EIn)
	m.metrics.Energy("out", ledger.EOut)
	m.metrics.Energy("recv", ledger.ERecv)
}

// apply renders the current wrench, re-applying the previous one when no force
// arrived this tick.
func (m *Master) apply(ctx context.Context) {
	if err := m.dev.ApplyWrench(ctx, device.Clamp(m.info, m.wrench)); err != nil {
		m.lastErr = err
		m.deviceError("write", err)
	}
}

func (m *Master) snapshot(now time.Time, pos, vel mgl64.Vec3) Snapshot {
	ledger := m.stab.Ledger()
	s := Snapshot{
		Role:      m.role,
		Tick:      m.tick,
		Time:      now,
		Mode:      m.stab.Mode(),
		Position:  pos,
		Velocity:  vel,
		Force:     m.wrench.Force,
		EIn:       ledger.EIn,
		EOut:      ledger.EOut,
		ERecv:     ledger.ERecv,
		RoundTrip: m.roundTrip,
		Sent:      m.sent,
		Received:  m.received,
	}
	if m.lastErr != nil {
		s.Err = fmt.Sprint(m.lastErr)
	}
	return s
}
