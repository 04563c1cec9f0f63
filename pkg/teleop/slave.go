package teleop

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gwillem/hapticlink/pkg/conditioner"
	"github.com/gwillem/hapticlink/pkg/config"
	"github.com/gwillem/hapticlink/pkg/control"
	"github.com/gwillem/hapticlink/pkg/device"
	"github.com/gwillem/hapticlink/pkg/environment"
	"github.com/gwillem/hapticlink/pkg/protocol"
)

// CommandLink is the slave's view of the connection. Neither method may block.
type CommandLink interface {
	Send(protocol.MessageS2M) bool
	Receive() (protocol.MessageM2S, bool)
}

// Mirror receives every pose the slave renders at, e.g. a follower arm.
type Mirror interface {
	Mirror(device.Pose)
}

// Slave renders the environment at the commanded pose and reports the force.
type Slave struct {
	*runner

	env    environment.Environment
	link   CommandLink
	mirror Mirror
	stab   *control.Stabilizer
	dt     float64

	// forceBand is nil when the force deadband is off.
	forceBand *conditioner.Deadband

	// envToggles flips envOff at the start of the next tick.
	envToggles chan struct{}
	envOff     bool

	// offset integrates the TDPA velocity correction into the rendered position.
	offset    mgl64.Vec3
	lastForce mgl64.Vec3
	pose      device.Pose

	tick     uint64
	sent     uint64
	received uint64
}

// NewSlave builds the slave controller from cfg. mirror may be nil.
func NewSlave(env environment.Environment, link CommandLink, mirror Mirror, cfg config.Config, deps Deps) (*Slave, error) {
	deps.fill()
	bandMode, err := cfg.DeadbandMode()
	if err != nil {
		return nil, err
	}

	r := newRunner("slave", cfg.Loop.Hz, cfg.Loop.SnapshotHz, cfg.Loop.Realtime, cfg.Loop.Priority, deps)
	dt := r.interval.Seconds()
	s := &Slave{
		runner: r,
		env:    env,
		link:   link,
		mirror: mirror,
		// The slave never renders the ISS lead term; its compensator only tracks.
		stab: control.NewStabilizer(control.NewLedger(dt), control.NewCompensator(dt, cfg.ISS.Tau, 0, cfg.ISS.MuFactor)),
		dt:   dt,

		envToggles: make(chan struct{}, 8),
	}
	if cfg.Deadband.Force > 0 {
		s.forceBand = conditioner.NewDeadband(cfg.Deadband.Force, bandMode)
	}
	s.logger.Info("slave configured", "environment", envName(env), "force_deadband", cfg.Deadband.Force)
	return s, nil
}

// Mode returns the active stabilizer. Only safe to call when the loop is not running.
func (s *Slave) Mode() control.Mode {
	return s.stab.Mode()
}

// ToggleEnvironment switches the rendered environment off or back on at the
// next tick. While it is off the slave reports zero force. It reports false
// when the request queue is full.
func (s *Slave) ToggleEnvironment() bool {
	select {
	case s.envToggles <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes the control loop until ctx is cancelled or Stop is called.
func (s *Slave) Run(ctx context.Context) error {
	return s.run(ctx, s.step)
}

func (s *Slave) step(context.Context) {
	s.tick++

	// The master decides the mode; local requests are dropped.
	for {
		if _, ok := s.nextCommand(); !ok {
			break
		}
	}
	s.drainToggles()

	if msg, ok := s.link.Receive(); ok {
		s.received++
		s.handle(msg)
	}
	if s.wantSnapshot(s.tick) {
		s.sendState(s.snapshot(s.now()))
	}
}

func (s *Slave) drainToggles() {
	for {
		select {
		case <-s.envToggles:
			s.envOff = !s.envOff
			s.logger.Info("environment toggled", "environment", envName(s.env), "enabled", !s.envOff)
		default:
			return
		}
	}
}

// handle renders one motion message and answers it.
func (s *Slave) handle(msg protocol.MessageM2S) {
	if mode, ok := msg.ModeChange.Mode(); ok {
		s.stab.SetMode(mode)
		s.offset = mgl64.Vec3{}
		s.metrics.Mode(int(mode))
		s.logger.Info("stabilizer switched by master", "mode", mode)
	}

	ledger := s.stab.Ledger()
	ledger.Receive(msg.Energy)
	vel := s.stab.SlaveVelocity(msg.LinearVelocity, s.lastForce)
	s.offset = s.offset.Add(vel.Sub(msg.LinearVelocity).Mul(s.dt))

	s.pose = device.Pose{
		Position:               msg.Position.Add(s.offset),
		Rotation:               msg.Rotation,
		LinearVelocity:         vel,
		AngularVelocity:        msg.AngularVelocity,
		GripperAngle:           msg.GripperAngle,
		GripperAngularVelocity: msg.GripperAngularVelocity,
		Buttons:                msg.Buttons,
		Switches:               msg.Switches,
	}
	var w device.Wrench
	if !s.envOff {
		w = s.env.Render(s.pose)
	}
	s.lastForce = w.Force

	force, fired := w.Force, true
	if s.forceBand != nil {
		force, fired = s.forceBand.Update(w.Force)
		if !fired {
			s.metrics.Suppressed("force")
		}
	}
	energy := ledger.Transmit(fired)

	if fired {
		reply := protocol.MessageS2M{
			Force:        force,
			Torque:       w.Torque,
			GripperForce: w.GripperForce,
			Energy:       energy,
			Timestamp:    msg.Timestamp,
		}
		if s.link.Send(reply) {
			s.sent++
		}
	}
	if s.mirror != nil {
		s.mirror.Mirror(s.pose)
	}

	s.metrics.Energy("in", ledger.EIn)
	s.metrics.Energy("out", ledger.EOut)
	s.metrics.Energy("recv", ledger.ERecv)
}

func (s *Slave) snapshot(now time.Time) Snapshot {
	ledger := s.stab.Ledger()
	return Snapshot{
		Role:     s.role,
		Tick:     s.tick,
		Time:     now,
		Mode:     s.stab.Mode(),
		Position: s.pose.Position,
		Velocity: s.pose.LinearVelocity,
		Force:    s.lastForce,
		EIn:      ledger.EIn,
		EOut:     ledger.EOut,
		ERecv:    ledger.ERecv,
		Sent:     s.sent,
		Received: s.received,
		EnvOff:   s.envOff,
	}
}

func envName(env environment.Environment) string {
	switch env.(type) {
	case environment.ForceField:
		return "field"
	case environment.Wall:
		return "wall"
	case environment.Free:
		return "free"
	default:
		return "custom"
	}
}
