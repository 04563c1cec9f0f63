package device

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// SimulatedConfig configures a Simulated device.
type SimulatedConfig struct {
	Info Info

	Amplitude  mgl64.Vec3 // m, peak hand excursion per axis
	Frequency  float64    // Hz
	Mass       float64    // kg, handle plus hand
	Stiffness  float64    // N/m, hand grip around the reference trajectory
	Damping    float64    // N/(m/s)
	NoiseSigma float64    // m/s, velocity measurement noise
	Seed       uint64
}

// DefaultSimulatedConfig is a slow vertical stroke within the Falcon workspace.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		Info:       Falcon,
		Amplitude:  mgl64.Vec3{0, 0, 0.02},
		Frequency:  0.5,
		Mass:       0.2,
		Stiffness:  200,
		Damping:    5,
		NoiseSigma: 0.002,
		Seed:       1,
	}
}

// Simulated is an operator hand holding a handle: the hand follows a sinusoidal
// reference through a spring-damper, and the applied wrench acts on the handle.
type Simulated struct {
	cfg SimulatedConfig
	now func() time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	start    time.Time
	last     time.Time
	t        float64
	position mgl64.Vec3
	velocity mgl64.Vec3
	wrench   Wrench
}

// NewSimulated creates a simulated device using the wall clock.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	return newSimulated(cfg, time.Now)
}

func newSimulated(cfg SimulatedConfig, now func() time.Time) *Simulated {
	if cfg.Mass <= 0 {
		cfg.Mass = 0.2
	}
	t0 := now()
	return &Simulated{
		cfg:   cfg,
		now:   now,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		start: t0,
		last:  t0,
	}
}

func (s *Simulated) Info() Info {
	return s.cfg.Info
}

// ReadPose advances the simulation to the current time and returns the pose.
func (s *Simulated) ReadPose(_ context.Context) (Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dt := now.Sub(s.last).Seconds()
	s.last = now
	// Large gaps (debugger, suspended process) are integrated as one short step.
	dt = math.Min(math.Max(dt, 0), 0.01)
	s.step(dt)

	vel := s.velocity
	if s.cfg.NoiseSigma > 0 {
		for i := range 3 {
			vel[i] += s.rng.NormFloat64() * s.cfg.NoiseSigma
		}
	}
	return Pose{
		Position:       s.position,
		Rotation:       mgl64.Ident3(),
		LinearVelocity: vel,
	}, nil
}

func (s *Simulated) step(dt float64) {
	if dt <= 0 {
		return
	}
	s.t += dt
	omega := 2 * math.Pi * s.cfg.Frequency
	for i := range 3 {
		ref := s.cfg.Amplitude[i] * math.Sin(omega*s.t)
		accel := (s.cfg.Stiffness*(ref-s.position[i]) - s.cfg.Damping*s.velocity[i] + s.wrench.Force[i]) / s.cfg.Mass
		s.velocity[i] += accel * dt
		s.position[i] += s.velocity[i] * dt
	}
}

// ApplyWrench sets the wrench acting on the handle until the next call.
func (s *Simulated) ApplyWrench(_ context.Context, w Wrench) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wrench = Clamp(s.cfg.Info, w)
	return nil
}

// Wrench returns the wrench currently applied.
func (s *Simulated) Wrench() Wrench {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrench
}

func (s *Simulated) Close() error {
	return nil
}
