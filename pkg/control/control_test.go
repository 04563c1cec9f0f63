package control

import (
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/hapticlink/pkg/device"
)

func TestLedger_ComputeEnergy_InputPower(t *testing.T) {
	l := NewLedger(0.001)

	l.ComputeEnergy(mgl64.Vec3{0, 0, 0.5}, mgl64.Vec3{0, 0, -2.0})

	assert.InDelta(t, 0.001, l.EIn[2], 1e-15)
	assert.Zero(t, l.EOut[2])
	assert.Zero(t, l.EIn[0])
	assert.Zero(t, l.EIn[1])
}

func TestLedger_ComputeEnergy_OutputPower(t *testing.T) {
	l := NewLedger(0.001)

	l.ComputeEnergy(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{3, 0, 0})

	assert.InDelta(t, 0.003, l.EOut[0], 1e-15)
	assert.Zero(t, l.EIn[0])
}

func TestLedger_ForceRevise_Clamps(t *testing.T) {
	l := NewLedger(0.001)
	l.EOut[2] = 5
	l.ERecv[2] = 2

	vel := mgl64.Vec3{0, 0, 1.0}
	got := l.ForceRevise(vel, mgl64.Vec3{})

	assert.InDelta(t, 3000, l.Alpha[2], 1e-6)
	assert.Equal(t, 2.0, l.EOut[2])
	assert.InDelta(t, -3000, got[2], 1e-6)
	assert.Zero(t, l.Alpha[0])
}

func TestLedger_ForceRevise_NoCorrectionWhenPassive(t *testing.T) {
	l := NewLedger(0.001)
	l.ERecv = mgl64.Vec3{10, 10, 10}

	force := mgl64.Vec3{1, 2, 3}
	got := l.ForceRevise(mgl64.Vec3{0.1, 0.1, 0.1}, force)

	assert.Equal(t, force, got)
	assert.Equal(t, mgl64.Vec3{}, l.Alpha)
}

func TestLedger_ForceRevise_SlowVelocityNoDamping(t *testing.T) {
	l := NewLedger(0.001)
	l.EOut[1] = 1
	l.ERecv[1] = 0

	got := l.ForceRevise(mgl64.Vec3{0, 1e-4, 0}, mgl64.Vec3{0, 1, 0})

	assert.Zero(t, l.Alpha[1])
	assert.Equal(t, 1.0, got[1])
	assert.LessOrEqual(t, l.EOut[1], l.ERecv[1])
}

func TestLedger_VelocityRevise_Clamps(t *testing.T) {
	l := NewLedger(0.001)
	l.EOut[0] = 4
	l.ERecv[0] = 1

	got := l.VelocityRevise(mgl64.Vec3{0.5, 0, 0}, mgl64.Vec3{0, 0, 0})
	assert.Zero(t, l.Beta[0], "force below epsilon gives no correction")
	assert.Equal(t, 0.5, got[0])

	l.EOut[0] = 4
	got = l.VelocityRevise(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{2, 0, 0})
	wantBeta := (4.0 - 1.0) / (0.001 * 4)
	assert.InDelta(t, wantBeta, l.Beta[0], 1e-6)
	assert.InDelta(t, -wantBeta*2, got[0], 1e-6)
	assert.Equal(t, 1.0, l.EOut[0])
}

func TestLedger_EnergyCapInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	master := NewLedger(0.001)
	slave := NewLedger(0.001)

	for range 10000 {
		vel := mgl64.Vec3{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		force := mgl64.Vec3{rng.NormFloat64() * 5, rng.NormFloat64() * 5, rng.NormFloat64() * 5}
		master.Receive(mgl64.Vec3{rng.Float64(), rng.Float64(), rng.Float64()})
		slave.Receive(mgl64.Vec3{rng.Float64(), rng.Float64(), rng.Float64()})

		prevIn := master.EIn
		master.ForceRevise(vel, force)
		slave.VelocityRevise(vel, force)

		for i := range 3 {
			require.LessOrEqual(t, master.EOut[i], master.ERecv[i])
			require.LessOrEqual(t, slave.EOut[i], slave.ERecv[i])
			require.GreaterOrEqual(t, master.EIn[i], prevIn[i])
		}
	}
}

func TestLedger_Transmit_HoldsAcrossSuppressedSamples(t *testing.T) {
	l := NewLedger(0.001)
	l.EIn = mgl64.Vec3{1, 2, 3}

	assert.Equal(t, mgl64.Vec3{1, 2, 3}, l.Transmit(true))

	l.EIn = mgl64.Vec3{4, 5, 6}
	assert.Equal(t, mgl64.Vec3{1, 2, 3}, l.Transmit(false), "suppressed sample repeats last transmitted energy")

	assert.Equal(t, mgl64.Vec3{4, 5, 6}, l.Transmit(true))
}

func TestLedger_Initialize(t *testing.T) {
	l := NewLedger(0.002)
	l.EIn = mgl64.Vec3{1, 1, 1}
	l.EOut = mgl64.Vec3{1, 1, 1}
	l.ERecv = mgl64.Vec3{1, 1, 1}
	l.Alpha = mgl64.Vec3{1, 1, 1}

	l.Initialize()

	assert.Equal(t, Ledger{SampleInterval: 0.002}, *l)
}

func TestCompensator_ForceRevise(t *testing.T) {
	c := NewCompensator(0.001, 0.005, 46, 1.7)

	got := c.ForceRevise(mgl64.Vec3{0, 0, 1})

	assert.InDelta(t, 1000, c.DForce[2], 1e-9)
	assert.InDelta(t, 1+1000*0.005, got[2], 1e-9)
	assert.Equal(t, mgl64.Vec3{0, 0, 1}, c.LastForce)

	got = c.ForceRevise(mgl64.Vec3{0, 0, 1})
	assert.Zero(t, c.DForce[2])
	assert.Equal(t, 1.0, got[2])
}

func TestCompensator_VelocityRevise(t *testing.T) {
	c := NewCompensator(0.001, 0.005, 50, 2)
	c.ForceRevise(mgl64.Vec3{0.1, 0, 0})

	got := c.VelocityRevise(mgl64.Vec3{1, 0, 0})

	assert.InDelta(t, 1+100.0/100.0, got[0], 1e-9)
}

func TestCompensator_VelocityRevise_NoImpedance(t *testing.T) {
	c := NewCompensator(0.001, 0.005, 0, 1.7)
	c.ForceRevise(mgl64.Vec3{1, 1, 1})

	assert.Equal(t, mgl64.Vec3{1, 2, 3}, c.VelocityRevise(mgl64.Vec3{1, 2, 3}))
}

func TestMuMax_Falcon(t *testing.T) {
	info := device.Info{MaxLinearStiffness: 3000, WorkspaceRadius: 0.04}

	got := MuMax(info, 1.3, 0.5)

	assert.InDelta(t, 3000/(1.3/0.04)*0.5, got, 1e-9)
}

func TestStabilizer_ModeExclusivity(t *testing.T) {
	s := NewStabilizer(NewLedger(0.001), NewCompensator(0.001, 0.005, 46, 1.7))

	s.SetMode(ModeISS)
	s.ForceLead(mgl64.Vec3{1, 1, 1})
	s.Ledger().EIn = mgl64.Vec3{3, 3, 3}
	s.Ledger().EOut = mgl64.Vec3{2, 2, 2}

	s.SetMode(ModeTDPA)
	assert.Equal(t, ModeTDPA, s.Mode())
	assert.Equal(t, mgl64.Vec3{}, s.Ledger().EIn)
	assert.Equal(t, mgl64.Vec3{}, s.Ledger().EOut)

	// ISS correction no longer applies.
	vel := mgl64.Vec3{1, 1, 1}
	assert.Equal(t, vel, s.MasterVelocity(vel))

	s.SetMode(ModeISS)
	assert.Equal(t, ModeISS, s.Mode())
	assert.Equal(t, mgl64.Vec3{}, s.Compensator().LastForce)
	assert.Equal(t, mgl64.Vec3{}, s.Compensator().DForce)
}

func TestStabilizer_ForceRevisePerMode(t *testing.T) {
	vel := mgl64.Vec3{0, 0, 1}
	force := mgl64.Vec3{0, 0, 2}

	tests := []struct {
		mode Mode
		want func(s *Stabilizer, got mgl64.Vec3)
	}{
		{ModeNone, func(_ *Stabilizer, got mgl64.Vec3) {
			assert.Equal(t, force, got)
		}},
		{ModeTDPA, func(s *Stabilizer, got mgl64.Vec3) {
			// force opposes vel so energy flows out; nothing received, so all of it is damped.
			assert.Greater(t, s.Ledger().Alpha[2], 0.0)
			assert.Less(t, got[2], force[2])
		}},
		{ModeISS, func(s *Stabilizer, got mgl64.Vec3) {
			assert.Equal(t, force, got, "no passivity correction outside TDPA")
			assert.Greater(t, s.Ledger().Alpha[2], 0.0, "the ledger still accounts")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			s := NewStabilizer(NewLedger(0.001), NewCompensator(0.001, 0.005, 46, 1.7))
			s.SetMode(tt.mode)
			tt.want(s, s.ForceRevise(vel, force))
		})
	}
}

func TestStabilizer_ForceLeadPerMode(t *testing.T) {
	force := mgl64.Vec3{0, 0, 2}

	for _, mode := range []Mode{ModeNone, ModeTDPA, ModeISS} {
		t.Run(mode.String(), func(t *testing.T) {
			s := NewStabilizer(NewLedger(0.001), NewCompensator(0.001, 0.005, 46, 1.7))
			s.SetMode(mode)
			got := s.ForceLead(force)

			assert.Equal(t, mgl64.Vec3{0, 0, 2000}, s.Compensator().DForce, "derivative tracked in every mode")
			if mode == ModeISS {
				assert.InDelta(t, 2+2000*0.005, got[2], 1e-9)
			} else {
				assert.Equal(t, force, got)
			}
		})
	}
}

func TestStabilizer_SlaveVelocity(t *testing.T) {
	s := NewStabilizer(NewLedger(0.001), NewCompensator(0.001, 0.005, 46, 1.7))
	vel := mgl64.Vec3{1, 0, 0}
	force := mgl64.Vec3{5, 0, 0}

	assert.Equal(t, vel, s.SlaveVelocity(vel, force), "inactive TDPA leaves velocity alone")

	s.SetMode(ModeTDPA)
	got := s.SlaveVelocity(vel, force)
	assert.Less(t, got[0], vel[0])
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeNone, ModeTDPA, ModeISS} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("pid")
	assert.Error(t, err)
}
