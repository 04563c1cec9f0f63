package control

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Mode is the active stabilization algorithm.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeTDPA
	ModeISS
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeTDPA:
		return "tdpa"
	case ModeISS:
		return "iss"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode parses "none", "tdpa" or "iss". Empty selects ModeNone.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "none":
		return ModeNone, nil
	case "tdpa":
		return ModeTDPA, nil
	case "iss":
		return ModeISS, nil
	default:
		return 0, fmt.Errorf("unknown stabilization mode %q", s)
	}
}

// Stabilizer owns one Ledger and one Compensator and applies the corrections of
// exactly one of them, selected by its mode. Both keep tracking their state in every
// mode; switching mode re-initializes the newly active one.
type Stabilizer struct {
	mode   Mode
	ledger *Ledger
	iss    *Compensator
}

// NewStabilizer creates a stabilizer in ModeNone.
func NewStabilizer(ledger *Ledger, iss *Compensator) *Stabilizer {
	return &Stabilizer{ledger: ledger, iss: iss}
}

// Mode returns the active mode.
func (s *Stabilizer) Mode() Mode {
	return s.mode
}

// Ledger returns the TDPA ledger.
func (s *Stabilizer) Ledger() *Ledger {
	return s.ledger
}

// Compensator returns the ISS compensator.
func (s *Stabilizer) Compensator() *Compensator {
	return s.iss
}

// SetMode activates m. The newly active controller is initialized; entering
// ModeNone leaves both as they are.
func (s *Stabilizer) SetMode(m Mode) {
	switch m {
	case ModeTDPA:
		s.ledger.Initialize()
	case ModeISS:
		s.iss.Initialize()
	}
	s.mode = m
}

// ForceRevise runs the TDPA stage of the master force path. The ledger accounts
// every sample; the passivity correction is returned only in TDPA mode.
func (s *Stabilizer) ForceRevise(vel, force mgl64.Vec3) mgl64.Vec3 {
	passive := s.ledger.ForceRevise(vel, force)
	if s.mode != ModeTDPA {
		return force
	}
	return passive
}

// ForceLead runs the ISS stage on the conditioned force. The derivative is
// tracked in every mode; the lead term is added only in ISS mode.
func (s *Stabilizer) ForceLead(force mgl64.Vec3) mgl64.Vec3 {
	lead := s.iss.ForceRevise(force)
	if s.mode != ModeISS {
		return force
	}
	return lead
}

// MasterVelocity applies the ISS velocity correction when ISS is active.
func (s *Stabilizer) MasterVelocity(vel mgl64.Vec3) mgl64.Vec3 {
	if s.mode != ModeISS {
		return vel
	}
	return s.iss.VelocityRevise(vel)
}

// SlaveVelocity runs the slave-side TDPA velocity path against the force last
// rendered at the slave port. The correction is applied only when TDPA is active.
func (s *Stabilizer) SlaveVelocity(vel, force mgl64.Vec3) mgl64.Vec3 {
	revised := s.ledger.VelocityRevise(vel, force)
	if s.mode != ModeTDPA {
		return vel
	}
	return revised
}
