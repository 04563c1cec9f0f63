package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// BaudRate is the SO-101 bus speed.
const BaudRate = 1_000_000

// ArmConfig holds the settings of one arm.
type ArmConfig struct {
	Port        string      `yaml:"port"`
	Calibration Calibration `yaml:"calibration,omitempty"`
	// Scale is the tool travel in meters for a full normalized joint sweep (±100).
	Scale float64 `yaml:"scale"`
	// Mirror inverts shoulder_pan and wrist_roll for a follower facing its leader.
	Mirror bool `yaml:"mirror"`
}

// IsCalibrated reports whether every joint has a recorded range.
func (a *ArmConfig) IsCalibrated() bool {
	return len(a.Calibration) > 0
}

// Joints reads and writes normalized joint angles. Arm implements it over a
// servo bus; tests substitute an in-memory arm.
type Joints interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	ReadJoints(ctx context.Context) (map[MotorName]float64, error)
	WriteJoints(ctx context.Context, joints map[MotorName]float64) error
	Close() error
}

// OpenBus opens an STS bus on port. A zero timeout keeps the driver default.
func OpenBus(port string, timeout time.Duration) (*feetech.Bus, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus %s: %w", port, err)
	}
	return bus, nil
}

// Arm is a calibrated SO-101 on its own bus.
type Arm struct {
	port  string
	bus   *feetech.Bus
	group *feetech.ServoGroup
	cal   Calibration
}

// OpenArm opens the bus of a calibrated arm.
func OpenArm(cfg ArmConfig) (*Arm, error) {
	if !cfg.IsCalibrated() {
		return nil, fmt.Errorf("arm on %s: %w", cfg.Port, ErrNotCalibrated)
	}
	bus, err := OpenBus(cfg.Port, 0)
	if err != nil {
		return nil, err
	}
	return &Arm{
		port:  cfg.Port,
		bus:   bus,
		group: feetech.NewServoGroupByIDs(bus, cfg.Calibration.MotorIDs()...),
		cal:   cfg.Calibration,
	}, nil
}

func (a *Arm) Close() error {
	return a.bus.Close()
}

// Enable switches torque on, so the arm holds commanded joints.
func (a *Arm) Enable(ctx context.Context) error {
	if err := a.group.EnableAll(ctx); err != nil {
		return fmt.Errorf("enable torque on %s: %w", a.port, err)
	}
	return nil
}

// Disable switches torque off, so the arm can be moved by hand.
func (a *Arm) Disable(ctx context.Context) error {
	if err := a.group.DisableAll(ctx); err != nil {
		return fmt.Errorf("disable torque on %s: %w", a.port, err)
	}
	return nil
}

// ReadJoints returns the calibrated joints in [-100, 100]. Servos that are not
// in the calibration are left out.
func (a *Arm) ReadJoints(ctx context.Context) (map[MotorName]float64, error) {
	steps, err := a.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read joints on %s: %w", a.port, err)
	}
	joints := make(map[MotorName]float64, len(steps))
	for id, step := range steps {
		if name, mc, ok := a.cal.ByID(id); ok {
			joints[name] = mc.Normalize(step)
		}
	}
	return joints, nil
}

// WriteJoints sends one goal per calibrated joint. Unknown joints are dropped.
func (a *Arm) WriteJoints(ctx context.Context, joints map[MotorName]float64) error {
	goals := make(feetech.PositionMap, len(joints))
	for name, v := range joints {
		if mc, ok := a.cal[name]; ok {
			goals[mc.ID] = mc.Denormalize(v)
		}
	}
	if len(goals) == 0 {
		return nil
	}
	if err := a.group.SetPositions(ctx, goals); err != nil {
		return fmt.Errorf("write joints on %s: %w", a.port, err)
	}
	return nil
}
