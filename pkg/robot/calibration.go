package robot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
)

// ErrNotCalibrated is returned when an arm is opened without a calibration.
var ErrNotCalibrated = errors.New("arm is not calibrated")

// MotorCalibration maps one servo's raw steps onto the normalized range.
// The JSON tags follow the LeRobot calibration files.
type MotorCalibration struct {
	ID           int `json:"id" yaml:"id"`
	DriveMode    int `json:"drive_mode" yaml:"drive_mode"`
	HomingOffset int `json:"homing_offset" yaml:"homing_offset"`
	RangeMin     int `json:"range_min" yaml:"range_min"`
	RangeMax     int `json:"range_max" yaml:"range_max"`
}

// Calibration is keyed by motor name.
type Calibration map[MotorName]MotorCalibration

// ImportCalibration reads a LeRobot calibration JSON file.
func ImportCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}
	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	for name, mc := range cal {
		if mc.RangeMax <= mc.RangeMin {
			return nil, fmt.Errorf("calibration %s: %s has an empty range [%d, %d]", path, name, mc.RangeMin, mc.RangeMax)
		}
	}
	return cal, nil
}

// NewRange starts a calibration for servo id at its current raw position.
func NewRange(id, raw int) MotorCalibration {
	return MotorCalibration{ID: id, RangeMin: raw, RangeMax: raw}
}

// Track widens the range to include raw.
func (c *MotorCalibration) Track(raw int) {
	c.RangeMin = min(c.RangeMin, raw)
	c.RangeMax = max(c.RangeMax, raw)
}

// Span is the recorded travel in raw steps.
func (c MotorCalibration) Span() int {
	return c.RangeMax - c.RangeMin
}

func (c MotorCalibration) reversed() bool { return c.DriveMode != 0 }

// Normalize maps raw onto [-100, 100] over the recorded range.
func (c MotorCalibration) Normalize(raw int) float64 {
	span := c.Span()
	if span == 0 {
		return 0
	}
	v := 200*float64(raw-c.RangeMin)/float64(span) - 100
	if c.reversed() {
		return -v
	}
	return v
}

// Denormalize is the inverse of Normalize, clamped to the recorded range.
func (c MotorCalibration) Denormalize(v float64) int {
	if c.reversed() {
		v = -v
	}
	v = math.Max(-100, math.Min(100, v))
	return c.RangeMin + int(math.Round(float64(c.Span())*(v+100)/200))
}

// MotorIDs lists the servo IDs in ascending order.
func (c Calibration) MotorIDs() []int {
	ids := make([]int, 0, len(c))
	for _, mc := range c {
		ids = append(ids, mc.ID)
	}
	slices.Sort(ids)
	return ids
}

// ByID finds the motor driven by servo id.
func (c Calibration) ByID(id int) (MotorName, MotorCalibration, bool) {
	for _, name := range AllMotors() {
		if mc, ok := c[name]; ok && mc.ID == id {
			return name, mc, true
		}
	}
	return "", MotorCalibration{}, false
}
