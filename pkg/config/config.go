// Package config loads the YAML configuration shared by the master and slave.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gwillem/hapticlink/pkg/conditioner"
	"github.com/gwillem/hapticlink/pkg/control"
	"github.com/gwillem/hapticlink/pkg/environment"
	"github.com/gwillem/hapticlink/pkg/robot"
)

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = "hapticlink.yml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the whole configuration. It is read once at startup and passed by value.
type Config struct {
	Loop        LoopConfig         `yaml:"loop"`
	Network     NetworkConfig      `yaml:"network"`
	Filter      FilterConfig       `yaml:"filter"`
	Deadband    DeadbandConfig     `yaml:"deadband"`
	ISS         ISSConfig          `yaml:"iss"`
	Device      DeviceConfig       `yaml:"device"`
	Environment environment.Config `yaml:"environment"`
	Follower    robot.ArmConfig    `yaml:"follower"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Log         LogConfig          `yaml:"log"`
}

// LoopConfig sets the control loop rate and the stabilizer it starts with.
type LoopConfig struct {
	Hz         int    `yaml:"hz"`
	SnapshotHz int    `yaml:"snapshot_hz"`
	Mode       string `yaml:"mode"` // none, tdpa or iss
	Realtime   bool   `yaml:"realtime"`
	Priority   int    `yaml:"priority"`
}

// NetworkConfig holds both ends of the link; each role reads its own fields.
type NetworkConfig struct {
	SlaveAddr     string        `yaml:"slave_addr"`
	LocalPort     int           `yaml:"local_port"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	Listen        string        `yaml:"listen"`
	AcceptTimeout time.Duration `yaml:"accept_timeout"`
}

// FilterConfig enables the Kalman filters on the master.
type FilterConfig struct {
	Velocity         bool    `yaml:"velocity"`
	Force            bool    `yaml:"force"`
	ProcessNoise     float64 `yaml:"process_noise"`
	MeasurementNoise float64 `yaml:"measurement_noise"`
}

// DeadbandConfig sets the thresholds of the send-on-change deadbands.
// A zero force threshold turns the slave's force deadband off.
type DeadbandConfig struct {
	Mode     string  `yaml:"mode"` // perceptual or absolute
	Position float64 `yaml:"position"`
	Velocity float64 `yaml:"velocity"`
	Force    float64 `yaml:"force"`
}

// ISSConfig parameterizes the scattering compensator.
type ISSConfig struct {
	Tau             float64 `yaml:"tau"`
	MuFactor        float64 `yaml:"mu_factor"`
	StiffnessFactor float64 `yaml:"stiffness_factor"`
	ToolWorkspace   float64 `yaml:"tool_workspace"`
}

// DeviceConfig selects the master's input device.
type DeviceConfig struct {
	Kind string `yaml:"kind"` // simulated or so101
	// Damping is the per-axis viscous term added to the rendered force, N/(m/s).
	Damping   [3]float64      `yaml:"damping"`
	Amplitude [3]float64      `yaml:"amplitude"`
	Frequency float64         `yaml:"frequency"`
	Leader    robot.ArmConfig `yaml:"leader"`
}

// MetricsConfig enables the metrics and telemetry HTTP server when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig sets the log level and handler format (text or json).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the stock configuration: a simulated device on both ends of a
// local link at 1 kHz, TDPA active.
func Default() *Config {
	return &Config{
		Loop: LoopConfig{
			Hz:         1000,
			SnapshotHz: 30,
			Mode:       control.ModeTDPA.String(),
			Realtime:   true,
			Priority:   80,
		},
		Network: NetworkConfig{
			SlaveAddr:   "127.0.0.1:7777",
			DialTimeout: 3 * time.Second,
			Listen:      ":7777",
		},
		Filter: FilterConfig{
			Velocity:         true,
			Force:            true,
			ProcessNoise:     conditioner.DefaultProcessNoise,
			MeasurementNoise: conditioner.DefaultMeasurementNoise,
		},
		Deadband: DeadbandConfig{
			Mode:     conditioner.Perceptual.String(),
			Position: 0.1,
			Velocity: 0.1,
			Force:    0,
		},
		ISS: ISSConfig{
			Tau:             control.DefaultTau,
			MuFactor:        control.DefaultMuFactor,
			StiffnessFactor: control.DefaultStiffnessFactor,
			ToolWorkspace:   control.DefaultToolWorkspace,
		},
		Device: DeviceConfig{
			Kind:      "simulated",
			Damping:   [3]float64{0, 0, 0.15},
			Amplitude: [3]float64{0, 0, 0.02},
			Frequency: 0.5,
			Leader:    robot.ArmConfig{Scale: robot.DefaultScale},
		},
		Environment: environment.Config{
			Kind:      "field",
			Kp:        25,
			Kr:        0.05,
			Stiffness: 1000,
			Damping:   5,
		},
		Follower: robot.ArmConfig{Scale: robot.DefaultScale, Mirror: true},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over Default and validates the result. Keys missing from the
// file keep their default, keys present keep their value even when it is zero.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if !Exists(path) {
		return Default(), nil
	}
	return Load(path)
}

// Exists reports whether path is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SaveTo writes c as YAML.
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Loop.Hz > 0 && c.Loop.Hz <= 10_000, "loop.hz %d out of range (1..10000)", c.Loop.Hz)
	check(c.Loop.SnapshotHz >= 0 && c.Loop.SnapshotHz <= c.Loop.Hz,
		"loop.snapshot_hz %d out of range (0..loop.hz)", c.Loop.SnapshotHz)
	if _, err := c.Mode(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.DeadbandMode(); err != nil {
		errs = append(errs, err)
	}
	check(c.Deadband.Position >= 0 && c.Deadband.Velocity >= 0 && c.Deadband.Force >= 0,
		"deadband thresholds must not be negative")
	check(c.Filter.ProcessNoise > 0 && c.Filter.MeasurementNoise > 0, "filter noise must be positive")
	check(c.ISS.Tau >= 0 && c.ISS.MuFactor > 0 && c.ISS.ToolWorkspace > 0, "iss parameters out of range")
	check(c.Device.Kind == "simulated" || c.Device.Kind == "so101", "device.kind %q unknown", c.Device.Kind)
	if _, err := environment.New(c.Environment); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format %q unknown", c.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Mode returns the configured initial stabilizer.
func (c *Config) Mode() (control.Mode, error) {
	return control.ParseMode(c.Loop.Mode)
}

// DeadbandMode returns the configured deadband comparison.
func (c *Config) DeadbandMode() (conditioner.DeadbandMode, error) {
	return conditioner.ParseDeadbandMode(c.Deadband.Mode)
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// SampleInterval returns the loop period.
func (c *Config) SampleInterval() time.Duration {
	return time.Second / time.Duration(c.Loop.Hz)
}
