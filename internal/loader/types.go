// Package loader - Configuration Types
//
// Defines the YAML configuration shared by plcloggerd, plcapi and plcstore.
//
//	plc:      Modbus/TCP address, word order, fault-reset coil
//	poll:     sample and flush cadence, pending cap, reconnect backoff
//	storage:  layout, caps, retention, query and archive settings
//	api:      listen address, calendar for presets
//	logging:  level and format
//	catalog:  path to a tag catalog (empty = built-in)
package loader

import (
	"fmt"
	"strconv"
	"time"

	defaults "github.com/xtxerr/plclogger/config"
	storageconfig "github.com/xtxerr/plclogger/internal/storage/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration document.
type Config struct {
	PLC     PLCConfig             `yaml:"plc"`
	Poll    PollConfig            `yaml:"poll"`
	Storage *storageconfig.Config `yaml:"storage"`
	API     APIConfig             `yaml:"api"`
	Logging LoggingConfig         `yaml:"logging"`

	// Catalog is the tag catalog file. Relative paths are resolved against
	// the directory of the configuration file. Empty selects the built-in
	// catalog.
	Catalog string `yaml:"catalog"`

	// dir is the directory of the loaded file.
	dir string
}

// PLCConfig addresses the controller.
type PLCConfig struct {
	// Host is the controller's IP address or name.
	Host string `yaml:"host"`

	// Port is the Modbus/TCP port.
	// Default: 502
	Port int `yaml:"port"`

	// UnitID is the Modbus unit identifier.
	// Default: 1
	UnitID uint8 `yaml:"unit_id"`

	// Timeout bounds each request.
	// Default: 2s
	Timeout Duration `yaml:"timeout"`

	// WordOrder is "HL" (high word at the lower address) or "LH".
	WordOrder string `yaml:"word_order"`

	// FaultResetCoil is the coil pulsed by a fault reset.
	FaultResetCoil uint16 `yaml:"fault_reset_coil"`

	// FaultResetHold is how long the coil stays set.
	// Default: 200ms
	FaultResetHold Duration `yaml:"fault_reset_hold"`
}

// PollConfig configures the sample loop.
type PollConfig struct {
	// SampleInterval is the spacing between window reads.
	SampleInterval Duration `yaml:"sample_interval"`

	// FlushInterval is the minimum spacing between storage writes.
	FlushInterval Duration `yaml:"flush_interval"`

	// MaxPending caps rows held while storage is failing.
	MaxPending int `yaml:"max_pending"`

	// Backoff shapes the wait after failed reads.
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig configures reconnect backoff.
type BackoffConfig struct {
	Min    Duration `yaml:"min"`
	Max    Duration `yaml:"max"`
	Factor float64  `yaml:"factor"`
	Jitter float64  `yaml:"jitter"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	// Listen is the HTTP listen address.
	// Default: "0.0.0.0:8080"
	Listen string `yaml:"listen"`

	// Timezone is the IANA zone in which calendar presets are aligned.
	// Default: "UTC"
	Timezone string `yaml:"timezone"`

	// WeekStart is the first day of the "week" preset.
	// Default: "monday"
	WeekStart string `yaml:"week_start"`

	// ShutdownTimeout is the grace period for in-flight requests.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// Setpoints enables the setpoint and fault-reset endpoints, which talk
	// to the PLC directly.
	// Default: true
	Setpoints bool `yaml:"setpoints"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text, json or auto.
	Format string `yaml:"format"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns the configuration used for every key the file
// leaves out.
func DefaultConfig() *Config {
	return &Config{
		PLC: PLCConfig{
			Port:           defaults.DefaultPLCPort,
			UnitID:         defaults.DefaultPLCUnitID,
			Timeout:        Duration(defaults.DefaultPLCTimeout),
			WordOrder:      defaults.DefaultWordOrder,
			FaultResetHold: Duration(defaults.DefaultFaultResetHold),
		},
		Poll: PollConfig{
			SampleInterval: Duration(defaults.DefaultSampleInterval),
			FlushInterval:  Duration(defaults.DefaultFlushInterval),
			MaxPending:     defaults.DefaultMaxPending,
			Backoff: BackoffConfig{
				Min:    Duration(defaults.DefaultBackoffMin),
				Max:    Duration(defaults.DefaultBackoffMax),
				Factor: defaults.DefaultBackoffFactor,
				Jitter: defaults.DefaultBackoffJitter,
			},
		},
		Storage: storageconfig.DefaultConfig(),
		API: APIConfig{
			Listen:          defaults.DefaultListenAddress,
			Timezone:        "UTC",
			WeekStart:       defaults.DefaultWeekStart.String(),
			ShutdownTimeout: Duration(defaults.DefaultShutdownTimeout),
			Setpoints:       true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// =============================================================================
// Helper Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML as a Go
// duration string ("500ms") or a number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if dur, err := time.ParseDuration(s); err == nil {
		*d = Duration(dur)
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
