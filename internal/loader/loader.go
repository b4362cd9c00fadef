// Package loader handles configuration file loading and validation.
//
// This package is responsible for:
//   - Loading the YAML configuration file
//   - Expanding environment variables
//   - Validating every section
//   - Converting sections into the options of the runtime packages
package loader

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/plclogger/internal/catalog"
	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/logging"
	"github.com/xtxerr/plclogger/internal/plc"
	"github.com/xtxerr/plclogger/internal/poller"
	"github.com/xtxerr/plclogger/internal/register"
	"github.com/xtxerr/plclogger/internal/setpoint"
	"github.com/xtxerr/plclogger/internal/storage/query"
	"github.com/xtxerr/plclogger/internal/validation"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. It does not validate; call
// Validate after applying command line overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes a configuration document on top of DefaultConfig.
// Environment variables of the form $VAR or ${VAR} are expanded first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	// PLC
	if cfg.PLC.Host == "" {
		errs.AddMissing("plc.host")
	}
	port := strconv.Itoa(cfg.PLC.Port)
	if err := validation.ValidateHostPort(net.JoinHostPort(cfg.PLC.Host, port)); err != nil {
		field := "plc.host"
		if validation.ValidatePort(port) != nil {
			field = "plc.port"
		}
		errs.AddField(field, err.Error())
	}
	if cfg.PLC.Timeout <= 0 {
		errs.AddField("plc.timeout", "must be positive")
	}
	if _, err := register.ParseWordOrder(cfg.PLC.WordOrder); err != nil {
		errs.Add(fmt.Errorf("plc.word_order: %w", err))
	}
	if cfg.PLC.FaultResetHold <= 0 {
		errs.AddField("plc.fault_reset_hold", "must be positive")
	}

	// Poll
	if cfg.Poll.SampleInterval <= 0 {
		errs.AddField("poll.sample_interval", "must be positive")
	}
	if cfg.Poll.FlushInterval <= 0 {
		errs.AddField("poll.flush_interval", "must be positive")
	}
	if cfg.Poll.MaxPending <= 0 {
		errs.AddField("poll.max_pending", "must be positive")
	}
	b := cfg.Poll.Backoff
	if b.Min <= 0 {
		errs.AddField("poll.backoff.min", "must be positive")
	}
	if b.Max < b.Min {
		errs.AddField("poll.backoff.max", "must not be below min")
	}
	if b.Factor < 1 {
		errs.AddField("poll.backoff.factor", "must be at least 1")
	}
	if err := validation.ValidateFraction(b.Jitter); err != nil {
		errs.AddField("poll.backoff.jitter", err.Error())
	} else if b.Jitter == 1 {
		errs.AddField("poll.backoff.jitter", "must be below 1")
	}

	// Storage
	if cfg.Storage == nil {
		errs.AddMissing("storage")
	} else if err := cfg.Storage.Validate(); err != nil {
		errs.Add(fmt.Errorf("storage: %w", err))
	}

	// API
	if cfg.API.Listen == "" {
		errs.AddField("api.listen", "cannot be empty")
	} else if err := validation.ValidateHostPort(cfg.API.Listen); err != nil {
		errs.AddField("api.listen", err.Error())
	}
	if _, err := time.LoadLocation(cfg.API.Timezone); err != nil {
		errs.AddField("api.timezone", err.Error())
	}
	if _, err := query.ParseWeekday(cfg.API.WeekStart); err != nil {
		errs.Add(fmt.Errorf("api.week_start: %w", err))
	}

	// Logging
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs.AddField("logging.level", err.Error())
	}
	switch cfg.Logging.Format {
	case "", "auto", "text", "json":
	default:
		errs.AddField("logging.format", "must be text, json or auto")
	}

	return errs.Err()
}

// =============================================================================
// Conversion
// =============================================================================

// WordOrder returns the parsed plc.word_order.
func (c *Config) WordOrder() register.WordOrder {
	o, _ := register.ParseWordOrder(c.PLC.WordOrder)
	return o
}

// ToPLCConfig returns the connection settings.
func (c *Config) ToPLCConfig() plc.Config {
	return plc.Config{
		Host:    c.PLC.Host,
		Port:    c.PLC.Port,
		UnitID:  c.PLC.UnitID,
		Timeout: c.PLC.Timeout.Duration(),
	}
}

// ToPollerConfig returns the sample loop settings.
func (c *Config) ToPollerConfig() poller.Config {
	cfg := poller.DefaultConfig()
	cfg.SampleInterval = c.Poll.SampleInterval.Duration()
	cfg.FlushInterval = c.Poll.FlushInterval.Duration()
	cfg.MaxPending = c.Poll.MaxPending
	cfg.WordOrder = c.WordOrder()
	cfg.Backoff = poller.Backoff{
		Min:    c.Poll.Backoff.Min.Duration(),
		Max:    c.Poll.Backoff.Max.Duration(),
		Factor: c.Poll.Backoff.Factor,
		Jitter: c.Poll.Backoff.Jitter,
	}
	return cfg
}

// ToSetpointConfig returns the setpoint service settings.
func (c *Config) ToSetpointConfig() setpoint.Config {
	return setpoint.Config{
		WordOrder: c.WordOrder(),
		FaultCoil: c.PLC.FaultResetCoil,
		FaultHold: c.PLC.FaultResetHold.Duration(),
	}
}

// Calendar returns the calendar used to align query presets.
func (c *Config) Calendar() (query.Calendar, error) {
	loc, err := time.LoadLocation(c.API.Timezone)
	if err != nil {
		return query.Calendar{}, errors.NewInvalidValue("api.timezone", c.API.Timezone, err.Error())
	}
	wd, err := query.ParseWeekday(c.API.WeekStart)
	if err != nil {
		return query.Calendar{}, err
	}
	return query.Calendar{Location: loc, WeekStart: wd}, nil
}

// LoadCatalog loads the configured tag catalog, or the built-in one when
// none is configured.
func (c *Config) LoadCatalog() (*catalog.Catalog, error) {
	if c.Catalog == "" {
		return catalog.Default(), nil
	}
	path := c.Catalog
	if !filepath.IsAbs(path) && c.dir != "" {
		path = filepath.Join(c.dir, path)
	}
	cat, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}
