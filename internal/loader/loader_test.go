package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/plclogger/internal/register"
	storageconfig "github.com/xtxerr/plclogger/internal/storage/config"
)

const sample = `
plc:
  host: ${PLC_HOST}
  word_order: LH
  timeout: 1.5
  fault_reset_coil: 4
poll:
  sample_interval: 500ms
  backoff:
    max: 10s
storage:
  layout: single
  root: /data/plc
  retention:
    max_db_mb: 64
api:
  timezone: Europe/Berlin
  week_start: sun
  setpoints: false
catalog: tags.yaml
`

func TestLoad(t *testing.T) {
	t.Setenv("PLC_HOST", "10.1.2.3")
	dir := t.TempDir()
	path := filepath.Join(dir, "plclogger.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.PLC.Host != "10.1.2.3" || cfg.PLC.Port != 502 || cfg.PLC.UnitID != 1 {
		t.Errorf("plc = %+v", cfg.PLC)
	}
	if cfg.PLC.Timeout.Duration() != 1500*time.Millisecond {
		t.Errorf("timeout = %v", cfg.PLC.Timeout.Duration())
	}
	if cfg.WordOrder() != register.LowFirst {
		t.Errorf("word order = %v", cfg.WordOrder())
	}

	pc := cfg.ToPollerConfig()
	if pc.SampleInterval != 500*time.Millisecond || pc.Backoff.Max != 10*time.Second || pc.Backoff.Min <= 0 {
		t.Errorf("poller config = %+v", pc)
	}
	if pc.WordOrder != register.LowFirst {
		t.Error("word order not propagated to the poller")
	}

	if cfg.Storage.Layout != storageconfig.LayoutSingle || cfg.Storage.Retention.MaxDBMB != 64 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	// Keys the file leaves out keep their defaults.
	if cfg.Storage.Retention.DeleteBatch == 0 || cfg.Storage.BusyTimeout == 0 {
		t.Errorf("storage defaults lost: %+v", cfg.Storage.Retention)
	}

	cal, err := cfg.Calendar()
	if err != nil {
		t.Fatal(err)
	}
	if cal.Location.String() != "Europe/Berlin" || cal.WeekStart != time.Sunday {
		t.Errorf("calendar = %v %v", cal.Location, cal.WeekStart)
	}
	if cfg.API.Setpoints {
		t.Error("api.setpoints not applied")
	}
	if sc := cfg.ToSetpointConfig(); sc.FaultCoil != 4 || sc.FaultHold <= 0 {
		t.Errorf("setpoint config = %+v", sc)
	}
}

func TestLoadCatalog(t *testing.T) {
	cfg := DefaultConfig()
	cat, err := cfg.LoadCatalog()
	if err != nil || len(cat.Tags) == 0 {
		t.Fatalf("built-in catalog: %v", err)
	}

	dir := t.TempDir()
	cfg.dir = dir
	cfg.Catalog = "missing.yaml"
	_, err = cfg.LoadCatalog()
	if err == nil || !strings.Contains(err.Error(), filepath.Join(dir, "missing.yaml")) {
		t.Errorf("err = %v, want a path relative to the config file", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.PLC.Host = "plc"
		return cfg
	}

	if err := Validate(valid()); err != nil {
		t.Fatalf("defaults with a host: %v", err)
	}

	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"missing host", func(c *Config) { c.PLC.Host = "" }, "plc.host"},
		{"bad port", func(c *Config) { c.PLC.Port = 70000 }, "plc.port"},
		{"host with whitespace", func(c *Config) { c.PLC.Host = "plc 1" }, "plc.host"},
		{"listen without port", func(c *Config) { c.API.Listen = "0.0.0.0" }, "api.listen"},
		{"listen bad port", func(c *Config) { c.API.Listen = ":http-alt" }, "api.listen"},
		{"negative jitter", func(c *Config) { c.Poll.Backoff.Jitter = -0.1 }, "poll.backoff.jitter"},
		{"bad word order", func(c *Config) { c.PLC.WordOrder = "XY" }, "plc.word_order"},
		{"zero sample interval", func(c *Config) { c.Poll.SampleInterval = 0 }, "poll.sample_interval"},
		{"backoff max below min", func(c *Config) { c.Poll.Backoff.Max = 1 }, "poll.backoff.max"},
		{"jitter", func(c *Config) { c.Poll.Backoff.Jitter = 1 }, "poll.backoff.jitter"},
		{"factor", func(c *Config) { c.Poll.Backoff.Factor = 0.5 }, "poll.backoff.factor"},
		{"storage layout", func(c *Config) { c.Storage.Layout = "striped" }, "storage"},
		{"timezone", func(c *Config) { c.API.Timezone = "Mars/Olympus" }, "api.timezone"},
		{"week start", func(c *Config) { c.API.WeekStart = "someday" }, "api.week_start"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mod(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PLC.Port = 0
	cfg.API.Listen = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, field := range []string{"plc.host", "plc.port", "api.listen"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("missing %s in %v", field, err)
		}
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"d: 250ms", 250 * time.Millisecond, true},
		{"d: 2", 2 * time.Second, true},
		{"d: 0.5", 500 * time.Millisecond, true},
		{`d: "1m30s"`, 90 * time.Second, true},
		{"d: soon", 0, false},
	}
	for _, tt := range tests {
		var v struct {
			D Duration `yaml:"d"`
		}
		err := yaml.Unmarshal([]byte(tt.in), &v)
		if (err == nil) != tt.ok {
			t.Errorf("%q: err = %v", tt.in, err)
			continue
		}
		if tt.ok && v.D.Duration() != tt.want {
			t.Errorf("%q = %v, want %v", tt.in, v.D.Duration(), tt.want)
		}
	}
}
