// Package setpoint reads and writes the PLC's writable parameters and
// pulses the fault-reset coil.
package setpoint

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	defaults "github.com/xtxerr/plclogger/config"
	"github.com/xtxerr/plclogger/internal/catalog"
	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/logging"
	"github.com/xtxerr/plclogger/internal/plc"
	"github.com/xtxerr/plclogger/internal/register"
)

var log = logging.Component("setpoint")

// Config holds setpoint options.
type Config struct {
	WordOrder register.WordOrder
	FaultCoil uint16
	FaultHold time.Duration
}

// Value is one setpoint with its current reading. Value is nil when the
// register could not be decoded.
type Value struct {
	Name    string   `json:"name"`
	Label   string   `json:"label,omitempty"`
	Address uint16   `json:"address"`
	Type    string   `json:"type"`
	Unit    string   `json:"unit,omitempty"`
	Value   *float64 `json:"value"`
}

// Stats counts setpoint traffic.
type Stats struct {
	Reads       int64
	Writes      int64
	Pulses      int64
	Errors      int64
	LastWrite   string
	LastWriteAt time.Time
}

// Service reads and writes setpoints over a shared connection.
type Service struct {
	conn *plc.Conn
	cat  *catalog.Catalog
	cfg  Config

	mu    sync.Mutex
	stats Stats
}

// New creates a setpoint service.
func New(conn *plc.Conn, cat *catalog.Catalog, cfg Config) *Service {
	if cfg.FaultHold <= 0 {
		cfg.FaultHold = defaults.DefaultFaultResetHold
	}
	return &Service{conn: conn, cat: cat, cfg: cfg}
}

// ReadAll reads every setpoint with one block request spanning all of
// them, in catalog order.
func (s *Service) ReadAll(ctx context.Context) ([]Value, error) {
	if len(s.cat.Setpoints) == 0 {
		return nil, errors.NewNotFound("setpoints", "catalog")
	}

	base, count := register.Span(s.cat.SetpointRanges())
	var w register.Window
	err := s.conn.Do(ctx, func(r plc.Registers) error {
		var err error
		w, err = plc.ReadBlock(r, base, count)
		return err
	})
	s.count(func(st *Stats) { st.Reads++ }, err)
	if err != nil {
		return nil, fmt.Errorf("read setpoints: %w", err)
	}

	out := make([]Value, len(s.cat.Setpoints))
	for i, sp := range s.cat.Setpoints {
		out[i] = Value{
			Name:    sp.Name,
			Label:   sp.Label,
			Address: sp.Address,
			Type:    sp.Type.String(),
			Unit:    sp.Unit,
		}
		v, ok, err := w.Decode(sp.Address, sp.Type, s.cfg.WordOrder)
		if err != nil || !ok {
			log.Warn("setpoint not decodable", "name", sp.Name, "error", err)
			continue
		}
		out[i].Value = &v
	}
	return out, nil
}

// Write stores value into the named setpoint. 16-bit types use a single
// register write, 32-bit types write both registers in one request.
func (s *Service) Write(ctx context.Context, name string, value float64) error {
	sp, ok := s.cat.Setpoint(name)
	if !ok {
		return errors.NewUnknownSetpoint(name)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return errors.NewInvalidValue("value", value, "must be finite")
	}

	words, err := register.Encode(value, sp.Type, s.cfg.WordOrder)
	if err != nil {
		return err
	}

	err = s.conn.Do(ctx, func(r plc.Registers) error {
		if len(words) == 1 {
			return r.WriteRegister(sp.Address, words[0])
		}
		return r.WriteRegisters(sp.Address, words)
	})
	s.count(func(st *Stats) {
		st.Writes++
		if err == nil {
			st.LastWrite = name
			st.LastWriteAt = time.Now()
		}
	}, err)
	if err != nil {
		return fmt.Errorf("write setpoint %s: %w", name, err)
	}

	log.Info("setpoint written", "name", name, "value", value, "address", sp.Address)
	return nil
}

// PulseCoil sets a coil, waits hold, and clears it. The clear is attempted
// even when ctx ends during the hold.
func (s *Service) PulseCoil(ctx context.Context, addr uint16, hold time.Duration) error {
	err := s.conn.Do(ctx, func(r plc.Registers) error {
		return r.WriteCoil(addr, true)
	})
	if err != nil {
		s.count(func(st *Stats) { st.Pulses++ }, err)
		return fmt.Errorf("set coil %d: %w", addr, err)
	}

	t := time.NewTimer(hold)
	select {
	case <-ctx.Done():
		t.Stop()
	case <-t.C:
	}

	err = s.conn.Do(context.WithoutCancel(ctx), func(r plc.Registers) error {
		return r.WriteCoil(addr, false)
	})
	s.count(func(st *Stats) { st.Pulses++ }, err)
	if err != nil {
		return fmt.Errorf("clear coil %d: %w", addr, err)
	}
	return ctx.Err()
}

// FaultReset pulses the configured fault-reset coil.
func (s *Service) FaultReset(ctx context.Context) error {
	log.Info("fault reset", "coil", s.cfg.FaultCoil, "hold", s.cfg.FaultHold)
	return s.PulseCoil(ctx, s.cfg.FaultCoil, s.cfg.FaultHold)
}

func (s *Service) count(fn func(*Stats), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
	if err != nil {
		s.stats.Errors++
	}
}

// Stats returns a copy of the counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
