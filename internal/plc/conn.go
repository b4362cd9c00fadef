// Package plc owns the Modbus/TCP connection to the controller.
//
// All register traffic of a process goes through one Conn. Callers borrow
// the open client for the duration of a function with Do; the connection is
// established lazily and dropped after any field bus failure so that the
// next Do starts from a fresh socket.
package plc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/simonvetter/modbus"

	defaults "github.com/xtxerr/plclogger/config"
	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/logging"
)

var log = logging.Component("plc")

// Registers is the register-level API available inside Do.
type Registers interface {
	ReadHoldingRegisters(addr uint16, count uint16) ([]uint16, error)
	WriteRegister(addr uint16, value uint16) error
	WriteRegisters(addr uint16, values []uint16) error
	WriteCoil(addr uint16, value bool) error
}

// Client is an open connection.
type Client interface {
	Registers
	Close() error
}

// Dialer opens a Client.
type Dialer interface {
	Dial(ctx context.Context) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Client, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Client, error) { return f(ctx) }

// =============================================================================
// Modbus/TCP
// =============================================================================

// Config addresses one Modbus/TCP server.
type Config struct {
	Host    string
	Port    int
	UnitID  uint8
	Timeout time.Duration
}

// URL returns the tcp:// address understood by the modbus client.
func (c Config) URL() string {
	port := c.Port
	if port == 0 {
		port = defaults.DefaultPLCPort
	}
	return "tcp://" + net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// ModbusDialer dials real devices.
type ModbusDialer struct {
	cfg Config
}

// NewModbusDialer creates a dialer for cfg.
func NewModbusDialer(cfg Config) *ModbusDialer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.DefaultPLCTimeout
	}
	if cfg.UnitID == 0 {
		cfg.UnitID = defaults.DefaultPLCUnitID
	}
	return &ModbusDialer{cfg: cfg}
}

// Dial opens a TCP connection to the configured device.
func (d *ModbusDialer) Dial(ctx context.Context) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mc, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     d.cfg.URL(),
		Timeout: d.cfg.Timeout,
	})
	if err != nil {
		return nil, errors.Mark(fmt.Errorf("create client: %w", err), errors.ErrConnectionFailed)
	}
	if err := mc.Open(); err != nil {
		return nil, errors.Mark(fmt.Errorf("connect %s: %w", d.cfg.URL(), err), errors.ErrConnectionFailed)
	}
	if err := mc.SetUnitId(d.cfg.UnitID); err != nil {
		mc.Close()
		return nil, errors.Mark(fmt.Errorf("set unit id: %w", err), errors.ErrConnectionFailed)
	}
	return &modbusClient{mc: mc}, nil
}

type modbusClient struct {
	mc *modbus.ModbusClient
}

func (c *modbusClient) ReadHoldingRegisters(addr, count uint16) ([]uint16, error) {
	words, err := c.mc.ReadRegisters(addr, count, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, classify(fmt.Errorf("read %d@%d: %w", count, addr, err))
	}
	return words, nil
}

func (c *modbusClient) WriteRegister(addr, value uint16) error {
	if err := c.mc.WriteRegister(addr, value); err != nil {
		return classify(fmt.Errorf("write register %d: %w", addr, err))
	}
	return nil
}

func (c *modbusClient) WriteRegisters(addr uint16, values []uint16) error {
	if err := c.mc.WriteRegisters(addr, values); err != nil {
		return classify(fmt.Errorf("write %d registers @%d: %w", len(values), addr, err))
	}
	return nil
}

func (c *modbusClient) WriteCoil(addr uint16, value bool) error {
	if err := c.mc.WriteCoil(addr, value); err != nil {
		return classify(fmt.Errorf("write coil %d: %w", addr, err))
	}
	return nil
}

func (c *modbusClient) Close() error {
	return c.mc.Close()
}

// classify marks a client error with the matching field bus sentinel.
func classify(err error) error {
	switch {
	case errors.Is(err, modbus.ErrRequestTimedOut):
		return errors.Mark(err, errors.ErrTimeout)
	case isException(err):
		return errors.Mark(err, errors.ErrProtocol)
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return errors.Mark(err, errors.ErrTimeout)
		}
		return errors.Mark(err, errors.ErrConnectionFailed)
	}
}

// isException reports whether the device answered with a Modbus exception
// or a malformed frame. The link itself is healthy in that case.
func isException(err error) bool {
	for _, e := range []error{
		modbus.ErrIllegalFunction,
		modbus.ErrIllegalDataAddress,
		modbus.ErrIllegalDataValue,
		modbus.ErrServerDeviceFailure,
		modbus.ErrServerDeviceBusy,
		modbus.ErrProtocolError,
		modbus.ErrBadUnitId,
		modbus.ErrUnexpectedParameters,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// =============================================================================
// Conn
// =============================================================================

// Stats tracks connection health.
type Stats struct {
	Dials      int64
	DialErrors int64
	Calls      int64
	CallErrors int64
	Resets     int64
	LastError  string
}

// Conn serializes access to a single client and reconnects on demand.
type Conn struct {
	dialer Dialer

	mu     sync.Mutex
	client Client
	stats  Stats
}

// New creates a Conn. Nothing is dialed until the first Do.
func New(d Dialer) *Conn {
	return &Conn{dialer: d}
}

// Do runs fn with an open client. A field bus error other than a device
// exception closes the client so that the next call reconnects.
func (c *Conn) Do(ctx context.Context, fn func(Registers) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if c.client == nil {
		c.stats.Dials++
		client, err := c.dialer.Dial(ctx)
		if err != nil {
			c.stats.DialErrors++
			c.stats.LastError = err.Error()
			if !errors.IsFieldBusError(err) {
				err = errors.Mark(err, errors.ErrConnectionFailed)
			}
			return err
		}
		c.client = client
		log.Info("connected")
	}

	c.stats.Calls++
	err := fn(c.client)
	if err == nil {
		return nil
	}

	c.stats.CallErrors++
	c.stats.LastError = err.Error()
	if errors.IsFieldBusError(err) && !errors.Is(err, errors.ErrProtocol) {
		log.Warn("dropping connection", "error", err)
		c.closeLocked()
	}
	return err
}

// Reset closes the current client, if any.
func (c *Conn) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Conn) closeLocked() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.stats.Resets++
	return err
}

// Connected reports whether a client is currently open.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// Stats returns a copy of the connection counters.
func (c *Conn) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close closes the connection. The Conn may be used again afterwards.
func (c *Conn) Close() error {
	return c.Reset()
}
