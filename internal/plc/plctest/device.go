// Package plctest provides an in-memory field device for tests.
package plctest

import (
	"context"
	"sync"

	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/plc"
)

// CoilWrite records one coil write.
type CoilWrite struct {
	Addr  uint16
	Value bool
}

// Device is a fake holding register and coil bank. Reads of unset
// registers return zero.
type Device struct {
	mu       sync.Mutex
	regs     map[uint16]uint16
	coils    []CoilWrite
	dialErr  error
	failNext []error
	dials    int
	reads    int
	open     int
	onRead   func()
}

// NewDevice creates an empty device.
func NewDevice() *Device {
	return &Device{regs: make(map[uint16]uint16)}
}

// Set stores words starting at addr.
func (d *Device) Set(addr uint16, words ...uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, w := range words {
		d.regs[addr+uint16(i)] = w
	}
}

// Get returns n words starting at addr.
func (d *Device) Get(addr uint16, n int) []uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint16, n)
	for i := range out {
		out[i] = d.regs[addr+uint16(i)]
	}
	return out
}

// CoilWrites returns every coil write in order.
func (d *Device) CoilWrites() []CoilWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]CoilWrite(nil), d.coils...)
}

// FailDial makes every dial fail with err until called again with nil.
func (d *Device) FailDial(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

// FailNext makes the next len(errs) operations fail with errs in order.
func (d *Device) FailNext(errs ...error) {
	d.mu.Lock()
	d.failNext = append(d.failNext, errs...)
	d.mu.Unlock()
}

// OnRead registers a hook run before each register read.
func (d *Device) OnRead(fn func()) {
	d.mu.Lock()
	d.onRead = fn
	d.mu.Unlock()
}

// Dials returns the number of successful dials.
func (d *Device) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Reads returns the number of read requests served.
func (d *Device) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Open returns the number of clients not yet closed.
func (d *Device) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Dialer returns a dialer connecting to d.
func (d *Device) Dialer() plc.Dialer {
	return plc.DialerFunc(func(ctx context.Context) (plc.Client, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.dialErr != nil {
			return nil, d.dialErr
		}
		d.dials++
		d.open++
		return &client{d: d}, nil
	})
}

func (d *Device) takeFailure() error {
	if len(d.failNext) == 0 {
		return nil
	}
	err := d.failNext[0]
	d.failNext = d.failNext[1:]
	return err
}

type client struct {
	d      *Device
	closed bool
}

func (c *client) begin() error {
	if c.closed {
		return errors.ErrNotConnected
	}
	return c.d.takeFailure()
}

func (c *client) ReadHoldingRegisters(addr, count uint16) ([]uint16, error) {
	c.d.mu.Lock()
	hook := c.d.onRead
	c.d.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if err := c.begin(); err != nil {
		return nil, err
	}
	c.d.reads++
	out := make([]uint16, count)
	for i := range out {
		out[i] = c.d.regs[addr+uint16(i)]
	}
	return out, nil
}

func (c *client) WriteRegister(addr, value uint16) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if err := c.begin(); err != nil {
		return err
	}
	c.d.regs[addr] = value
	return nil
}

func (c *client) WriteRegisters(addr uint16, values []uint16) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if err := c.begin(); err != nil {
		return err
	}
	for i, v := range values {
		c.d.regs[addr+uint16(i)] = v
	}
	return nil
}

func (c *client) WriteCoil(addr uint16, value bool) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if err := c.begin(); err != nil {
		return err
	}
	c.d.coils = append(c.d.coils, CoilWrite{Addr: addr, Value: value})
	return nil
}

func (c *client) Close() error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.d.open--
	}
	return nil
}
