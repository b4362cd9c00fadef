package plc_test

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/simonvetter/modbus"

	"github.com/xtxerr/plclogger/internal/catalog"
	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/plc"
	"github.com/xtxerr/plclogger/internal/plc/plctest"
	"github.com/xtxerr/plclogger/internal/register"
)

func TestConn_DialsLazilyAndReuses(t *testing.T) {
	dev := plctest.NewDevice()
	conn := plc.New(dev.Dialer())
	ctx := context.Background()

	if conn.Connected() || dev.Dials() != 0 {
		t.Fatal("dialed before first use")
	}
	for i := 0; i < 3; i++ {
		if err := conn.Do(ctx, func(r plc.Registers) error {
			_, err := r.ReadHoldingRegisters(0, 1)
			return err
		}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if dev.Dials() != 1 {
		t.Errorf("dials = %d, want 1", dev.Dials())
	}
	if st := conn.Stats(); st.Calls != 3 || st.CallErrors != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestConn_ReconnectsAfterFieldBusError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		reconnect bool
	}{
		{"connection", errors.Mark(io.EOF, errors.ErrConnectionFailed), true},
		{"timeout", errors.Mark(fmt.Errorf("slow"), errors.ErrTimeout), true},
		{"exception", errors.Mark(fmt.Errorf("illegal address"), errors.ErrProtocol), false},
		{"caller", fmt.Errorf("decode failed"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := plctest.NewDevice()
			conn := plc.New(dev.Dialer())
			ctx := context.Background()

			dev.FailNext(tt.err)
			err := conn.Do(ctx, func(r plc.Registers) error {
				_, err := r.ReadHoldingRegisters(0, 1)
				return err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if conn.Connected() == tt.reconnect {
				t.Errorf("connected = %v after %v", conn.Connected(), err)
			}

			if err := conn.Do(ctx, func(r plc.Registers) error {
				_, err := r.ReadHoldingRegisters(0, 1)
				return err
			}); err != nil {
				t.Fatalf("second call: %v", err)
			}
			want := 1
			if tt.reconnect {
				want = 2
			}
			if dev.Dials() != want {
				t.Errorf("dials = %d, want %d", dev.Dials(), want)
			}
			if dev.Open() != 1 {
				t.Errorf("%d clients left open", dev.Open())
			}
		})
	}
}

func TestConn_DialFailure(t *testing.T) {
	dev := plctest.NewDevice()
	dev.FailDial(fmt.Errorf("refused"))
	conn := plc.New(dev.Dialer())

	called := false
	err := conn.Do(context.Background(), func(plc.Registers) error {
		called = true
		return nil
	})
	if !errors.Is(err, errors.ErrConnectionFailed) {
		t.Errorf("err = %v, want ErrConnectionFailed", err)
	}
	if called {
		t.Error("fn ran without a connection")
	}
	if st := conn.Stats(); st.DialErrors != 1 || st.LastError == "" {
		t.Errorf("stats = %+v", st)
	}

	dev.FailDial(nil)
	if err := conn.Do(context.Background(), func(plc.Registers) error { return nil }); err != nil {
		t.Errorf("after recovery: %v", err)
	}
}

func TestConn_CanceledContext(t *testing.T) {
	dev := plctest.NewDevice()
	conn := plc.New(dev.Dialer())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := conn.Do(ctx, func(plc.Registers) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if dev.Dials() != 0 {
		t.Error("dialed with a canceled context")
	}
}

func TestConn_Reset(t *testing.T) {
	dev := plctest.NewDevice()
	conn := plc.New(dev.Dialer())
	ctx := context.Background()

	conn.Do(ctx, func(plc.Registers) error { return nil })
	if err := conn.Reset(); err != nil {
		t.Fatal(err)
	}
	if conn.Connected() || dev.Open() != 0 {
		t.Error("reset left the client open")
	}
	if err := conn.Reset(); err != nil {
		t.Errorf("second reset: %v", err)
	}
	conn.Do(ctx, func(plc.Registers) error { return nil })
	if dev.Dials() != 2 {
		t.Errorf("dials = %d, want 2", dev.Dials())
	}
}

func TestReadBlock(t *testing.T) {
	dev := plctest.NewDevice()
	for i := 0; i < 300; i++ {
		dev.Set(uint16(1000+i), uint16(i))
	}
	conn := plc.New(dev.Dialer())

	var w register.Window
	err := conn.Do(context.Background(), func(r plc.Registers) error {
		var err error
		w, err = plc.ReadBlock(r, 1000, 300)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if w.Base != 1000 || len(w.Words) != 300 || w.Words[0] != 0 || w.Words[299] != 299 {
		t.Errorf("window base %d, %d words", w.Base, len(w.Words))
	}
	if dev.Reads() != 3 {
		t.Errorf("reads = %d, want 3 requests of at most %d", dev.Reads(), plc.MaxReadCount)
	}
}

type shortReader struct{ plc.Registers }

func (shortReader) ReadHoldingRegisters(addr, count uint16) ([]uint16, error) {
	return make([]uint16, count-1), nil
}

func TestReadBlock_Errors(t *testing.T) {
	if _, err := plc.ReadBlock(shortReader{}, 0, 10); !errors.Is(err, errors.ErrProtocol) {
		t.Errorf("short read: err = %v, want ErrProtocol", err)
	}
	if _, err := plc.ReadBlock(shortReader{}, 65530, 10); !errors.Is(err, errors.ErrAddressOutOfRange) {
		t.Errorf("overflow: err = %v, want ErrAddressOutOfRange", err)
	}
	w, err := plc.ReadBlock(shortReader{}, 7, 0)
	if err != nil || w.Base != 7 || len(w.Words) != 0 {
		t.Errorf("empty block = %+v, %v", w, err)
	}
}

func TestWindowSource(t *testing.T) {
	dev := plctest.NewDevice()
	dev.Set(100, 7, 8, 9)
	src := plc.NewWindowSource(plc.New(dev.Dialer()), catalog.Window{Base: 100, Count: 3})

	w, err := src.ReadWindow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := w.Decode(102, register.Uint16, register.HighFirst); !ok || v != 9 {
		t.Errorf("decode = %v %v", v, ok)
	}
	if !src.Connected() {
		t.Error("not connected after a read")
	}
	src.Reset()
	if src.Connected() {
		t.Error("connected after reset")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{modbus.ErrRequestTimedOut, errors.ErrTimeout},
		{modbus.ErrIllegalDataAddress, errors.ErrProtocol},
		{modbus.ErrServerDeviceBusy, errors.ErrProtocol},
		{io.EOF, errors.ErrConnectionFailed},
		{fmt.Errorf("read: %w", modbus.ErrIllegalFunction), errors.ErrProtocol},
	}
	for _, tt := range tests {
		if got := plc.Classify(tt.err); !errors.Is(got, tt.want) || !errors.Is(got, tt.err) {
			t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestConfigURL(t *testing.T) {
	if got := (plc.Config{Host: "10.0.0.5"}).URL(); got != "tcp://10.0.0.5:502" {
		t.Errorf("url = %s", got)
	}
	if got := (plc.Config{Host: "::1", Port: 1502}).URL(); got != "tcp://[::1]:1502" {
		t.Errorf("url = %s", got)
	}
}
