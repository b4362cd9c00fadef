package plc

import (
	"context"
	"fmt"

	"github.com/xtxerr/plclogger/internal/catalog"
	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/register"
)

// MaxReadCount is the largest register count of one read request.
const MaxReadCount = 125

// ReadBlock reads count holding registers starting at base, splitting the
// request when it exceeds MaxReadCount.
func ReadBlock(r Registers, base uint16, count int) (register.Window, error) {
	if count <= 0 {
		return register.Window{Base: base}, nil
	}
	if int(base)+count > 1<<16 {
		return register.Window{}, fmt.Errorf("block %d@%d: %w", count, base, errors.ErrAddressOutOfRange)
	}

	words := make([]uint16, 0, count)
	for len(words) < count {
		n := min(count-len(words), MaxReadCount)
		addr := base + uint16(len(words))
		got, err := r.ReadHoldingRegisters(addr, uint16(n))
		if err != nil {
			return register.Window{}, err
		}
		if len(got) != n {
			return register.Window{}, errors.Mark(
				fmt.Errorf("read %d@%d: got %d registers", n, addr, len(got)), errors.ErrProtocol)
		}
		words = append(words, got...)
	}
	return register.Window{Base: base, Words: words}, nil
}

// WindowSource reads the catalog status window through a Conn.
type WindowSource struct {
	conn   *Conn
	window catalog.Window
}

// NewWindowSource creates a source for w.
func NewWindowSource(conn *Conn, w catalog.Window) *WindowSource {
	return &WindowSource{conn: conn, window: w}
}

// ReadWindow reads the whole status window.
func (s *WindowSource) ReadWindow(ctx context.Context) (register.Window, error) {
	var out register.Window
	err := s.conn.Do(ctx, func(r Registers) error {
		w, err := ReadBlock(r, s.window.Base, s.window.Count)
		out = w
		return err
	})
	return out, err
}

// Reset forces a reconnect on the next read.
func (s *WindowSource) Reset() error {
	return s.conn.Reset()
}

// Connected reports whether the underlying connection is open.
func (s *WindowSource) Connected() bool {
	return s.conn.Connected()
}
