// Package wire provides a length-delimited protobuf stream of log rows.
//
// Each row is one message preceded by its varint length, the framing used
// by protodelim:
//
//	message LogRow {
//	  string ts    = 1;
//	  string tag   = 2;
//	  double value = 3; // absent when null
//	  string unit  = 4;
//	}
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xtxerr/plclogger/config"
	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

// ContentType is the media type of a row stream.
const ContentType = "application/x-protobuf; messageType=plclogger.LogRow; delimited=true"

const (
	fieldTs    protowire.Number = 1
	fieldTag   protowire.Number = 2
	fieldValue protowire.Number = 3
	fieldUnit  protowire.Number = 4
)

// Marshal encodes one row without its length prefix.
func Marshal(r types.LogRow) []byte {
	b := make([]byte, 0, 64)
	b = protowire.AppendTag(b, fieldTs, protowire.BytesType)
	b = protowire.AppendString(b, r.Timestamp)
	b = protowire.AppendTag(b, fieldTag, protowire.BytesType)
	b = protowire.AppendString(b, r.Tag)
	if r.Value != nil {
		b = protowire.AppendTag(b, fieldValue, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, protowire.EncodeDouble(*r.Value))
	}
	if r.Unit != "" {
		b = protowire.AppendTag(b, fieldUnit, protowire.BytesType)
		b = protowire.AppendString(b, r.Unit)
	}
	return b
}

// Unmarshal decodes one row. Unknown fields are skipped.
func Unmarshal(b []byte) (types.LogRow, error) {
	var r types.LogRow
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, protoErr(n)
		}
		b = b[n:]

		switch {
		case num == fieldTs && typ == protowire.BytesType:
			r.Timestamp, n = protowire.ConsumeString(b)
		case num == fieldTag && typ == protowire.BytesType:
			r.Tag, n = protowire.ConsumeString(b)
		case num == fieldUnit && typ == protowire.BytesType:
			r.Unit, n = protowire.ConsumeString(b)
		case num == fieldValue && typ == protowire.Fixed64Type:
			var bits uint64
			bits, n = protowire.ConsumeFixed64(b)
			if n >= 0 {
				r.Value = types.Float(protowire.DecodeDouble(bits))
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return r, protoErr(n)
		}
		b = b[n:]
	}
	return r, nil
}

func protoErr(n int) error {
	return errors.Mark(fmt.Errorf("decode row: %w", protowire.ParseError(n)), errors.ErrProtocol)
}

// Reader reads length-delimited rows from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r       *bufio.Reader
	maxSize int
	mu      sync.Mutex
}

// NewReader creates a Reader wrapping the given io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), maxSize: config.DefaultMaxMessageSize}
}

// Read returns the next row, or io.EOF at a clean end of stream.
func (r *Reader) Read() (types.LogRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size, err := binary.ReadUvarint(r.r)
	if err != nil {
		if err == io.EOF {
			return types.LogRow{}, io.EOF
		}
		return types.LogRow{}, fmt.Errorf("read length: %w", err)
	}
	if size > uint64(r.maxSize) {
		return types.LogRow{}, errors.Mark(
			fmt.Errorf("row of %d bytes exceeds %d", size, r.maxSize), errors.ErrProtocol)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return types.LogRow{}, fmt.Errorf("read row: %w", err)
	}
	return Unmarshal(buf)
}

// Writer writes length-delimited rows to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w   io.Writer
	buf []byte
	mu  sync.Mutex
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write writes one row with its length prefix.
func (w *Writer) Write(r types.LogRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	msg := Marshal(r)
	w.buf = protowire.AppendVarint(w.buf[:0], uint64(len(msg)))
	w.buf = append(w.buf, msg...)
	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	return nil
}

// WriteAll writes rows in order.
func (w *Writer) WriteAll(rows []types.LogRow) error {
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}
