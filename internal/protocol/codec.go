package protocol

import (
	"encoding/binary"
	"io"
	"math"
	"strings"
)

// ByteOrder is the fixed byte order of every multi-byte value on the wire.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// OrderFor maps a configuration name to a byte order. Anything other than
// "little" selects big-endian.
func OrderFor(name string) ByteOrder {
	if strings.EqualFold(name, "little") {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// ──────────────────────────────────────────────────────────────────────────────
// Encoder
// ──────────────────────────────────────────────────────────────────────────────

// Encoder appends wire values to a growable buffer.
type Encoder struct {
	order ByteOrder
	buf   []byte
}

// NewEncoder creates an encoder with the given byte order (big-endian if nil).
func NewEncoder(order ByteOrder) *Encoder {
	if order == nil {
		order = binary.BigEndian
	}
	return &Encoder{order: order}
}

// Bytes returns the encoded bytes. The slice aliases the encoder's buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of bytes written.
func (e *Encoder) Len() int { return len(e.buf) }

// Reset discards all written bytes, keeping the allocation.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// Write appends raw bytes.
func (e *Encoder) Write(p []byte) (int, error) {
	e.buf = append(e.buf, p...)
	return len(p), nil
}

func (e *Encoder) WriteUint32(v uint32) { e.buf = e.order.AppendUint32(e.buf, v) }
func (e *Encoder) WriteInt32(v int32) { e.WriteUint32(uint32(v)) }
func (e *Encoder) WriteInt16(v int16) { e.buf = e.order.AppendUint16(e.buf, uint16(v)) }
func (e *Encoder) WriteInt64(v int64) { e.buf = e.order.AppendUint64(e.buf, uint64(v)) }

func (e *Encoder) WriteFloat32(v float32) { e.WriteUint32(math.Float32bits(v)) }

// WriteCommand writes a stream command word followed by its integer arguments.
func (e *Encoder) WriteCommand(c Command, args ...int32) {
	e.WriteUint32(uint32(c))
	for _, a := range args {
		e.WriteInt32(a)
	}
}

// WriteString writes a padded length, the string bytes, and zero padding up
// to a 4-byte boundary. The empty string is a single zero length word.
func (e *Encoder) WriteString(s string) {
	n := len(s)
	if n == 0 {
		e.WriteInt32(0)
		return
	}
	padded := PaddedLen(n)
	e.WriteInt32(int32(padded))
	e.buf = append(e.buf, s...)
	for i := n; i < padded; i++ {
		e.buf = append(e.buf, 0)
	}
}

// PaddedLen rounds n up to the next multiple of four.
func PaddedLen(n int) int {
	return (n + 3) &^ 3
}

// ──────────────────────────────────────────────────────────────────────────────
// Decoder
// ──────────────────────────────────────────────────────────────────────────────

// Decoder reads wire values from a stream. The first failure is sticky:
// later reads return zero values and Err reports the original cause.
type Decoder struct {
	order   ByteOrder
	r       io.Reader
	scratch [8]byte
	err     error
}

// NewDecoder creates a decoder over r with the given byte order.
func NewDecoder(r io.Reader, order ByteOrder) *Decoder {
	if order == nil {
		order = binary.BigEndian
	}
	return &Decoder{order: order, r: r}
}

// Err returns the first error encountered, if any.
func (d *Decoder) Err() error { return d.err }

// Reset clears a sticky error so decoding can resume at the next frame.
func (d *Decoder) Reset() { d.err = nil }

func (d *Decoder) fill(n int) []byte {
	if d.err != nil {
		return nil
	}
	b := d.scratch[:n]
	if _, err := io.ReadFull(d.r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		d.err = &Error{Code: CodeTruncated, Msg: "short read", Err: err}
		return nil
	}
	return b
}

func (d *Decoder) ReadUint32() uint32 {
	b := d.fill(4)
	if b == nil {
		return 0
	}
	return d.order.Uint32(b)
}

func (d *Decoder) ReadInt32() int32 { return int32(d.ReadUint32()) }

func (d *Decoder) ReadInt16() int16 {
	b := d.fill(2)
	if b == nil {
		return 0
	}
	return int16(d.order.Uint16(b))
}

func (d *Decoder) ReadInt64() int64 {
	b := d.fill(8)
	if b == nil {
		return 0
	}
	return int64(d.order.Uint64(b))
}

func (d *Decoder) ReadFloat32() float32 { return math.Float32frombits(d.ReadUint32()) }

// ReadString reads a padded string and strips the trailing zero padding.
func (d *Decoder) ReadString() string {
	n := d.ReadInt32()
	if d.err != nil || n == 0 {
		return ""
	}
	if n < 0 || n > MaxString {
		d.err = &Error{Code: CodeMalformed, Msg: "string length out of range", Err: ErrStringTooLong}
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = &Error{Code: CodeTruncated, Msg: "short string", Err: io.ErrUnexpectedEOF}
		return ""
	}
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}
