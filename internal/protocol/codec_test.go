package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

// TestWriteStringPadding verifies the exact on-wire bytes of padded strings.
func TestWriteStringPadding(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want []byte
	}{
		{
			name: "empty string is a zero length word",
			in:   "",
			want: []byte{0, 0, 0, 0},
		},
		{
			name: "one byte pads to four",
			in:   "a",
			want: []byte{0, 0, 0, 4, 'a', 0, 0, 0},
		},
		{
			name: "exact multiple of four has no padding",
			in:   "root",
			want: []byte{0, 0, 0, 4, 'r', 'o', 'o', 't'},
		},
		{
			name: "five bytes pad to eight",
			in:   "scene",
			want: []byte{0, 0, 0, 8, 's', 'c', 'e', 'n', 'e', 0, 0, 0},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			enc := NewEncoder(binary.BigEndian)
			enc.WriteString(tc.in)
			if !bytes.Equal(enc.Bytes(), tc.want) {
				t.Fatalf("encoded % x, want % x", enc.Bytes(), tc.want)
			}

			dec := NewDecoder(bytes.NewReader(enc.Bytes()), binary.BigEndian)
			if got := dec.ReadString(); got != tc.in {
				t.Errorf("decoded %q, want %q", got, tc.in)
			}
			if dec.Err() != nil {
				t.Errorf("unexpected error: %v", dec.Err())
			}
		})
	}
}

// TestScalarsLittleEndian checks that the configured byte order is honored.
func TestScalarsLittleEndian(t *testing.T) {
	enc := NewEncoder(OrderFor("little"))
	enc.WriteInt32(-2)
	enc.WriteInt16(7)
	enc.WriteInt64(1 << 40)
	enc.WriteFloat32(1.5)

	if enc.Bytes()[0] != 0xFE {
		t.Fatalf("first byte 0x%02x, want 0xfe for little-endian -2", enc.Bytes()[0])
	}

	dec := NewDecoder(bytes.NewReader(enc.Bytes()), OrderFor("LITTLE"))
	if v := dec.ReadInt32(); v != -2 {
		t.Errorf("int32 = %d, want -2", v)
	}
	if v := dec.ReadInt16(); v != 7 {
		t.Errorf("int16 = %d, want 7", v)
	}
	if v := dec.ReadInt64(); v != 1<<40 {
		t.Errorf("int64 = %d, want %d", v, int64(1<<40))
	}
	if v := dec.ReadFloat32(); v != 1.5 {
		t.Errorf("float32 = %v, want 1.5", v)
	}
}

// TestDecoderStickyError verifies truncated input poisons the decoder.
func TestDecoderStickyError(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte{0, 0}), binary.BigEndian)

	if v := dec.ReadInt32(); v != 0 {
		t.Errorf("ReadInt32 on short input = %d, want 0", v)
	}
	if !errors.Is(dec.Err(), io.ErrUnexpectedEOF) {
		t.Fatalf("Err() = %v, want io.ErrUnexpectedEOF", dec.Err())
	}

	var perr *Error
	if !errors.As(dec.Err(), &perr) || perr.Code != CodeTruncated {
		t.Errorf("Err() = %v, want *Error with CodeTruncated", dec.Err())
	}

	// Later reads keep returning zero without replacing the first error.
	first := dec.Err()
	_ = dec.ReadString()
	if dec.Err() != first {
		t.Errorf("sticky error replaced: %v", dec.Err())
	}

	dec.Reset()
	if dec.Err() != nil {
		t.Errorf("Reset did not clear error")
	}
}

// TestReadStringRejectsOversize verifies the string length bound.
func TestReadStringRejectsOversize(t *testing.T) {
	enc := NewEncoder(nil)
	enc.WriteInt32(MaxString + 4)

	dec := NewDecoder(bytes.NewReader(enc.Bytes()), nil)
	if s := dec.ReadString(); s != "" {
		t.Errorf("ReadString = %q, want empty", s)
	}
	if !errors.Is(dec.Err(), ErrStringTooLong) {
		t.Errorf("Err() = %v, want ErrStringTooLong", dec.Err())
	}
}

// TestOpcodePacking verifies opcode packing and the 8-bit class mask on decode.
func TestOpcodePacking(t *testing.T) {
	w := Opcode(7, 1)
	if w != 0x00070001 {
		t.Fatalf("Opcode(7, 1) = 0x%08x", w)
	}

	cls, op := SplitOpcode(w)
	if cls != 7 || op != 1 {
		t.Errorf("SplitOpcode = (%d, %d), want (7, 1)", cls, op)
	}

	cls, op = SplitOpcode(Opcode(0x1207, 20))
	if cls != 0x07 || op != 20 {
		t.Errorf("SplitOpcode high class = (0x%x, %d), want (0x7, 20)", cls, op)
	}
}

// TestIsCommand distinguishes stream command words from opcodes.
func TestIsCommand(t *testing.T) {
	for _, c := range []Command{DoNothing, Version, Connect, SetStreamID, Exit, Begin, End, Sync, Event, Remap, VecSize} {
		if !IsCommand(uint32(c)) {
			t.Errorf("IsCommand(%s) = false", c)
		}
	}
	if IsCommand(Opcode(9, 2)) {
		t.Errorf("IsCommand(opcode) = true")
	}
	if got := End.String(); got != "End" {
		t.Errorf("End.String() = %q", got)
	}
}

// TestSyncTable verifies the per-connection sync bits.
func TestSyncTable(t *testing.T) {
	table := NewSyncTable(MaxHosts)

	testCases := []struct {
		conn int
		want uint32
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{3, 4},
		{23, 1 << 22},
		{24, 0},
		{-1, 0},
	}
	for _, tc := range testCases {
		if got := table.Flag(tc.conn); got != tc.want {
			t.Errorf("Flag(%d) = 0x%x, want 0x%x", tc.conn, got, tc.want)
		}
	}
}

// TestVecSizeFor verifies the version-gated vector width table.
func TestVecSizeFor(t *testing.T) {
	testCases := []struct {
		version int32
		want    int32
	}{
		{0, 3},
		{1, 3},
		{3, 3},
		{4, 4},
		{CurrentVersion, 4},
		{CurrentVersion + 5, 4},
	}
	for _, tc := range testCases {
		if got := VecSizeFor(tc.version); got != tc.want {
			t.Errorf("VecSizeFor(%d) = %d, want %d", tc.version, got, tc.want)
		}
	}
}
