// Package object defines the contract between the replication engine and
// the application's replicable types: how an object serializes itself, how
// it applies a decoded opcode, and the flags the engine keeps on it.
package object

import "github.com/1ureka/graphsync/internal/protocol"

// Flags is the replication bitset stored on every object.
type Flags uint32

const (
	Changed  Flags = 1       // mutated since last frame
	Inactive Flags = 2       // received disabled
	DoEvents Flags = 4       // generates events
	Shared   Flags = 1 << 12 // sent to peers that request the scene
	Global   Flags = 1 << 13 // every update is streamed to peers
	Saved    Flags = 1 << 14 // fully serialized in the current pass
	NoFree   Flags = 1 << 15
)

// SaveMode selects what CanSave does with an object.
type SaveMode int

const (
	SaveDefault     SaveMode = iota // full save unless already SAVED
	SaveDistribute                  // full save if the object or its class is shared
	SaveAttach                      // attach and name only
	SaveDetach                      // detach, emit nothing
	SaveClearGlobal                 // drop SHARED/GLOBAL, emit nothing
)

// Base operations understood by every class. Class-specific operations
// start at OpNext.
const (
	OpCreate     uint16 = 1
	OpSetName    uint16 = 2
	OpCopy       uint16 = 3
	OpDelete     uint16 = 4
	OpPrint      uint16 = 5
	OpSetNameKey uint16 = 6
	OpSetActive  uint16 = 7
	OpSetFlags   uint16 = 8
	OpNext       uint16 = 20
)

// ClassObj is the class id used for base operations that apply to any class.
const ClassObj uint16 = 1

// Object is a replicable node of the application graph. The engine never
// owns objects; it keeps references for lookup only.
type Object interface {
	ClassID() uint16
	ID() int32
	SetID(id int32)
	Name() string
	SetName(name string)
	Flags() Flags
	SetFlags(f Flags)
	ClearFlags(f Flags)

	// Encode writes the object to enc and returns its handle, 0 when only a
	// reference was needed, or -1 when the object is not saved at all.
	Encode(enc Encoder, mode SaveMode) int32

	// Apply decodes the arguments of op from dec and applies them. It
	// returns false for an operation the class does not understand.
	Apply(dec Decoder, op uint16) bool
}

// Encoder is the output side of a stream as seen by an object.
type Encoder interface {
	// CanSave attaches obj and decides whether it must be fully written.
	// See SaveMode for the return convention.
	CanSave(obj Object, mode SaveMode) int32

	WriteOp(classID, op uint16)
	WriteInt32(v int32)
	WriteInt16(v int16)
	WriteInt64(v int64)
	WriteFloat32(v float32)
	WriteString(s string)

	// WriteRef writes the handle of obj, attaching it first if needed.
	// A nil object is written as 0.
	WriteRef(obj Object)
}

// Decoder is the input side of a stream as seen by an object.
type Decoder interface {
	ReadInt32() int32
	ReadInt16() int16
	ReadInt64() int64
	ReadFloat32() float32
	ReadString() string

	// ReadRef reads a handle and resolves it to a live object, or nil.
	ReadRef() Object

	// Define binds a name to obj in the stream's name dictionary.
	Define(name string, obj Object) bool

	Err() error
}

// Opcode is a convenience for protocol.Opcode.
func Opcode(classID, op uint16) uint32 { return protocol.Opcode(classID, op) }
