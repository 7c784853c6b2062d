// Package protocol defines the wire vocabulary of the replication stream:
// stream command words, opcode packing, the primitive codec, and the
// error taxonomy shared by every layer above it.
package protocol

import "fmt"

// Command is a top-level stream token that is not addressed to an object.
type Command uint32

// Stream command words. Any other word on the wire is an opcode.
const (
	DoNothing   Command = 0x00000000 // padding / heartbeat
	Version     Command = 0x11111111 // Version <n>
	Connect     Command = 0x22222222 // Connect <handle> <name>
	SetStreamID Command = 0x33333333 // SetStreamID <id>
	Exit        Command = 0x44444444 // Exit <streamID>
	Begin       Command = 0x55555555 // Begin <streamID>
	End         Command = 0x66666666 // End
	Sync        Command = 0x77777777 // Sync <mask>
	Event       Command = 0x08888888 // Event <code> <payload...>
	Remap       Command = 0x99999999 // Remap <old> <new> <mask>
	VecSize     Command = 0xAAAAAAAA // VecSize <n>
)

var commandNames = map[Command]string{
	DoNothing:   "DoNothing",
	Version:     "Version",
	Connect:     "Connect",
	SetStreamID: "SetStreamID",
	Exit:        "Exit",
	Begin:       "Begin",
	End:         "End",
	Sync:        "Sync",
	Event:       "Event",
	Remap:       "Remap",
	VecSize:     "VecSize",
}

// IsCommand reports whether w is one of the stream command words.
func IsCommand(w uint32) bool {
	_, ok := commandNames[Command(w)]
	return ok
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(0x%08X)", uint32(c))
}

// ──────────────────────────────────────────────────────────────────────────────
// Opcodes
// ──────────────────────────────────────────────────────────────────────────────

// Opcode packs a class id and an operation selector into one wire word.
func Opcode(classID, op uint16) uint32 {
	return uint32(classID)<<16 | uint32(op)
}

// SplitOpcode recovers the class id and operation from an opcode word.
// Only the low 8 bits of the class field are significant on decode.
func SplitOpcode(w uint32) (classID uint16, op uint16) {
	return uint16((w >> 16) & 0xFF), uint16(w & 0xFFFF)
}
