package object

import "sync"

// Base carries the state every replicable object needs. Embed it and
// implement ClassID, Encode and Apply on the outer type.
type Base struct {
	mu    sync.RWMutex
	id    int32
	name  string
	flags Flags
}

func (b *Base) ID() int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

func (b *Base) SetID(id int32) {
	b.mu.Lock()
	b.id = id
	b.mu.Unlock()
}

func (b *Base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

func (b *Base) SetName(name string) {
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
}

func (b *Base) Flags() Flags {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.flags
}

func (b *Base) SetFlags(f Flags) {
	b.mu.Lock()
	b.flags |= f
	b.mu.Unlock()
}

func (b *Base) ClearFlags(f Flags) {
	b.mu.Lock()
	b.flags &^= f
	b.mu.Unlock()
}

// IsActive reports whether the object is not marked INACTIVE.
func (b *Base) IsActive() bool { return b.Flags()&Inactive == 0 }

// IsGlobal reports whether updates to the object are streamed to peers.
func (b *Base) IsGlobal() bool { return b.Flags()&Global != 0 }

// ──────────────────────────────────────────────────────────────────────────────
// Base encode / apply
// ──────────────────────────────────────────────────────────────────────────────

// EncodeBase writes the part of obj every class shares: the Create opcode
// (through CanSave), its name, and its user-visible flags. classSharing is
// the class-level sharing default; INACTIVE there forces INACTIVE on the
// wire. Outer Encode methods call it first and stop when it returns <= 0.
func EncodeBase(obj Object, enc Encoder, mode SaveMode, classSharing Flags) int32 {
	h := enc.CanSave(obj, mode)
	if h <= 0 {
		return h
	}
	if name := obj.Name(); name != "" {
		enc.WriteOp(obj.ClassID(), OpSetName)
		enc.WriteInt32(h)
		enc.WriteString(name)
	}
	flags := obj.Flags() & (Inactive | DoEvents)
	if classSharing&Inactive != 0 {
		flags |= Inactive
	}
	if flags != 0 {
		enc.WriteOp(ClassObj, OpSetFlags)
		enc.WriteInt32(h)
		enc.WriteInt32(int32(flags))
	}
	return h
}

// ApplyBase handles the base operations for obj. Outer Apply methods fall
// back to it for ops they do not recognize.
func ApplyBase(obj Object, dec Decoder, op uint16) bool {
	switch op {
	case OpSetName:
		name := dec.ReadString()
		if dec.Err() != nil {
			return false
		}
		dec.Define(name, obj)
		return true

	case OpSetNameKey:
		// Keyed names are secondary labels; only key 0 identifies an object.
		key := dec.ReadInt32()
		name := dec.ReadString()
		if key == 0 && dec.Err() == nil {
			dec.Define(name, obj)
		}
		return dec.Err() == nil

	case OpSetActive:
		if dec.ReadInt32() != 0 {
			obj.ClearFlags(Inactive)
		} else {
			obj.SetFlags(Inactive)
		}
		return dec.Err() == nil

	case OpSetFlags:
		f := Flags(dec.ReadInt32())
		if dec.Err() != nil {
			return false
		}
		obj.SetFlags(f & (Inactive | DoEvents | Changed))
		return true
	}
	return false
}
