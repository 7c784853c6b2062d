package messenger

import (
	"github.com/1ureka/graphsync/internal/object"
	"github.com/1ureka/graphsync/internal/protocol"
	"github.com/1ureka/graphsync/internal/transport"
)

// Reader is the decode side handed to objects, events and extensions while
// a stream is applied. Inbound handles pass through the extension's
// LookupHandle, except while replaying local logs.
type Reader struct {
	m     *Messenger
	dec   *protocol.Decoder
	local bool
}

var _ object.Decoder = (*Reader)(nil)

func (r *Reader) ReadInt32() int32 { return r.dec.ReadInt32() }
func (r *Reader) ReadUint32() uint32 { return r.dec.ReadUint32() }
func (r *Reader) ReadInt16() int16 { return r.dec.ReadInt16() }
func (r *Reader) ReadInt64() int64 { return r.dec.ReadInt64() }
func (r *Reader) ReadFloat32() float32 { return r.dec.ReadFloat32() }
func (r *Reader) ReadString() string { return r.dec.ReadString() }
func (r *Reader) Err() error { return r.dec.Err() }

// Local reports whether the stream being applied is a local replay.
func (r *Reader) Local() bool { return r.local }

// Messenger returns the messenger applying the stream.
func (r *Reader) Messenger() *Messenger { return r.m }

// ReadHandle reads a handle and maps it to the local handle space.
func (r *Reader) ReadHandle() int32 {
	h := r.dec.ReadInt32()
	if h > 0 && !r.local && r.m.ext != nil {
		h = r.m.ext.LookupHandle(h)
	}
	return h
}

// ReadRef reads a handle and resolves it to a live object, or nil.
func (r *Reader) ReadRef() object.Object {
	h := r.ReadHandle()
	if h <= 0 {
		return nil
	}
	return r.m.table.Get(h)
}

func (r *Reader) Define(name string, obj object.Object) bool {
	return r.m.Define(name, obj)
}

// ---------------------------------------------------------------------------
// Decode loop
// ---------------------------------------------------------------------------

// Command results that stop the decode loop. FrameSkip also drops the
// rest of the frame: after an unknown command or event its remaining
// words cannot be told apart from commands.
const (
	FrameEnd  int32 = -1
	FrameSkip int32 = -2
)

// discarder is implemented by inputs that can drop the rest of a frame
// after a decode error.
type discarder interface {
	Discard()
}

// Load applies the transactions logged for local replay, then applies the
// input until it is empty or an End or Exit command ends the frame. Decode
// anomalies are logged and skipped; the first decode error is returned.
func (m *Messenger) Load() error {
	m.loading.Store(true)
	defer m.loading.Store(false)

	if err := m.replayLocal(); err != nil {
		return err
	}
	if m.in == nil {
		return nil
	}
	r := &Reader{m: m, dec: protocol.NewDecoder(m.in, m.order)}
	skip, err := m.decode(r, m.in)
	if skip || err != nil {
		if d, ok := m.in.(discarder); ok {
			d.Discard()
		}
	}
	return err
}

// replayLocal applies every transaction committed to a replayed log since
// the previous Load.
func (m *Messenger) replayLocal() error {
	m.replayMu.Lock()
	queue := m.replay
	m.replay = nil
	m.replayMu.Unlock()

	for _, p := range queue {
		in := transport.NewBufferStream(p)
		r := &Reader{m: m, dec: protocol.NewDecoder(in, m.order), local: true}
		if _, err := m.decode(r, in); err != nil {
			return err
		}
	}
	return nil
}

// decode applies in until the frame ends. It reports whether a command
// asked for the rest of the frame to be skipped.
func (m *Messenger) decode(r *Reader, in transport.Stream) (bool, error) {
	for !in.IsEmpty() {
		word := r.dec.ReadUint32()
		if r.dec.Err() != nil {
			break
		}
		h := m.doCommand(r, word)
		if r.dec.Err() != nil {
			break
		}
		if h == FrameSkip {
			return true, nil
		}
		if h < 0 {
			return false, nil
		}
		if h == 0 {
			continue
		}
		classID, op := protocol.SplitOpcode(word)
		m.trace.Debug().
			Str("class", m.className(classID)).
			Uint16("op", op).
			Int32("handle", h).
			Bool("local", r.local).
			Msg("opcode")
		m.apply(r, classID, op, h)
	}
	return false, r.dec.Err()
}

func (m *Messenger) apply(r *Reader, classID, op uint16, h int32) {
	switch op {
	case object.OpCreate:
		var err error
		if m.ext != nil && !r.local {
			_, err = m.ext.Create(classID, h)
		} else {
			_, err = m.Create(classID, h)
		}
		if err != nil {
			m.fail(err)
		}

	case object.OpDelete:
		obj := m.table.Get(h)
		if obj != nil && obj.ID() == h {
			m.Detach(obj)
		} else {
			m.warn("missing_object", "cannot detach %s %d: undefined", m.className(classID), h)
		}

	default:
		obj := m.table.Get(h)
		switch {
		case obj == nil:
			m.warn("missing_object", "%s %d undefined", m.className(classID), h)
		case classID != object.ClassObj && obj.ClassID()&0xFF != classID:
			m.warn("class_mismatch", "%s %d is a %s", m.className(classID), h, m.className(obj.ClassID()))
		case !obj.Apply(r, op):
			if r.dec.Err() == nil {
				m.warn("unknown_op", "%s %d unknown opcode %d", m.className(classID), h, op)
			}
		}
	}
}

// doCommand executes a stream command and returns FrameEnd or FrameSkip to
// end the frame, 0 to continue, or for an object opcode the handle that
// follows it.
func (m *Messenger) doCommand(r *Reader, word uint32) int32 {
	if protocol.IsCommand(word) {
		cmd := protocol.Command(word)
		m.trace.Debug().Stringer("cmd", cmd).Bool("local", r.local).Msg("command")
		if m.ext != nil && !r.local {
			if rc, ok := m.ext.DoCommand(r, cmd); ok {
				return rc
			}
		}
		return m.BaseCommand(r, cmd)
	}
	h := r.ReadHandle()
	if h == 0 && r.dec.Err() == nil {
		m.fail(protocol.Errorf(protocol.CodeMalformed, protocol.ErrNullHandle, "opcode %08x", word))
		return FrameSkip
	}
	return h
}

// BaseCommand executes the stream commands every messenger understands.
// Extensions fall back to it for commands they do not handle.
func (m *Messenger) BaseCommand(r *Reader, cmd protocol.Command) int32 {
	switch cmd {
	case protocol.Version:
		m.version = r.ReadInt32()

	case protocol.VecSize:
		m.vecSize = r.ReadInt32()

	case protocol.DoNothing:

	case protocol.Begin:
		r.ReadInt32()

	case protocol.End:
		return FrameEnd

	case protocol.Exit:
		if r.ReadInt32() == 0 && r.dec.Err() == nil {
			m.Stop()
		}
		return FrameEnd

	case protocol.Event:
		if !m.doEvent(r) {
			return FrameSkip
		}

	default:
		// Commands of an extension this messenger does not run carry
		// arguments it cannot skip.
		m.warn("unknown_command", "unhandled stream command %v", cmd)
		return FrameSkip
	}
	return 0
}

// doEvent reads an event and dispatches it to its observers. It returns
// false when the event is unknown or its payload could not be read.
func (m *Messenger) doEvent(r *Reader) bool {
	code := r.ReadInt32()
	if r.dec.Err() != nil {
		return false
	}
	ev := m.factory.NewEvent(code)
	if ev == nil {
		m.fail(protocol.Errorf(protocol.CodeCreate, protocol.ErrUnknownEvent, "event %d", code))
		return false
	}
	ev.DecodePayload(r)
	if r.dec.Err() != nil {
		return false
	}
	m.Dispatch(ev)
	return true
}
