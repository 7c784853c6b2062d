package messenger

import (
	"github.com/1ureka/graphsync/internal/object"
	"github.com/1ureka/graphsync/internal/protocol"
)

// LogType selects the buffered log a transaction is committed to.
type LogType int

const (
	FastLog   LogType = iota // sent when updates are on, never replayed
	UpdateLog                // sent when updates are on, never replayed
	EventLog                 // sent when events are on, replayed locally
	LocalLog                 // sent when updates are on, replayed locally
	CommandLog               // protocol commands, sent to every peer, never replayed

	LogCount = int(CommandLog) + 1
)

var logNames = [LogCount]string{"fast", "update", "event", "local", "command"}

func (l LogType) String() string {
	if l >= 0 && int(l) < len(logNames) {
		return logNames[l]
	}
	return "log?"
}

// Replayed reports whether transactions on this log are also applied to
// the local graph at the next Load.
func (l LogType) Replayed() bool { return l == EventLog || l == LocalLog }

// Sink receives committed transactions. target is the connection a
// directed transaction is for, 0 for a broadcast one.
type Sink interface {
	Commit(log LogType, target int, p []byte) error
}

// Tx is an open output transaction. Its bytes reach the sink or the output
// writer as one unit when the outermost End is called. Transactions belong
// to the frame loop and are not safe for concurrent use.
type Tx struct {
	m      *Messenger
	log    LogType
	target int
	enc    *protocol.Encoder
	depth  int
	detach bool // never committed, see Capture
}

var _ object.Encoder = (*Tx)(nil)

// BeginOp opens a transaction on log. Opening one while another is open
// joins the open one.
func (m *Messenger) BeginOp(log LogType) *Tx {
	return m.begin(log, 0)
}

// BeginDirect opens a transaction that is delivered to one connection only.
func (m *Messenger) BeginDirect(conn int) *Tx {
	return m.begin(FastLog, conn)
}

func (m *Messenger) begin(log LogType, target int) *Tx {
	if m.cur != nil {
		m.cur.depth++
		return m.cur
	}
	m.cur = &Tx{m: m, log: log, target: target, enc: protocol.NewEncoder(m.order), depth: 1}
	return m.cur
}

// Capture runs fn against a transaction that is never committed and
// returns the bytes written to it. Objects are written in full even when
// updates are off. Transactions opened inside fn join it.
func (m *Messenger) Capture(fn func(tx *Tx)) []byte {
	prev := m.cur
	tx := &Tx{m: m, log: FastLog, enc: protocol.NewEncoder(m.order), depth: 1, detach: true}
	m.cur = tx
	defer func() { m.cur = prev }()
	fn(tx)
	return tx.enc.Bytes()
}

// Log returns the log the transaction commits to.
func (tx *Tx) Log() LogType { return tx.log }

// Target returns the connection of a directed transaction, or 0.
func (tx *Tx) Target() int { return tx.target }

// Len returns the number of bytes written so far.
func (tx *Tx) Len() int { return tx.enc.Len() }

// End closes the transaction. The outermost End commits it.
func (tx *Tx) End() error {
	tx.depth--
	if tx.depth > 0 || tx.detach {
		return nil
	}
	m := tx.m
	if m.cur == tx {
		m.cur = nil
	}
	return m.commit(tx.log, tx.target, tx.enc.Bytes())
}

func (m *Messenger) commit(log LogType, target int, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if log.Replayed() {
		m.replayMu.Lock()
		m.replay = append(m.replay, p)
		m.replayMu.Unlock()
	}
	switch {
	case m.sink != nil:
		return m.sink.Commit(log, target, p)
	case m.out != nil:
		_, err := m.out.Write(p)
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// object.Encoder
// ---------------------------------------------------------------------------

func (tx *Tx) CanSave(obj object.Object, mode object.SaveMode) int32 {
	return tx.m.CanSave(tx, obj, mode)
}

func (tx *Tx) WriteOp(classID, op uint16) { tx.enc.WriteUint32(protocol.Opcode(classID, op)) }

func (tx *Tx) WriteInt32(v int32) { tx.enc.WriteInt32(v) }
func (tx *Tx) WriteInt16(v int16) { tx.enc.WriteInt16(v) }
func (tx *Tx) WriteInt64(v int64) { tx.enc.WriteInt64(v) }
func (tx *Tx) WriteFloat32(v float32) { tx.enc.WriteFloat32(v) }
func (tx *Tx) WriteString(s string) { tx.enc.WriteString(s) }

// WriteRef writes the handle of obj, attaching it when it has none.
func (tx *Tx) WriteRef(obj object.Object) {
	var h int32
	if obj != nil {
		if h = obj.ID(); h == 0 {
			var err error
			if h, err = tx.m.Attach(obj, 0); err != nil {
				tx.m.fail(err)
			}
		}
	}
	tx.enc.WriteInt32(h)
}

// WriteCommand writes a stream command word and its arguments.
func (tx *Tx) WriteCommand(c protocol.Command, args ...int32) {
	tx.enc.WriteCommand(c, args...)
}

// WriteEvent writes an Event command followed by the event's payload.
func (tx *Tx) WriteEvent(ev object.Event) {
	tx.enc.WriteCommand(protocol.Event, ev.Code())
	ev.EncodePayload(tx)
}
