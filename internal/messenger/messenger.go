// Package messenger turns a graph of shared objects into an opcode stream
// and replays such a stream onto a local graph. A Messenger owns one
// handle table, one name dictionary and one observer table, reads from a
// single input stream and writes through buffered transactions.
package messenger

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/1ureka/graphsync/internal/config"
	"github.com/1ureka/graphsync/internal/handle"
	"github.com/1ureka/graphsync/internal/object"
	"github.com/1ureka/graphsync/internal/protocol"
	"github.com/1ureka/graphsync/internal/transport"
	"github.com/1ureka/graphsync/internal/util"
)

// Extension overrides parts of the decode path. The synchronizer uses it
// to add its stream commands, remap inbound handles and control how
// objects received from peers are created.
type Extension interface {
	// DoCommand handles a stream command. It reports false to fall back
	// to the base command set, otherwise it returns the same value the
	// base does: <0 to stop, 0 to continue.
	DoCommand(r *Reader, cmd protocol.Command) (int32, bool)
	// Create instantiates or reuses the object for a Create opcode.
	Create(classID uint16, h int32) (object.Object, error)
	// LookupHandle maps a handle read from the wire to the local one.
	LookupHandle(h int32) int32
}

// Option configures a Messenger.
type Option func(*Messenger)

// WithInput sets the stream Load reads from.
func WithInput(in transport.Stream) Option {
	return func(m *Messenger) { m.in = in }
}

// WithOutput writes committed transactions straight to w in commit order.
func WithOutput(w io.Writer) Option {
	return func(m *Messenger) { m.out = w }
}

// WithSink hands committed transactions to s instead of an output writer.
func WithSink(s Sink) Option {
	return func(m *Messenger) { m.sink = s }
}

// WithExtension installs a decode-path extension.
func WithExtension(ext Extension) Option {
	return func(m *Messenger) { m.ext = ext }
}

// WithTrace emits one structured event per decoded command or opcode.
func WithTrace(l zerolog.Logger) Option {
	return func(m *Messenger) { m.trace = l }
}

// WithStop sets the function called when the stream requests a global
// shutdown with Exit(0).
func WithStop(fn func()) Option {
	return func(m *Messenger) { m.stop = fn }
}

// Messenger is the core protocol engine. Load and the transactions are
// driven by a single frame loop; the handle table, the name dictionary and
// the observer table each carry their own lock and may be used from other
// goroutines.
type Messenger struct {
	cfg     config.Protocol
	order   protocol.ByteOrder
	factory object.Factory
	table   *handle.Table
	sharing map[string]object.Flags

	in    transport.Stream
	out   io.Writer
	sink  Sink
	ext   Extension
	trace zerolog.Logger
	stop  func()
	log   util.Logger

	sendUpdates atomic.Bool
	sendEvents  atomic.Bool
	doSync      atomic.Bool
	loading     atomic.Bool
	connectID   atomic.Int32
	version     int32
	vecSize     int32

	namesMu sync.RWMutex
	names   map[string]object.Object

	obsMu     sync.Mutex
	observers map[int32][]observer

	cur *Tx

	replayMu sync.Mutex
	replay   [][]byte
}

// New creates a messenger over an empty handle table.
func New(cfg config.Protocol, factory object.Factory, opts ...Option) *Messenger {
	m := &Messenger{
		cfg:       cfg,
		order:     protocol.OrderFor(cfg.ByteOrder),
		factory:   factory,
		table:     handle.NewTable(cfg.MaxHandles),
		sharing:   parseSharing(cfg.Sharing),
		trace:     zerolog.Nop(),
		log:       util.For("messenger"),
		names:     make(map[string]object.Object),
		observers: make(map[int32][]observer),
		version:   cfg.Version,
		vecSize:   protocol.VecSizeFor(cfg.Version),
	}
	if m.version == 0 {
		m.version = protocol.CurrentVersion
	}
	m.sendUpdates.Store(cfg.SendUpdates)
	m.sendEvents.Store(cfg.SendEvents)
	m.doSync.Store(cfg.DoSync)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func parseSharing(in map[string][]string) map[string]object.Flags {
	out := make(map[string]object.Flags, len(in))
	for class, names := range in {
		var f object.Flags
		for _, n := range names {
			switch strings.ToLower(n) {
			case "shared":
				f |= object.Shared
			case "global":
				f |= object.Global
			case "inactive":
				f |= object.Inactive
			}
		}
		out[class] = f
	}
	return out
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

func (m *Messenger) Config() config.Protocol { return m.cfg }
func (m *Messenger) Order() protocol.ByteOrder { return m.order }
func (m *Messenger) Factory() object.Factory { return m.factory }
func (m *Messenger) Table() *handle.Table { return m.table }
func (m *Messenger) Input() transport.Stream { return m.in }
func (m *Messenger) SetInput(in transport.Stream) { m.in = in }

func (m *Messenger) SendUpdates() bool { return m.sendUpdates.Load() }
func (m *Messenger) SetSendUpdates(on bool) { m.sendUpdates.Store(on) }
func (m *Messenger) SendEvents() bool { return m.sendEvents.Load() }
func (m *Messenger) SetSendEvents(on bool) { m.sendEvents.Store(on) }
func (m *Messenger) DoSync() bool { return m.doSync.Load() }
func (m *Messenger) SetDoSync(on bool) { m.doSync.Store(on) }
func (m *Messenger) ConnectID() int32 { return m.connectID.Load() }
func (m *Messenger) SetConnectID(id int32) { m.connectID.Store(id) }

// Loading reports whether Load is applying a stream. Objects use it to
// avoid logging the updates they receive back into the output.
func (m *Messenger) Loading() bool { return m.loading.Load() }

// Version returns the stream version last announced by the input.
func (m *Messenger) Version() int32 { return m.version }

// VecSize returns the vector width last announced by the input.
func (m *Messenger) VecSize() int32 { return m.vecSize }

// Sharing returns the distribution default of a class: the configured
// override for its name, else the factory's default.
func (m *Messenger) Sharing(classID uint16) object.Flags {
	if f, ok := m.sharing[m.className(classID)]; ok {
		return f
	}
	return m.factory.Sharing(classID)
}

// ---------------------------------------------------------------------------
// Attach / detach
// ---------------------------------------------------------------------------

// Attach gives obj a handle, setting flags on it first. An object that
// already carries an id keeps it.
func (m *Messenger) Attach(obj object.Object, flags object.Flags) (int32, error) {
	if obj == nil {
		return 0, nil
	}
	if flags != 0 {
		obj.SetFlags(flags)
	}
	if h := obj.ID(); h > 0 {
		return h, nil
	}
	h, err := m.table.Attach(obj, 0)
	if err != nil {
		return 0, protocol.Errorf(protocol.CodeAllocation, err, "attach %s", m.className(obj.ClassID()))
	}
	obj.SetID(h)
	return h, nil
}

// Detach removes obj from the table and the name dictionary.
func (m *Messenger) Detach(obj object.Object) {
	if obj == nil {
		return
	}
	if name := obj.Name(); name != "" {
		m.namesMu.Lock()
		if m.names[name] == obj {
			delete(m.names, name)
		}
		m.namesMu.Unlock()
	}
	h := m.table.HandleOf(obj)
	if h <= 0 {
		return
	}
	m.table.Detach(h)
	if obj.ID() == h {
		obj.SetID(0)
	}
}

// Get returns the object at handle h, or nil.
func (m *Messenger) Get(h int32) object.Object { return m.table.Get(h) }

// Relocate moves obj from handle old to handle h. The slot at h must be
// free or already hold obj.
func (m *Messenger) Relocate(obj object.Object, old, h int32) error {
	if cur := m.table.Get(h); cur != nil && cur != obj {
		return protocol.Errorf(protocol.CodeAllocation, protocol.ErrHandleInUse, "relocate %d->%d", old, h)
	}
	saved := obj.Flags() & object.Saved
	if m.table.Get(old) == obj {
		m.table.Detach(old)
	}
	got, err := m.table.Attach(obj, h)
	if err != nil {
		return protocol.Errorf(protocol.CodeAllocation, err, "relocate %d->%d", old, h)
	}
	if got != h {
		return protocol.Errorf(protocol.CodeAllocation, protocol.ErrTableFull, "relocate %d->%d got %d", old, h, got)
	}
	obj.SetFlags(saved)
	obj.SetID(h)
	return nil
}

// Create instantiates an object of classID at handle h, or reuses the
// object already there when its class matches.
func (m *Messenger) Create(classID uint16, h int32) (object.Object, error) {
	obj := m.table.Get(h)
	if obj != nil {
		if obj.ClassID() != classID {
			return nil, protocol.Errorf(protocol.CodeCreate, protocol.ErrClassMismatch,
				"create %s %d: object is %s", m.className(classID), h, m.className(obj.ClassID()))
		}
	} else if obj = m.factory.NewObject(classID); obj == nil {
		return nil, protocol.Errorf(protocol.CodeCreate, protocol.ErrUnknownClass, "create class %d", classID)
	}
	got, err := m.table.Attach(obj, h)
	if err != nil {
		return nil, protocol.Errorf(protocol.CodeAllocation, err, "create %s %d", m.className(classID), h)
	}
	if obj.ID() == 0 {
		obj.SetID(got)
	}
	return obj, nil
}

// ---------------------------------------------------------------------------
// Saving
// ---------------------------------------------------------------------------

// CanSave attaches obj for a save in the given mode and reports what the
// caller must write: -1 nothing, 0 only what obj references, or the handle
// when obj itself is fully written. A full save is preceded by a Create
// opcode written to w.
func (m *Messenger) CanSave(w object.Encoder, obj object.Object, mode object.SaveMode) int32 {
	flags := object.Saved

	switch mode {
	case object.SaveDetach:
		m.Detach(obj)
		return 0

	case object.SaveClearGlobal:
		obj.ClearFlags(object.Global | object.Shared)
		return 0

	case object.SaveDistribute:
		if obj.Flags()&object.Saved != 0 {
			return 0
		}
		share := obj.Flags() & (object.Shared | object.Global)
		if share == 0 {
			share = m.Sharing(obj.ClassID()) &^ object.Inactive
			if share == 0 {
				return -1
			}
		}
		flags |= share

	case object.SaveAttach:

	default:
		if obj.Flags()&object.Saved != 0 {
			return 0
		}
	}

	h, err := m.Attach(obj, flags)
	if err != nil {
		m.log.Error("%v", err)
		return -1
	}
	if name := obj.Name(); name != "" {
		m.Define(name, obj)
	}
	if mode > object.SaveDistribute || (!m.SendUpdates() && !capturing(w)) {
		return 0
	}
	w.WriteOp(obj.ClassID(), object.OpCreate)
	w.WriteInt32(h)
	return h
}

func capturing(w object.Encoder) bool {
	tx, ok := w.(*Tx)
	return ok && tx.detach
}

// Distribute marks obj for replication with flags added to its class
// default. The decision is made once: an object that is already shared,
// global or saved is left alone. A global object is saved immediately so
// peers learn about it before any update to it is logged.
func (m *Messenger) Distribute(obj object.Object, flags object.Flags) error {
	if obj == nil || obj.Flags()&(object.Shared|object.Global|object.Saved) != 0 {
		return nil
	}
	flags = (flags | m.Sharing(obj.ClassID())) &^ object.Inactive
	obj.SetFlags(flags)
	if !m.SendUpdates() || flags&object.Global == 0 {
		return nil
	}
	tx := m.BeginOp(FastLog)
	obj.Encode(tx, object.SaveDistribute)
	return tx.End()
}

// Undistribute stops replicating obj and everything it references.
func (m *Messenger) Undistribute(obj object.Object) error {
	if obj == nil || obj.Flags()&(object.Shared|object.Global) == 0 {
		return nil
	}
	obj.ClearFlags(object.Global | object.Shared)
	if !m.SendUpdates() {
		return nil
	}
	tx := m.BeginOp(FastLog)
	obj.Encode(tx, object.SaveClearGlobal)
	return tx.End()
}

// Save writes obj in the given mode as one transaction on log.
func (m *Messenger) Save(log LogType, obj object.Object, mode object.SaveMode) error {
	tx := m.BeginOp(log)
	obj.Encode(tx, mode)
	return tx.End()
}

// Connect links proxy to the object named remoteName on the peer. Changes
// to proxy are sent there; the link is write-only.
func (m *Messenger) Connect(remoteName string, proxy object.Object) error {
	if _, err := m.Attach(proxy, object.Global|object.Shared); err != nil {
		return err
	}
	tx := m.BeginOp(CommandLog)
	tx.WriteCommand(protocol.Connect)
	tx.WriteRef(proxy)
	tx.WriteString(remoteName)
	return tx.End()
}

// ---------------------------------------------------------------------------
// Stopping
// ---------------------------------------------------------------------------

// Stop invokes the shutdown function, if any.
func (m *Messenger) Stop() {
	if m.stop != nil {
		m.stop()
	}
}

// Reset detaches every object and forgets every name.
func (m *Messenger) Reset() {
	m.table.Each(func(h int32, obj object.Object) {
		if obj.ID() == h {
			obj.SetID(0)
		}
	})
	m.table.Clear()
	m.namesMu.Lock()
	m.names = make(map[string]object.Object)
	m.namesMu.Unlock()
}

func (m *Messenger) warn(kind, format string, args ...any) {
	util.Stats.AddWarning(kind)
	m.log.Warning(format, args...)
}

func (m *Messenger) fail(err error) {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		util.Stats.AddWarning(perr.Code.String())
	}
	m.log.Error("%v", err)
}

func (m *Messenger) className(classID uint16) string {
	if m.factory == nil {
		return fmt.Sprintf("class%d", classID)
	}
	return m.factory.ClassName(classID)
}
