// Package synchronizer extends the messenger to a master and any number of
// clients. It frames outbound transactions per connection, keeps every peer
// in lockstep when sync mode is on, and negotiates handle remaps when two
// sides picked the same handle for different objects.
package synchronizer

import (
	"context"
	"slices"
	"strings"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/1ureka/graphsync/internal/config"
	"github.com/1ureka/graphsync/internal/messenger"
	"github.com/1ureka/graphsync/internal/object"
	"github.com/1ureka/graphsync/internal/protocol"
	"github.com/1ureka/graphsync/internal/transport"
	"github.com/1ureka/graphsync/internal/util"
)

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithScene sets the graph sent to peers that ask for the scene.
func WithScene(sc Scene) Option {
	return func(s *Synchronizer) { s.scene = sc }
}

// WithMessengerOptions passes options through to the embedded messenger.
func WithMessengerOptions(opts ...messenger.Option) Option {
	return func(s *Synchronizer) { s.mopts = append(s.mopts, opts...) }
}

// Masks is a snapshot of the per-connection bit sets.
type Masks struct {
	Sync       uint32 // sync frames sent and not yet answered
	SyncAll    uint32 // peers kept in lockstep
	SendAll    uint32 // peers receiving updates
	AllClients uint32 // peers known to be connected
	SendAgain  uint32 // peers with a frame waiting to be resent
}

type frame struct {
	data []byte
	bit  uint32
	sync bool
}

// Synchronizer is a Messenger bound to an Arbitrator. Load, Flush and the
// stream commands run on the frame loop; the masks belong to it. Commit
// may be called from any goroutine.
type Synchronizer struct {
	*messenger.Messenger

	arb    transport.Arbitrator
	syncs  protocol.SyncTable
	remaps *RemapTable
	scene  Scene
	mopts  []messenger.Option
	log    util.Logger

	master     bool
	syncFlags  uint32
	syncAll    uint32
	sendAll    uint32
	allClients uint32
	sendAgain  uint32

	mu     sync.Mutex
	logs   [messenger.LogCount][][]byte
	queue  map[int][][]byte // committed transactions per connection, not yet framed
	outbox map[int]frame    // framed and refused by the link
}

var (
	_ messenger.Extension = (*Synchronizer)(nil)
	_ messenger.Sink      = (*Synchronizer)(nil)
)

// New creates a synchronizer reading from and sending through arb.
func New(cfg config.Protocol, factory object.Factory, arb transport.Arbitrator, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		arb:    arb,
		syncs:  protocol.NewSyncTable(cfg.MaxHosts),
		remaps: NewRemapTable(),
		log:    util.For("sync"),
		queue:  make(map[int][][]byte),
		outbox: make(map[int]frame),
	}
	for _, opt := range opts {
		opt(s)
	}
	mopts := append([]messenger.Option{
		messenger.WithInput(arb),
		messenger.WithSink(s),
		messenger.WithExtension(s),
	}, s.mopts...)
	s.Messenger = messenger.New(cfg, factory, mopts...)
	return s
}

func (s *Synchronizer) SetScene(sc Scene) { s.scene = sc }
func (s *Synchronizer) Remaps() *RemapTable { return s.remaps }
func (s *Synchronizer) IsMaster() bool { return s.master }
func (s *Synchronizer) Arbitrator() transport.Arbitrator { return s.arb }

// Masks returns the current bit sets. Call it from the frame loop.
func (s *Synchronizer) Masks() Masks {
	return Masks{
		Sync:       s.syncFlags,
		SyncAll:    s.syncAll,
		SendAll:    s.sendAll,
		AllClients: s.allClients,
		SendAgain:  s.sendAgain,
	}
}

// SyncFlag returns the bit of connection id conn as seen by this side.
func (s *Synchronizer) SyncFlag(conn int) uint32 { return s.syncs.Flag(conn) }

// selfFlag is the bit this side announces in frame headers. The master has
// none; a client has bit 1 until the master assigns its id.
func (s *Synchronizer) selfFlag() uint32 {
	if s.master {
		return 0
	}
	id := s.ConnectID()
	if id <= 0 {
		return 1
	}
	return s.syncs.Flag(int(id))
}

// linkFlag is the bit owning traffic on connection conn. A client talks to
// its master only and files everything under its own bit.
func (s *Synchronizer) linkFlag(conn int) uint32 {
	if !s.master {
		return s.selfFlag()
	}
	return s.syncs.Flag(conn)
}

// connFor returns the live connection owning bit, or 0.
func (s *Synchronizer) connFor(bit uint32) int {
	for _, c := range s.arb.Connections() {
		if s.linkFlag(c) == bit {
			return c
		}
	}
	return 0
}

// ---------------------------------------------------------------------------
// Open / Close
// ---------------------------------------------------------------------------

// Open resets the connection state. A name that is empty or "master" makes
// this side the master, which waits for clients. Any other name makes it a
// client, which announces itself with Begin(1) when it sends anything.
func (s *Synchronizer) Open(name string) error {
	s.syncFlags, s.syncAll, s.sendAll, s.allClients, s.sendAgain = 0, 0, 0, 0, 0
	s.mu.Lock()
	s.logs = [messenger.LogCount][][]byte{}
	s.queue = make(map[int][][]byte)
	s.outbox = make(map[int]frame)
	s.mu.Unlock()

	s.master = name == "" || strings.EqualFold(name, "master")
	if s.master {
		s.SetConnectID(0)
		s.log.Info("opened as master")
		return nil
	}
	if s.ConnectID() <= 0 {
		s.SetConnectID(-1)
	}
	s.log.Info("opened as client %q", name)
	if !s.SendUpdates() && !s.SendEvents() && !s.DoSync() {
		return nil
	}
	self := s.selfFlag()
	if s.DoSync() {
		s.syncAll = self
	}
	s.sendAll = self
	s.allClients = self

	tx := s.BeginOp(messenger.CommandLog)
	tx.WriteCommand(protocol.Begin, 1)
	tx.WriteCommand(protocol.DoNothing)
	return tx.End()
}

// Close tells the peers this side is leaving and flushes. The master's
// Exit(0) shuts every client down.
func (s *Synchronizer) Close() error {
	if s.SendUpdates() || s.DoSync() {
		tx := s.BeginOp(messenger.CommandLog)
		tx.WriteCommand(protocol.Exit, s.ConnectID())
		if err := tx.End(); err != nil {
			return err
		}
		s.Flush()
	}
	s.syncFlags, s.syncAll, s.sendAll, s.allClients, s.sendAgain = 0, 0, 0, 0, 0
	return nil
}

// RequestScene asks the master for the whole scene. The answer assigns
// this client its connection id.
func (s *Synchronizer) RequestScene() error {
	return s.Connect("scene", nil)
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// Load applies every frame available on the arbitrator. While sync mode is
// on and sync frames are unanswered it keeps waiting for input, each wait
// bounded by the sync timeout. It returns at once when nothing is pending
// on entry, and never waits while a frame is queued for resend.
func (s *Synchronizer) Load(ctx context.Context) error {
	if s.arb.IsEmpty() {
		return s.Messenger.Load()
	}
	var first error
	for {
		for !s.arb.IsEmpty() {
			if err := s.Messenger.Load(); err != nil {
				s.log.With(s.arb.Current()).Error("frame dropped: %v", err)
				if first == nil {
					first = err
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if !s.waiting() {
			break
		}
		if !s.arb.Wait(ctx, s.Config().SyncTimeout.Duration) {
			if ctx.Err() == nil {
				s.log.Warning("sync barrier gave up waiting on %#x", s.syncFlags)
			}
			break
		}
	}
	return first
}

func (s *Synchronizer) waiting() bool {
	return s.DoSync() && s.syncFlags != 0 && s.sendAgain == 0
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

// Commit buffers a committed transaction until the next Flush. A directed
// transaction is queued for its connection straight away.
func (s *Synchronizer) Commit(log messenger.LogType, target int, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target > 0 {
		s.queue[target] = append(s.queue[target], p)
		return nil
	}
	if log < 0 || int(log) >= len(s.logs) {
		return nil
	}
	s.logs[log] = append(s.logs[log], p)
	return nil
}

// Flush frames this frame's transactions for every connection receiving
// updates and sends them. It reports whether every frame was accepted;
// refused frames are retried first on the next Flush.
func (s *Synchronizer) Flush() bool {
	s.mu.Lock()
	logs := s.logs
	s.logs = [messenger.LogCount][][]byte{}
	live := s.arb.Connections()

	for c := range s.queue {
		if !slices.Contains(live, c) {
			delete(s.queue, c)
		}
	}
	s.syncFlags = 0
	for _, c := range live {
		bit := s.linkFlag(c)
		if bit == 0 {
			continue
		}
		if s.sendAll&bit != 0 {
			q := append(s.queue[c], logs[messenger.CommandLog]...)
			if s.SendUpdates() {
				q = append(q, logs[messenger.FastLog]...)
				q = append(q, logs[messenger.UpdateLog]...)
			}
			if s.SendEvents() {
				q = append(q, logs[messenger.EventLog]...)
			}
			if s.SendUpdates() {
				q = append(q, logs[messenger.LocalLog]...)
			}
			s.queue[c] = q
		}
		if _, waiting := s.outbox[c]; waiting {
			continue
		}
		if len(s.queue[c]) == 0 && !(s.DoSync() && s.sendAll&bit != 0) {
			continue
		}
		s.outbox[c] = s.frameFor(c, bit)
	}
	s.mu.Unlock()
	return s.SendAll()
}

// frameFor packs the head of a connection's queue into one frame: a header
// naming the sender, whole transactions up to the frame size, then End.
// Callers hold s.mu.
func (s *Synchronizer) frameFor(c int, bit uint32) frame {
	f := frame{bit: bit}
	enc := protocol.NewEncoder(s.Order())
	switch {
	case s.syncAll&bit != 0:
		enc.WriteCommand(protocol.Sync, int32(s.selfFlag()))
		f.sync = true
	case s.SendUpdates():
		enc.WriteCommand(protocol.Begin, int32(s.selfFlag()))
	default:
		enc.WriteCommand(protocol.DoNothing, int32(protocol.DoNothing))
	}

	q := s.queue[c]
	limit := s.Config().MaxFrameSize
	n, size := 0, 0
	for n < len(q) && (n == 0 || size+len(q[n]) <= limit) {
		enc.Write(q[n])
		size += len(q[n])
		n++
	}
	if n == 0 {
		enc.WriteCommand(protocol.DoNothing)
	}
	if n == len(q) {
		delete(s.queue, c)
	} else {
		s.queue[c] = q[n:]
	}
	enc.WriteCommand(protocol.End)
	f.data = enc.Bytes()
	return f
}

// SendAll offers every framed connection its frame, up to SendRetries
// passes. A pass stops early when no pending link is ready. Frames still
// refused after the last pass set their bit in SendAgain.
func (s *Synchronizer) SendAll() bool {
	passes := s.Config().SendRetries
	if passes <= 0 {
		passes = 1
	}
	for i := 0; i < passes; i++ {
		pending := maps.Keys(s.outbox)
		if len(pending) == 0 {
			break
		}
		slices.Sort(pending)
		ready := s.arb.Select(pending)
		if len(ready) == 0 {
			break
		}
		for _, c := range ready {
			f := s.outbox[c]
			if !s.arb.SendTo(c, f.data) {
				continue
			}
			util.Stats.AddSent(len(f.data))
			if f.sync {
				s.syncFlags |= f.bit
			}
			delete(s.outbox, c)
		}
	}

	s.sendAgain = 0
	for c, f := range s.outbox {
		s.sendAgain |= f.bit
		util.Stats.AddResend()
		s.log.With(c).Debug("frame of %d bytes deferred", len(f.data))
	}
	return s.sendAgain == 0
}

// dropConn forgets everything queued for a connection.
func (s *Synchronizer) dropConn(conn int) {
	s.mu.Lock()
	delete(s.queue, conn)
	delete(s.outbox, conn)
	s.mu.Unlock()
}

func (s *Synchronizer) warn(kind, format string, args ...any) {
	util.Stats.AddWarning(kind)
	s.log.Warning(format, args...)
}
