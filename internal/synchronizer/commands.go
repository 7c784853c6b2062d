package synchronizer

import (
	"strings"

	"github.com/1ureka/graphsync/internal/messenger"
	"github.com/1ureka/graphsync/internal/object"
	"github.com/1ureka/graphsync/internal/protocol"
	"github.com/1ureka/graphsync/internal/util"
)

// DoCommand handles the stream commands only a synchronizer understands
// and the framing commands it treats differently from a plain messenger.
func (s *Synchronizer) DoCommand(r *messenger.Reader, cmd protocol.Command) (int32, bool) {
	switch cmd {
	case protocol.SetStreamID:
		return s.doSetStreamID(r), true
	case protocol.Begin:
		return s.doBegin(r), true
	case protocol.Exit:
		return s.doExit(r), true
	case protocol.Sync:
		return s.doSync(r), true
	case protocol.Remap:
		old, h, mask := r.ReadInt32(), r.ReadInt32(), uint32(r.ReadInt32())
		if r.Err() != nil {
			return -1, true
		}
		s.DoRemap(old, h, mask)
		return 0, true
	case protocol.Connect:
		return s.doConnect(r), true
	}
	return 0, false
}

func (s *Synchronizer) doSetStreamID(r *messenger.Reader) int32 {
	n := r.ReadInt32()
	if r.Err() != nil {
		return -1
	}
	if s.master {
		s.warn("unexpected_command", "master ignores SetStreamID(%d) from %d", n, s.arb.Current())
		return 0
	}
	if n <= 0 || s.syncs.Flag(int(n)) == 0 {
		s.warn("bad_stream_id", "stream id %d out of range", n)
		return 0
	}
	s.SetConnectID(n)
	self := s.selfFlag()
	s.sendAll = self
	s.allClients = self
	if s.DoSync() {
		s.syncAll = self
	}
	s.log.Info("assigned stream id %d", n)
	return 0
}

// doBegin marks the sending client as known. The id it claims is ignored
// in favor of the connection the frame arrived on.
func (s *Synchronizer) doBegin(r *messenger.Reader) int32 {
	r.ReadInt32()
	if r.Err() != nil {
		return -1
	}
	if s.master {
		s.allClients |= s.linkFlag(s.arb.Current())
	}
	return 0
}

// doExit handles a peer leaving. Exit(0) is the master shutting the session
// down; a negative id stands for the connection the frame came from.
func (s *Synchronizer) doExit(r *messenger.Reader) int32 {
	n := int(r.ReadInt32())
	if r.Err() != nil {
		return -1
	}
	if n < 0 {
		n = s.arb.Current()
	}
	if n == 0 || !s.master {
		s.log.Info("session ended by master")
		s.syncFlags, s.syncAll, s.sendAll, s.sendAgain = 0, 0, 0, 0
		s.Stop()
		return -1
	}

	s.arb.RemoveConnection(n)
	s.dropConn(n)
	if bit := s.syncs.Flag(n); bit != 0 {
		s.sendAll &^= bit
		s.syncAll &^= bit
		s.syncFlags &^= bit
		s.allClients &^= bit
		s.sendAgain &^= bit
		if dropped := s.remaps.DropMask(bit); dropped > 0 {
			s.log.With(n).Debug("dropped %d pending remaps", dropped)
		}
	}
	s.log.With(n).Info("peer exited")
	return -1
}

// doSync handles a peer's answer to a sync frame. On the master the bit is
// taken from the connection, not from the frame.
func (s *Synchronizer) doSync(r *messenger.Reader) int32 {
	n := uint32(r.ReadInt32())
	if r.Err() != nil {
		return -1
	}
	if s.master {
		if bit := s.linkFlag(s.arb.Current()); bit != 0 {
			n = bit
		}
	}
	if n == 0 {
		s.syncFlags = 0
		return 0
	}
	s.allClients |= n
	s.syncFlags &^= n
	s.syncAll |= n
	return 0
}

// doConnect links a peer's proxy to a named local object. The name "scene"
// asks for the whole scene: the peer is told its id and gets a full dump.
func (s *Synchronizer) doConnect(r *messenger.Reader) int32 {
	h := r.ReadInt32()
	name := r.ReadString()
	if r.Err() != nil {
		return -1
	}
	conn := s.arb.Current()
	bit := s.linkFlag(conn)

	if strings.EqualFold(name, "scene") {
		if !s.master {
			s.warn("unexpected_command", "client ignores scene request")
			return 0
		}
		tx := s.BeginDirect(conn)
		tx.WriteCommand(protocol.SetStreamID, int32(conn))
		if err := tx.End(); err != nil {
			s.log.With(conn).Error("cannot assign stream id: %v", err)
			return 0
		}
		s.ConnectObjects(bit)
		return 0
	}

	obj := s.Find(name)
	if obj == nil {
		s.warn("missing_object", "connect: object %q not found", name)
		return 0
	}
	s.log.With(conn).Debug("connect %q proxy %d to %d", name, h, obj.ID())
	if h > 0 && obj.ID() != h {
		s.ChangeHandle(h, obj.ID(), bit)
	}
	return 0
}

// ---------------------------------------------------------------------------
// Handles
// ---------------------------------------------------------------------------

// LookupHandle maps a handle read from the current connection through the
// pending remaps.
func (s *Synchronizer) LookupHandle(h int32) int32 {
	return s.remaps.Lookup(h, s.linkFlag(s.arb.Current()))
}

// DoRemap processes a Remap command. When (old, mask) is pending here the
// command is the peer's echo of a remap this side asked for, and the entry
// is retired. Otherwise the object at old moves to h. The side the request
// is addressed to echoes it back once; a client outside mask only follows
// the master's renumbering.
func (s *Synchronizer) DoRemap(old, h int32, mask uint32) {
	if want, ok := s.remaps.Take(old, mask); ok {
		if want != h {
			s.warn("remap_mismatch", "remap %d acknowledged as %d, expected %d", old, h, want)
		}
		s.log.Debug("remap %d->%d acknowledged", old, h)
		return
	}
	addressed := s.master || mask&s.selfFlag() != 0

	obj := s.Get(old)
	if obj == nil {
		if addressed {
			s.warn("remap_missing", "remap %d->%d: no object at %d", old, h, old)
		}
		return
	}
	if obj.ID() != old {
		s.warn("remap_missing", "remap %d->%d: object at %d is %d", old, h, old, obj.ID())
		return
	}
	if err := s.Relocate(obj, old, h); err != nil {
		s.warn("remap_collision", "remap %d->%d: %v", old, h, err)
		return
	}
	util.Stats.AddRemap()
	if !addressed {
		s.log.Debug("followed remap %d->%d for %#x", old, h, mask)
		return
	}
	s.log.Debug("remapped %d->%d", old, h)

	tx := s.BeginOp(messenger.CommandLog)
	tx.WriteCommand(protocol.Remap, old, h, int32(mask))
	if err := tx.End(); err != nil {
		s.log.Error("cannot echo remap %d->%d: %v", old, h, err)
	}
}

// ChangeHandle records that handle old from the peers in mask now means h
// here, and asks those peers to renumber. Traffic naming old is redirected
// until they echo the request.
func (s *Synchronizer) ChangeHandle(old, h int32, mask uint32) {
	if s.SendUpdates() && s.sendAll&mask != 0 {
		var tx *messenger.Tx
		if c := s.connFor(mask); s.master && c > 0 {
			tx = s.BeginDirect(c)
		} else {
			tx = s.BeginOp(messenger.CommandLog)
		}
		tx.WriteCommand(protocol.Remap, old, h, int32(mask))
		if err := tx.End(); err != nil {
			s.log.Error("cannot send remap %d->%d: %v", old, h, err)
		}
	}
	s.remaps.Set(old, mask, h)
	util.Stats.AddRemap()
	s.log.Debug("remap %d->%d requested from %#x", old, h, mask)
}

// Create builds the object for a Create opcode from a peer. An object of
// the same class already at h is reused. When h holds something else the
// new object gets a fresh handle and the sender is asked to renumber.
// Objects of classes that are not distributed are marked so they are never
// sent back.
func (s *Synchronizer) Create(classID uint16, h int32) (object.Object, error) {
	preferred := h
	if h > 0 {
		if obj := s.Get(h); obj != nil {
			if obj.ClassID()&0xFF == classID {
				return obj, nil
			}
			preferred = 0
		}
	}

	obj := s.Factory().NewObject(classID)
	if obj == nil {
		return nil, protocol.Errorf(protocol.CodeCreate, protocol.ErrUnknownClass, "create class %d", classID)
	}
	if share := s.Sharing(classID) & (object.Shared | object.Global); share != 0 {
		obj.SetFlags(share | object.Saved)
	} else {
		obj.ClearFlags(object.Global | object.Shared)
		obj.SetFlags(object.Saved)
	}

	got, err := s.Table().Attach(obj, preferred)
	if err != nil {
		return nil, protocol.Errorf(protocol.CodeAllocation, err, "create %s %d", s.Factory().ClassName(classID), h)
	}
	if h > 0 && got != h {
		s.warn("handle_conflict", "%s %d created at %d", s.Factory().ClassName(classID), h, got)
		s.ChangeHandle(h, got, s.linkFlag(s.arb.Current()))
	}
	if obj.ID() == 0 {
		obj.SetID(got)
	}
	return obj, nil
}
