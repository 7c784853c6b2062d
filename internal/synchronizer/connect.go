package synchronizer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/1ureka/graphsync/internal/messenger"
	"github.com/1ureka/graphsync/internal/object"
	"github.com/1ureka/graphsync/internal/util"
)

// Scene is the graph a master hands to clients that ask for it.
type Scene interface {
	// Roots are saved in distribute mode, in order.
	Roots() []object.Object
	// Dynamic is the part of the graph replicated frame by frame. It is
	// sent inactive and switched on once the dump is complete. May be nil.
	Dynamic() object.Object
	// AttachEvent is sent after the roots. May be nil.
	AttachEvent() object.Event
}

// ConnectObjects sends the whole scene to the clients in flags, each in
// one block addressed to it alone, and starts sending them updates. It
// refuses clients that have not said Begin and does nothing when every
// client in flags already receives updates.
func (s *Synchronizer) ConnectObjects(flags uint32) bool {
	if flags == 0 || flags&s.allClients != flags || flags&^s.sendAll == 0 {
		return false
	}
	_, span := util.Tracer().Start(context.Background(), "connect_objects")
	span.SetAttributes(attribute.Int64("flags", int64(flags)))
	defer span.End()

	s.sendAll |= flags
	s.SetSendUpdates(true)

	var roots []object.Object
	var dyn object.Object
	var ev object.Event
	if s.scene != nil {
		roots = s.scene.Roots()
		ev = s.scene.AttachEvent()
		if d := s.scene.Dynamic(); d != nil && d.Flags()&object.Inactive == 0 {
			dyn = d
			dyn.SetFlags(object.Inactive)
		}
	}

	for _, c := range s.arb.Connections() {
		if s.linkFlag(c)&flags == 0 {
			continue
		}
		s.Table().Each(func(_ int32, obj object.Object) {
			obj.ClearFlags(object.Saved)
		})
		tx := s.BeginDirect(c)
		for _, root := range roots {
			root.Encode(tx, object.SaveDistribute)
		}
		if ev != nil {
			tx.WriteEvent(ev)
		}
		n := tx.Len()
		if err := tx.End(); err != nil {
			s.log.With(c).Error("scene dump failed: %v", err)
			continue
		}
		s.log.With(c).Info("sent scene (%d bytes)", n)
	}

	if dyn != nil {
		tx := s.BeginOp(messenger.UpdateLog)
		tx.WriteOp(object.ClassObj, object.OpSetActive)
		tx.WriteRef(dyn)
		tx.WriteInt32(1)
		dyn.ClearFlags(object.Inactive)
		if err := tx.End(); err != nil {
			s.log.Error("cannot reactivate %q: %v", dyn.Name(), err)
		}
	}
	return true
}
