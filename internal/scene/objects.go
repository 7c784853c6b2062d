// Package scene holds the sample replicable graph the CLI runs and the
// tests replicate: value nodes grouped under a world root, with a dynamic
// "models" group that is updated every frame.
package scene

import (
	"slices"
	"sync"

	"github.com/1ureka/graphsync/internal/object"
)

// Class ids. Only the low 8 bits travel on decode.
const (
	ClassNode  uint16 = 20
	ClassGroup uint16 = 21
)

// Node operations.
const (
	OpSetValue  = object.OpNext
	OpSetWeight = object.OpNext + 1
	OpSetTarget = object.OpNext + 2
)

// Group operations.
const (
	OpAppend = object.OpNext
	OpRemove = object.OpNext + 1
	OpEmpty  = object.OpNext + 2
)

// Event codes.
const (
	EventAttachScene int32 = 1 // sender is the world root
	EventValue       int32 = 2 // I: the node's new value; sender is the node
)

// Register adds the scene classes and events to a registry. Both classes
// are distributed and stream their updates.
func Register(r *object.Registry) {
	r.RegisterClass(ClassNode, "node", object.Shared|object.Global, func() object.Object { return NewNode("") })
	r.RegisterClass(ClassGroup, "group", object.Shared|object.Global, func() object.Object { return NewGroup("") })
	r.RegisterTypedEvent(EventAttachScene, "attach_scene", "")
	r.RegisterTypedEvent(EventValue, "value", "I")
}

// NewRegistry returns a registry holding only the scene classes.
func NewRegistry() *object.Registry {
	r := object.NewRegistry()
	Register(r)
	return r
}

// ---------------------------------------------------------------------------
// Node
// ---------------------------------------------------------------------------

// Node carries a value, a weight and an optional reference to another
// object.
type Node struct {
	object.Base

	mu     sync.RWMutex
	value  int32
	weight float32
	target object.Object
}

func NewNode(name string) *Node {
	n := &Node{}
	n.SetName(name)
	return n
}

func (n *Node) ClassID() uint16 { return ClassNode }

func (n *Node) Value() int32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.value
}

func (n *Node) Weight() float32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.weight
}

func (n *Node) Target() object.Object {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.target
}

func (n *Node) setValue(v int32) {
	n.mu.Lock()
	n.value = v
	n.mu.Unlock()
}

func (n *Node) setWeight(w float32) {
	n.mu.Lock()
	n.weight = w
	n.mu.Unlock()
}

func (n *Node) setTarget(t object.Object) {
	n.mu.Lock()
	n.target = t
	n.mu.Unlock()
}

func (n *Node) Encode(enc object.Encoder, mode object.SaveMode) int32 {
	h := object.EncodeBase(n, enc, mode, 0)
	if h < 0 {
		return h
	}
	target := n.Target()
	if target != nil && target.Encode(enc, mode) < 0 {
		target = nil
	}
	if h == 0 {
		return h
	}
	if v := n.Value(); v != 0 {
		enc.WriteOp(ClassNode, OpSetValue)
		enc.WriteInt32(h)
		enc.WriteInt32(v)
	}
	if w := n.Weight(); w != 0 {
		enc.WriteOp(ClassNode, OpSetWeight)
		enc.WriteInt32(h)
		enc.WriteFloat32(w)
	}
	if target != nil {
		enc.WriteOp(ClassNode, OpSetTarget)
		enc.WriteInt32(h)
		enc.WriteRef(target)
	}
	return h
}

func (n *Node) Apply(dec object.Decoder, op uint16) bool {
	switch op {
	case OpSetValue:
		v := dec.ReadInt32()
		if dec.Err() != nil {
			return false
		}
		n.setValue(v)
		return true
	case OpSetWeight:
		w := dec.ReadFloat32()
		if dec.Err() != nil {
			return false
		}
		n.setWeight(w)
		return true
	case OpSetTarget:
		t := dec.ReadRef()
		if dec.Err() != nil {
			return false
		}
		n.setTarget(t)
		return true
	}
	return object.ApplyBase(n, dec, op)
}

// ---------------------------------------------------------------------------
// Group
// ---------------------------------------------------------------------------

// Group is an ordered list of children.
type Group struct {
	object.Base

	mu       sync.RWMutex
	children []object.Object
}

func NewGroup(name string) *Group {
	g := &Group{}
	g.SetName(name)
	return g
}

func (g *Group) ClassID() uint16 { return ClassGroup }

// Children returns a copy of the child list.
func (g *Group) Children() []object.Object {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.children)
}

func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.children)
}

// Child returns the first child with the given name, or nil.
func (g *Group) Child(name string) object.Object {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func (g *Group) append(child object.Object) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if slices.Contains(g.children, child) {
		return false
	}
	g.children = append(g.children, child)
	return true
}

func (g *Group) remove(child object.Object) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := slices.Index(g.children, child)
	if i < 0 {
		return false
	}
	g.children = slices.Delete(g.children, i, i+1)
	return true
}

func (g *Group) empty() {
	g.mu.Lock()
	g.children = nil
	g.mu.Unlock()
}

// Encode saves the children first, even when the group itself was already
// sent, then links the ones that were saved. Children a distribute pass
// skips are not linked.
func (g *Group) Encode(enc object.Encoder, mode object.SaveMode) int32 {
	h := object.EncodeBase(g, enc, mode, 0)
	if h < 0 {
		return h
	}
	kids := g.Children()
	saved := kids[:0:0]
	for _, c := range kids {
		if c.Encode(enc, mode) >= 0 {
			saved = append(saved, c)
		}
	}
	if h == 0 {
		return h
	}
	for _, c := range saved {
		enc.WriteOp(ClassGroup, OpAppend)
		enc.WriteInt32(h)
		enc.WriteRef(c)
	}
	return h
}

func (g *Group) Apply(dec object.Decoder, op uint16) bool {
	switch op {
	case OpAppend, OpRemove:
		c := dec.ReadRef()
		if dec.Err() != nil {
			return false
		}
		if c == nil {
			return true
		}
		if op == OpAppend {
			g.append(c)
		} else {
			g.remove(c)
		}
		return true
	case OpEmpty:
		g.empty()
		return true
	}
	return object.ApplyBase(g, dec, op)
}
