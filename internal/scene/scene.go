package scene

import (
	"fmt"
	"strings"
	"sync"

	"github.com/1ureka/graphsync/internal/messenger"
	"github.com/1ureka/graphsync/internal/object"
)

const (
	WorldName  = "world"
	ModelsName = "models"
)

// Scene owns the root groups and logs every edit made through it to the
// messenger's update log, so peers apply the same change on their copy.
type Scene struct {
	m *messenger.Messenger

	mu     sync.RWMutex
	world  *Group
	models *Group
}

// New builds a master-side scene: a world root holding an empty models
// group, both attached and named.
func New(m *messenger.Messenger) (*Scene, error) {
	s := &Scene{m: m, world: NewGroup(WorldName), models: NewGroup(ModelsName)}
	s.world.append(s.models)
	for _, g := range []*Group{s.world, s.models} {
		if _, err := m.Attach(g, 0); err != nil {
			return nil, err
		}
		m.Define(g.Name(), g)
	}
	return s, nil
}

// Open returns a master-side scene over the world already defined in m,
// as a restored snapshot leaves it, or a new scene when there is none.
func Open(m *messenger.Messenger) (*Scene, error) {
	world, ok := m.Find(WorldName).(*Group)
	if !ok {
		return New(m)
	}
	s := &Scene{m: m, world: world}
	if models, ok := world.Child(ModelsName).(*Group); ok {
		s.models = models
		return s, nil
	}
	s.models = NewGroup(ModelsName)
	if err := s.Add(world, s.models); err != nil {
		return nil, err
	}
	if _, err := m.Attach(s.models, 0); err != nil {
		return nil, err
	}
	return s, nil
}

// Bind returns an empty client-side scene. It fills in when the master's
// attach-scene event arrives.
func Bind(m *messenger.Messenger) *Scene {
	s := &Scene{m: m}
	m.Observe(s, EventAttachScene, nil)
	return s
}

// OnEvent takes the world root from an attach-scene event.
func (s *Scene) OnEvent(ev object.Event) bool {
	world, ok := ev.Sender().(*Group)
	if !ok {
		return false
	}
	models, _ := world.Child(ModelsName).(*Group)
	s.mu.Lock()
	s.world, s.models = world, models
	s.mu.Unlock()
	return true
}

// Attached reports whether the scene has a world root.
func (s *Scene) Attached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world != nil
}

func (s *Scene) World() *Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world
}

func (s *Scene) Models() *Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.models
}

// Roots returns the world root, or nothing before it is known.
func (s *Scene) Roots() []object.Object {
	if w := s.World(); w != nil {
		return []object.Object{w}
	}
	return nil
}

// Dynamic returns the models group as an object, or a nil interface.
func (s *Scene) Dynamic() object.Object {
	if g := s.Models(); g != nil {
		return g
	}
	return nil
}

func (s *Scene) AttachEvent() object.Event {
	w := s.World()
	if w == nil {
		return nil
	}
	ev := object.NewTypedEvent(EventAttachScene, "")
	ev.From = w
	return ev
}

// ---------------------------------------------------------------------------
// Edits
// ---------------------------------------------------------------------------

// streamed reports whether edits to obj go to the update log. Edits made
// while a stream is being applied came from a peer and are not echoed.
func (s *Scene) streamed(obj object.Object) bool {
	return obj.Flags()&object.Global != 0 && obj.ID() > 0 && !s.m.Loading()
}

// Add appends child to parent. A child not yet replicated is distributed
// first so peers can resolve the reference.
func (s *Scene) Add(parent *Group, child object.Object) error {
	if !parent.append(child) {
		return nil
	}
	if name := child.Name(); name != "" {
		s.m.Define(name, child)
	}
	if !s.streamed(parent) {
		return nil
	}
	if err := s.m.Distribute(child, object.Global); err != nil {
		return err
	}
	tx := s.m.BeginOp(messenger.UpdateLog)
	tx.WriteOp(ClassGroup, OpAppend)
	tx.WriteInt32(parent.ID())
	tx.WriteRef(child)
	return tx.End()
}

// Remove takes child out of parent.
func (s *Scene) Remove(parent *Group, child object.Object) error {
	if !parent.remove(child) || !s.streamed(parent) || child.ID() <= 0 {
		return nil
	}
	tx := s.m.BeginOp(messenger.UpdateLog)
	tx.WriteOp(ClassGroup, OpRemove)
	tx.WriteInt32(parent.ID())
	tx.WriteRef(child)
	return tx.End()
}

// SetValue changes a node's value and raises a value event when the node
// generates events.
func (s *Scene) SetValue(n *Node, v int32) error {
	n.setValue(v)
	if s.streamed(n) {
		tx := s.m.BeginOp(messenger.UpdateLog)
		tx.WriteOp(ClassNode, OpSetValue)
		tx.WriteInt32(n.ID())
		tx.WriteInt32(v)
		if err := tx.End(); err != nil {
			return err
		}
	}
	if n.Flags()&object.DoEvents == 0 {
		return nil
	}
	ev := object.NewTypedEvent(EventValue, "I")
	ev.From = n
	ev.Args = []any{v}
	return s.m.LogEvent(ev)
}

func (s *Scene) SetWeight(n *Node, w float32) error {
	n.setWeight(w)
	if !s.streamed(n) {
		return nil
	}
	tx := s.m.BeginOp(messenger.UpdateLog)
	tx.WriteOp(ClassNode, OpSetWeight)
	tx.WriteInt32(n.ID())
	tx.WriteFloat32(w)
	return tx.End()
}

func (s *Scene) SetTarget(n *Node, target object.Object) error {
	n.setTarget(target)
	if !s.streamed(n) {
		return nil
	}
	if target != nil {
		if err := s.m.Distribute(target, object.Global); err != nil {
			return err
		}
	}
	tx := s.m.BeginOp(messenger.UpdateLog)
	tx.WriteOp(ClassNode, OpSetTarget)
	tx.WriteInt32(n.ID())
	tx.WriteRef(target)
	return tx.End()
}

// Publish distributes the world so peers already receiving updates learn
// about it.
func (s *Scene) Publish() error {
	w := s.World()
	if w == nil {
		return nil
	}
	return s.m.Distribute(w, object.Global)
}

// ---------------------------------------------------------------------------
// Printing
// ---------------------------------------------------------------------------

// Describe renders a graph as indented lines, one per object.
func Describe(root object.Object) []string {
	var lines []string
	seen := make(map[object.Object]bool)
	var walk func(obj object.Object, depth int)
	walk = func(obj object.Object, depth int) {
		indent := strings.Repeat("  ", depth)
		if seen[obj] {
			lines = append(lines, fmt.Sprintf("%s%s (cycle)", indent, label(obj)))
			return
		}
		seen[obj] = true
		lines = append(lines, indent+label(obj))
		if g, ok := obj.(*Group); ok {
			for _, c := range g.Children() {
				walk(c, depth+1)
			}
		}
	}
	if root != nil {
		walk(root, 0)
	}
	return lines
}

func label(obj object.Object) string {
	name := obj.Name()
	if name == "" {
		name = "-"
	}
	switch o := obj.(type) {
	case *Group:
		return fmt.Sprintf("group %s #%d [%d]", name, o.ID(), o.Len())
	case *Node:
		s := fmt.Sprintf("node %s #%d value=%d weight=%g", name, o.ID(), o.Value(), o.Weight())
		if t := o.Target(); t != nil {
			s += fmt.Sprintf(" -> #%d", t.ID())
		}
		if o.Flags()&object.Inactive != 0 {
			s += " inactive"
		}
		return s
	}
	return fmt.Sprintf("class%d %s #%d", obj.ClassID(), name, obj.ID())
}
