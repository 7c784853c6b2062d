package object

import (
	"fmt"
	"sync"
)

// Event is a notification that travels through the stream and is
// dispatched to observers. Code and the sender reference are read by the
// engine; everything after them is the event's own payload.
type Event interface {
	Code() int32
	Sender() Object

	// EncodePayload writes everything after the event code.
	EncodePayload(enc Encoder)
	// DecodePayload reads everything after the event code.
	DecodePayload(dec Decoder)
}

// Observer receives dispatched events. Observers are compared by identity,
// so implementations should be pointer types.
type Observer interface {
	OnEvent(ev Event) bool
}

// ──────────────────────────────────────────────────────────────────────────────
// Typed events
// ──────────────────────────────────────────────────────────────────────────────

// TypedEvent is a general event whose arguments are described by a type
// string: I int32, F float32, O object reference, S string.
type TypedEvent struct {
	code  int32
	types string
	From  Object
	Time  float32
	Args  []any
}

// NewTypedEvent creates an empty event of the given code and argument types.
func NewTypedEvent(code int32, types string) *TypedEvent {
	return &TypedEvent{code: code, types: types}
}

func (e *TypedEvent) Code() int32 { return e.code }
func (e *TypedEvent) Sender() Object { return e.From }
func (e *TypedEvent) Types() string { return e.types }

// Int returns argument i as an int32, or 0.
func (e *TypedEvent) Int(i int) int32 {
	if i < len(e.Args) {
		if v, ok := e.Args[i].(int32); ok {
			return v
		}
	}
	return 0
}

// Float returns argument i as a float32, or 0.
func (e *TypedEvent) Float(i int) float32 {
	if i < len(e.Args) {
		if v, ok := e.Args[i].(float32); ok {
			return v
		}
	}
	return 0
}

// Ref returns argument i as an object, or nil.
func (e *TypedEvent) Ref(i int) Object {
	if i < len(e.Args) {
		if v, ok := e.Args[i].(Object); ok {
			return v
		}
	}
	return nil
}

// String returns argument i as a string, or "".
func (e *TypedEvent) String(i int) string {
	if i < len(e.Args) {
		if v, ok := e.Args[i].(string); ok {
			return v
		}
	}
	return ""
}

// payloadSize is the byte size of the argument block, excluding strings.
func (e *TypedEvent) payloadSize() int32 {
	var n int32
	for _, t := range e.types {
		switch t {
		case 'I', 'F', 'O':
			n += 4
		}
	}
	return n
}

func (e *TypedEvent) EncodePayload(enc Encoder) {
	enc.WriteInt32(e.payloadSize())
	enc.WriteRef(e.From)
	enc.WriteFloat32(e.Time)
	for i, t := range e.types {
		var arg any
		if i < len(e.Args) {
			arg = e.Args[i]
		}
		switch t {
		case 'I':
			v, _ := arg.(int32)
			enc.WriteInt32(v)
		case 'F':
			v, _ := arg.(float32)
			enc.WriteFloat32(v)
		case 'O':
			v, _ := arg.(Object)
			enc.WriteRef(v)
		case 'S':
			v, _ := arg.(string)
			enc.WriteString(v)
		}
	}
}

func (e *TypedEvent) DecodePayload(dec Decoder) {
	_ = dec.ReadInt32() // size; the type string already fixes the layout
	e.From = dec.ReadRef()
	e.Time = dec.ReadFloat32()
	e.Args = e.Args[:0]
	for _, t := range e.types {
		switch t {
		case 'I':
			e.Args = append(e.Args, dec.ReadInt32())
		case 'F':
			e.Args = append(e.Args, dec.ReadFloat32())
		case 'O':
			e.Args = append(e.Args, dec.ReadRef())
		case 'S':
			e.Args = append(e.Args, dec.ReadString())
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Registry
// ──────────────────────────────────────────────────────────────────────────────

// Factory builds empty objects and events for the decoder.
type Factory interface {
	NewObject(classID uint16) Object
	NewEvent(code int32) Event
	// Sharing returns the class-level distribution default.
	Sharing(classID uint16) Flags
	ClassName(classID uint16) string
}

type classInfo struct {
	name    string
	new     func() Object
	sharing Flags
}

type eventInfo struct {
	name string
	new  func() Event
}

// Registry is a Factory populated by the application at startup.
type Registry struct {
	mu      sync.RWMutex
	classes map[uint16]classInfo
	events  map[int32]eventInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		classes: make(map[uint16]classInfo),
		events:  make(map[int32]eventInfo),
	}
}

// RegisterClass binds a class id to a constructor and its sharing default.
func (r *Registry) RegisterClass(classID uint16, name string, sharing Flags, fn func() Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[classID] = classInfo{name: name, new: fn, sharing: sharing}
}

// RegisterEvent binds an event code to a constructor.
func (r *Registry) RegisterEvent(code int32, name string, fn func() Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[code] = eventInfo{name: name, new: fn}
}

// RegisterTypedEvent registers a TypedEvent with the given argument types.
func (r *Registry) RegisterTypedEvent(code int32, name, types string) {
	r.RegisterEvent(code, name, func() Event { return NewTypedEvent(code, types) })
}

// ShareClass changes the sharing default of a registered class.
func (r *Registry) ShareClass(classID uint16, sharing Flags) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.classes[classID]; ok {
		info.sharing = sharing
		r.classes[classID] = info
	}
}

func (r *Registry) NewObject(classID uint16) Object {
	r.mu.RLock()
	info, ok := r.classes[classID]
	r.mu.RUnlock()
	if !ok || info.new == nil {
		return nil
	}
	return info.new()
}

func (r *Registry) NewEvent(code int32) Event {
	r.mu.RLock()
	info, ok := r.events[code]
	r.mu.RUnlock()
	if !ok || info.new == nil {
		return nil
	}
	return info.new()
}

func (r *Registry) Sharing(classID uint16) Flags {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.classes[classID].sharing
}

func (r *Registry) ClassName(classID uint16) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.classes[classID]; ok {
		return info.name
	}
	return fmt.Sprintf("class%d", classID)
}

// ClassID looks a class up by name.
func (r *Registry) ClassID(name string) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, info := range r.classes {
		if info.name == name {
			return id, true
		}
	}
	return 0, false
}

// EventName returns the registered name of an event code.
func (r *Registry) EventName(code int32) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.events[code]; ok {
		return info.name
	}
	return fmt.Sprintf("event%d", code)
}
