package messenger

import (
	"github.com/1ureka/graphsync/internal/object"
)

// observer is one registration. A zero code observes every event of the
// sender; a nil sender observes every sender.
type observer struct {
	target object.Observer
	code   int32
	sender object.Object
}

// Observe registers target for events of code sent by sender. The newest
// registration is called first. A registration already covered by an
// existing one for the same target is rejected.
func (m *Messenger) Observe(target object.Observer, code int32, sender object.Object) bool {
	if target == nil {
		return false
	}
	m.obsMu.Lock()
	defer m.obsMu.Unlock()

	list := m.observers[code]
	for _, o := range list {
		if o.target != target {
			continue
		}
		if o.code != 0 && o.code != code {
			continue
		}
		if o.sender != nil && o.sender != sender {
			continue
		}
		return false
	}
	m.observers[code] = append([]observer{{target: target, code: code, sender: sender}}, list...)
	return true
}

// Ignore removes the registrations of target for sender. A nil target or
// sender matches any. A zero code removes them from every event code. It
// reports whether anything was removed.
func (m *Messenger) Ignore(target object.Observer, code int32, sender object.Object) bool {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()

	removed := false
	drop := func(c int32) {
		list := m.observers[c]
		kept := list[:0]
		for _, o := range list {
			if (target == nil || o.target == target) && (sender == nil || o.sender == sender) {
				removed = true
				continue
			}
			kept = append(kept, o)
		}
		if len(kept) == 0 {
			delete(m.observers, c)
		} else {
			m.observers[c] = kept
		}
	}

	if code != 0 {
		drop(code)
		return removed
	}
	for c := range m.observers {
		drop(c)
	}
	return removed
}

// Dispatch calls every observer registered for the event's code whose
// sender matches, newest first, then the observers of all events of that
// sender.
func (m *Messenger) Dispatch(ev object.Event) {
	m.obsMu.Lock()
	targets := m.matching(nil, ev.Code(), ev.Sender())
	if ev.Code() != 0 {
		targets = m.matching(targets, 0, ev.Sender())
	}
	m.obsMu.Unlock()

	for _, t := range targets {
		t.OnEvent(ev)
	}
}

func (m *Messenger) matching(out []object.Observer, code int32, sender object.Object) []object.Observer {
	for _, o := range m.observers[code] {
		if o.sender == nil || o.sender == sender {
			out = append(out, o.target)
		}
	}
	return out
}

// LogEvent records ev on the event log. It is sent to peers when events
// are on and dispatched locally at the next Load.
func (m *Messenger) LogEvent(ev object.Event) error {
	tx := m.BeginOp(EventLog)
	tx.WriteEvent(ev)
	return tx.End()
}
