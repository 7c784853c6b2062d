package messenger

import (
	"slices"
	"strings"

	"golang.org/x/exp/maps"

	"github.com/1ureka/graphsync/internal/object"
)

// Define binds name to obj, replacing whatever the name referred to, and
// stamps the name on obj. A nil obj removes the name.
func (m *Messenger) Define(name string, obj object.Object) bool {
	if name == "" {
		return false
	}
	m.namesMu.Lock()
	if obj == nil {
		delete(m.names, name)
	} else {
		m.names[name] = obj
	}
	m.namesMu.Unlock()
	if obj != nil {
		obj.SetName(name)
	}
	return true
}

// Undefine removes name from the dictionary.
func (m *Messenger) Undefine(name string) bool {
	m.namesMu.Lock()
	defer m.namesMu.Unlock()
	if _, ok := m.names[name]; !ok {
		return false
	}
	delete(m.names, name)
	return true
}

// Find returns the object named name. A name containing '*' is matched as
// a pattern and the first match in name order is returned.
func (m *Messenger) Find(name string) object.Object {
	if !strings.Contains(name, "*") {
		m.namesMu.RLock()
		defer m.namesMu.RUnlock()
		return m.names[name]
	}
	if all := m.FindAll(name); len(all) > 0 {
		return all[0]
	}
	return nil
}

// FindAll returns every object whose name matches pattern, in name order.
// An empty pattern matches every named object.
func (m *Messenger) FindAll(pattern string) []object.Object {
	m.namesMu.RLock()
	keys := maps.Keys(m.names)
	slices.Sort(keys)
	var out []object.Object
	for _, k := range keys {
		if pattern == "" || matchName(pattern, k) {
			out = append(out, m.names[k])
		}
	}
	m.namesMu.RUnlock()
	return out
}

// Names lists the defined names in order.
func (m *Messenger) Names() []string {
	m.namesMu.RLock()
	keys := maps.Keys(m.names)
	m.namesMu.RUnlock()
	slices.Sort(keys)
	return keys
}

// DetachAll detaches every object whose name matches pattern, then
// detaches root and everything it references.
func (m *Messenger) DetachAll(pattern string, root object.Object) error {
	for _, obj := range m.FindAll(pattern) {
		m.Detach(obj)
	}
	if root == nil {
		return nil
	}
	return m.Save(FastLog, root, object.SaveDetach)
}

// AttachAll attaches root and everything it references without writing
// any of it.
func (m *Messenger) AttachAll(root object.Object) error {
	return m.Save(FastLog, root, object.SaveAttach)
}

// matchName matches s against a pattern where '*' stands for any run of
// characters, including none.
func matchName(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, p := range parts[1 : len(parts)-1] {
		i := strings.Index(s, p)
		if i < 0 {
			return false
		}
		s = s[i+len(p):]
	}
	return strings.HasSuffix(s, last)
}
