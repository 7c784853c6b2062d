// Package handle maps small positive integers to live objects for one
// replication stream. Handle 0 means "no object" and slot 0 is reserved.
package handle

import (
	"sync"

	"github.com/1ureka/graphsync/internal/object"
	"github.com/1ureka/graphsync/internal/protocol"
)

// DefaultLimit is the largest handle a table hands out unless configured.
const DefaultLimit = 1 << 20

// Table is a recycling handle allocator. Freed slots are reused lowest
// first before the table grows past its running maximum.
type Table struct {
	mu    sync.Mutex
	slots []object.Object
	index map[object.Object]int32
	max   int32 // highest handle handed out
	free  int32 // lowest known free slot, 0 when none
	limit int32
}

// NewTable creates an empty table that refuses handles above limit.
func NewTable(limit int32) *Table {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Table{
		slots: make([]object.Object, 1),
		index: make(map[object.Object]int32),
		limit: limit,
	}
}

// Attach places obj in the table and returns its handle. A positive
// preferred handle is used when obj already occupies it or when the slot is
// free. Otherwise the lowest free slot is taken, then a fresh one past the
// maximum. It fails with protocol.ErrTableFull when no handle is left.
func (t *Table) Attach(obj object.Object, preferred int32) (int32, error) {
	if obj == nil {
		return 0, protocol.ErrNullHandle
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if preferred > 0 && preferred < int32(len(t.slots)) && t.slots[preferred] == obj {
		return preferred, nil
	}
	h := t.newHandle(preferred)
	if h <= 0 {
		return 0, protocol.ErrTableFull
	}
	t.set(h, obj)
	return h, nil
}

// nextFree returns the first empty slot at or after from, or 0.
func (t *Table) nextFree(from int32) int32 {
	if from <= 0 {
		return 0
	}
	for h := from; h < int32(len(t.slots)); h++ {
		if t.slots[h] == nil {
			return h
		}
	}
	return 0
}

// newHandle picks the next handle. Callers hold t.mu.
func (t *Table) newHandle(preferred int32) int32 {
	size := int32(len(t.slots))

	if preferred > 0 && preferred <= t.limit && (preferred >= size || t.slots[preferred] == nil) {
		h := preferred
		if h > t.max {
			// Slots skipped on the way up are free.
			if gap := t.max + 1; h > gap && (t.free <= 0 || t.free > gap) {
				t.free = gap
			}
			t.max = h
		}
		return h
	}

	h := t.nextFree(t.free)
	if h > 0 {
		t.free = t.nextFree(h + 1)
	} else {
		if t.max >= t.limit {
			return 0
		}
		t.max++
		h = t.max
		t.free = 0
	}

	if h > t.max {
		t.max = h
	}
	return h
}

func (t *Table) set(h int32, obj object.Object) {
	for int32(len(t.slots)) <= h {
		t.slots = append(t.slots, nil)
	}
	if old := t.slots[h]; old != nil && t.index[old] == h {
		delete(t.index, old)
	}
	t.slots[h] = obj
	t.index[obj] = h
}

// Get returns the object at h, or nil.
func (t *Table) Get(h int32) object.Object {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h <= 0 || h >= int32(len(t.slots)) {
		return nil
	}
	return t.slots[h]
}

// Detach clears slot h and clears the SAVED flag of the object that was
// there. It returns false only when h is out of range.
func (t *Table) Detach(h int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h <= 0 || h >= int32(len(t.slots)) {
		return false
	}
	if obj := t.slots[h]; obj != nil {
		obj.ClearFlags(object.Saved)
		if t.index[obj] == h {
			delete(t.index, obj)
		}
		t.slots[h] = nil
	}
	if t.free <= 0 || t.free > h {
		t.free = h
	}
	if h == t.max {
		t.max--
	}
	return true
}

// HandleOf returns the handle obj occupies, or 0.
func (t *Table) HandleOf(obj object.Object) int32 {
	if obj == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index[obj]
}

// Max returns the running maximum handle.
func (t *Table) Max() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.max
}

// Len returns the number of attached objects.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.index)
}

// Each calls fn for every attached object in handle order. fn must not
// call back into the table.
func (t *Table) Each(fn func(h int32, obj object.Object)) {
	t.mu.Lock()
	snapshot := make([]object.Object, len(t.slots))
	copy(snapshot, t.slots)
	t.mu.Unlock()

	for h, obj := range snapshot {
		if obj != nil {
			fn(int32(h), obj)
		}
	}
}

// Clear detaches everything and returns the table to its initial state.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, obj := range t.slots {
		if obj != nil {
			obj.ClearFlags(object.Saved)
		}
	}
	t.slots = make([]object.Object, 1)
	t.index = make(map[object.Object]int32)
	t.max = 0
	t.free = 0
}
