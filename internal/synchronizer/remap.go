package synchronizer

import (
	"cmp"
	"slices"
	"sync"

	"golang.org/x/exp/maps"
)

type remapKey struct {
	handle int32
	mask   uint32
}

// RemapEntry is one outstanding handle remap: traffic from the peers in
// Mask that names Old is redirected to New until the peer acknowledges.
type RemapEntry struct {
	Old  int32
	Mask uint32
	New  int32
}

// RemapTable records the remaps this side initiated and has not yet seen
// echoed back.
type RemapTable struct {
	mu      sync.Mutex
	entries map[remapKey]int32
}

func NewRemapTable() *RemapTable {
	return &RemapTable{entries: make(map[remapKey]int32)}
}

// Set records that handle old from the peers in mask now means h.
func (t *RemapTable) Set(old int32, mask uint32, h int32) {
	t.mu.Lock()
	t.entries[remapKey{old, mask}] = h
	t.mu.Unlock()
}

// Lookup maps a handle received from the peers in mask. Handles without a
// pending remap are returned unchanged.
func (t *RemapTable) Lookup(h int32, mask uint32) int32 {
	if h <= 0 {
		return h
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) == 0 {
		return h
	}
	if nh, ok := t.entries[remapKey{h, mask}]; ok {
		return nh
	}
	return h
}

// Take removes the entry for (old, mask) and returns the handle it mapped to.
func (t *RemapTable) Take(old int32, mask uint32) (int32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := remapKey{old, mask}
	h, ok := t.entries[k]
	if ok {
		delete(t.entries, k)
	}
	return h, ok
}

// DropMask forgets every entry recorded for mask, as when that peer leaves.
// It returns the number of entries removed.
func (t *RemapTable) DropMask(mask uint32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k := range t.entries {
		if k.mask == mask {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

func (t *RemapTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Entries lists the outstanding remaps ordered by mask, then old handle.
func (t *RemapTable) Entries() []RemapEntry {
	t.mu.Lock()
	keys := maps.Keys(t.entries)
	out := make([]RemapEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, RemapEntry{Old: k.handle, Mask: k.mask, New: t.entries[k]})
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b RemapEntry) int {
		if c := cmp.Compare(a.Mask, b.Mask); c != 0 {
			return c
		}
		return cmp.Compare(a.Old, b.Old)
	})
	return out
}
