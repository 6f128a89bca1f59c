// Package table implements the open-addressed hash table smog uses for
// globals, class method tables, and instance field tables.
//
// The table is deliberately hand-rolled rather than a Go map: keys are
// always interned strings compared by identity (pointer equality), deletion
// must leave tombstones so probe chains stay intact, and the weak
// string-table pass the garbage collector runs after tracing needs to walk
// every slot including tombstones. A built-in map cannot expose any of that.
package table

import "math"

// Key is the interface interned string references must satisfy to be used
// as table keys. pkg/heap's String type implements this; table stays
// decoupled from pkg/heap so the two packages don't form an import cycle
// (heap depends on table for its intern/method/field tables).
type Key interface {
	// Hash returns the key's precomputed FNV-1a hash.
	Hash() uint32
}

// entry is one slot in the table. An empty slot has a nil Key and a nil
// Value. A tombstone (left behind by Delete) has a nil Key and a non-nil
// Value — the sentinel used throughout is tombstoneMarker.
type entry struct {
	key   Key
	value any
}

// tombstoneMarker distinguishes a tombstone slot (deleted) from a genuinely
// empty slot; both have a nil key, so the value field carries the
// distinction.
var tombstoneMarker = &struct{}{}

const maxLoad = 0.75

// Table is an open-addressed, linear-probed hash table keyed by Key and
// holding arbitrary values (any). Capacity is always zero or a power of two.
type Table struct {
	count    int // occupied slots plus tombstones; reset to live entries on growth
	capacity int
	entries  []entry
}

// New returns an empty table. Storage is allocated lazily on first Put.
func New() *Table {
	return &Table{}
}

// Len reports count: the live entries plus any tombstones left by Delete or
// RemoveWhite since the table last grew.
func (t *Table) Len() int { return t.count }

// Get looks up key and reports whether it was found.
func (t *Table) Get(key Key) (any, bool) {
	if t.count == 0 {
		return nil, false
	}
	e := t.findEntry(t.entries, t.capacity, key)
	if e.key == nil {
		return nil, false
	}
	return e.value, true
}

// Put inserts or overwrites key's value and reports whether key was newly
// inserted (as opposed to overwriting an existing live entry).
func (t *Table) Put(key Key, value any) bool {
	if float64(t.count+1) > float64(t.capacity)*maxLoad {
		t.grow(growCapacity(t.capacity))
	}

	e := t.findEntry(t.entries, t.capacity, key)
	isNew := e.key == nil
	if isNew && e.value == nil {
		// A genuinely empty slot (not a reused tombstone) grows the count.
		t.count++
	}
	e.key = key
	e.value = value
	return isNew
}

// Delete removes key, leaving a tombstone so later probes for colliding
// keys still find their slot. Reports whether key was present.
func (t *Table) Delete(key Key) bool {
	if t.count == 0 {
		return false
	}
	e := t.findEntry(t.entries, t.capacity, key)
	if e.key == nil {
		return false
	}
	e.key = nil
	e.value = tombstoneMarker
	return true
}

// AddAll copies every live entry from src into dst, as used when INHERIT
// snapshots a superclass's method table into a subclass.
func AddAll(src, dst *Table) {
	for i := range src.entries {
		e := &src.entries[i]
		if e.key != nil {
			dst.Put(e.key, e.value)
		}
	}
}

// FindStringFunc locates the entry whose key is a string with the given
// hash/length/bytes, via the caller-supplied equality check. This indirects
// through a callback (rather than depending on pkg/heap.String directly)
// because at lookup time the caller does not yet have an interned
// reference — it's searching for one.
func (t *Table) FindStringFunc(hash uint32, length int, matches func(Key) bool) (Key, bool) {
	if t.count == 0 {
		return nil, false
	}
	mask := t.capacity - 1
	index := int(hash) & mask
	for {
		e := &t.entries[index]
		if e.key == nil {
			if e.value == nil {
				// Empty, non-tombstone: the string is not interned.
				return nil, false
			}
		} else if e.key.Hash() == hash && matches(e.key) {
			return e.key, true
		}
		index = (index + 1) & mask
	}
}

// Each calls fn for every live entry, in table (not insertion) order. Used
// by the garbage collector to mark a table's contents.
func (t *Table) Each(fn func(key Key, value any)) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil {
			fn(e.key, e.value)
		}
	}
}

// RemoveWhite deletes every live entry whose key fails keep(key). This
// implements the collector's weak-table pass over the string intern table:
// keep reports whether the key object is marked.
func (t *Table) RemoveWhite(keep func(key Key) bool) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil && !keep(e.key) {
			e.key = nil
			e.value = tombstoneMarker
		}
	}
}

func (t *Table) findEntry(entries []entry, capacity int, key Key) *entry {
	mask := capacity - 1
	index := int(key.Hash()) & mask
	var tombstone *entry
	for {
		e := &entries[index]
		if e.key == nil {
			if e.value == nil {
				// Empty, non-tombstone slot: end of probe chain.
				if tombstone != nil {
					return tombstone
				}
				return e
			}
			if tombstone == nil {
				tombstone = e
			}
		} else if e.key == key {
			return e
		}
		index = (index + 1) & mask
	}
}

func (t *Table) grow(capacity int) {
	entries := make([]entry, capacity)

	count := 0
	for i := range t.entries {
		old := &t.entries[i]
		if old.key == nil {
			continue
		}
		dest := t.findEntry(entries, capacity, old.key)
		dest.key = old.key
		dest.value = old.value
		count++
	}

	t.entries = entries
	t.capacity = capacity
	t.count = count
}

func growCapacity(capacity int) int {
	if capacity < 8 {
		return 8
	}
	return capacity * 2
}

// NextPowerOfTwo rounds n up to the next power of two (1 for n <= 1).
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return int(math.Pow(2, math.Ceil(math.Log2(float64(n)))))
}
