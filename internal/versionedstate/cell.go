package versionedstate

import "sort"

// entry is one (tx_index -> value) installment in a cell's stack.
type entry[V any] struct {
	index int
	value V
}

// cell is the per-key stack of §3/§4.2: "a per-key stack of
// (tx_index -> value) entries". Reads at index i return the largest
// entry with index <= i; writes are staged separately per tx index by
// the TxState proxy and only pushed here by applyAt.
type cell[V any] struct {
	entries []entry[V] // kept sorted by index, ascending
}

// latestAtOrBefore returns the value and index of the largest entry
// with index <= at, and ok=false if no such entry exists (the caller
// must then fall through to the base CachedState).
func (c *cell[V]) latestAtOrBefore(at int) (V, int, bool) {
	var zero V
	// entries is small per key in practice (bounded by chunk width);
	// a linear scan from the end is simplest and keeps insertion O(n).
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].index <= at {
			return c.entries[i].value, c.entries[i].index, true
		}
	}
	return zero, -1, false
}

// applyAt installs (or replaces) the entry at exactly index idx.
func (c *cell[V]) applyAt(idx int, v V) {
	pos := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].index >= idx })
	if pos < len(c.entries) && c.entries[pos].index == idx {
		c.entries[pos].value = v
		return
	}
	c.entries = append(c.entries, entry[V]{})
	copy(c.entries[pos+1:], c.entries[pos:])
	c.entries[pos] = entry[V]{index: idx, value: v}
}

// deleteAt removes the entry at exactly index idx, if present (used by
// delete_writes on re-execution).
func (c *cell[V]) deleteAt(idx int) {
	pos := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].index >= idx })
	if pos < len(c.entries) && c.entries[pos].index == idx {
		c.entries = append(c.entries[:pos], c.entries[pos+1:]...)
	}
}

// maxIndexBelow returns the index of the entry with the largest index
// strictly less than upTo (exclusive upper bound), used when squashing
// a [0, W) chunk into the base state: commit_chunk takes, per key, the
// last writer below W.
func (c *cell[V]) maxIndexBelow(upTo int) (int, bool) {
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].index < upTo {
			return c.entries[i].index, true
		}
	}
	return -1, false
}

func (c *cell[V]) valueAt(idx int) V {
	for _, e := range c.entries {
		if e.index == idx {
			return e.value
		}
	}
	var zero V
	return zero
}
