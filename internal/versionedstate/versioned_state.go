// Package versionedstate implements the optimistic-concurrency layer
// of §4.2: a copy-on-write overlay over a base CachedState, keyed by
// transaction index within a chunk of width W. Transactions pin a
// version, execute speculatively, have their read-set validated, and
// either get their writes installed or are forced to re-execute.
package versionedstate

import (
	"sync"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
	"github.com/apollo-sequencer/sequencer/internal/logging"
	"github.com/apollo-sequencer/sequencer/internal/metrics"
	"github.com/apollo-sequencer/sequencer/internal/state"
	"github.com/apollo-sequencer/sequencer/internal/statemodel"
	"go.uber.org/zap"
)

// ReadSet records, per key, the index of the entry a transaction
// observed when it read that key (-1 meaning "fell through to the
// base CachedState"). VersionedState.ValidateReads uses it to detect
// whether a conflicting write was installed after the fact.
type ReadSet struct {
	Nonces              map[apollo.ContractAddress]int
	ClassHashes         map[apollo.ContractAddress]int
	Storage             map[apollo.StorageSlot]int
	CompiledClassHashes map[apollo.ClassHash]int
	DeclaredContracts   map[apollo.ClassHash]int
}

func newReadSet() ReadSet {
	return ReadSet{
		Nonces:              map[apollo.ContractAddress]int{},
		ClassHashes:         map[apollo.ContractAddress]int{},
		Storage:             map[apollo.StorageSlot]int{},
		CompiledClassHashes: map[apollo.ClassHash]int{},
		DeclaredContracts:   map[apollo.ClassHash]int{},
	}
}

// VersionedState is the shared, index-keyed structure of §3/§4.2.
// Its internal mutex is the single lock of §5: per-transaction proxies
// borrow it only for the duration of one overlay read, write or
// validation.
type VersionedState struct {
	mu sync.Mutex

	base *state.CachedState

	nonces              map[apollo.ContractAddress]*cell[apollo.Nonce]
	classHashes         map[apollo.ContractAddress]*cell[apollo.ClassHash]
	storage             map[apollo.StorageSlot]*cell[apollo.Felt]
	compiledClassHashes map[apollo.ClassHash]*cell[apollo.CompiledClassHash]
	declaredContracts   map[apollo.ClassHash]*cell[bool]

	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

// New builds a VersionedState chunk atop base. logger/m may be nil.
func New(base *state.CachedState, m *metrics.Metrics, logger *zap.SugaredLogger) *VersionedState {
	return &VersionedState{
		base:                base,
		nonces:              map[apollo.ContractAddress]*cell[apollo.Nonce]{},
		classHashes:         map[apollo.ContractAddress]*cell[apollo.ClassHash]{},
		storage:             map[apollo.StorageSlot]*cell[apollo.Felt]{},
		compiledClassHashes: map[apollo.ClassHash]*cell[apollo.CompiledClassHash]{},
		declaredContracts:   map[apollo.ClassHash]*cell[bool]{},
		metrics:             m,
		logger:              logging.NopIfNil(logger),
	}
}

func (vs *VersionedState) nonceCell(addr apollo.ContractAddress) *cell[apollo.Nonce] {
	c, ok := vs.nonces[addr]
	if !ok {
		c = &cell[apollo.Nonce]{}
		vs.nonces[addr] = c
	}
	return c
}

func (vs *VersionedState) classHashCell(addr apollo.ContractAddress) *cell[apollo.ClassHash] {
	c, ok := vs.classHashes[addr]
	if !ok {
		c = &cell[apollo.ClassHash]{}
		vs.classHashes[addr] = c
	}
	return c
}

func (vs *VersionedState) storageCell(slot apollo.StorageSlot) *cell[apollo.Felt] {
	c, ok := vs.storage[slot]
	if !ok {
		c = &cell[apollo.Felt]{}
		vs.storage[slot] = c
	}
	return c
}

func (vs *VersionedState) compiledClassHashCell(class apollo.ClassHash) *cell[apollo.CompiledClassHash] {
	c, ok := vs.compiledClassHashes[class]
	if !ok {
		c = &cell[apollo.CompiledClassHash]{}
		vs.compiledClassHashes[class] = c
	}
	return c
}

func (vs *VersionedState) declaredCell(class apollo.ClassHash) *cell[bool] {
	c, ok := vs.declaredContracts[class]
	if !ok {
		c = &cell[bool]{}
		vs.declaredContracts[class] = c
	}
	return c
}

// PinVersion returns a TxState proxy for transaction index i.
func (vs *VersionedState) PinVersion(i int) *TxState {
	return &TxState{vs: vs, index: i, writes: statemodel.NewStateMaps(), reads: newReadSet()}
}

// ValidateReads reports whether every key in readSet is still
// consistent: no entry with index strictly less than i was installed
// after the value in readSet was observed (§4.2). false mandates
// re-execution of transaction i.
func (vs *VersionedState) ValidateReads(i int, readSet ReadSet) bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	for addr, observed := range readSet.Nonces {
		if cur, _ := vs.nonceCell(addr).maxIndexBelow(i); cur != observed {
			return false
		}
	}
	for addr, observed := range readSet.ClassHashes {
		if cur, _ := vs.classHashCell(addr).maxIndexBelow(i); cur != observed {
			return false
		}
	}
	for slot, observed := range readSet.Storage {
		if cur, _ := vs.storageCell(slot).maxIndexBelow(i); cur != observed {
			return false
		}
	}
	for class, observed := range readSet.CompiledClassHashes {
		if cur, _ := vs.compiledClassHashCell(class).maxIndexBelow(i); cur != observed {
			return false
		}
	}
	for class, observed := range readSet.DeclaredContracts {
		if cur, _ := vs.declaredCell(class).maxIndexBelow(i); cur != observed {
			return false
		}
	}
	return true
}

// ApplyWrites installs transaction i's writes into the shared
// structure, making them visible to later reads at index > i.
func (vs *VersionedState) ApplyWrites(i int, writes statemodel.StateMaps) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	for addr, n := range writes.Nonces {
		vs.nonceCell(addr).applyAt(i, n)
	}
	for addr, ch := range writes.ClassHashes {
		vs.classHashCell(addr).applyAt(i, ch)
	}
	for slot, v := range writes.Storage {
		vs.storageCell(slot).applyAt(i, v)
	}
	for class, cch := range writes.CompiledClassHashes {
		vs.compiledClassHashCell(class).applyAt(i, cch)
	}
	for class, d := range writes.DeclaredContracts {
		vs.declaredCell(class).applyAt(i, d)
	}
}

// DeleteWrites removes transaction i's overlay entirely, used before
// re-executing i after a failed validation.
func (vs *VersionedState) DeleteWrites(i int, writes statemodel.StateMaps) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	for addr := range writes.Nonces {
		vs.nonceCell(addr).deleteAt(i)
	}
	for addr := range writes.ClassHashes {
		vs.classHashCell(addr).deleteAt(i)
	}
	for slot := range writes.Storage {
		vs.storageCell(slot).deleteAt(i)
	}
	for class := range writes.CompiledClassHashes {
		vs.compiledClassHashCell(class).deleteAt(i)
	}
	for class := range writes.DeclaredContracts {
		vs.declaredCell(class).deleteAt(i)
	}
}

// CommitChunk squashes indices [0, width) into the base CachedState —
// for each key, the last writer below width wins — and returns the
// recovered base state so the next chunk can pin a fresh
// VersionedState atop it immediately.
func (vs *VersionedState) CommitChunk(width int) *state.CachedState {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	merged := statemodel.NewStateMaps()
	for addr, c := range vs.nonces {
		if idx, ok := c.maxIndexBelow(width); ok {
			merged.Nonces[addr] = c.valueAt(idx)
		}
	}
	for addr, c := range vs.classHashes {
		if idx, ok := c.maxIndexBelow(width); ok {
			merged.ClassHashes[addr] = c.valueAt(idx)
		}
	}
	for slot, c := range vs.storage {
		if idx, ok := c.maxIndexBelow(width); ok {
			merged.Storage[slot] = c.valueAt(idx)
		}
	}
	for class, c := range vs.compiledClassHashes {
		if idx, ok := c.maxIndexBelow(width); ok {
			merged.CompiledClassHashes[class] = c.valueAt(idx)
		}
	}
	for class, c := range vs.declaredContracts {
		if idx, ok := c.maxIndexBelow(width); ok {
			merged.DeclaredContracts[class] = c.valueAt(idx)
		}
	}
	vs.base.ApplyWrites(merged)
	return vs.base
}
