// Package statemodel defines the keyed maps that flow through the
// cached-state / versioned-state layers (§3, §4.2): StateMaps, the
// strict/non-strict diffing rule that produces a StateDiff, and the
// AllocatedKeys accounting for newly-nonzero storage slots.
package statemodel

import "github.com/apollo-sequencer/sequencer/internal/apollo"

// StateMaps is the five-map snapshot of §3: nonces, class hashes at
// address, storage, compiled class hashes, and declared contracts.
type StateMaps struct {
	Nonces               map[apollo.ContractAddress]apollo.Nonce
	ClassHashes          map[apollo.ContractAddress]apollo.ClassHash
	Storage              map[apollo.StorageSlot]apollo.Felt
	CompiledClassHashes  map[apollo.ClassHash]apollo.CompiledClassHash
	DeclaredContracts    map[apollo.ClassHash]bool
}

// NewStateMaps returns an empty StateMaps with every map allocated, so
// callers never need a nil-check before indexing into it.
func NewStateMaps() StateMaps {
	return StateMaps{
		Nonces:              make(map[apollo.ContractAddress]apollo.Nonce),
		ClassHashes:         make(map[apollo.ContractAddress]apollo.ClassHash),
		Storage:             make(map[apollo.StorageSlot]apollo.Felt),
		CompiledClassHashes: make(map[apollo.ClassHash]apollo.CompiledClassHash),
		DeclaredContracts:   make(map[apollo.ClassHash]bool),
	}
}

// Clone deep-copies every map, used when a StateMaps must be handed to
// a collaborator that must not observe later mutation (e.g. the
// artifacts captured at commit time).
func (m StateMaps) Clone() StateMaps {
	out := NewStateMaps()
	for k, v := range m.Nonces {
		out.Nonces[k] = v
	}
	for k, v := range m.ClassHashes {
		out.ClassHashes[k] = v
	}
	for k, v := range m.Storage {
		out.Storage[k] = v
	}
	for k, v := range m.CompiledClassHashes {
		out.CompiledClassHashes[k] = v
	}
	for k, v := range m.DeclaredContracts {
		out.DeclaredContracts[k] = v
	}
	return out
}

// AllocatedKeys is the set of storage slots whose value transitioned
// 0 -> nonzero, charged separately from the rest of the diff (§3).
type AllocatedKeys map[apollo.StorageSlot]struct{}

// StateDiff is the committed-writes-minus-initial-reads projection of
// §3: a strict key subtraction for four of the five maps, and a
// non-strict subtraction for declared_contracts (legacy classes may be
// redeclared without that being a state change worth diffing out).
type StateDiff struct {
	Nonces              map[apollo.ContractAddress]apollo.Nonce
	ClassHashes         map[apollo.ContractAddress]apollo.ClassHash
	Storage             map[apollo.StorageSlot]apollo.Felt
	CompiledClassHashes map[apollo.ClassHash]apollo.CompiledClassHash
	DeclaredContracts   map[apollo.ClassHash]bool
	AllocatedKeys       AllocatedKeys
}

// Diff computes writes \ initial_reads per the §3/§4.2 rule: a write
// survives into the diff unless initial_reads held the exact same
// value under the same key (four strict maps), or — for
// DeclaredContracts — unless the class was already known true in
// initial_reads (non-strict: redeclaring an already-declared legacy
// class is a no-op, never a diff entry, regardless of the write's
// boolean value).
func Diff(initialReads, writes StateMaps) StateDiff {
	d := StateDiff{
		Nonces:              map[apollo.ContractAddress]apollo.Nonce{},
		ClassHashes:         map[apollo.ContractAddress]apollo.ClassHash{},
		Storage:             map[apollo.StorageSlot]apollo.Felt{},
		CompiledClassHashes: map[apollo.ClassHash]apollo.CompiledClassHash{},
		DeclaredContracts:   map[apollo.ClassHash]bool{},
		AllocatedKeys:       AllocatedKeys{},
	}
	for addr, n := range writes.Nonces {
		if prev, ok := initialReads.Nonces[addr]; !ok || prev != n {
			d.Nonces[addr] = n
		}
	}
	for addr, ch := range writes.ClassHashes {
		if prev, ok := initialReads.ClassHashes[addr]; !ok || prev != ch {
			d.ClassHashes[addr] = ch
		}
	}
	for slot, v := range writes.Storage {
		prev, ok := initialReads.Storage[slot]
		if !ok || prev != v {
			d.Storage[slot] = v
		}
		if (!ok || prev.IsZero()) && !v.IsZero() {
			d.AllocatedKeys[slot] = struct{}{}
		}
	}
	for ch, cch := range writes.CompiledClassHashes {
		if prev, ok := initialReads.CompiledClassHashes[ch]; !ok || prev != cch {
			d.CompiledClassHashes[ch] = cch
		}
	}
	for ch, declared := range writes.DeclaredContracts {
		// Non-strict: only a net-new declaration (not already true in
		// initial_reads) makes it into the diff.
		if already := initialReads.DeclaredContracts[ch]; !already && declared {
			d.DeclaredContracts[ch] = declared
		}
	}
	return d
}

// IsEmpty reports whether the diff carries no writes at all, the
// shape produced by an empty block (scenario S1).
func (d StateDiff) IsEmpty() bool {
	return len(d.Nonces) == 0 && len(d.ClassHashes) == 0 && len(d.Storage) == 0 &&
		len(d.CompiledClassHashes) == 0 && len(d.DeclaredContracts) == 0
}

// ThinStateDiff is the DA-ready projection of a StateDiff: identical
// field shape, named separately because the commit pipeline and
// storage writer treat it as the persisted, already-compressed
// representation rather than the in-flight execution artifact.
type ThinStateDiff StateDiff

func (d StateDiff) Thin() ThinStateDiff { return ThinStateDiff(d) }
