package statemodel

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
)

// TestDiffElidesRestatedReads covers §3/§4.2's to_state_diff rule: a
// write that merely restates the value initial_reads already observed
// must not survive into the diff, checked via a full structural
// comparison rather than field-by-field assertions.
func TestDiffElidesRestatedReads(t *testing.T) {
	addr := apollo.ContractAddress{7}
	slot := apollo.StorageSlot{Contract: addr, Key: apollo.StorageKey{1}}

	reads := NewStateMaps()
	reads.Nonces[addr] = apollo.Nonce{1}
	reads.Storage[slot] = apollo.Felt{0x10}

	writes := NewStateMaps()
	writes.Nonces[addr] = apollo.Nonce{1}    // restates the read: elided
	writes.Storage[slot] = apollo.Felt{0x20} // changes the read: kept

	got := Diff(reads, writes)
	want := StateDiff{
		Nonces:              map[apollo.ContractAddress]apollo.Nonce{},
		ClassHashes:         map[apollo.ContractAddress]apollo.ClassHash{},
		Storage:             map[apollo.StorageSlot]apollo.Felt{slot: {0x20}},
		CompiledClassHashes: map[apollo.ClassHash]apollo.CompiledClassHash{},
		DeclaredContracts:   map[apollo.ClassHash]bool{},
		AllocatedKeys:       AllocatedKeys{},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Diff() mismatch (-want +got):\n%s", diff)
	}
}

// TestDiffOrderIndependent is the determinism half of invariant 5
// (§8): folding the same writes into the diff in two different
// iteration orders yields an identical StateDiff.
func TestDiffOrderIndependent(t *testing.T) {
	reads := NewStateMaps()

	writesA := NewStateMaps()
	writesB := NewStateMaps()
	for i := byte(0); i < 8; i++ {
		addr := apollo.ContractAddress{i}
		writesA.Nonces[addr] = apollo.Nonce{i + 1}
	}
	for i := byte(7); ; i-- {
		addr := apollo.ContractAddress{i}
		writesB.Nonces[addr] = apollo.Nonce{i + 1}
		if i == 0 {
			break
		}
	}

	diffA := Diff(reads, writesA)
	diffB := Diff(reads, writesB)
	if diff := cmp.Diff(diffA, diffB); diff != "" {
		t.Fatalf("Diff() not order-independent (-A +B):\n%s", diff)
	}
}
