package builder

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
	"github.com/apollo-sequencer/sequencer/internal/statemodel"
)

// ComputeCommitment derives a deterministic block hash from the
// height and the resulting diff. The real Merkle commitment scheme
// over headers and per-contract tries is out of scope (§1); this
// gives decision_reached and get_proposal_content a stable, order-
// independent value to compare against instead of the zero Felt, by
// hashing the nonce, class-hash and storage maps in sorted key order.
// Compiled class hashes and declared contracts do not enter the hash.
func ComputeCommitment(height apollo.BlockNumber, diff statemodel.ThinStateDiff) apollo.BlockHash {
	h := sha256.New()

	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], uint64(height))
	h.Write(heightBuf[:])

	nonceAddrs := make([]apollo.ContractAddress, 0, len(diff.Nonces))
	for addr := range diff.Nonces {
		nonceAddrs = append(nonceAddrs, addr)
	}
	sort.Slice(nonceAddrs, func(i, j int) bool { return lessFelt(apollo.Felt(nonceAddrs[i]), apollo.Felt(nonceAddrs[j])) })
	for _, addr := range nonceAddrs {
		h.Write(addr[:])
		n := diff.Nonces[addr]
		h.Write(n[:])
	}

	classAddrs := make([]apollo.ContractAddress, 0, len(diff.ClassHashes))
	for addr := range diff.ClassHashes {
		classAddrs = append(classAddrs, addr)
	}
	sort.Slice(classAddrs, func(i, j int) bool { return lessFelt(apollo.Felt(classAddrs[i]), apollo.Felt(classAddrs[j])) })
	for _, addr := range classAddrs {
		h.Write(addr[:])
		ch := diff.ClassHashes[addr]
		h.Write(ch[:])
	}

	slots := make([]apollo.StorageSlot, 0, len(diff.Storage))
	for slot := range diff.Storage {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Contract != slots[j].Contract {
			return lessFelt(apollo.Felt(slots[i].Contract), apollo.Felt(slots[j].Contract))
		}
		return lessFelt(apollo.Felt(slots[i].Key), apollo.Felt(slots[j].Key))
	})
	for _, slot := range slots {
		h.Write(slot.Contract[:])
		h.Write(slot.Key[:])
		v := diff.Storage[slot]
		h.Write(v[:])
	}

	var out apollo.BlockHash
	copy(out[:], h.Sum(nil))
	return out
}

func lessFelt(a, b apollo.Felt) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
