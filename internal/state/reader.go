// Package state implements the single-threaded read-through cache over
// a StateReader (§3, §4.2): CachedState records initial reads versus
// writes into a StateCache and produces a StateDiff on finalisation.
package state

import "github.com/apollo-sequencer/sequencer/internal/apollo"

// Reader is the narrow, explicit interface every cached/versioned
// layer reads through — the "small explicit interfaces, one method
// per observable operation" style the spec's §9 design notes require
// in place of a broad state trait.
type Reader interface {
	NonceAt(addr apollo.ContractAddress) (apollo.Nonce, error)
	ClassHashAt(addr apollo.ContractAddress) (apollo.ClassHash, error)
	StorageAt(slot apollo.StorageSlot) (apollo.Felt, error)
	CompiledClassHash(class apollo.ClassHash) (apollo.CompiledClassHash, error)
	IsDeclared(class apollo.ClassHash) (bool, error)
}
