package storage

import "github.com/apollo-sequencer/sequencer/internal/apollo"

// ReplayReader is a state.Reader built by folding every committed
// block's thin state diff, from genesis up to (but excluding) a given
// height, into one flat view. It is the storage-backed counterpart the
// batcher's StateProvider wraps in front of state.New/versionedstate.New,
// grounded on the same "small explicit interfaces" read surface.
type ReplayReader struct {
	nonces              map[apollo.ContractAddress]apollo.Nonce
	classHashes         map[apollo.ContractAddress]apollo.ClassHash
	storageSlots        map[apollo.StorageSlot]apollo.Felt
	compiledClassHashes map[apollo.ClassHash]apollo.CompiledClassHash
	declaredContracts   map[apollo.ClassHash]bool
}

// NewReplayReader folds every block in [0, height) from r into a flat
// Reader view for the state a new proposal at height executes against.
func NewReplayReader(r Reader, height apollo.BlockNumber) *ReplayReader {
	rr := &ReplayReader{
		nonces:              make(map[apollo.ContractAddress]apollo.Nonce),
		classHashes:         make(map[apollo.ContractAddress]apollo.ClassHash),
		storageSlots:        make(map[apollo.StorageSlot]apollo.Felt),
		compiledClassHashes: make(map[apollo.ClassHash]apollo.CompiledClassHash),
		declaredContracts:   make(map[apollo.ClassHash]bool),
	}
	for n := apollo.BlockNumber(0); n < height; n++ {
		rec, ok := r.BlockAt(n)
		if !ok {
			continue
		}
		for k, v := range rec.StateDiff.Nonces {
			rr.nonces[k] = v
		}
		for k, v := range rec.StateDiff.ClassHashes {
			rr.classHashes[k] = v
		}
		for k, v := range rec.StateDiff.Storage {
			rr.storageSlots[k] = v
		}
		for k, v := range rec.StateDiff.CompiledClassHashes {
			rr.compiledClassHashes[k] = v
		}
		for k, v := range rec.StateDiff.DeclaredContracts {
			rr.declaredContracts[k] = v
		}
	}
	return rr
}

func (rr *ReplayReader) NonceAt(addr apollo.ContractAddress) (apollo.Nonce, error) {
	return rr.nonces[addr], nil
}

func (rr *ReplayReader) ClassHashAt(addr apollo.ContractAddress) (apollo.ClassHash, error) {
	return rr.classHashes[addr], nil
}

func (rr *ReplayReader) StorageAt(slot apollo.StorageSlot) (apollo.Felt, error) {
	return rr.storageSlots[slot], nil
}

func (rr *ReplayReader) CompiledClassHash(class apollo.ClassHash) (apollo.CompiledClassHash, error) {
	return rr.compiledClassHashes[class], nil
}

func (rr *ReplayReader) IsDeclared(class apollo.ClassHash) (bool, error) {
	return rr.declaredContracts[class], nil
}
