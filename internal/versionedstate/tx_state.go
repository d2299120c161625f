package versionedstate

import (
	"github.com/apollo-sequencer/sequencer/internal/apollo"
	"github.com/apollo-sequencer/sequencer/internal/statemodel"
)

// TxState is the proxy pin_version(i) yields: reads consult the
// transaction's own staged writes first (read-your-own-write within a
// single speculative execution), then the shared per-key stack at
// index <= i, then fall through to the base CachedState. Writes are
// staged locally until the caller installs them with
// VersionedState.ApplyWrites.
type TxState struct {
	vs     *VersionedState
	index  int
	writes statemodel.StateMaps
	reads  ReadSet
}

// Writes returns the write set staged by this execution, for handing
// to VersionedState.ApplyWrites/DeleteWrites.
func (t *TxState) Writes() statemodel.StateMaps { return t.writes }

// ReadSet returns the read set observed by this execution, for handing
// to VersionedState.ValidateReads.
func (t *TxState) ReadSet() ReadSet { return t.reads }

func (t *TxState) GetNonce(addr apollo.ContractAddress) (apollo.Nonce, error) {
	if v, ok := t.writes.Nonces[addr]; ok {
		return v, nil
	}
	t.vs.mu.Lock()
	if v, idx, ok := t.vs.nonceCell(addr).latestAtOrBefore(t.index); ok {
		t.vs.mu.Unlock()
		if _, recorded := t.reads.Nonces[addr]; !recorded {
			t.reads.Nonces[addr] = idx
		}
		return v, nil
	}
	t.vs.mu.Unlock()
	if _, recorded := t.reads.Nonces[addr]; !recorded {
		t.reads.Nonces[addr] = -1
	}
	return t.vs.base.GetNonce(addr)
}

func (t *TxState) SetNonce(addr apollo.ContractAddress, n apollo.Nonce) {
	t.writes.Nonces[addr] = n
}

func (t *TxState) GetClassHashAt(addr apollo.ContractAddress) (apollo.ClassHash, error) {
	if v, ok := t.writes.ClassHashes[addr]; ok {
		return v, nil
	}
	t.vs.mu.Lock()
	if v, idx, ok := t.vs.classHashCell(addr).latestAtOrBefore(t.index); ok {
		t.vs.mu.Unlock()
		if _, recorded := t.reads.ClassHashes[addr]; !recorded {
			t.reads.ClassHashes[addr] = idx
		}
		return v, nil
	}
	t.vs.mu.Unlock()
	if _, recorded := t.reads.ClassHashes[addr]; !recorded {
		t.reads.ClassHashes[addr] = -1
	}
	return t.vs.base.GetClassHashAt(addr)
}

func (t *TxState) SetClassHashAt(addr apollo.ContractAddress, ch apollo.ClassHash) {
	t.writes.ClassHashes[addr] = ch
}

func (t *TxState) GetStorageAt(slot apollo.StorageSlot) (apollo.Felt, error) {
	if v, ok := t.writes.Storage[slot]; ok {
		return v, nil
	}
	t.vs.mu.Lock()
	if v, idx, ok := t.vs.storageCell(slot).latestAtOrBefore(t.index); ok {
		t.vs.mu.Unlock()
		if _, recorded := t.reads.Storage[slot]; !recorded {
			t.reads.Storage[slot] = idx
		}
		return v, nil
	}
	t.vs.mu.Unlock()
	if _, recorded := t.reads.Storage[slot]; !recorded {
		t.reads.Storage[slot] = -1
	}
	return t.vs.base.GetStorageAt(slot)
}

func (t *TxState) SetStorageAt(slot apollo.StorageSlot, v apollo.Felt) {
	t.writes.Storage[slot] = v
}

func (t *TxState) GetCompiledClassHash(class apollo.ClassHash) (apollo.CompiledClassHash, error) {
	if v, ok := t.writes.CompiledClassHashes[class]; ok {
		return v, nil
	}
	t.vs.mu.Lock()
	if v, idx, ok := t.vs.compiledClassHashCell(class).latestAtOrBefore(t.index); ok {
		t.vs.mu.Unlock()
		if _, recorded := t.reads.CompiledClassHashes[class]; !recorded {
			t.reads.CompiledClassHashes[class] = idx
		}
		return v, nil
	}
	t.vs.mu.Unlock()
	if _, recorded := t.reads.CompiledClassHashes[class]; !recorded {
		t.reads.CompiledClassHashes[class] = -1
	}
	return t.vs.base.GetCompiledClassHash(class)
}

func (t *TxState) SetCompiledClassHash(class apollo.ClassHash, cch apollo.CompiledClassHash) {
	t.writes.CompiledClassHashes[class] = cch
}

func (t *TxState) IsDeclared(class apollo.ClassHash) (bool, error) {
	if v, ok := t.writes.DeclaredContracts[class]; ok {
		return v, nil
	}
	t.vs.mu.Lock()
	if v, idx, ok := t.vs.declaredCell(class).latestAtOrBefore(t.index); ok {
		t.vs.mu.Unlock()
		if _, recorded := t.reads.DeclaredContracts[class]; !recorded {
			t.reads.DeclaredContracts[class] = idx
		}
		return v, nil
	}
	t.vs.mu.Unlock()
	if _, recorded := t.reads.DeclaredContracts[class]; !recorded {
		t.reads.DeclaredContracts[class] = -1
	}
	return t.vs.base.IsDeclared(class)
}

func (t *TxState) SetDeclared(class apollo.ClassHash, declared bool) {
	t.writes.DeclaredContracts[class] = declared
}
