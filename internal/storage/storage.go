// Package storage implements the append-only, versioned key-value
// storage of §3/§6: blocks, thin state diffs, class definitions and a
// monotonically advancing state marker, consumed by the rest of the
// core through the narrow StorageReader/StorageWriter traits rather
// than a broad persistence interface (§9).
package storage

import (
	"sync"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
	"github.com/apollo-sequencer/sequencer/internal/statemodel"
)

// ClassDefinition is an opaque compiled-or-source class blob, stored
// by kind (sierra vs legacy/deprecated) without this core needing to
// understand the class manager / sierra compiler (out of scope).
type ClassDefinition struct {
	ClassHash apollo.ClassHash
	Bytes     []byte
}

// BlockRecord is the persisted per-height record: a thin state diff is
// enough for this core's read needs (commitment/decision/revert); full
// header/body fields are out of scope of the spec's data model.
type BlockRecord struct {
	Number    apollo.BlockNumber
	StateDiff statemodel.ThinStateDiff
}

// Reader is the StorageReader trait of §3/§6: height() plus
// read-by-state-number queries, exposed as the narrow subset the core
// actually needs.
type Reader interface {
	Height() apollo.BlockNumber
	BlockAt(n apollo.BlockNumber) (BlockRecord, bool)
}

// Writer is the StorageWriter trait of §6. CommitProposal is an atomic
// append; RevertBlock is documented as panicking on failure — storage
// revert failure is an unrecoverable invariant breach, not a typed
// error (§6, §9).
type Writer interface {
	Reader
	CommitProposal(height apollo.BlockNumber, diff statemodel.ThinStateDiff) error
	RevertBlock(height apollo.BlockNumber)
	AppendClasses(height apollo.BlockNumber, sierra, deprecated []ClassDefinition) error
}

// ErrCommitHeightMismatch is returned when CommitProposal is called
// for a height other than the storage's current next-expected height.
var ErrCommitHeightMismatch = apolloErr("storage: commit height does not match next expected height")

type apolloErr string

func (e apolloErr) Error() string { return string(e) }

// Memory is an in-process StorageReader/StorageWriter, the default
// backend: deterministic, trivially reset between tests, matching the
// spec's §9 note that storage factories must support deterministic
// test doubles.
type Memory struct {
	mu      sync.Mutex
	blocks  []BlockRecord // index i holds height i
	sierra  map[apollo.ClassHash][]byte
	legacy  map[apollo.ClassHash][]byte
}

// NewMemory returns a Memory store whose next expected height is
// startHeight (0 for a fresh chain).
func NewMemory(startHeight apollo.BlockNumber) *Memory {
	m := &Memory{
		sierra: map[apollo.ClassHash][]byte{},
		legacy: map[apollo.ClassHash][]byte{},
	}
	for i := apollo.BlockNumber(0); i < startHeight; i++ {
		m.blocks = append(m.blocks, BlockRecord{Number: i})
	}
	return m
}

func (m *Memory) Height() apollo.BlockNumber {
	m.mu.Lock()
	defer m.mu.Unlock()
	return apollo.BlockNumber(len(m.blocks))
}

func (m *Memory) BlockAt(n apollo.BlockNumber) (BlockRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(n) >= len(m.blocks) {
		return BlockRecord{}, false
	}
	return m.blocks[n], true
}

func (m *Memory) CommitProposal(height apollo.BlockNumber, diff statemodel.ThinStateDiff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if apollo.BlockNumber(len(m.blocks)) != height {
		return ErrCommitHeightMismatch
	}
	m.blocks = append(m.blocks, BlockRecord{Number: height, StateDiff: diff})
	return nil
}

// RevertBlock truncates the reverted height's record. Per §6 this
// panics rather than returning an error when the precondition (height
// is exactly the current tip) does not hold: a caller asking to revert
// the wrong height is an invariant breach, not a recoverable failure.
func (m *Memory) RevertBlock(height apollo.BlockNumber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if apollo.BlockNumber(len(m.blocks)) != height+1 {
		panic("storage: revert_block height does not match current tip")
	}
	m.blocks = m.blocks[:height]
}

func (m *Memory) AppendClasses(height apollo.BlockNumber, sierra, deprecated []ClassDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range sierra {
		m.sierra[c.ClassHash] = c.Bytes
	}
	for _, c := range deprecated {
		m.legacy[c.ClassHash] = c.Bytes
	}
	return nil
}
