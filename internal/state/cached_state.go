package state

import (
	"sync"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
	"github.com/apollo-sequencer/sequencer/internal/logging"
	"github.com/apollo-sequencer/sequencer/internal/statemodel"
	"go.uber.org/zap"
)

// Cache is the StateCache of §4.2: separate initial_reads and writes
// maps per key, so a later to_state_diff() can elide writes that
// merely restate the prior value.
type Cache struct {
	initialReads statemodel.StateMaps
	writes       statemodel.StateMaps
}

func newCache() Cache {
	return Cache{initialReads: statemodel.NewStateMaps(), writes: statemodel.NewStateMaps()}
}

// CachedState is a single-threaded read-through cache over a Reader.
// "Single-threaded" per §5: one CachedState instance is never shared
// across goroutines; the versioned-state layer above it owns the
// concurrency story.
type CachedState struct {
	reader Reader
	cache  Cache
	mu     sync.Mutex // guards cache; short critical sections only, per §5
	logger *zap.SugaredLogger
}

// New builds a CachedState over reader. logger may be nil.
func New(reader Reader, logger *zap.SugaredLogger) *CachedState {
	return &CachedState{reader: reader, cache: newCache(), logger: logging.NopIfNil(logger)}
}

func (c *CachedState) GetNonce(addr apollo.ContractAddress) (apollo.Nonce, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache.writes.Nonces[addr]; ok {
		return v, nil
	}
	if v, ok := c.cache.initialReads.Nonces[addr]; ok {
		return v, nil
	}
	v, err := c.reader.NonceAt(addr)
	if err != nil {
		return apollo.Nonce{}, err
	}
	c.cache.initialReads.Nonces[addr] = v
	return v, nil
}

func (c *CachedState) SetNonce(addr apollo.ContractAddress, n apollo.Nonce) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.writes.Nonces[addr] = n
}

func (c *CachedState) GetClassHashAt(addr apollo.ContractAddress) (apollo.ClassHash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache.writes.ClassHashes[addr]; ok {
		return v, nil
	}
	if v, ok := c.cache.initialReads.ClassHashes[addr]; ok {
		return v, nil
	}
	v, err := c.reader.ClassHashAt(addr)
	if err != nil {
		return apollo.ClassHash{}, err
	}
	c.cache.initialReads.ClassHashes[addr] = v
	return v, nil
}

func (c *CachedState) SetClassHashAt(addr apollo.ContractAddress, ch apollo.ClassHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.writes.ClassHashes[addr] = ch
}

func (c *CachedState) GetStorageAt(slot apollo.StorageSlot) (apollo.Felt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache.writes.Storage[slot]; ok {
		return v, nil
	}
	if v, ok := c.cache.initialReads.Storage[slot]; ok {
		return v, nil
	}
	v, err := c.reader.StorageAt(slot)
	if err != nil {
		return apollo.Felt{}, err
	}
	c.cache.initialReads.Storage[slot] = v
	return v, nil
}

func (c *CachedState) SetStorageAt(slot apollo.StorageSlot, v apollo.Felt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.writes.Storage[slot] = v
}

func (c *CachedState) GetCompiledClassHash(class apollo.ClassHash) (apollo.CompiledClassHash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache.writes.CompiledClassHashes[class]; ok {
		return v, nil
	}
	if v, ok := c.cache.initialReads.CompiledClassHashes[class]; ok {
		return v, nil
	}
	v, err := c.reader.CompiledClassHash(class)
	if err != nil {
		return apollo.CompiledClassHash{}, err
	}
	c.cache.initialReads.CompiledClassHashes[class] = v
	return v, nil
}

func (c *CachedState) SetCompiledClassHash(class apollo.ClassHash, cch apollo.CompiledClassHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.writes.CompiledClassHashes[class] = cch
}

func (c *CachedState) IsDeclared(class apollo.ClassHash) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache.writes.DeclaredContracts[class]; ok {
		return v, nil
	}
	if v, ok := c.cache.initialReads.DeclaredContracts[class]; ok {
		return v, nil
	}
	v, err := c.reader.IsDeclared(class)
	if err != nil {
		return false, err
	}
	c.cache.initialReads.DeclaredContracts[class] = v
	return v, nil
}

func (c *CachedState) SetDeclared(class apollo.ClassHash, declared bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.writes.DeclaredContracts[class] = declared
}

// ApplyWrites merges an externally-produced write set directly into
// the cache's writes map, used by VersionedState.CommitChunk to fold a
// chunk's per-tx overlays back into the base CachedState without going
// through the Set* accessors one key at a time.
func (c *CachedState) ApplyWrites(writes statemodel.StateMaps) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range writes.Nonces {
		c.cache.writes.Nonces[k] = v
	}
	for k, v := range writes.ClassHashes {
		c.cache.writes.ClassHashes[k] = v
	}
	for k, v := range writes.Storage {
		c.cache.writes.Storage[k] = v
	}
	for k, v := range writes.CompiledClassHashes {
		c.cache.writes.CompiledClassHashes[k] = v
	}
	for k, v := range writes.DeclaredContracts {
		c.cache.writes.DeclaredContracts[k] = v
	}
}

// ToStateDiff produces the canonical StateDiff (§4.2): every write-only
// key (one present in writes but never read through this cache) is
// first filled by consulting the underlying reader, so that a write
// which merely restates the prior value is correctly elided.
func (c *CachedState) ToStateDiff() (statemodel.StateDiff, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fillMissingReads(); err != nil {
		return statemodel.StateDiff{}, err
	}
	return statemodel.Diff(c.cache.initialReads, c.cache.writes), nil
}

func (c *CachedState) fillMissingReads() error {
	for addr := range c.cache.writes.Nonces {
		if _, ok := c.cache.initialReads.Nonces[addr]; ok {
			continue
		}
		v, err := c.reader.NonceAt(addr)
		if err != nil {
			return err
		}
		c.cache.initialReads.Nonces[addr] = v
	}
	for addr := range c.cache.writes.ClassHashes {
		if _, ok := c.cache.initialReads.ClassHashes[addr]; ok {
			continue
		}
		v, err := c.reader.ClassHashAt(addr)
		if err != nil {
			return err
		}
		c.cache.initialReads.ClassHashes[addr] = v
	}
	for slot := range c.cache.writes.Storage {
		if _, ok := c.cache.initialReads.Storage[slot]; ok {
			continue
		}
		v, err := c.reader.StorageAt(slot)
		if err != nil {
			return err
		}
		c.cache.initialReads.Storage[slot] = v
	}
	for class := range c.cache.writes.CompiledClassHashes {
		if _, ok := c.cache.initialReads.CompiledClassHashes[class]; ok {
			continue
		}
		v, err := c.reader.CompiledClassHash(class)
		if err != nil {
			return err
		}
		c.cache.initialReads.CompiledClassHashes[class] = v
	}
	for class := range c.cache.writes.DeclaredContracts {
		if _, ok := c.cache.initialReads.DeclaredContracts[class]; ok {
			continue
		}
		v, err := c.reader.IsDeclared(class)
		if err != nil {
			return err
		}
		c.cache.initialReads.DeclaredContracts[class] = v
	}
	return nil
}

// Reader returns this CachedState itself as a Reader, so a committed
// CachedState can act as the base Reader for the next block's
// VersionedState.
func (c *CachedState) Reader() Reader { return c }

func (c *CachedState) NonceAt(addr apollo.ContractAddress) (apollo.Nonce, error) {
	return c.GetNonce(addr)
}
func (c *CachedState) ClassHashAt(addr apollo.ContractAddress) (apollo.ClassHash, error) {
	return c.GetClassHashAt(addr)
}
func (c *CachedState) StorageAt(slot apollo.StorageSlot) (apollo.Felt, error) {
	return c.GetStorageAt(slot)
}
func (c *CachedState) CompiledClassHash(class apollo.ClassHash) (apollo.CompiledClassHash, error) {
	return c.GetCompiledClassHash(class)
}
