package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
	"github.com/apollo-sequencer/sequencer/internal/statemodel"
	bolt "github.com/boltdb/bolt"
)

var (
	blocksBucket = []byte("blocks")
	sierraBucket = []byte("classes_sierra")
	legacyBucket = []byte("classes_legacy")
)

// BoltStore is the persistent StorageReader/StorageWriter backend,
// grounded on the teacher's declared boltdb/bolt dependency. It is
// wired here as the on-disk alternative to Memory: a production
// deployment opens one against a data directory; tests keep using
// Memory for determinism (§9: "factory split from runtime object to
// allow deterministic test doubles").
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if absent) a bolt-backed store at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{blocksBucket, sierraBucket, legacyBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Close() error { return b.db.Close() }

func heightKey(h apollo.BlockNumber) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(h))
	return key
}

func (b *BoltStore) Height() apollo.BlockNumber {
	var height uint64
	_ = b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(blocksBucket).Cursor()
		k, _ := c.Last()
		if k == nil {
			height = 0
			return nil
		}
		height = binary.BigEndian.Uint64(k) + 1
		return nil
	})
	return apollo.BlockNumber(height)
}

func (b *BoltStore) BlockAt(n apollo.BlockNumber) (BlockRecord, bool) {
	var rec BlockRecord
	var found bool
	_ = b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blocksBucket).Get(heightKey(n))
		if v == nil {
			return nil
		}
		if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&rec); err != nil {
			return err
		}
		found = true
		return nil
	})
	return rec, found
}

func (b *BoltStore) CommitProposal(height apollo.BlockNumber, diff statemodel.ThinStateDiff) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(blocksBucket)
		if apollo.BlockNumber(bucket.Stats().KeyN) != height {
			return ErrCommitHeightMismatch
		}
		var buf bytes.Buffer
		rec := BlockRecord{Number: height, StateDiff: diff}
		if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
			return fmt.Errorf("storage: encode block record: %w", err)
		}
		return bucket.Put(heightKey(height), buf.Bytes())
	})
}

func (b *BoltStore) RevertBlock(height apollo.BlockNumber) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(blocksBucket)
		if apollo.BlockNumber(bucket.Stats().KeyN) != height+1 {
			return fmt.Errorf("storage: revert_block height does not match current tip")
		}
		return bucket.Delete(heightKey(height))
	})
	if err != nil {
		panic(err)
	}
}

func (b *BoltStore) AppendClasses(height apollo.BlockNumber, sierra, deprecated []ClassDefinition) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket(sierraBucket)
		for _, c := range sierra {
			if err := sb.Put(c.ClassHash[:], c.Bytes); err != nil {
				return err
			}
		}
		lb := tx.Bucket(legacyBucket)
		for _, c := range deprecated {
			if err := lb.Put(c.ClassHash[:], c.Bytes); err != nil {
				return err
			}
		}
		return nil
	})
}
