package mempool

import (
	"time"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
)

// addrNonce is the composite key of the (address,nonce) index.
type addrNonce struct {
	addr  apollo.ContractAddress
	nonce apollo.Nonce
}

// poolEntry is one resident transaction: the insertion-time-indexed
// multimap's value, per §3's TransactionPool.
type poolEntry struct {
	tx          apollo.InternalRpcTransaction
	submittedAt time.Time
}

// pool is the TransactionPool of §3/§4.1: hash -> transaction,
// (address,nonce) -> reference, address -> sorted-by-nonce view,
// submission-time queue for TTL, and a byte accumulator.
//
// The address -> nonce-sorted view is kept as a plain slice re-sorted
// on insert, matching the pool's typical per-address fan-out (a
// handful of in-flight nonces); a skip-list/btree would only pay off
// at fan-out this pool is not expected to see.
type pool struct {
	byHash       map[apollo.TransactionHash]*poolEntry
	byAddrNonce  map[addrNonce]*poolEntry
	byAddress    map[apollo.ContractAddress][]*poolEntry // sorted by nonce ascending
	bySubmission []*poolEntry                            // sorted by submittedAt ascending
	totalBytes   uint64
}

func newPool() *pool {
	return &pool{
		byHash:      map[apollo.TransactionHash]*poolEntry{},
		byAddrNonce: map[addrNonce]*poolEntry{},
		byAddress:   map[apollo.ContractAddress][]*poolEntry{},
	}
}

func (p *pool) has(hash apollo.TransactionHash) bool {
	_, ok := p.byHash[hash]
	return ok
}

func (p *pool) get(addr apollo.ContractAddress, nonce apollo.Nonce) (*poolEntry, bool) {
	e, ok := p.byAddrNonce[addrNonce{addr, nonce}]
	return e, ok
}

// lowestNonce returns the smallest resident nonce for addr, if any.
func (p *pool) lowestNonce(addr apollo.ContractAddress) (apollo.Nonce, bool) {
	entries := p.byAddress[addr]
	if len(entries) == 0 {
		return apollo.Nonce{}, false
	}
	return entries[0].tx.Nonce, true
}

func (p *pool) insert(tx apollo.InternalRpcTransaction, now time.Time) {
	e := &poolEntry{tx: tx, submittedAt: now}
	p.byHash[tx.Hash] = e
	p.byAddrNonce[addrNonce{tx.Sender, tx.Nonce}] = e
	p.insertSorted(e)
	p.bySubmission = append(p.bySubmission, e)
	p.totalBytes += tx.TotalBytes
}

func (p *pool) insertSorted(e *poolEntry) {
	list := p.byAddress[e.tx.Sender]
	i := 0
	for i < len(list) && nonceLess(list[i].tx.Nonce, e.tx.Nonce) {
		i++
	}
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = e
	p.byAddress[e.tx.Sender] = list
}

// replace swaps the entry at (address,nonce) for tx, used by fee
// escalation. The old byte accounting is removed and the new one
// added.
func (p *pool) replace(tx apollo.InternalRpcTransaction, now time.Time) {
	old, ok := p.get(tx.Sender, tx.Nonce)
	if ok {
		p.removeEntry(old)
	}
	p.insert(tx, now)
}

// removeEntry removes e from every index.
func (p *pool) removeEntry(e *poolEntry) {
	delete(p.byHash, e.tx.Hash)
	delete(p.byAddrNonce, addrNonce{e.tx.Sender, e.tx.Nonce})
	list := p.byAddress[e.tx.Sender]
	for i, cand := range list {
		if cand == e {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(p.byAddress, e.tx.Sender)
	} else {
		p.byAddress[e.tx.Sender] = list
	}
	for i, cand := range p.bySubmission {
		if cand == e {
			p.bySubmission = append(p.bySubmission[:i], p.bySubmission[i+1:]...)
			break
		}
	}
	p.totalBytes -= e.tx.TotalBytes
}

// removeByHash removes the entry with the given hash, if resident.
func (p *pool) removeByHash(hash apollo.TransactionHash) bool {
	e, ok := p.byHash[hash]
	if !ok {
		return false
	}
	p.removeEntry(e)
	return true
}

// removeBelowNonce removes every entry for addr with nonce < next,
// returning the removed count (used by commit_block's pool deletion).
func (p *pool) removeBelowNonce(addr apollo.ContractAddress, next apollo.Nonce) int {
	removed := 0
	for _, e := range append([]*poolEntry(nil), p.byAddress[addr]...) {
		if nonceLess(e.tx.Nonce, next) {
			p.removeEntry(e)
			removed++
		}
	}
	return removed
}

// expireTTL removes and returns every entry whose submittedAt is older
// than now-ttl (the TTL boundary of §8: evicted when now - T >= ttl).
func (p *pool) expireTTL(now time.Time, ttl time.Duration) []apollo.InternalRpcTransaction {
	var expired []apollo.InternalRpcTransaction
	cutoff := now.Add(-ttl)
	for _, e := range append([]*poolEntry(nil), p.bySubmission...) {
		if !e.submittedAt.After(cutoff) {
			expired = append(expired, e.tx)
			p.removeEntry(e)
		}
	}
	return expired
}

// highestNonceEntriesDescending returns every entry for addr ordered
// from the highest nonce down, used by eviction ("removes its
// highest-nonce entries first").
func (p *pool) highestNonceEntriesDescending(addr apollo.ContractAddress) []*poolEntry {
	list := p.byAddress[addr]
	out := make([]*poolEntry, len(list))
	for i, e := range list {
		out[len(list)-1-i] = e
	}
	return out
}

func nonceLess(a, b apollo.Nonce) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func nonceEqual(a, b apollo.Nonce) bool { return a == b }
