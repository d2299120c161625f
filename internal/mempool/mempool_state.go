package mempool

import "github.com/apollo-sequencer/sequencer/internal/apollo"

// historyEntry is one commit_block event retained by the bounded ring,
// recording exactly enough to rewind committed on expiry.
type historyEntry struct {
	addrs  []apollo.ContractAddress
	nonces []apollo.Nonce
}

// mempoolState is the MempoolState of §3: committed nonces, staged
// (provisional, get_txs-bumped) nonces, and a bounded commit_history
// ring. The invariant tying the three together — every history address
// appears in committed, and expiring the oldest entry removes committed
// only where the expiring value is still the last-committed one — is
// maintained entirely in commit() and expireOldest().
type mempoolState struct {
	committed map[apollo.ContractAddress]apollo.Nonce
	staged    map[apollo.ContractAddress]apollo.Nonce
	history   []historyEntry
	capacity  int
}

func newMempoolState(historyCapacity int) *mempoolState {
	return &mempoolState{
		committed: map[apollo.ContractAddress]apollo.Nonce{},
		staged:    map[apollo.ContractAddress]apollo.Nonce{},
		capacity:  historyCapacity,
	}
}

// resolveNonce implements resolve_nonce = staged ∨ committed ∨ fallback.
func (s *mempoolState) resolveNonce(addr apollo.ContractAddress, fallback apollo.Nonce) apollo.Nonce {
	if n, ok := s.staged[addr]; ok {
		return n
	}
	if n, ok := s.committed[addr]; ok {
		return n
	}
	return fallback
}

// stage records a provisional next-nonce bump during get_txs.
func (s *mempoolState) stage(addr apollo.ContractAddress, next apollo.Nonce) {
	s.staged[addr] = next
}

// commit applies a commit_block reconciliation: addrNext becomes the
// new committed nonce for every address, staged is cleared for those
// addresses, and a ring entry is recorded, evicting the oldest if full.
func (s *mempoolState) commit(addrNext map[apollo.ContractAddress]apollo.Nonce) {
	entry := historyEntry{}
	for addr, next := range addrNext {
		s.committed[addr] = next
		delete(s.staged, addr)
		entry.addrs = append(entry.addrs, addr)
		entry.nonces = append(entry.nonces, next)
	}
	s.history = append(s.history, entry)
	if s.capacity > 0 && len(s.history) > s.capacity {
		s.expireOldest()
	}
}

// expireOldest drops the oldest history entry, removing committed for
// addresses whose committed nonce still equals the expiring value (it
// was never superseded by a later commit).
func (s *mempoolState) expireOldest() {
	oldest := s.history[0]
	s.history = s.history[1:]
	for i, addr := range oldest.addrs {
		if cur, ok := s.committed[addr]; ok && nonceEqual(cur, oldest.nonces[i]) {
			delete(s.committed, addr)
		}
	}
}

// stagedAddresses returns every address currently carrying a staged
// bump, used by commit_block to find addresses to rewind.
func (s *mempoolState) stagedAddresses() []apollo.ContractAddress {
	out := make([]apollo.ContractAddress, 0, len(s.staged))
	for addr := range s.staged {
		out = append(out, addr)
	}
	return out
}

func (s *mempoolState) unstage(addr apollo.ContractAddress) {
	delete(s.staged, addr)
}
