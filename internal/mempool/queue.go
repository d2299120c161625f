package mempool

import "github.com/apollo-sequencer/sequencer/internal/apollo"

// queue is the TransactionQueue of §3: two sub-queues, priority
// (ready, at/above the gas-price threshold) and pending (ready, below
// it), each holding at most one entry per address. Ordering within
// priority is tip descending, tx-hash ascending as a deterministic
// tie-break (§4.3 determinism requirement).
type queue struct {
	priority []apollo.InternalRpcTransaction
	pending  []apollo.InternalRpcTransaction
	// location tracks which sub-queue (if any) currently holds
	// address's single entry, enforcing "exactly one queued entry per
	// address at any time".
	location map[apollo.ContractAddress]bool // true = priority, false = pending
}

func newQueue() *queue {
	return &queue{location: map[apollo.ContractAddress]bool{}}
}

// less implements the priority total order: tip desc, then hash asc.
func less(a, b apollo.InternalRpcTransaction) bool {
	if a.Tip != b.Tip {
		return a.Tip > b.Tip
	}
	for i := range a.Hash {
		if a.Hash[i] != b.Hash[i] {
			return a.Hash[i] < b.Hash[i]
		}
	}
	return false
}

func insertSortedTx(list []apollo.InternalRpcTransaction, tx apollo.InternalRpcTransaction) []apollo.InternalRpcTransaction {
	i := 0
	for i < len(list) && less(list[i], tx) {
		i++
	}
	list = append(list, apollo.InternalRpcTransaction{})
	copy(list[i+1:], list[i:])
	list[i] = tx
	return list
}

func removeByAddr(list []apollo.InternalRpcTransaction, addr apollo.ContractAddress) []apollo.InternalRpcTransaction {
	for i, tx := range list {
		if tx.Sender == addr {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Remove evicts addr's queued entry, wherever it is.
func (q *queue) Remove(addr apollo.ContractAddress) {
	priority, ok := q.location[addr]
	if !ok {
		return
	}
	if priority {
		q.priority = removeByAddr(q.priority, addr)
	} else {
		q.pending = removeByAddr(q.pending, addr)
	}
	delete(q.location, addr)
}

// Enqueue inserts tx into the sub-queue matching threshold, replacing
// any previously-queued entry for the same address.
func (q *queue) Enqueue(tx apollo.InternalRpcTransaction, threshold uint64) {
	q.Remove(tx.Sender)
	if tx.MaxL2GasPrice >= threshold {
		q.priority = insertSortedTx(q.priority, tx)
		q.location[tx.Sender] = true
	} else {
		q.pending = insertSortedTx(q.pending, tx)
		q.location[tx.Sender] = false
	}
}

// Has reports whether addr currently has a queued entry.
func (q *queue) Has(addr apollo.ContractAddress) bool {
	_, ok := q.location[addr]
	return ok
}

// PopPriority removes and returns the highest-priority entry, if any.
func (q *queue) PopPriority() (apollo.InternalRpcTransaction, bool) {
	if len(q.priority) == 0 {
		return apollo.InternalRpcTransaction{}, false
	}
	tx := q.priority[0]
	q.priority = q.priority[1:]
	delete(q.location, tx.Sender)
	return tx, true
}

// Reclassify re-sorts every queued entry against a new threshold
// (update_gas_price), moving entries between sub-queues as needed.
func (q *queue) Reclassify(threshold uint64) {
	all := append(append([]apollo.InternalRpcTransaction(nil), q.priority...), q.pending...)
	q.priority = nil
	q.pending = nil
	q.location = map[apollo.ContractAddress]bool{}
	for _, tx := range all {
		q.Enqueue(tx, threshold)
	}
}

// Iter returns a snapshot of the current priority queue in priority
// order, the read-only view operation of §4.1's iter().
func (q *queue) Iter() []apollo.InternalRpcTransaction {
	return append([]apollo.InternalRpcTransaction(nil), q.priority...)
}
