// Package mempool implements the Mempool of §3/§4.1: a prioritised
// transaction pool with fee escalation, nonce-gap tracking, capacity
// eviction, TTL expiry, declare-delay admission and commit-block
// reconciliation.
package mempool

import (
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	clockpkg "github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
	"github.com/apollo-sequencer/sequencer/internal/logging"
	"github.com/apollo-sequencer/sequencer/internal/metrics"
)

// declareWait is one entry sitting in the declare-delay buffer,
// per §4.1's "Declare transactions are queued into a delay buffer and
// only admitted to the pool after declare_delay."
type declareWait struct {
	tx      apollo.InternalRpcTransaction
	readyAt time.Time
}

// Mempool is the mempool's top-level orchestrator, composing the
// pool (residency), queue (readiness ordering), mempoolState
// (committed/staged/history) and gapTracker (eviction candidates)
// under a single lock, mirroring the teacher's single-struct,
// single-mutex Mempool shape while replacing its UTXO-priority
// internals with this spec's nonce-keyed model.
type Mempool struct {
	mu    sync.Mutex
	cfg   Config
	pool  *pool
	queue *queue
	state *mempoolState
	gaps  *gapTracker

	knownNonce map[apollo.ContractAddress]apollo.Nonce
	declareBuf []*declareWait
	threshold  uint64

	clock clockpkg.Clock
	rng   *rand.Rand

	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

// New builds a Mempool. clk may be nil (defaults to the wall clock);
// passing a clockpkg.Mock lets tests control TTL and declare-delay
// expiry deterministically.
func New(cfg Config, clk clockpkg.Clock, met *metrics.Metrics, logger *zap.SugaredLogger) *Mempool {
	if clk == nil {
		clk = clockpkg.New()
	}
	return &Mempool{
		cfg:        cfg,
		pool:       newPool(),
		queue:      newQueue(),
		state:      newMempoolState(cfg.CommitHistorySize),
		gaps:       newGapTracker(),
		knownNonce: map[apollo.ContractAddress]apollo.Nonce{},
		threshold:  cfg.GasPriceThreshold,
		clock:      clk,
		rng:        rand.New(rand.NewSource(clk.Now().UnixNano())),
		metrics:    met,
		logger:     logging.NopIfNil(logger),
	}
}

func nonceNext(n apollo.Nonce) apollo.Nonce {
	bi := new(big.Int).SetBytes(n[:])
	bi.Add(bi, big.NewInt(1))
	var out apollo.Nonce
	bi.FillBytes(out[:])
	return out
}

// AddTx is add_tx (§4.1).
func (mp *Mempool) AddTx(tx apollo.InternalRpcTransaction, account apollo.AccountState) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	now := mp.clock.Now()
	mp.promoteReadyDeclares(now)
	mp.knownNonce[account.Address] = account.Nonce

	if mp.pool.has(tx.Hash) || mp.declareBufferHasHash(tx.Hash) {
		mp.metrics.ObserveAdmission("duplicate_transaction")
		return fmt.Errorf("%w: hash=%s", apollo.ErrDuplicateTransaction, tx.Hash)
	}

	resolved := mp.state.resolveNonce(tx.Sender, account.Nonce)
	if nonceLess(tx.Nonce, resolved) {
		mp.metrics.ObserveAdmission("nonce_too_old")
		return fmt.Errorf("%w: address=%s tx_nonce=%s account_nonce=%s",
			apollo.ErrNonceTooOld, tx.Sender, tx.Nonce, resolved)
	}

	if mp.declareBufferHas(tx.Sender, tx.Nonce) && !tx.Kind.IsDeclare() {
		mp.metrics.ObserveAdmission("front_run_declare")
		return fmt.Errorf("%w: front-running delayed declare at address=%s nonce=%s",
			apollo.ErrDuplicateNonce, tx.Sender, tx.Nonce)
	}

	if existing, ok := mp.pool.get(tx.Sender, tx.Nonce); ok {
		if err := mp.admitReplacement(existing.tx, tx); err != nil {
			mp.metrics.ObserveAdmission("duplicate_nonce")
			return err
		}
		mp.pool.replace(tx, now)
		mp.refreshAddress(tx.Sender)
		mp.metrics.ObserveAdmission("accepted")
		mp.reportSizes()
		return nil
	}

	if tx.Kind.IsDeclare() {
		mp.declareBuf = append(mp.declareBuf, &declareWait{tx: tx, readyAt: now.Add(mp.cfg.DeclareDelay)})
		mp.metrics.ObserveAdmission("accepted")
		return nil
	}

	if err := mp.admitToPool(tx, now); err != nil {
		mp.metrics.ObserveAdmission("mempool_full")
		return err
	}
	mp.metrics.ObserveAdmission("accepted")
	mp.reportSizes()
	return nil
}

// admitReplacement enforces the fee-escalation policy (§4.1) for a
// replacement candidate landing on an already-resident (address,nonce).
func (mp *Mempool) admitReplacement(old, next apollo.InternalRpcTransaction) error {
	if !mp.cfg.FeeEscalationEnabled {
		return fmt.Errorf("%w: fee escalation disabled, address=%s nonce=%s", apollo.ErrDuplicateNonce, next.Sender, next.Nonce)
	}
	tipOK := scaledAtLeast(next.Tip, old.Tip, mp.cfg.FeeEscalationPercentage)
	gasOK := scaledAtLeast(next.MaxL2GasPrice, old.MaxL2GasPrice, mp.cfg.FeeEscalationPercentage)
	if !tipOK || !gasOK {
		return fmt.Errorf("%w: insufficient fee escalation, address=%s nonce=%s", apollo.ErrDuplicateNonce, next.Sender, next.Nonce)
	}
	return nil
}

// scaledAtLeast reports whether next >= old*(100+pct)/100, computed as
// integer-multiply-then-divide; an overflowing multiply is treated as
// a failed escalation (reject), per §4.1.
func scaledAtLeast(next, old, pct uint64) bool {
	const maxUint64 = ^uint64(0)
	factor := 100 + pct
	if old != 0 && factor > maxUint64/old {
		return false
	}
	required := old * factor / 100
	return next >= required
}

// admitToPool runs the capacity/eviction policy (§4.1, §8) and, if
// admission succeeds, inserts tx and refreshes tx.Sender's queue slot.
func (mp *Mempool) admitToPool(tx apollo.InternalRpcTransaction, now time.Time) error {
	projected := mp.pool.totalBytes + tx.TotalBytes
	if projected > mp.cfg.CapacityBytes {
		closesGap := mp.gaps.has(tx.Sender) && func() bool {
			lowest, ok := mp.pool.lowestNonce(tx.Sender)
			return ok && nonceLess(tx.Nonce, lowest) && nonceEqual(tx.Nonce, mp.knownNonce[tx.Sender])
		}()
		if !closesGap {
			freed := mp.evictUntil(projected - mp.cfg.CapacityBytes)
			if freed < projected-mp.cfg.CapacityBytes {
				return fmt.Errorf("%w: would exceed capacity and insufficient gap-eviction headroom", apollo.ErrMempoolFull)
			}
		}
	}
	mp.pool.insert(tx, now)
	mp.refreshAddress(tx.Sender)
	return nil
}

// evictUntil samples gap-having addresses and removes their
// highest-nonce entries first until at least need bytes are freed or
// no more gap-having addresses remain; returns bytes actually freed.
func (mp *Mempool) evictUntil(need uint64) uint64 {
	var freed uint64
	attempts := 0
	for freed < need && attempts < 1000 {
		attempts++
		addr, ok := mp.gaps.sampleRandom(mp.rng)
		if !ok {
			break
		}
		entries := mp.pool.highestNonceEntriesDescending(addr)
		if len(entries) == 0 {
			mp.gaps.refresh(addr, apollo.Nonce{}, false, mp.knownNonce[addr])
			continue
		}
		for _, e := range entries {
			if freed >= need {
				break
			}
			freed += e.tx.TotalBytes
			mp.pool.removeEntry(e)
			mp.metrics.IncEvictions(1)
		}
		mp.refreshAddress(addr)
	}
	return freed
}

// refreshAddress recomputes gap membership and the single queued
// entry for addr, after any mutation touching it. The queued entry is
// the one resident at resolve_nonce, not at the pool's lowest nonce:
// get_txs stages the next nonce but leaves the emitted entry resident
// (removed only on commit_block), so after an emission lowest still
// names the entry just handed out and resolved has already moved past
// it to the address's real next-ready nonce.
func (mp *Mempool) refreshAddress(addr apollo.ContractAddress) {
	lowest, ok := mp.pool.lowestNonce(addr)
	mp.gaps.refresh(addr, lowest, ok, mp.knownNonce[addr])

	resolved := mp.state.resolveNonce(addr, mp.knownNonce[addr])
	if entry, ok := mp.pool.get(addr, resolved); ok {
		mp.queue.Enqueue(entry.tx, mp.threshold)
	} else {
		mp.queue.Remove(addr)
	}
}

func (mp *Mempool) declareBufferHas(addr apollo.ContractAddress, nonce apollo.Nonce) bool {
	for _, d := range mp.declareBuf {
		if d.tx.Sender == addr && nonceEqual(d.tx.Nonce, nonce) {
			return true
		}
	}
	return false
}

func (mp *Mempool) declareBufferHasHash(hash apollo.TransactionHash) bool {
	for _, d := range mp.declareBuf {
		if d.tx.Hash == hash {
			return true
		}
	}
	return false
}

// promoteReadyDeclares moves every delay-buffer entry whose delay has
// elapsed into the pool, dropping (with a log) any that no longer fit
// under capacity.
func (mp *Mempool) promoteReadyDeclares(now time.Time) {
	if len(mp.declareBuf) == 0 {
		return
	}
	remaining := mp.declareBuf[:0]
	for _, d := range mp.declareBuf {
		if now.Before(d.readyAt) {
			remaining = append(remaining, d)
			continue
		}
		if err := mp.admitToPool(d.tx, now); err != nil {
			mp.logger.Warnw("dropping delayed declare, pool full", "hash", d.tx.Hash, "error", err)
		}
	}
	mp.declareBuf = remaining
}

// GetTxs is get_txs (§4.1).
func (mp *Mempool) GetTxs(n int) []apollo.InternalRpcTransaction {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	now := mp.clock.Now()
	mp.promoteReadyDeclares(now)

	out := make([]apollo.InternalRpcTransaction, 0, n)
	for len(out) < n {
		tx, ok := mp.queue.PopPriority()
		if !ok {
			break
		}
		entry, found := mp.pool.get(tx.Sender, tx.Nonce)
		if !found {
			continue
		}
		if !entry.submittedAt.After(now.Add(-mp.cfg.TransactionTTL)) {
			mp.pool.removeEntry(entry)
			mp.refreshAddress(tx.Sender)
			continue
		}
		mp.state.stage(tx.Sender, nonceNext(tx.Nonce))
		out = append(out, tx)
		mp.refreshAddress(tx.Sender)
	}
	mp.reportSizes()
	return out
}

// CommitBlock is commit_block (§4.1).
func (mp *Mempool) CommitBlock(nextNonce map[apollo.ContractAddress]apollo.Nonce, rejected []apollo.TransactionHash) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for addr, next := range nextNonce {
		if cur, ok := mp.state.committed[addr]; ok && nonceLess(next, cur) {
			panic(fmt.Sprintf("mempool: commit_block nonce regression for address=%s committed=%s next=%s", addr, cur, next))
		}
		mp.pool.removeBelowNonce(addr, next)
	}
	mp.state.commit(nextNonce)

	for _, addr := range mp.state.stagedAddresses() {
		if _, committed := nextNonce[addr]; committed {
			continue
		}
		mp.state.unstage(addr)
		mp.refreshAddress(addr)
	}

	for _, hash := range rejected {
		if e, ok := mp.pool.byHash[hash]; ok {
			mp.pool.removeEntry(e)
			mp.refreshAddress(e.tx.Sender)
		}
	}
	for addr := range nextNonce {
		mp.refreshAddress(addr)
	}
	mp.reportSizes()
}

// UpdateGasPrice is update_gas_price (§4.1).
func (mp *Mempool) UpdateGasPrice(threshold uint64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.threshold = threshold
	mp.queue.Reclassify(threshold)
}

// Iter is iter() (§4.1): a read-only snapshot of the priority queue.
func (mp *Mempool) Iter() []apollo.InternalRpcTransaction {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.queue.Iter()
}

// ExpireTTL sweeps the whole pool for TTL-expired entries outside of a
// get_txs call (e.g. on a periodic timer), returning the expired
// transactions and refreshing every affected address.
func (mp *Mempool) ExpireTTL() []apollo.InternalRpcTransaction {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	expired := mp.pool.expireTTL(mp.clock.Now(), mp.cfg.TransactionTTL)
	touched := map[apollo.ContractAddress]struct{}{}
	for _, tx := range expired {
		touched[tx.Sender] = struct{}{}
	}
	for addr := range touched {
		mp.refreshAddress(addr)
	}
	mp.reportSizes()
	return expired
}

func (mp *Mempool) reportSizes() {
	mp.metrics.SetMempoolSize(len(mp.pool.byHash))
	mp.metrics.SetAccountsWithGap(len(mp.gaps.all()))
}
