package builder

import (
	"context"
	"sync"
	"time"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
)

// MempoolSource is the narrow mempool surface the propose provider
// needs, matching internal/mempool.Mempool's GetTxs method.
type MempoolSource interface {
	GetTxs(n int) []apollo.InternalRpcTransaction
}

// L1HandlerSource yields pending L1-handler transactions, an external
// collaborator (the L1 scraper) named only by contract in §1.
type L1HandlerSource interface {
	PendingL1Handlers(max int) []apollo.InternalRpcTransaction
}

// ProposeProvider is the Propose-mode TransactionProvider of §4.3: it
// drains L1-handlers first (bounded by maxL1Handlers), then the
// mempool's priority order.
type ProposeProvider struct {
	mempool       MempoolSource
	l1Handlers    L1HandlerSource
	maxL1Handlers int
	l1Drained     int
	deadline      time.Time
	safetyMargin  time.Duration
	bouncerFull   func() bool
}

// NewProposeProvider builds a ProposeProvider. bouncerFull is polled
// by NextBatch to stop early when the bouncer has already signalled
// full (the provider-level stop condition of §4.3), independent of
// the builder's own post-batch bouncer check.
func NewProposeProvider(mempool MempoolSource, l1 L1HandlerSource, maxL1Handlers int, deadline time.Time, safetyMargin time.Duration, bouncerFull func() bool) *ProposeProvider {
	return &ProposeProvider{
		mempool:       mempool,
		l1Handlers:    l1,
		maxL1Handlers: maxL1Handlers,
		deadline:      deadline,
		safetyMargin:  safetyMargin,
		bouncerFull:   bouncerFull,
	}
}

func (p *ProposeProvider) NextBatch(ctx context.Context, max int) ([]apollo.InternalRpcTransaction, bool, error) {
	if !time.Now().Before(p.deadline.Add(-p.safetyMargin)) {
		return nil, true, nil
	}
	if p.bouncerFull != nil && p.bouncerFull() {
		return nil, true, nil
	}

	if p.l1Drained < p.maxL1Handlers {
		want := max
		if remaining := p.maxL1Handlers - p.l1Drained; remaining < want {
			want = remaining
		}
		batch := p.l1Handlers.PendingL1Handlers(want)
		if len(batch) > 0 {
			p.l1Drained += len(batch)
			return batch, false, nil
		}
	}

	batch := p.mempool.GetTxs(max)
	if len(batch) == 0 {
		return nil, true, nil
	}
	return batch, false, nil
}

// ValidateProvider is the Validate-mode TransactionProvider of §4.3:
// it reads from a bounded channel fed by send_proposal_content, and
// closes after the orchestrator announces the final executed count
// via Finish.
type ValidateProvider struct {
	mu      sync.Mutex
	in      chan apollo.InternalRpcTransaction
	finalN  chan int
	drained int
	aborted bool
}

// NewValidateProvider builds a ValidateProvider with the given input
// channel capacity (backpressure honoured per §5).
func NewValidateProvider(capacity int) *ValidateProvider {
	return &ValidateProvider{
		in:     make(chan apollo.InternalRpcTransaction, capacity),
		finalN: make(chan int, 1),
	}
}

// Push forwards one tx from send_proposal_content(Txs(...)).
func (v *ValidateProvider) Push(ctx context.Context, tx apollo.InternalRpcTransaction) error {
	select {
	case v.in <- tx:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish announces the final executed count from send_proposal_content(Finish(n)).
func (v *ValidateProvider) Finish(n int) {
	v.finalN <- n
}

// Abort signals send_proposal_content(Abort) before Finish.
func (v *ValidateProvider) Abort() {
	v.mu.Lock()
	v.aborted = true
	v.mu.Unlock()
	close(v.in)
}

// NextBatch blocks until it has collected max pushed transactions or
// Finish, Abort (input closed) or ctx cancellation arrives, and returns
// what it collected. Once Finish(n)
// arrives, any buffered transactions beyond n are discarded and the
// stream is reported finished, per §4.3's Validate-mode contract.
func (v *ValidateProvider) NextBatch(ctx context.Context, max int) ([]apollo.InternalRpcTransaction, bool, error) {
	v.mu.Lock()
	aborted := v.aborted
	v.mu.Unlock()
	if aborted {
		return nil, true, nil
	}

	var out []apollo.InternalRpcTransaction
	for {
		select {
		case tx, ok := <-v.in:
			if !ok {
				return out, true, nil
			}
			out = append(out, tx)
			v.drained++
			if len(out) >= max {
				return out, false, nil
			}
		case n := <-v.finalN:
			for v.drained < n {
				select {
				case tx, ok := <-v.in:
					if !ok {
						return out, true, nil
					}
					out = append(out, tx)
					v.drained++
				default:
					return out, true, nil
				}
			}
			return out, true, nil
		case <-ctx.Done():
			return out, true, ctx.Err()
		}
	}
}
