// Package batcher implements the per-height orchestrator of §4.4: a
// single active height owns at most one active proposal at a time,
// drives it through the Builder, and exposes the consensus-facing RPC
// contract of §6.
package batcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
	"github.com/apollo-sequencer/sequencer/internal/builder"
	"github.com/apollo-sequencer/sequencer/internal/commitpipeline"
	"github.com/apollo-sequencer/sequencer/internal/logging"
	"github.com/apollo-sequencer/sequencer/internal/metrics"
	"github.com/apollo-sequencer/sequencer/internal/preconfirmed"
	"github.com/apollo-sequencer/sequencer/internal/statemodel"
	"github.com/apollo-sequencer/sequencer/internal/storage"
	"github.com/apollo-sequencer/sequencer/internal/versionedstate"
)

// MempoolPort is the narrow mempool surface the batcher preflights
// and commits against.
type MempoolPort interface {
	GetTxs(n int) []apollo.InternalRpcTransaction
	CommitBlock(addressToNonce map[apollo.ContractAddress]apollo.Nonce, rejected []apollo.TransactionHash)
	UpdateGasPrice(threshold uint64)
}

// L1Port bundles the L1 scraper's preflight, pending-handler and
// commit surfaces; it satisfies both builder.L1HandlerSource and
// commitpipeline.L1Provider.
type L1Port interface {
	StartBlock(height apollo.BlockNumber, validate bool) error
	PendingL1Handlers(max int) []apollo.InternalRpcTransaction
	CommitBlock(consumed, rejected []apollo.TransactionHash) error
}

// StateProvider builds the VersionedState a proposal executes against,
// seeded from storage at the given height; the concrete state-reading
// backend is out of this package's scope.
type StateProvider interface {
	NewVersionedState(height apollo.BlockNumber) *versionedstate.VersionedState
}

// Config bundles the batcher's tunables, all named in §4/§6.
type Config struct {
	OutstreamContentBufferSize int
	ValidateChannelCapacity    int
	ProposalDeadlineMargin     time.Duration
	GasPriceThreshold          uint64
	MaxL1HandlersPerProposal   int
}

func DefaultConfig() Config {
	return Config{
		OutstreamContentBufferSize: 8,
		ValidateChannelCapacity:    64,
		ProposalDeadlineMargin:     20 * time.Millisecond,
		GasPriceThreshold:          0,
		MaxL1HandlersPerProposal:   16,
	}
}

// proposeStream is the propose-output channel of §4.4: unbounded, so
// the builder's execution loop is never backpressured by a slow
// get_proposal_content consumer — only the proposal's deadline may
// slow the builder. Batches accumulate in buf under mu; signal wakes a
// blocked consumer without requiring it to hold mu while waiting.
type proposeStream struct {
	mu     sync.Mutex
	buf    [][]apollo.InternalRpcTransaction
	signal chan struct{}
	done   chan struct{}
}

func newProposeStream() *proposeStream {
	return &proposeStream{signal: make(chan struct{}, 1), done: make(chan struct{})}
}

// push appends a batch and wakes a waiting consumer; never blocks
// regardless of how far behind the consumer has fallen.
func (ps *proposeStream) push(txs []apollo.InternalRpcTransaction) {
	ps.mu.Lock()
	ps.buf = append(ps.buf, txs)
	ps.mu.Unlock()
	select {
	case ps.signal <- struct{}{}:
	default:
	}
}

// drain pops buffered batches, flattened, up to max transactions.
func (ps *proposeStream) drain(max int) ([]apollo.InternalRpcTransaction, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	var out []apollo.InternalRpcTransaction
	for len(out) < max && len(ps.buf) > 0 {
		batch := ps.buf[0]
		if take := max - len(out); take < len(batch) {
			out = append(out, batch[:take]...)
			ps.buf[0] = batch[take:]
			break
		}
		out = append(out, batch...)
		ps.buf = ps.buf[1:]
	}
	return out, len(out) > 0
}

// Batcher is the per-height orchestrator. Its internal mutex guards
// every field below; the single-proposal invariant of §4.4 holds
// because setting activeProposal and spawning the proposal's goroutine
// happen under the same lock acquisition.
type Batcher struct {
	mu sync.Mutex

	storage storage.Writer
	mempool MempoolPort
	l1      L1Port
	states  StateProvider
	bld     *builder.Builder
	newBouncer func() builder.Bouncer
	preconfirmed *preconfirmed.Writer

	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger

	activeHeight   *apollo.BlockNumber
	activeProposal *ProposalId
	// generation is bumped by every abort/height-change; a proposal
	// task captures its generation at spawn time and only records its
	// result if the generation is still current, guarding against a
	// late-arriving result from an already-aborted proposal.
	generation uint64

	proposeStreams    map[ProposalId]*proposeStream
	validateProviders map[ProposalId]*builder.ValidateProvider
	cancels           map[ProposalId]context.CancelFunc
	doneChans         map[ProposalId]chan struct{}
	executedProposals map[ProposalId]*ProposalResult
}

// New builds a Batcher. newBouncer constructs a fresh Bouncer for each
// proposal (the resource-accounting oracle of §9's open question).
func New(
	sw storage.Writer,
	mp MempoolPort,
	l1 L1Port,
	states StateProvider,
	bld *builder.Builder,
	newBouncer func() builder.Bouncer,
	pcw *preconfirmed.Writer,
	cfg Config,
	met *metrics.Metrics,
	logger *zap.SugaredLogger,
) *Batcher {
	return &Batcher{
		storage:           sw,
		mempool:           mp,
		l1:                l1,
		states:            states,
		bld:               bld,
		newBouncer:        newBouncer,
		preconfirmed:      pcw,
		cfg:               cfg,
		metrics:           met,
		logger:            logging.NopIfNil(logger),
		proposeStreams:    make(map[ProposalId]*proposeStream),
		validateProviders: make(map[ProposalId]*builder.ValidateProvider),
		cancels:           make(map[ProposalId]context.CancelFunc),
		doneChans:         make(map[ProposalId]chan struct{}),
		executedProposals: make(map[ProposalId]*ProposalResult),
	}
}

// GetHeight returns the batcher's idea of the active height, or the
// storage tip if idle.
func (b *Batcher) GetHeight() apollo.BlockNumber {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeHeight != nil {
		return *b.activeHeight
	}
	return b.storage.Height()
}

// StartHeight implements start_height(h) (§4.4).
func (b *Batcher) StartHeight(h apollo.BlockNumber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.activeHeight != nil && *b.activeHeight == h {
		return apollo.ErrHeightInProgress
	}
	marker := b.storage.Height()
	if marker != h {
		return fmt.Errorf("%w: marker=%d requested=%d", apollo.ErrStorageHeightMarkerMismatch, uint64(marker), uint64(h))
	}

	b.abortActiveLocked()
	hh := h
	b.activeHeight = &hh
	return nil
}

// abortActiveLocked cancels any in-flight proposal and releases the
// single-proposal slot. Idempotent: called with no active proposal is
// a no-op, matching §8's "abort is idempotent" round-trip law.
func (b *Batcher) abortActiveLocked() {
	if b.activeProposal != nil {
		b.abortOneLocked(*b.activeProposal)
	} else {
		b.generation++
	}
}

// abortOneLocked tears down proposal id: bumps the generation so any
// in-flight runProposal for it drops its result on completion (the
// late-arriving-result guard of §4.4), cancels its context, records
// Aborted if it hasn't already reached a terminal state, and releases
// every per-proposal resource. Called with b.mu held.
func (b *Batcher) abortOneLocked(id ProposalId) {
	b.generation++
	if cancel, ok := b.cancels[id]; ok {
		cancel()
		delete(b.cancels, id)
	}
	if _, done := b.executedProposals[id]; !done {
		b.executedProposals[id] = &ProposalResult{State: ProposalAborted}
	}
	if ps, ok := b.proposeStreams[id]; ok {
		close(ps.done)
		delete(b.proposeStreams, id)
	}
	if vp, ok := b.validateProviders[id]; ok {
		vp.Abort()
		delete(b.validateProviders, id)
	}
	if done, ok := b.doneChans[id]; ok {
		close(done)
		delete(b.doneChans, id)
	}
	if b.activeProposal != nil && *b.activeProposal == id {
		b.activeProposal = nil
	}
}

// spawnProposal installs the single-proposal slot and launches the
// proposal's goroutine atomically under b.mu, per §4.4's invariant.
func (b *Batcher) spawnProposal(id ProposalId, session SessionState, height apollo.BlockNumber, deadline time.Time) (*proposeStream, *builder.ValidateProvider, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.activeHeight == nil {
		return nil, nil, apollo.ErrNoActiveHeight
	}
	if *b.activeHeight != height {
		return nil, nil, fmt.Errorf("%w: active=%d requested=%d", apollo.ErrBlockNumberMismatch, uint64(*b.activeHeight), uint64(height))
	}
	if b.activeProposal != nil {
		return nil, nil, fmt.Errorf("%w: active=%s new=%s", apollo.ErrAnotherProposalInProgress, b.activeProposal.String(), id.String())
	}

	b.mempool.CommitBlock(nil, nil) // preflight handshake: mempool is reachable
	b.mempool.UpdateGasPrice(b.cfg.GasPriceThreshold)
	if err := b.l1.StartBlock(height, session == SessionValidate); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", apollo.ErrNotReady, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	gen := b.generation
	b.activeProposal = &id
	b.cancels[id] = cancel
	done := make(chan struct{})
	b.doneChans[id] = done

	var ps *proposeStream
	var vp *builder.ValidateProvider
	if session == SessionPropose {
		ps = newProposeStream()
		b.proposeStreams[id] = ps
	} else {
		vp = builder.NewValidateProvider(b.cfg.ValidateChannelCapacity)
		b.validateProviders[id] = vp
	}

	go b.runProposal(ctx, id, gen, session, height, deadline, ps, vp)
	return ps, vp, nil
}

func (b *Batcher) runProposal(ctx context.Context, id ProposalId, gen uint64, session SessionState, height apollo.BlockNumber, deadline time.Time, ps *proposeStream, vp *builder.ValidateProvider) {
	start := time.Now()
	vs := b.states.NewVersionedState(height)
	bouncer := b.newBouncer()

	var provider builder.Provider
	var sink builder.PreconfirmedSink
	if session == SessionPropose {
		l1Source := l1HandlerAdapter{b.l1}
		provider = builder.NewProposeProvider(mempoolAdapter{b.mempool}, l1Source, b.cfg.MaxL1HandlersPerProposal, deadline, b.cfg.ProposalDeadlineMargin, nil)
		sink = multiSink{proposeSink{ps: ps}, b.preconfirmed}
	} else {
		provider = vp
		sink = nil
	}

	artifacts, err := b.bld.BuildBlock(ctx, provider, vs, bouncer, deadline, sink)
	b.metrics.ObserveProposalSeconds(time.Since(start).Seconds())

	b.mu.Lock()
	defer b.mu.Unlock()

	// Guard against a late-arriving result from an already-aborted
	// proposal: only record if this generation (and this proposal) is
	// still the active one's origin.
	if b.generation != gen {
		return
	}
	if ps != nil {
		if _, ok := b.proposeStreams[id]; ok {
			close(ps.done)
			delete(b.proposeStreams, id)
		}
	}
	delete(b.validateProviders, id)
	delete(b.cancels, id)
	if done, ok := b.doneChans[id]; ok {
		close(done)
		delete(b.doneChans, id)
	}

	if err != nil {
		b.executedProposals[id] = &ProposalResult{State: ProposalCompletedErr, ErrKind: apollo.ClassifyError(err)}
		b.metrics.IncDecision("build_error")
		return
	}
	if artifacts.Aborted {
		b.executedProposals[id] = &ProposalResult{State: ProposalAborted}
		return
	}
	artifacts.Commitment = builder.ComputeCommitment(height, artifacts.Diff)
	b.executedProposals[id] = &ProposalResult{State: ProposalCompletedOk, Artifacts: artifacts}
}

// ProposeBlock implements propose_block (§4.4/§6). retrospectiveHash
// and proposalRound are carried for wire-contract parity; this core
// does not yet enforce the retrospective-hash-required-by-policy check
// (§4.4 open question territory).
func (b *Batcher) ProposeBlock(id ProposalId, info apollo.BlockInfo, retrospectiveHash *apollo.BlockHash, proposalRound uint32, deadline time.Time) error {
	_, _, err := b.spawnProposal(id, SessionPropose, info.BlockNumber, deadline)
	return err
}

// ValidateBlock implements validate_block (§4.4/§6).
func (b *Batcher) ValidateBlock(id ProposalId, info apollo.BlockInfo, retrospectiveHash *apollo.BlockHash, deadline time.Time) error {
	_, _, err := b.spawnProposal(id, SessionValidate, info.BlockNumber, deadline)
	return err
}

// SendProposalContent implements send_proposal_content (§4.4/§6).
func (b *Batcher) SendProposalContent(ctx context.Context, id ProposalId, content ProposalContent) (ProposalStatus, error) {
	b.mu.Lock()
	vp, ok := b.validateProviders[id]
	b.mu.Unlock()
	if !ok {
		if res, done := b.lookupExecuted(id); done {
			return statusFromResult(res), nil
		}
		return ProposalStatus{}, apollo.ErrProposalNotFound
	}

	switch content.Kind {
	case ContentTxs:
		for _, tx := range content.Txs {
			if err := vp.Push(ctx, tx); err != nil {
				return ProposalStatus{}, err
			}
		}
		return ProposalStatus{Processing: true}, nil
	case ContentAbort:
		b.mu.Lock()
		b.abortOneLocked(id)
		b.mu.Unlock()
		return ProposalStatus{Aborted: true}, nil
	case ContentFinish:
		vp.Finish(content.N)
		b.mu.Lock()
		delete(b.validateProviders, id)
		b.mu.Unlock()
		return b.awaitCompletion(ctx, id)
	default:
		return ProposalStatus{}, fmt.Errorf("%w: unknown content kind", apollo.ErrInternal)
	}
}

// awaitCompletion blocks until id leaves executed_proposals with a
// terminal state, used by send_proposal_content(Finish(n)).
func (b *Batcher) awaitCompletion(ctx context.Context, id ProposalId) (ProposalStatus, error) {
	if res, ok := b.lookupExecuted(id); ok {
		return statusFromResult(res), nil
	}
	b.mu.Lock()
	done, ok := b.doneChans[id]
	b.mu.Unlock()
	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return ProposalStatus{}, ctx.Err()
		}
	}
	if res, ok := b.lookupExecuted(id); ok {
		return statusFromResult(res), nil
	}
	return ProposalStatus{}, apollo.ErrExecutedProposalNotFound
}

func (b *Batcher) lookupExecuted(id ProposalId) (*ProposalResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	res, ok := b.executedProposals[id]
	return res, ok
}

func statusFromResult(res *ProposalResult) ProposalStatus {
	switch res.State {
	case ProposalCompletedOk:
		return ProposalStatus{Commitment: res.Artifacts.Commitment}
	case ProposalAborted:
		return ProposalStatus{Aborted: true}
	case ProposalCompletedErr:
		return ProposalStatus{Invalid: true, InvalidKind: res.ErrKind}
	default:
		return ProposalStatus{Processing: true}
	}
}

// GetProposalContent implements get_proposal_content (§4.4/§6),
// propose-mode only: it drains up to OutstreamContentBufferSize
// buffered output transactions, or blocks for either the next batch or
// proposal completion when nothing is buffered.
func (b *Batcher) GetProposalContent(ctx context.Context, id ProposalId) (GetContentReply, error) {
	b.mu.Lock()
	ps, ok := b.proposeStreams[id]
	b.mu.Unlock()
	if !ok {
		if res, done := b.lookupExecuted(id); done {
			return finishedReply(res)
		}
		return GetContentReply{}, apollo.ErrProposalNotFound
	}

	for {
		if collected, ok := ps.drain(b.cfg.OutstreamContentBufferSize); ok {
			return GetContentReply{Kind: GetContentTxs, Txs: collected}, nil
		}
		select {
		case <-ps.signal:
			continue
		case <-ps.done:
			if collected, ok := ps.drain(b.cfg.OutstreamContentBufferSize); ok {
				return GetContentReply{Kind: GetContentTxs, Txs: collected}, nil
			}
		case <-ctx.Done():
			return GetContentReply{}, ctx.Err()
		}
		break
	}

	if res, done := b.lookupExecuted(id); done {
		return finishedReply(res)
	}
	return GetContentReply{}, apollo.ErrProposalNotFound
}

func finishedReply(res *ProposalResult) (GetContentReply, error) {
	switch res.State {
	case ProposalCompletedOk:
		return GetContentReply{
			Kind:              GetContentFinished,
			Commitment:        res.Artifacts.Commitment,
			FinalNExecutedTxs: res.Artifacts.FinalExecutedCount,
		}, nil
	case ProposalAborted:
		return GetContentReply{}, fmt.Errorf("%w: proposal aborted", apollo.ErrProposalNotFound)
	default:
		return GetContentReply{}, fmt.Errorf("%w: kind=%d", apollo.ErrInternal, res.ErrKind)
	}
}

// DecisionReached implements decision_reached (§4.4/§4.5/§6): it
// removes the proposal from executed_proposals and commits its
// artifacts through the commit pipeline.
func (b *Batcher) DecisionReached(id ProposalId, addressToNonce map[apollo.ContractAddress]apollo.Nonce) (DecisionReachedReply, error) {
	b.mu.Lock()
	res, ok := b.executedProposals[id]
	if ok {
		delete(b.executedProposals, id)
	}
	height := b.activeHeight
	b.mu.Unlock()

	if !ok {
		return DecisionReachedReply{}, apollo.ErrExecutedProposalNotFound
	}
	if res.State != ProposalCompletedOk {
		return DecisionReachedReply{}, fmt.Errorf("%w: proposal did not complete successfully", apollo.ErrInternal)
	}
	if height == nil {
		return DecisionReachedReply{}, apollo.ErrNoActiveHeight
	}

	artifacts := res.Artifacts
	err := commitpipeline.CommitProposalAndBlock(
		b.storage, b.l1, b.mempool, b.metrics, b.logger,
		*height, artifacts.Diff, addressToNonce,
		artifacts.ConsumedL1Handlers, artifacts.Rejected,
	)

	b.mu.Lock()
	if err != nil {
		b.metrics.IncDecision("internal_error")
	} else {
		b.metrics.IncDecision("committed")
		b.activeHeight = nil
		b.activeProposal = nil
	}
	b.mu.Unlock()

	if err != nil {
		return DecisionReachedReply{}, err
	}
	return DecisionReachedReply{
		StateDiff:     artifacts.Diff,
		L2GasUsed:     artifacts.GasUsed,
		BouncerWeight: artifacts.BouncerWeight,
	}, nil
}

// AddSyncBlock implements add_sync_block (§4.4): aborts active work
// and advances storage to reflect a block synced from a peer.
func (b *Batcher) AddSyncBlock(height apollo.BlockNumber, diff statemodel.ThinStateDiff) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.storage.CommitProposal(height, diff); err != nil {
		return fmt.Errorf("%w: %v", apollo.ErrInternal, err)
	}
	b.logger.Warnw("sync block committed; mempool is not reconciled with the synced block's transactions", "height", uint64(height))
	b.abortActiveLocked()
	b.activeHeight = nil
	b.metrics.SetHeight(uint64(height) + 1)
	return nil
}

// RevertBlock implements revert_block(h) (§4.4/§4.5): requires the
// current storage height minus one to equal h.
func (b *Batcher) RevertBlock(height apollo.BlockNumber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.storage.Height().Prev() != height {
		return fmt.Errorf("%w: storage height %d, requested revert of %d", apollo.ErrInternal, uint64(b.storage.Height()), uint64(height))
	}
	b.abortActiveLocked()
	b.activeHeight = nil
	commitpipeline.Revert(b.storage, b.metrics, height)
	return nil
}

// mempoolAdapter narrows MempoolPort to builder.MempoolSource.
type mempoolAdapter struct{ mp MempoolPort }

func (a mempoolAdapter) GetTxs(n int) []apollo.InternalRpcTransaction { return a.mp.GetTxs(n) }

// l1HandlerAdapter narrows L1Port to builder.L1HandlerSource.
type l1HandlerAdapter struct{ l1 L1Port }

func (a l1HandlerAdapter) PendingL1Handlers(max int) []apollo.InternalRpcTransaction {
	return a.l1.PendingL1Handlers(max)
}

// proposeSink adapts a proposal's unbounded output stream to
// builder.PreconfirmedSink.
type proposeSink struct {
	ps *proposeStream
}

func (s proposeSink) Stream(txs []apollo.InternalRpcTransaction) {
	if len(txs) == 0 {
		return
	}
	s.ps.push(txs)
}

// multiSink fans one accepted batch out to the proposal's own
// get_proposal_content stream and the external preconfirmed observer
// feed; the latter is best-effort and never blocks the former.
type multiSink struct {
	ps  proposeSink
	ext *preconfirmed.Writer
}

func (s multiSink) Stream(txs []apollo.InternalRpcTransaction) {
	s.ps.Stream(txs)
	s.ext.Stream(txs)
}
