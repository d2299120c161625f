// Package builder implements the BlockBuilder and TransactionProvider
// of §4.3: it drains a TransactionProvider over a VersionedState until
// a deadline, a bouncer-full signal, provider completion, or an abort,
// producing BlockExecutionArtifacts. Execution semantics of individual
// Cairo syscalls are out of scope (§1 Non-goals); the Executor
// interface is the pluggable boundary a concrete Cairo VM would sit
// behind, generalizing the teacher's VMService(state, logger)
// injection shape from a concrete Wasmer engine to an interface.
package builder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
	"github.com/apollo-sequencer/sequencer/internal/logging"
	"github.com/apollo-sequencer/sequencer/internal/metrics"
	"github.com/apollo-sequencer/sequencer/internal/statemodel"
	"github.com/apollo-sequencer/sequencer/internal/versionedstate"
)

// ExecutionResult is one transaction's outcome against a pinned
// TxState: either it is accepted (its writes should be applied) or
// rejected with a Kind (PreValidation/ExecutionReverted/...).
type ExecutionResult struct {
	Accepted bool
	Rejected apollo.Kind
	Weight   uint64 // this tx's contribution to the bouncer's weight axes
}

// Executor runs one transaction against a pinned TxState. A concrete
// implementation wraps the out-of-scope Cairo VM; tests use a stub.
type Executor interface {
	Execute(ctx context.Context, tx apollo.InternalRpcTransaction, txState *versionedstate.TxState) (ExecutionResult, error)
}

// Bouncer is the resource-accounting oracle of §9's Open Question:
// "treated here as an oracle with a boolean is_full signal".
type Bouncer interface {
	Add(weight uint64) (full bool)
	Reset()
}

// BlockExecutionArtifacts is the §3 BlockExecutionArtifacts entity.
type BlockExecutionArtifacts struct {
	Commitment          apollo.BlockHash
	ConsumedL1Handlers  []apollo.TransactionHash
	Rejected            []apollo.TransactionHash
	Diff                statemodel.ThinStateDiff
	GasUsed             uint64
	BouncerWeight       uint64
	FinalExecutedCount  int
	Aborted             bool
}

// Provider is the TransactionProvider interface of §4.3: both Propose
// and Validate variants implement it.
type Provider interface {
	// NextBatch returns up to max transactions. finished is true once
	// the provider has no more transactions to offer for this proposal.
	NextBatch(ctx context.Context, max int) (txs []apollo.InternalRpcTransaction, finished bool, err error)
}

// PreconfirmedSink receives candidate transactions as they are
// accepted, matching the PreconfirmedBlockWriter collaborator. A nil
// sink is valid: Stream is a no-op guard.
type PreconfirmedSink interface {
	Stream(txs []apollo.InternalRpcTransaction)
}

// Builder is the BlockBuilder of §4.3.
type Builder struct {
	executor  Executor
	metrics   *metrics.Metrics
	logger    *zap.SugaredLogger
	batchSize int
}

// New builds a Builder. batchSize bounds how many transactions are
// requested from the provider per round.
func New(executor Executor, batchSize int, met *metrics.Metrics, logger *zap.SugaredLogger) *Builder {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Builder{executor: executor, metrics: met, logger: logging.NopIfNil(logger), batchSize: batchSize}
}

// BuildBlock drives provider against vs until deadline, bouncer-full,
// provider completion, or ctx cancellation (the abort signal).
func (b *Builder) BuildBlock(ctx context.Context, provider Provider, vs *versionedstate.VersionedState, bouncer Bouncer, deadline time.Time, sink PreconfirmedSink) (*BlockExecutionArtifacts, error) {
	artifacts := &BlockExecutionArtifacts{}
	index := 0

build:
	for {
		select {
		case <-ctx.Done():
			artifacts.Aborted = true
			return artifacts, nil
		default:
		}

		if !time.Now().Before(deadline) {
			break
		}

		txs, finished, err := provider.NextBatch(ctx, b.batchSize)
		if err != nil {
			return artifacts, err
		}

		accepted := make([]apollo.InternalRpcTransaction, 0, len(txs))
		for _, tx := range txs {
			select {
			case <-ctx.Done():
				artifacts.Aborted = true
				return artifacts, nil
			default:
			}

			txState := vs.PinVersion(index)
			result, err := b.executor.Execute(ctx, tx, txState)
			if err != nil {
				return artifacts, err
			}
			if !vs.ValidateReads(index, txState.ReadSet()) {
				// One re-exec without a second validation is only safe
				// because execution here is sequential: index i always
				// runs after every j<i has already applied its writes,
				// so the re-exec's read set can't itself go stale. A
				// parallel executor would need to loop until valid.
				b.metrics.IncReexecution()
				txState = vs.PinVersion(index)
				result, err = b.executor.Execute(ctx, tx, txState)
				if err != nil {
					return artifacts, err
				}
			}

			if result.Accepted {
				vs.ApplyWrites(index, txState.Writes())
				accepted = append(accepted, tx)
				artifacts.GasUsed += result.Weight
			} else {
				vs.DeleteWrites(index, txState.Writes())
				artifacts.Rejected = append(artifacts.Rejected, tx.Hash)
			}
			if tx.Kind.IsL1Handler() {
				artifacts.ConsumedL1Handlers = append(artifacts.ConsumedL1Handlers, tx.Hash)
			}

			index++
			artifacts.FinalExecutedCount++

			artifacts.BouncerWeight += result.Weight
			if bouncer != nil && bouncer.Add(result.Weight) {
				if sink != nil {
					sink.Stream(accepted)
				}
				break build
			}
		}

		if sink != nil && len(accepted) > 0 {
			sink.Stream(accepted)
		}

		if finished {
			break
		}
	}

	base := vs.CommitChunk(index)
	diff, err := base.ToStateDiff()
	if err != nil {
		return artifacts, err
	}
	artifacts.Diff = diff.Thin()
	return artifacts, nil
}
