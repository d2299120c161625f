// Package commitpipeline implements commit_proposal_and_block and its
// symmetric revert path (§4.5): atomic storage append, L1-provider
// reconciliation with storage revert on failure, and a best-effort
// mempool commit that is logged but never rolled back.
package commitpipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
	"github.com/apollo-sequencer/sequencer/internal/logging"
	"github.com/apollo-sequencer/sequencer/internal/metrics"
	"github.com/apollo-sequencer/sequencer/internal/statemodel"
	"github.com/apollo-sequencer/sequencer/internal/storage"
)

// L1Provider is the narrow collaborator contract for the L1 scraper's
// commit surface (§1: named contract only, implementation external).
type L1Provider interface {
	StartBlock(height apollo.BlockNumber, validate bool) error
	CommitBlock(consumed, rejected []apollo.TransactionHash) error
}

// MempoolCommitter is the narrow mempool surface the commit pipeline
// needs, matching internal/mempool.Mempool's CommitBlock method.
type MempoolCommitter interface {
	CommitBlock(addressToNonce map[apollo.ContractAddress]apollo.Nonce, rejected []apollo.TransactionHash)
}

// intersect returns the rejected hashes that are also consumed
// L1-handlers, the rejected_l1 partition §4.5 step 2 passes to the L1
// provider.
func intersect(rejected, consumed []apollo.TransactionHash) []apollo.TransactionHash {
	set := make(map[apollo.TransactionHash]struct{}, len(consumed))
	for _, h := range consumed {
		set[h] = struct{}{}
	}
	var out []apollo.TransactionHash
	for _, h := range rejected {
		if _, ok := set[h]; ok {
			out = append(out, h)
		}
	}
	return out
}

// CommitProposalAndBlock runs the three-step commit of §4.5. A
// returned error is always apollo.ErrInternal-classed (Fatal, §7):
// failure past step 1 has already reverted storage before returning.
func CommitProposalAndBlock(
	sw storage.Writer,
	l1 L1Provider,
	mp MempoolCommitter,
	met *metrics.Metrics,
	logger *zap.SugaredLogger,
	height apollo.BlockNumber,
	diff statemodel.ThinStateDiff,
	addressToNonce map[apollo.ContractAddress]apollo.Nonce,
	consumedL1Handlers, rejected []apollo.TransactionHash,
) error {
	logger = logging.NopIfNil(logger)

	if err := sw.CommitProposal(height, diff); err != nil {
		return fmt.Errorf("%w: commit_proposal at height %d: %v", apollo.ErrInternal, uint64(height), err)
	}

	rejectedL1 := intersect(rejected, consumedL1Handlers)
	if err := l1.CommitBlock(consumedL1Handlers, rejectedL1); err != nil {
		sw.RevertBlock(height)
		met.SetHeight(uint64(height))
		return fmt.Errorf("%w: l1 provider commit_block failed, storage reverted: %v", apollo.ErrInternal, err)
	}

	mp.CommitBlock(addressToNonce, rejected)
	met.SetHeight(uint64(height) + 1)
	return nil
}

// Revert undoes the last committed block: storage reverts height and
// the height metric is rolled back to match. Per §6/§9, storage revert
// failure is an unrecoverable invariant breach and panics inside
// sw.RevertBlock rather than returning here.
func Revert(sw storage.Writer, met *metrics.Metrics, height apollo.BlockNumber) {
	sw.RevertBlock(height)
	met.SetHeight(uint64(height))
}
