package batcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
	"github.com/apollo-sequencer/sequencer/internal/builder"
	"github.com/apollo-sequencer/sequencer/internal/state"
	"github.com/apollo-sequencer/sequencer/internal/statemodel"
	"github.com/apollo-sequencer/sequencer/internal/storage"
	"github.com/apollo-sequencer/sequencer/internal/versionedstate"
)

// zeroReader is a state.Reader returning the zero value for every
// key, the deterministic default a fresh chain reads against.
type zeroReader struct{}

func (zeroReader) NonceAt(apollo.ContractAddress) (apollo.Nonce, error) { return apollo.Nonce{}, nil }
func (zeroReader) ClassHashAt(apollo.ContractAddress) (apollo.ClassHash, error) {
	return apollo.ClassHash{}, nil
}
func (zeroReader) StorageAt(apollo.StorageSlot) (apollo.Felt, error)  { return apollo.Felt{}, nil }
func (zeroReader) CompiledClassHash(apollo.ClassHash) (apollo.CompiledClassHash, error) {
	return apollo.CompiledClassHash{}, nil
}
func (zeroReader) IsDeclared(apollo.ClassHash) (bool, error) { return false, nil }

type testStates struct{}

func (testStates) NewVersionedState(apollo.BlockNumber) *versionedstate.VersionedState {
	base := state.New(zeroReader{}, nil)
	return versionedstate.New(base, nil, nil)
}

// stubMempool is an empty MempoolPort: no transactions, no-op commit.
type stubMempool struct {
	getTxs func(n int) []apollo.InternalRpcTransaction
}

func (m stubMempool) GetTxs(n int) []apollo.InternalRpcTransaction {
	if m.getTxs != nil {
		return m.getTxs(n)
	}
	return nil
}
func (stubMempool) CommitBlock(map[apollo.ContractAddress]apollo.Nonce, []apollo.TransactionHash) {}
func (stubMempool) UpdateGasPrice(uint64)                                                         {}

// stubL1 is an always-ready L1Port with no pending handlers.
type stubL1 struct {
	startErr  error
	commitErr error
}

func (s stubL1) StartBlock(apollo.BlockNumber, bool) error { return s.startErr }
func (stubL1) PendingL1Handlers(int) []apollo.InternalRpcTransaction { return nil }
func (s stubL1) CommitBlock([]apollo.TransactionHash, []apollo.TransactionHash) error {
	return s.commitErr
}

// stubExecutor accepts every transaction, touching nothing.
type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, tx apollo.InternalRpcTransaction, ts *versionedstate.TxState) (builder.ExecutionResult, error) {
	return builder.ExecutionResult{Accepted: true, Weight: 1}, nil
}

// stubBouncer never reports full.
type stubBouncer struct{}

func (stubBouncer) Add(uint64) bool { return false }
func (stubBouncer) Reset()          {}

func newTestBatcher(t *testing.T, startHeight apollo.BlockNumber, mp MempoolPort, l1 L1Port) *Batcher {
	t.Helper()
	sw := storage.NewMemory(startHeight)
	bld := builder.New(stubExecutor{}, 32, nil, nil)
	return New(sw, mp, l1, testStates{}, bld, func() builder.Bouncer { return stubBouncer{} }, nil, DefaultConfig(), nil, nil)
}

func addr(b byte) apollo.ContractAddress {
	var a apollo.ContractAddress
	a[31] = b
	return a
}

func txHash(b byte) apollo.TransactionHash {
	var h apollo.TransactionHash
	h[31] = b
	return h
}

// TestScenarioS1HappyProposeDecide replays the spec's literal
// propose-then-decide scenario on an empty mempool.
func TestScenarioS1HappyProposeDecide(t *testing.T) {
	b := newTestBatcher(t, 5, stubMempool{}, stubL1{})

	if err := b.StartHeight(5); err != nil {
		t.Fatalf("StartHeight(5) = %v, want nil", err)
	}

	id := ProposalId{1}
	deadline := time.Now().Add(2 * time.Second)
	info := apollo.BlockInfo{BlockNumber: 5}
	if err := b.ProposeBlock(id, info, nil, 0, deadline); err != nil {
		t.Fatalf("ProposeBlock = %v, want nil", err)
	}

	ctx := context.Background()
	content, err := b.GetProposalContent(ctx, id)
	if err != nil {
		t.Fatalf("GetProposalContent = %v, want nil", err)
	}
	if content.Kind != GetContentFinished {
		t.Fatalf("GetProposalContent.Kind = %v, want Finished", content.Kind)
	}
	if content.FinalNExecutedTxs != 0 {
		t.Fatalf("FinalNExecutedTxs = %d, want 0", content.FinalNExecutedTxs)
	}

	reply, err := b.DecisionReached(id, nil)
	if err != nil {
		t.Fatalf("DecisionReached = %v, want nil", err)
	}
	if !statemodel.StateDiff(reply.StateDiff).IsEmpty() {
		t.Fatalf("StateDiff = %+v, want empty", reply.StateDiff)
	}
	if got := b.storageHeightForTest(); got != 6 {
		t.Fatalf("storage height after decision_reached = %d, want 6", got)
	}
}

// TestScenarioS2ValidateThenAbort replays the spec's literal
// validate-then-abort scenario.
func TestScenarioS2ValidateThenAbort(t *testing.T) {
	b := newTestBatcher(t, 5, stubMempool{}, stubL1{})

	if err := b.StartHeight(5); err != nil {
		t.Fatalf("StartHeight(5) = %v, want nil", err)
	}

	id := ProposalId{2}
	deadline := time.Now().Add(2 * time.Second)
	info := apollo.BlockInfo{BlockNumber: 5}
	if err := b.ValidateBlock(id, info, nil, deadline); err != nil {
		t.Fatalf("ValidateBlock = %v, want nil", err)
	}

	ctx := context.Background()
	txA := apollo.InternalRpcTransaction{Hash: txHash(1), Sender: addr(1), Nonce: apollo.Nonce(apollo.FeltFromUint64(0)), TotalBytes: 10}
	status, err := b.SendProposalContent(ctx, id, ProposalContent{Kind: ContentTxs, Txs: []apollo.InternalRpcTransaction{txA}})
	if err != nil {
		t.Fatalf("SendProposalContent(Txs) = %v, want nil", err)
	}
	if !status.Processing {
		t.Fatalf("status after Txs = %+v, want Processing", status)
	}

	status, err = b.SendProposalContent(ctx, id, ProposalContent{Kind: ContentAbort})
	if err != nil {
		t.Fatalf("SendProposalContent(Abort) = %v, want nil", err)
	}
	if !status.Aborted {
		t.Fatalf("status after Abort = %+v, want Aborted", status)
	}

	res, ok := b.lookupExecuted(id)
	if !ok {
		t.Fatalf("executed_proposals[id] missing after abort")
	}
	if res.State != ProposalAborted {
		t.Fatalf("executed_proposals[id].State = %v, want ProposalAborted", res.State)
	}
}

// TestSingleProposalInvariant covers the §4.4/§8 single-proposal
// invariant: a second propose_block while one is active fails.
func TestSingleProposalInvariant(t *testing.T) {
	b := newTestBatcher(t, 5, stubMempool{getTxs: func(n int) []apollo.InternalRpcTransaction {
		// Blocks for 50ms before returning nothing, so the first proposal
		// is still running when the second propose_block arrives.
		time.Sleep(50 * time.Millisecond)
		return nil
	}}, stubL1{})

	if err := b.StartHeight(5); err != nil {
		t.Fatalf("StartHeight(5) = %v, want nil", err)
	}
	info := apollo.BlockInfo{BlockNumber: 5}
	deadline := time.Now().Add(2 * time.Second)

	id1 := ProposalId{1}
	if err := b.ProposeBlock(id1, info, nil, 0, deadline); err != nil {
		t.Fatalf("first ProposeBlock = %v, want nil", err)
	}

	id2 := ProposalId{2}
	err := b.ProposeBlock(id2, info, nil, 0, deadline)
	if err == nil {
		t.Fatalf("second ProposeBlock while one is active = nil, want AnotherProposalInProgress")
	}
	if !errors.Is(err, apollo.ErrAnotherProposalInProgress) {
		t.Fatalf("second ProposeBlock error = %v, want wrapping ErrAnotherProposalInProgress", err)
	}
}

// storageHeightForTest exposes the storage height without widening the
// exported surface.
func (b *Batcher) storageHeightForTest() uint64 {
	return uint64(b.storage.Height())
}
