package batcher

import (
	"github.com/google/uuid"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
	"github.com/apollo-sequencer/sequencer/internal/builder"
	"github.com/apollo-sequencer/sequencer/internal/statemodel"
)

// ProposalId names a proposal across propose_block/validate_block,
// send_proposal_content, get_proposal_content and decision_reached.
type ProposalId = uuid.UUID

// SessionState distinguishes propose_block (this node builds the
// content) from validate_block (this node is fed content to replay).
type SessionState uint8

const (
	SessionPropose SessionState = iota
	SessionValidate
)

// ProposalState is one proposal's lifecycle stage within
// executed_proposals.
type ProposalState uint8

const (
	ProposalActive ProposalState = iota
	ProposalCompletedOk
	ProposalCompletedErr
	ProposalAborted
)

// ProposalResult is the executed_proposals map's value: either the
// proposal is still running, or it finished with artifacts, an error
// kind, or an abort.
type ProposalResult struct {
	State     ProposalState
	Artifacts *builder.BlockExecutionArtifacts
	ErrKind   apollo.Kind
}

// ProposalStatus is send_proposal_content's reply (§6).
type ProposalStatus struct {
	Processing bool
	Commitment apollo.BlockHash
	Aborted    bool
	Invalid    bool
	InvalidKind apollo.Kind
}

// ContentKind tags send_proposal_content's payload variant.
type ContentKind uint8

const (
	ContentTxs ContentKind = iota
	ContentFinish
	ContentAbort
)

// ProposalContent is the send_proposal_content request body.
type ProposalContent struct {
	Kind ContentKind
	Txs  []apollo.InternalRpcTransaction
	N    int // only meaningful when Kind == ContentFinish
}

// GetContentKind tags get_proposal_content's reply variant.
type GetContentKind uint8

const (
	GetContentTxs GetContentKind = iota
	GetContentFinished
)

// GetContentReply is get_proposal_content's reply (§6).
type GetContentReply struct {
	Kind               GetContentKind
	Txs                []apollo.InternalRpcTransaction
	Commitment         apollo.BlockHash
	FinalNExecutedTxs  int
}

// DecisionReachedReply is decision_reached's reply (§6), the
// "central_objects" bundle trimmed to what this core tracks.
type DecisionReachedReply struct {
	StateDiff     statemodel.ThinStateDiff
	L2GasUsed     uint64
	BouncerWeight uint64
}
