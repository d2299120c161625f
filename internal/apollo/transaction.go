package apollo

// TxKind tags the variant and version of a Transaction. Version
// fields are data, not types, per the spec's dynamic-dispatch note in
// §9: a single tagged struct carries every variant, and callers switch
// exhaustively on Kind.
type TxKind uint8

const (
	KindInvalid TxKind = iota
	KindDeclareV0
	KindDeclareV1
	KindDeclareV2
	KindDeclareV3
	KindDeploy
	KindDeployAccountV1
	KindDeployAccountV3
	KindInvokeV0
	KindInvokeV1
	KindInvokeV3
	KindL1Handler
)

func (k TxKind) IsL1Handler() bool { return k == KindL1Handler }

func (k TxKind) IsDeclare() bool {
	switch k {
	case KindDeclareV0, KindDeclareV1, KindDeclareV2, KindDeclareV3:
		return true
	default:
		return false
	}
}

func (k TxKind) String() string {
	switch k {
	case KindDeclareV0:
		return "DeclareV0"
	case KindDeclareV1:
		return "DeclareV1"
	case KindDeclareV2:
		return "DeclareV2"
	case KindDeclareV3:
		return "DeclareV3"
	case KindDeploy:
		return "Deploy"
	case KindDeployAccountV1:
		return "DeployAccountV1"
	case KindDeployAccountV3:
		return "DeployAccountV3"
	case KindInvokeV0:
		return "InvokeV0"
	case KindInvokeV1:
		return "InvokeV1"
	case KindInvokeV3:
		return "InvokeV3"
	case KindL1Handler:
		return "L1Handler"
	default:
		return "Invalid"
	}
}

// Transaction is the tagged-variant envelope of §3. Execution
// semantics of individual Cairo syscalls are out of scope; only the
// fields the mempool, builder and commit pipeline need to reason
// about are modelled.
type Transaction struct {
	Kind          TxKind
	Hash          TransactionHash
	Sender        ContractAddress
	Nonce         Nonce
	Tip           uint64
	MaxL2GasPrice uint64
	ClassHash     ClassHash
	CompiledHash  CompiledClassHash
	TotalBytes    uint64
	// ConsumedOnL1Hash identifies the L1 message this L1Handler
	// transaction consumes; empty for all other kinds.
	ConsumedOnL1Hash TransactionHash
}

// InternalRpcTransaction is the mempool-internal projection of a
// Transaction: only the fields the pool's ordering and accounting
// logic touch, so the mempool never depends on full execution payload
// types.
type InternalRpcTransaction struct {
	Hash          TransactionHash
	Tip           uint64
	Sender        ContractAddress
	Nonce         Nonce
	MaxL2GasPrice uint64
	TotalBytes    uint64
	Kind          TxKind
}

func (t InternalRpcTransaction) TotalSerializedBytes() uint64 { return t.TotalBytes }

// FromTransaction projects a full Transaction into its mempool-internal form.
func FromTransaction(tx *Transaction) InternalRpcTransaction {
	return InternalRpcTransaction{
		Hash:          tx.Hash,
		Tip:           tx.Tip,
		Sender:        tx.Sender,
		Nonce:         tx.Nonce,
		MaxL2GasPrice: tx.MaxL2GasPrice,
		TotalBytes:    tx.TotalBytes,
		Kind:          tx.Kind,
	}
}
