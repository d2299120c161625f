// Package apollo holds the domain primitives shared across every
// component of the sequencer core: field-element-backed identifiers,
// the transaction envelope, and the sentinel error taxonomy.
package apollo

import (
	"fmt"
	"math/big"
)

// Felt is a Starknet field element. The spec fixes only the domain
// constraints (252-bit, prime field) and leaves the concrete
// arithmetic to the (out of scope) cryptographic primitives; here it
// is a fixed-width big-endian byte array wide enough for the Stark
// prime, compared and hashed as opaque bytes.
type Felt [32]byte

// ZeroFelt is the additive identity, used as the deterministic default
// for unread storage slots, nonces and class hashes.
var ZeroFelt = Felt{}

// FeltFromUint64 builds a Felt from a small integer, used pervasively
// in tests and for block numbers re-expressed as felts.
func FeltFromUint64(v uint64) Felt {
	var f Felt
	big.NewInt(0).SetUint64(v).FillBytes(f[:])
	return f
}

func (f Felt) IsZero() bool { return f == ZeroFelt }

func (f Felt) String() string {
	return fmt.Sprintf("0x%x", [32]byte(f))
}

// BlockNumber is a monotonic 64-bit block height.
type BlockNumber uint64

func (b BlockNumber) Next() BlockNumber { return b + 1 }
func (b BlockNumber) Prev() BlockNumber { return b - 1 }

// BlockHash, TransactionHash, ContractAddress, ClassHash,
// CompiledClassHash, Nonce and StorageKey are all field elements with
// domain-specific roles; distinct named types keep them from being
// accidentally interchanged across map keys and function signatures.
type (
	BlockHash          Felt
	TransactionHash    Felt
	ContractAddress    Felt
	ClassHash          Felt
	CompiledClassHash  Felt
	Nonce              Felt
	StorageKey         Felt
	ChainID            string
)

func (b BlockHash) String() string         { return Felt(b).String() }
func (t TransactionHash) String() string   { return Felt(t).String() }
func (a ContractAddress) String() string   { return Felt(a).String() }
func (c ClassHash) String() string         { return Felt(c).String() }
func (c CompiledClassHash) String() string { return Felt(c).String() }
func (n Nonce) String() string             { return Felt(n).String() }
func (k StorageKey) String() string        { return Felt(k).String() }

// StorageSlot identifies one (contract, key) storage cell.
type StorageSlot struct {
	Contract ContractAddress
	Key      StorageKey
}

// AccountState describes the submitter-reported committed nonce for an
// account, carried alongside a transaction on admission.
type AccountState struct {
	Address ContractAddress
	Nonce   Nonce
}

// GasPrices carries the L1/L2, ETH/STRK gas price quadruple a height
// is built against; the execution layer that consumes these is out of
// scope, but the batcher contract threads them through block_info.
type GasPrices struct {
	L1GasPriceWei   uint64
	L1GasPriceFri   uint64
	L2GasPriceWei   uint64
	L2GasPriceFri   uint64
	L1DataGasPriceWei uint64
	L1DataGasPriceFri uint64
}

// BlockInfo is the §6 block_info payload threaded through
// propose_block/validate_block: everything the builder and bouncer
// need to know about the height under construction.
type BlockInfo struct {
	BlockNumber     BlockNumber
	Timestamp       uint64
	SequencerAddr   ContractAddress
	GasPrices       GasPrices
	UseKzgDataGas   bool
}
