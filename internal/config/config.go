// Package config binds the sequencer's tunables to cobra/pflag flags
// on the node's root command, the way the teacher's cmd/empower1d/cli
// builds its command tree, generalized from a fixed set of chain
// subcommands to one flag-bound settings struct.
package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Config bundles every tunable named across the core's components.
// Defaults mirror the literal values spec.md's scenarios exercise.
type Config struct {
	ListenAddr   string
	DataDir      string
	UseBoltStore bool
	StartHeight  uint64

	MempoolCapacityBytes          uint64
	MempoolTransactionTTL         time.Duration
	MempoolFeeEscalationEnabled   bool
	MempoolFeeEscalationPercentage uint64
	MempoolDeclareDelay           time.Duration
	MempoolGasPriceThreshold      uint64
	MempoolCommitHistorySize      int

	BatcherOutstreamContentBufferSize int
	BatcherValidateChannelCapacity    int
	BatcherProposalDeadlineMargin     time.Duration
	BatcherMaxL1HandlersPerProposal   int
	BatcherBatchSize                  int

	StreamMaxStreamsPerPeer    int
	StreamMaxMessagesPerStream int
	StreamChannelBufferSize    int

	PreconfirmedWSAddr string
}

// Default returns the baseline configuration before flags are applied.
func Default() *Config {
	return &Config{
		ListenAddr:   "/ip4/0.0.0.0/tcp/10000",
		DataDir:      "./data",
		UseBoltStore: false,
		StartHeight:  0,

		MempoolCapacityBytes:           64 << 20,
		MempoolTransactionTTL:          1 * time.Hour,
		MempoolFeeEscalationEnabled:    true,
		MempoolFeeEscalationPercentage: 10,
		MempoolDeclareDelay:            2 * time.Second,
		MempoolGasPriceThreshold:       0,
		MempoolCommitHistorySize:       64,

		BatcherOutstreamContentBufferSize: 8,
		BatcherValidateChannelCapacity:    64,
		BatcherProposalDeadlineMargin:     20 * time.Millisecond,
		BatcherMaxL1HandlersPerProposal:   16,
		BatcherBatchSize:                  32,

		StreamMaxStreamsPerPeer:    32,
		StreamMaxMessagesPerStream: 256,
		StreamChannelBufferSize:    16,

		PreconfirmedWSAddr: ":8081",
	}
}

// BindFlags registers every field above on fs, following the teacher's
// cobra convention of binding config directly to a command's flag set
// rather than a separate file-based loader.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ListenAddr, "listen-addr", c.ListenAddr, "libp2p multiaddr to listen on")
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "directory for persistent storage")
	fs.BoolVar(&c.UseBoltStore, "bolt-store", c.UseBoltStore, "use the bolt-backed storage writer instead of in-memory")
	fs.Uint64Var(&c.StartHeight, "start-height", c.StartHeight, "initial batcher height")

	fs.Uint64Var(&c.MempoolCapacityBytes, "mempool-capacity-bytes", c.MempoolCapacityBytes, "mempool total size cap in bytes")
	fs.DurationVar(&c.MempoolTransactionTTL, "mempool-tx-ttl", c.MempoolTransactionTTL, "mempool transaction time-to-live")
	fs.BoolVar(&c.MempoolFeeEscalationEnabled, "mempool-fee-escalation", c.MempoolFeeEscalationEnabled, "allow replacing a queued same-nonce transaction when both tip and max L2 gas price rise by the escalation percentage; when off, every same-nonce replacement is rejected")
	fs.Uint64Var(&c.MempoolFeeEscalationPercentage, "mempool-fee-escalation-pct", c.MempoolFeeEscalationPercentage, "minimum fee bump percentage to replace a queued transaction")
	fs.DurationVar(&c.MempoolDeclareDelay, "mempool-declare-delay", c.MempoolDeclareDelay, "delay before a DECLARE transaction becomes eligible")
	fs.Uint64Var(&c.MempoolGasPriceThreshold, "mempool-gas-price-threshold", c.MempoolGasPriceThreshold, "max L2 gas price at or above which a queued transaction is served by get_txs; lower ones wait in the pending queue")
	fs.IntVar(&c.MempoolCommitHistorySize, "mempool-commit-history-size", c.MempoolCommitHistorySize, "size of the commit_block ring buffer")

	fs.IntVar(&c.BatcherOutstreamContentBufferSize, "batcher-outstream-buffer", c.BatcherOutstreamContentBufferSize, "max transactions returned per get_proposal_content reply")
	fs.IntVar(&c.BatcherValidateChannelCapacity, "batcher-validate-channel-capacity", c.BatcherValidateChannelCapacity, "send_proposal_content validate-mode channel capacity")
	fs.DurationVar(&c.BatcherProposalDeadlineMargin, "batcher-deadline-margin", c.BatcherProposalDeadlineMargin, "safety margin subtracted from a proposal's deadline")
	fs.IntVar(&c.BatcherMaxL1HandlersPerProposal, "batcher-max-l1-handlers", c.BatcherMaxL1HandlersPerProposal, "max L1 handler transactions drawn per proposal")
	fs.IntVar(&c.BatcherBatchSize, "batcher-batch-size", c.BatcherBatchSize, "transactions requested per builder round")

	fs.IntVar(&c.StreamMaxStreamsPerPeer, "stream-max-streams-per-peer", c.StreamMaxStreamsPerPeer, "max concurrent inbound streams per peer before LRU eviction")
	fs.IntVar(&c.StreamMaxMessagesPerStream, "stream-max-messages-per-stream", c.StreamMaxMessagesPerStream, "max out-of-order buffered messages before a stream is dropped")
	fs.IntVar(&c.StreamChannelBufferSize, "stream-channel-buffer", c.StreamChannelBufferSize, "per-stream delivery channel buffer size")

	fs.StringVar(&c.PreconfirmedWSAddr, "preconfirmed-ws-addr", c.PreconfirmedWSAddr, "listen address for the preconfirmed block websocket feed")
}
