package mempool

import "time"

// Config bundles the mempool's tunables (§4.1). Defaults mirror the
// literal values used in spec.md's scenario S3.
type Config struct {
	CapacityBytes            uint64
	TransactionTTL            time.Duration
	FeeEscalationEnabled      bool
	FeeEscalationPercentage   uint64
	DeclareDelay              time.Duration
	GasPriceThreshold         uint64
	CommitHistorySize         int
}

// DefaultConfig returns sane defaults for tests and local runs.
func DefaultConfig() Config {
	return Config{
		CapacityBytes:           64 << 20,
		TransactionTTL:          1 * time.Hour,
		FeeEscalationEnabled:    true,
		FeeEscalationPercentage: 10,
		DeclareDelay:            2 * time.Second,
		GasPriceThreshold:       0,
		CommitHistorySize:       64,
	}
}
