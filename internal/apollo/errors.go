package apollo

import "errors"

// Kind classifies a sentinel error into the §7 effect classes, used to
// drive metrics labelling and ProposalStatus construction without
// re-deriving the taxonomy from the error string.
type Kind uint8

const (
	KindUnclassified Kind = iota
	KindPreValidation
	KindExecutionReverted
	KindResourceExceeded
	KindTransient
	KindFatal
	KindProtocolError
)

// --- Mempool admission failures (§4.1) ---
var (
	ErrDuplicateTransaction  = errors.New("duplicate transaction")
	ErrDuplicateNonce        = errors.New("duplicate nonce")
	ErrNonceTooOld           = errors.New("nonce too old")
	ErrMempoolFull           = errors.New("mempool full")
	ErrTransactionTTLExpired = errors.New("transaction ttl expired")
)

// --- Batcher / proposal protocol errors (§6, §7) ---
var (
	ErrHeightInProgress            = errors.New("height in progress")
	ErrStorageHeightMarkerMismatch = errors.New("storage height marker mismatch")
	ErrNoActiveHeight              = errors.New("no active height")
	ErrNotReady                    = errors.New("not ready")
	ErrAnotherProposalInProgress   = errors.New("another proposal in progress")
	ErrProposalNotFound            = errors.New("proposal not found")
	ErrExecutedProposalNotFound    = errors.New("executed proposal not found")
	ErrBlockNumberMismatch         = errors.New("block number does not match active height")
	ErrInternal                    = errors.New("internal error")
)

// ErrUnexpectedHeight is returned by an L1 provider whose own tip
// disagrees with the height the batcher is committing (§4.5 step 2).
var ErrUnexpectedHeight = errors.New("l1 provider: unexpected height")

// errKind maps each sentinel to its §7 effect class. Unlisted errors
// (e.g. ad-hoc wraps from collaborators) classify as Unclassified.
var errKind = map[error]Kind{
	ErrDuplicateTransaction:        KindPreValidation,
	ErrDuplicateNonce:              KindPreValidation,
	ErrNonceTooOld:                 KindPreValidation,
	ErrMempoolFull:                 KindPreValidation,
	ErrTransactionTTLExpired:       KindPreValidation,
	ErrHeightInProgress:            KindProtocolError,
	ErrStorageHeightMarkerMismatch: KindProtocolError,
	ErrNoActiveHeight:              KindProtocolError,
	ErrAnotherProposalInProgress:   KindProtocolError,
	ErrProposalNotFound:            KindProtocolError,
	ErrExecutedProposalNotFound:    KindProtocolError,
	ErrBlockNumberMismatch:         KindProtocolError,
	ErrNotReady:                    KindTransient,
	ErrInternal:                    KindFatal,
	ErrUnexpectedHeight:            KindFatal,
}

// ClassifyError returns the effect-class Kind for err, unwrapping to
// find the first sentinel this package recognises.
func ClassifyError(err error) Kind {
	if err == nil {
		return KindUnclassified
	}
	for sentinel, kind := range errKind {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnclassified
}
