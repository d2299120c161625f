// Package streamhandler implements the consensus proposal stream
// reorder buffer of §4.6: StreamMessage parts gossiped out of order by
// a peer are buffered per (peer, stream_id) and forwarded in sequence
// on a per-stream channel, with caps against unbounded buffering and a
// peer-reputation report on violation. It generalizes the teacher's
// internal/p2p message/payload shape (a typed wire struct plus sentinel
// errors in the same file) from a fixed set of gossip messages to one
// reorderable, fan-out stream kind.
package streamhandler

import "errors"

// StreamMessage is the §6 wire model: a stream part is either a
// content chunk or the terminal Fin marker, tagged with the stream it
// belongs to and its position within that stream.
type StreamMessage struct {
	StreamID  StreamID
	MessageID uint64
	Content   []byte
	Fin       bool
}

// StreamID is the app-defined, peer-scoped stream identifier; the wire
// model carries it as arbitrary bytes, stringified here for map keys.
type StreamID string

// PeerID names the remote side of a stream; a libp2p transport would
// populate this from peer.ID.String().
type PeerID string

var (
	// ErrStreamCapExceeded names a peer opening more than
	// MaxStreamsPerPeer concurrent streams. Inbound evicts the LRU
	// stream instead of refusing the new one and does not report it.
	ErrStreamCapExceeded = errors.New("stream handler: peer stream cap exceeded, evicting lru stream")
	// ErrMessageCapExceeded is reported when a stream's out-of-order
	// buffer would exceed MaxMessagesPerStream; the whole stream is
	// dropped rather than re-opened mid-buffering.
	ErrMessageCapExceeded = errors.New("stream handler: message buffer cap exceeded, dropping stream")
)

// ReputationSink receives peer misbehavior reports, forwarded to the
// network manager's reputation channel per §4.6.
type ReputationSink interface {
	ReportPeer(peer PeerID, reason error)
}

// Config bundles the stream handler's buffering caps.
type Config struct {
	MaxStreamsPerPeer    int
	MaxMessagesPerStream int
	ChannelBufferSize    int
}

func DefaultConfig() Config {
	return Config{
		MaxStreamsPerPeer:    32,
		MaxMessagesPerStream: 256,
		ChannelBufferSize:    16,
	}
}
