package streamhandler

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/apollo-sequencer/sequencer/internal/logging"
	"github.com/apollo-sequencer/sequencer/internal/metrics"
)

// inboundStream is the per-(peer, stream_id) reorder state of §4.6:
// next is the lowest not-yet-delivered message_id, buffer holds
// out-of-order arrivals keyed by id, ch is the per-stream receiver,
// and finID is the terminal id once a Fin has been observed.
type inboundStream struct {
	mu     sync.Mutex
	next   uint64
	buffer map[uint64]StreamMessage
	ch     chan []byte
	finID  *uint64
	closed bool
}

func newInboundStream(bufSize int) *inboundStream {
	return &inboundStream{
		buffer: make(map[uint64]StreamMessage),
		ch:     make(chan []byte, bufSize),
	}
}

func (s *inboundStream) closeLocked() {
	if !s.closed {
		close(s.ch)
		s.closed = true
	}
}

// Inbound re-orders StreamMessage parts received from peers and fans
// each (peer, stream_id) out to its own channel.
type Inbound struct {
	cfg     Config
	rep     ReputationSink
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger

	mu    sync.Mutex
	peers map[PeerID]*lru.Cache
}

// NewInbound builds an Inbound handler. rep may be nil to discard
// reputation reports (e.g. in tests).
func NewInbound(cfg Config, rep ReputationSink, met *metrics.Metrics, logger *zap.SugaredLogger) *Inbound {
	return &Inbound{
		cfg:     cfg,
		rep:     rep,
		metrics: met,
		logger:  logging.NopIfNil(logger),
		peers:   make(map[PeerID]*lru.Cache),
	}
}

func (h *Inbound) reportPeer(peer PeerID, reason error) {
	if h.rep != nil {
		h.rep.ReportPeer(peer, reason)
	}
}

// streamsFor returns the peer's stream LRU, creating it (and its
// eviction callback) on first use. Eviction here is ordinary capacity
// management, not a protocol violation, so it is not reported.
func (h *Inbound) streamsFor(peer PeerID) *lru.Cache {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.peers[peer]; ok {
		return c
	}
	c, _ := lru.NewWithEvict(h.cfg.MaxStreamsPerPeer, func(key, value interface{}) {
		s := value.(*inboundStream)
		s.mu.Lock()
		s.closeLocked()
		s.mu.Unlock()
		h.metrics.IncStreamDropped()
	})
	h.peers[peer] = c
	return c
}

// stream returns the (peer, id) stream, creating it if this is the
// first message or the first Receive call to reach it; either order
// is valid, matching §4.6's "receiver_or_none" wording. Once closed
// (Fin reached or message cap exceeded) the entry is left in place
// rather than removed, so a later stray message for the same id finds
// it still closed instead of re-opening a fresh stream. An LRU-evicted
// stream is removed from the cache, so a later message for its id
// opens a fresh stream.
func (h *Inbound) stream(peer PeerID, id StreamID) *inboundStream {
	c := h.streamsFor(peer)
	if v, ok := c.Get(id); ok {
		return v.(*inboundStream)
	}
	s := newInboundStream(h.cfg.ChannelBufferSize)
	c.Add(id, s)
	return s
}

// Receive returns the channel a consumer should drain for (peer, id)'s
// in-order content. The channel closes once the stream's Fin id is
// reached or the stream is dropped/evicted.
func (h *Inbound) Receive(peer PeerID, id StreamID) <-chan []byte {
	return h.stream(peer, id).ch
}

// HandleMessage processes one StreamMessage received from peer,
// forwarding in-order content on the stream's channel and draining any
// buffered follow-on parts. It implements §4.6's inbound contract.
func (h *Inbound) HandleMessage(peer PeerID, msg StreamMessage) {
	s := h.stream(peer, msg.StreamID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if msg.Fin {
		id := msg.MessageID
		s.finID = &id
		if s.next == id {
			s.closeLocked()
		}
		return
	}

	switch {
	case msg.MessageID < s.next:
		// Already delivered; a retransmit or stale duplicate. Drop.
	case msg.MessageID == s.next:
		s.ch <- msg.Content
		s.next++
		for {
			buffered, ok := s.buffer[s.next]
			if !ok {
				break
			}
			delete(s.buffer, s.next)
			s.ch <- buffered.Content
			s.next++
		}
		if s.finID != nil && s.next == *s.finID {
			s.closeLocked()
		}
	default:
		s.buffer[msg.MessageID] = msg
		if len(s.buffer) > h.cfg.MaxMessagesPerStream {
			s.closeLocked()
			h.metrics.IncStreamDropped()
			h.reportPeer(peer, ErrMessageCapExceeded)
		}
	}
}
