package streamhandler

import (
	"fmt"
	"testing"
)

type stubReputation struct {
	reports []error
}

func (r *stubReputation) ReportPeer(peer PeerID, reason error) {
	r.reports = append(r.reports, reason)
}

func drain(t *testing.T, ch <-chan []byte) ([]byte, bool) {
	t.Helper()
	select {
	case b, ok := <-ch:
		return b, ok
	default:
		t.Fatalf("expected a ready value on the stream channel, got none")
		return nil, false
	}
}

func content(n int) []byte { return []byte{byte(n)} }

// TestScenarioS5StreamReorder replays the spec's literal out-of-order
// producer sequence: ids 5,4,3,2,1 sent first (5 recorded as the Fin
// terminal id), then 0. The consumer must observe 0..4 in order and
// then see the channel close.
func TestScenarioS5StreamReorder(t *testing.T) {
	h := NewInbound(DefaultConfig(), nil, nil, nil)
	peer := PeerID("peer-a")
	sid := StreamID("S")
	ch := h.Receive(peer, sid)

	h.HandleMessage(peer, StreamMessage{StreamID: sid, MessageID: 5, Fin: true})
	for _, id := range []uint64{4, 3, 2, 1} {
		h.HandleMessage(peer, StreamMessage{StreamID: sid, MessageID: id, Content: content(int(id))})
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("channel produced a value before id=0 arrived")
		}
		t.Fatalf("channel closed before id=0 arrived")
	default:
	}

	h.HandleMessage(peer, StreamMessage{StreamID: sid, MessageID: 0, Content: content(0)})

	for want := 0; want <= 4; want++ {
		b, ok := drain(t, ch)
		if !ok {
			t.Fatalf("channel closed early, expected content id=%d", want)
		}
		if len(b) != 1 || int(b[0]) != want {
			t.Fatalf("delivered content = %v, want id=%d", b, want)
		}
	}

	if _, ok := drain(t, ch); ok {
		t.Fatalf("expected channel to be closed after fin id reached")
	}
}

// TestStreamCapEvictsLRU covers the §8 stream-cap boundary: the
// (MaxStreamsPerPeer+1)-th concurrent stream evicts the least recently
// used one.
func TestStreamCapEvictsLRU(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStreamsPerPeer = 2
	h := NewInbound(cfg, nil, nil, nil)
	peer := PeerID("peer-a")

	chA := h.Receive(peer, StreamID("A"))
	_ = h.Receive(peer, StreamID("B"))
	// Touch B so A becomes the LRU entry, then open a third stream.
	h.HandleMessage(peer, StreamMessage{StreamID: "B", MessageID: 0, Content: content(0)})
	_ = h.Receive(peer, StreamID("C"))

	select {
	case _, ok := <-chA:
		if ok {
			t.Fatalf("evicted stream A delivered a value instead of closing")
		}
	default:
		t.Fatalf("expected stream A's channel to be closed after eviction")
	}
}

// TestMessageCapDropsStreamAndReports covers MAX_MESSAGES_PER_STREAM:
// buffering more out-of-order parts than the cap drops the whole
// stream and reports the peer.
func TestMessageCapDropsStreamAndReports(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessagesPerStream = 2
	rep := &stubReputation{}
	h := NewInbound(cfg, rep, nil, nil)
	peer := PeerID("peer-a")
	sid := StreamID("S")
	ch := h.Receive(peer, sid)

	// ids 3,2,1 never deliver (next stays at 0); buffering 3 entries
	// exceeds the cap of 2 and drops the stream.
	h.HandleMessage(peer, StreamMessage{StreamID: sid, MessageID: 3, Content: content(3)})
	h.HandleMessage(peer, StreamMessage{StreamID: sid, MessageID: 2, Content: content(2)})
	h.HandleMessage(peer, StreamMessage{StreamID: sid, MessageID: 1, Content: content(1)})

	if _, ok := <-ch; ok {
		t.Fatalf("expected dropped stream's channel to be closed")
	}
	if len(rep.reports) != 1 {
		t.Fatalf("reputation reports = %d, want 1", len(rep.reports))
	}
	if !sameError(rep.reports[0], ErrMessageCapExceeded) {
		t.Fatalf("report reason = %v, want %v", rep.reports[0], ErrMessageCapExceeded)
	}

	// A late id=0 for the same stream must not re-open it.
	h.HandleMessage(peer, StreamMessage{StreamID: sid, MessageID: 0, Content: content(0)})
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("dropped stream delivered content after being dropped")
		}
	default:
		t.Fatalf("dropped stream's channel should stay closed, not block")
	}
}

func sameError(a, b error) bool { return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) }
