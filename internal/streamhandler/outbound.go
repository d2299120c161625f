package streamhandler

import "context"

// Sender transmits one StreamMessage, e.g. over a libp2p network.Stream
// keyed by (peer, stream_id) on the other side.
type Sender interface {
	SendStreamMessage(msg StreamMessage) error
}

// RunOutbound drains in, assigning monotonically increasing
// message_ids starting at 0 and forwarding each chunk through sender.
// It appends a Fin message once in closes (or ctx is cancelled) and
// returns; per-stream bookkeeping is just this call's stack, so there
// is nothing further to release. Implements §4.6's outbound contract.
func RunOutbound(ctx context.Context, id StreamID, in <-chan []byte, sender Sender) error {
	var next uint64
	for {
		select {
		case <-ctx.Done():
			_, _ = sendFin(sender, id, next)
			return ctx.Err()
		case content, ok := <-in:
			if !ok {
				return sendFin(sender, id, next)
			}
			if err := sender.SendStreamMessage(StreamMessage{StreamID: id, MessageID: next, Content: content}); err != nil {
				return err
			}
			next++
		}
	}
}

func sendFin(sender Sender, id StreamID, finID uint64) error {
	return sender.SendStreamMessage(StreamMessage{StreamID: id, MessageID: finID, Fin: true})
}
