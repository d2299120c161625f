// Package preconfirmed implements the PreconfirmedBlockWriter of §3:
// an external-facing fan-out for the speculative (candidate and
// pre-confirmed) transactions a proposal accepts while it is still
// building, so observers outside the sequencer (a read API, a block
// explorer preview) can watch a height assemble before decision_reached.
// It satisfies builder.PreconfirmedSink and is the teacher's declared
// but unused gorilla/websocket dependency, wired here as the transport
// for that external observer.
package preconfirmed

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
	"github.com/apollo-sequencer/sequencer/internal/logging"
	"github.com/apollo-sequencer/sequencer/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// subscriber is one observer's outbound queue; batches are dropped
// (not blocked on) once it falls behind, since this is a best-effort
// preview feed, not part of the commit path.
type subscriber struct {
	ch chan []apollo.InternalRpcTransaction
}

// Writer is the PreconfirmedBlockWriter. A nil *Writer is valid:
// Stream becomes a no-op, matching builder.PreconfirmedSink's nil-sink
// contract.
type Writer struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]*subscriber
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

func New(met *metrics.Metrics, logger *zap.SugaredLogger) *Writer {
	return &Writer{
		subs:    make(map[uint64]*subscriber),
		metrics: met,
		logger:  logging.NopIfNil(logger),
	}
}

// Stream implements builder.PreconfirmedSink: it fans out one accepted
// batch to every current subscriber, dropping it for any subscriber
// whose queue is full.
func (w *Writer) Stream(txs []apollo.InternalRpcTransaction) {
	if w == nil || len(txs) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.subs {
		select {
		case s.ch <- txs:
		default:
			w.logger.Warnw("preconfirmed subscriber queue full, dropping batch", "queued", len(s.ch))
		}
	}
}

// Subscribe registers an in-process observer and returns its batch
// channel plus an unsubscribe func to release it.
func (w *Writer) Subscribe(bufSize int) (<-chan []apollo.InternalRpcTransaction, func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	s := &subscriber{ch: make(chan []apollo.InternalRpcTransaction, bufSize)}
	w.subs[id] = s
	w.mu.Unlock()

	return s.ch, func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

// ServeWS upgrades an HTTP request to a websocket and streams every
// subsequent accepted batch to it as a JSON array, until the
// connection errors or closes.
func (w *Writer) ServeWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warnw("preconfirmed websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch, unsubscribe := w.Subscribe(8)
	defer unsubscribe()

	for batch := range ch {
		if err := conn.WriteJSON(batch); err != nil {
			return
		}
	}
}
