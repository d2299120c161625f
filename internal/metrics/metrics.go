// Package metrics is the injected telemetry sink every core component
// writes into. The spec treats metrics as "logically a sink" (§9,
// "Global mutable state: none"); this package gives that sink a
// concrete, dependency-injected shape over prometheus client_golang,
// so no package reaches for a package-level global registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge/histogram the core components
// report into. A nil *Metrics is valid everywhere: every method is a
// no-op guard on the receiver being nil, so components can be built
// without wiring telemetry for unit tests.
type Metrics struct {
	MempoolSize          prometheus.Gauge
	MempoolEvictions      prometheus.Counter
	MempoolAdmissions    *prometheus.CounterVec // label: outcome
	MempoolAccountsGap   prometheus.Gauge
	BatcherHeight        prometheus.Gauge
	BatcherProposalTime  prometheus.Histogram
	BatcherDecisions     *prometheus.CounterVec // label: result
	VersionedReexecutions prometheus.Counter
	StreamDroppedMessages prometheus.Counter
}

// New registers and returns a fresh Metrics bundle against reg. Pass
// prometheus.NewRegistry() in production wiring, or nil to opt out
// (methods become no-ops via the nil-receiver guards below).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apollo_sequencer", Subsystem: "mempool", Name: "size",
			Help: "number of transactions currently held in the mempool",
		}),
		MempoolEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apollo_sequencer", Subsystem: "mempool", Name: "evictions_total",
			Help: "number of transactions evicted under capacity pressure",
		}),
		MempoolAdmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apollo_sequencer", Subsystem: "mempool", Name: "admissions_total",
			Help: "add_tx outcomes by result",
		}, []string{"outcome"}),
		MempoolAccountsGap: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apollo_sequencer", Subsystem: "mempool", Name: "accounts_with_gap",
			Help: "number of addresses currently tracked as having a nonce gap",
		}),
		BatcherHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apollo_sequencer", Subsystem: "batcher", Name: "height",
			Help: "current storage height as observed by the batcher",
		}),
		BatcherProposalTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "apollo_sequencer", Subsystem: "batcher", Name: "proposal_seconds",
			Help: "wall time spent building or validating one proposal",
		}),
		BatcherDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apollo_sequencer", Subsystem: "batcher", Name: "decisions_total",
			Help: "decision_reached outcomes by result",
		}, []string{"result"}),
		VersionedReexecutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apollo_sequencer", Subsystem: "versioned_state", Name: "reexecutions_total",
			Help: "number of transactions re-executed after a failed read validation",
		}),
		StreamDroppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apollo_sequencer", Subsystem: "stream_handler", Name: "dropped_messages_total",
			Help: "stream parts dropped due to stream/peer caps or stale ids",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.MempoolSize, m.MempoolEvictions, m.MempoolAdmissions, m.MempoolAccountsGap,
			m.BatcherHeight, m.BatcherProposalTime, m.BatcherDecisions,
			m.VersionedReexecutions, m.StreamDroppedMessages,
		)
	}
	return m
}

func (m *Metrics) incAdmission(outcome string) {
	if m == nil {
		return
	}
	m.MempoolAdmissions.WithLabelValues(outcome).Inc()
}

// ObserveAdmission records the outcome label of one add_tx call.
func (m *Metrics) ObserveAdmission(outcome string) { m.incAdmission(outcome) }

func (m *Metrics) SetMempoolSize(n int) {
	if m == nil {
		return
	}
	m.MempoolSize.Set(float64(n))
}

func (m *Metrics) IncEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MempoolEvictions.Add(float64(n))
}

func (m *Metrics) SetAccountsWithGap(n int) {
	if m == nil {
		return
	}
	m.MempoolAccountsGap.Set(float64(n))
}

func (m *Metrics) SetHeight(h uint64) {
	if m == nil {
		return
	}
	m.BatcherHeight.Set(float64(h))
}

func (m *Metrics) ObserveProposalSeconds(s float64) {
	if m == nil {
		return
	}
	m.BatcherProposalTime.Observe(s)
}

func (m *Metrics) IncDecision(result string) {
	if m == nil {
		return
	}
	m.BatcherDecisions.WithLabelValues(result).Inc()
}

func (m *Metrics) IncReexecution() {
	if m == nil {
		return
	}
	m.VersionedReexecutions.Inc()
}

func (m *Metrics) IncStreamDropped() {
	if m == nil {
		return
	}
	m.StreamDroppedMessages.Inc()
}
