// Package metrics exposes the context's internal counters and gauges via
// github.com/prometheus/client_golang, so a production deployment can
// scrape send-queue depth, retransmit/dedup/cache activity and active
// observers the same way the rest of the ecosystem instruments services.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector this CORE reports. A nil *Metrics is
// valid everywhere it's used as a parameter: every method is a no-op on a
// nil receiver, so wiring metrics in is opt-in and never required.
type Metrics struct {
	SendQueueDepth   prometheus.Gauge
	Retransmits      prometheus.Counter
	NacksByReason    *prometheus.CounterVec
	DedupHits        prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	ObserverCount    prometheus.Gauge
	BlockTransfersUp prometheus.Counter
}

// New constructs and registers a Metrics set on reg with the given
// namespace (e.g. "coap"), matching the collector-per-concern style
// prometheus/client_golang's own examples use.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		SendQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "send_queue_depth",
			Help: "Number of CON transmissions currently pending acknowledgement.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retransmits_total",
			Help: "Total CON retransmissions fired by the send queue.",
		}),
		NacksByReason: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "nacks_total",
			Help: "Total NACK events, labelled by reason.",
		}, []string{"reason"}),
		DedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dedup_hits_total",
			Help: "Total inbound CONs recognized as duplicates within EXCHANGE_LIFETIME.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total",
			Help: "Total request-cache lookups served from a cached or in-flight entry.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total",
			Help: "Total request-cache lookups that required a fresh build.",
		}),
		ObserverCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "observers",
			Help: "Number of currently-registered observe subscriptions.",
		}),
		BlockTransfersUp: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "block_transfers_total",
			Help: "Total block-wise transfers completed by the reassembly engine.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SendQueueDepth, m.Retransmits, m.NacksByReason,
			m.DedupHits, m.CacheHits, m.CacheMisses,
			m.ObserverCount, m.BlockTransfersUp,
		)
	}
	return m
}

func (m *Metrics) setSendQueueDepth(n int) {
	if m == nil {
		return
	}
	m.SendQueueDepth.Set(float64(n))
}

// SetSendQueueDepth records the send queue's current length.
func (m *Metrics) SetSendQueueDepth(n int) { m.setSendQueueDepth(n) }

// IncRetransmit records one CON retransmission.
func (m *Metrics) IncRetransmit() {
	if m == nil {
		return
	}
	m.Retransmits.Inc()
}

// IncNack records one NACK event for the given reason string (see
// event.NackReason.String()).
func (m *Metrics) IncNack(reason string) {
	if m == nil {
		return
	}
	m.NacksByReason.WithLabelValues(reason).Inc()
}

// IncDedupHit records one duplicate-CON replay.
func (m *Metrics) IncDedupHit() {
	if m == nil {
		return
	}
	m.DedupHits.Inc()
}

// IncCacheHit records one request served from the cache.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

// IncCacheMiss records one request that required a fresh build.
func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

// SetObserverCount records the current number of registered subscriptions.
func (m *Metrics) SetObserverCount(n int) {
	if m == nil {
		return
	}
	m.ObserverCount.Set(float64(n))
}

// IncBlockTransferComplete records one completed block-wise reassembly.
func (m *Metrics) IncBlockTransferComplete() {
	if m == nil {
		return
	}
	m.BlockTransfersUp.Inc()
}
