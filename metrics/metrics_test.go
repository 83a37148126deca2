package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "coap")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected collectors to be registered")
	}
	_ = m
}

func TestCountersIncrementAndGaugesSet(t *testing.T) {
	m := New(prometheus.NewRegistry(), "coap")

	m.SetSendQueueDepth(3)
	if got := gaugeValue(t, m.SendQueueDepth); got != 3 {
		t.Fatalf("SendQueueDepth = %v want 3", got)
	}

	m.IncRetransmit()
	m.IncRetransmit()
	if got := counterValue(t, m.Retransmits); got != 2 {
		t.Fatalf("Retransmits = %v want 2", got)
	}

	m.IncNack("TIMEOUT")
	m.IncCacheHit()
	m.IncCacheMiss()
	m.IncDedupHit()
	m.IncBlockTransferComplete()
	m.SetObserverCount(5)
	if got := gaugeValue(t, m.ObserverCount); got != 5 {
		t.Fatalf("ObserverCount = %v want 5", got)
	}
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	m.SetSendQueueDepth(1)
	m.IncRetransmit()
	m.IncNack("RST")
	m.IncDedupHit()
	m.IncCacheHit()
	m.IncCacheMiss()
	m.SetObserverCount(1)
	m.IncBlockTransferComplete()
}
