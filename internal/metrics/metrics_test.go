package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestRecordStunResolution(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordStunResolution("ok", 0.05)
	m.RecordStunResolution("timeout", 0)

	if got := counterValue(t, m.StunResolutions.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok count = %v, want 1", got)
	}
	if got := counterValue(t, m.StunResolutions.WithLabelValues("timeout")); got != 1 {
		t.Errorf("timeout count = %v, want 1", got)
	}
}

func TestRecordHandshakeOutcome(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordHandshakeOutcome("connected", 1.2)
	m.RecordHandshakeOutcome("timeout", 0)

	if got := counterValue(t, m.HandshakeOutcomes.WithLabelValues("connected")); got != 1 {
		t.Errorf("connected count = %v, want 1", got)
	}
}

func TestSessionLifecycleMetrics(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordSessionEstablished()
	if got := gaugeValue(t, m.SessionsActive); got != 1 {
		t.Errorf("SessionsActive = %v, want 1", got)
	}

	m.RecordSessionTornDown()
	if got := gaugeValue(t, m.SessionsActive); got != 0 {
		t.Errorf("SessionsActive = %v, want 0", got)
	}
}

func TestRecordMessages(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordMessageSent(128)
	m.RecordMessageReceived(256)

	if got := counterValue(t, m.MessagesSent); got != 1 {
		t.Errorf("MessagesSent = %v, want 1", got)
	}
	if got := counterValue(t, m.BytesSent); got != 128 {
		t.Errorf("BytesSent = %v, want 128", got)
	}
	if got := counterValue(t, m.MessagesReceived); got != 1 {
		t.Errorf("MessagesReceived = %v, want 1", got)
	}
	if got := counterValue(t, m.BytesReceived); got != 256 {
		t.Errorf("BytesReceived = %v, want 256", got)
	}
}

func TestRecordKeepAlive(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordKeepAlive(false)
	m.RecordKeepAlive(true)

	if got := counterValue(t, m.KeepAlivesSent); got != 2 {
		t.Errorf("KeepAlivesSent = %v, want 2", got)
	}
	if got := counterValue(t, m.PublicAddrChanges); got != 1 {
		t.Errorf("PublicAddrChanges = %v, want 1", got)
	}
}

func TestDefault_Singleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Error("Default() did not return the same instance twice")
	}
}
