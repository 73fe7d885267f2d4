package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.TenantResolved("gateway_binding")
	m.TenantResolved("gateway_binding")
	m.TenantResolved("")
	m.IdentityResolved("token")
	m.ConnectionEvent("qr")
	m.ConnectionLocked()

	if v := counterValue(t, reg, "edugate_routing_resolutions_total", map[string]string{"source": "gateway_binding"}); v != 2 {
		t.Errorf("gateway_binding resolutions = %v, want 2", v)
	}
	if v := counterValue(t, reg, "edugate_routing_resolutions_total", map[string]string{"source": "unresolved"}); v != 1 {
		t.Errorf("unresolved resolutions = %v, want 1", v)
	}
	if v := counterValue(t, reg, "edugate_routing_identity_total", map[string]string{"source": "token"}); v != 1 {
		t.Errorf("token identities = %v, want 1", v)
	}
	if v := counterValue(t, reg, "edugate_connection_events_total", map[string]string{"type": "qr"}); v != 1 {
		t.Errorf("qr events = %v, want 1", v)
	}
	if v := counterValue(t, reg, "edugate_connection_locks_total", nil); v != 1 {
		t.Errorf("locks = %v, want 1", v)
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNewMetrics(reg)
	b := MustNewMetrics(reg)
	a.ConnectionLocked()
	b.ConnectionLocked()
	if v := counterValue(t, reg, "edugate_connection_locks_total", nil); v != 2 {
		t.Errorf("locks = %v, want 2", v)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.TenantResolved("x")
	m.IdentityResolved("x")
	m.ConnectionEvent("x")
	m.ConnectionLocked()
}
