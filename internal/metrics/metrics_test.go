package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// newTestCollector creates a Collector registered with a fresh registry so
// tests don't conflict with each other or with the default registry.
func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	c := New()
	return c, c.Registry
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestUpdatePoolStatsAuthority(t *testing.T) {
	c, _ := newTestCollector(t)

	c.UpdatePoolStats("10.0.0.1:7000", 3, 1, 8)
	if v := getGaugeValue(c.poolReady.WithLabelValues("10.0.0.1:7000")); v != 3 {
		t.Errorf("expected ready=3, got %v", v)
	}

	// A second call replaces (not increments) the value.
	c.UpdatePoolStats("10.0.0.1:7000", 2, 0, 4)
	if v := getGaugeValue(c.poolReady.WithLabelValues("10.0.0.1:7000")); v != 2 {
		t.Errorf("expected ready=2 after update, got %v", v)
	}
}

func TestPoolExhausted(t *testing.T) {
	c, _ := newTestCollector(t)

	c.PoolExhausted("peer1")
	c.PoolExhausted("peer1")
	c.PoolExhausted("peer1")

	if v := getCounterValue(c.poolExhausted.WithLabelValues("peer1")); v != 3 {
		t.Errorf("expected exhausted=3, got %v", v)
	}
}

func TestAuthAttempt(t *testing.T) {
	c, _ := newTestCollector(t)

	c.AuthAttempt("data", true)
	c.AuthAttempt("data", false)
	c.AuthAttempt("control", true)

	if v := getCounterValue(c.authAttempts.WithLabelValues("data", "success")); v != 1 {
		t.Errorf("expected data success=1, got %v", v)
	}
	if v := getCounterValue(c.authAttempts.WithLabelValues("data", "failure")); v != 1 {
		t.Errorf("expected data failure=1, got %v", v)
	}
	if v := getCounterValue(c.authAttempts.WithLabelValues("control", "success")); v != 1 {
		t.Errorf("expected control success=1, got %v", v)
	}
}

func TestDispatchCounters(t *testing.T) {
	c, _ := newTestCollector(t)

	c.DispatchRequest("Ping")
	c.DispatchRequest("Ping")
	c.DispatchError("Insert", "Protocol")

	if v := getCounterValue(c.dispatchRequests.WithLabelValues("Ping")); v != 2 {
		t.Errorf("expected Ping requests=2, got %v", v)
	}
	if v := getCounterValue(c.dispatchErrors.WithLabelValues("Insert", "Protocol")); v != 1 {
		t.Errorf("expected Insert/Protocol errors=1, got %v", v)
	}
}

func TestSetPeerHealth(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetPeerHealth("peer1", true)
	if v := getGaugeValue(c.peerHealth.WithLabelValues("peer1")); v != 1 {
		t.Errorf("expected health=1 (healthy), got %v", v)
	}

	c.SetPeerHealth("peer1", false)
	if v := getGaugeValue(c.peerHealth.WithLabelValues("peer1")); v != 0 {
		t.Errorf("expected health=0 (unhealthy), got %v", v)
	}
}

func TestHealthCheckDuration(t *testing.T) {
	c, reg := newTestCollector(t)

	c.HealthCheckCompleted("peer1", 10*time.Millisecond, true)
	c.HealthCheckCompleted("peer1", 20*time.Millisecond, true)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "zenith_health_check_duration_seconds" {
			found = true
			m := f.GetMetric()
			if len(m) == 0 {
				t.Fatal("no metric samples")
			}
			if m[0].GetHistogram().GetSampleCount() != 2 {
				t.Errorf("expected 2 samples, got %d", m[0].GetHistogram().GetSampleCount())
			}
		}
	}
	if !found {
		t.Error("health check duration metric not found")
	}
}

func TestMembershipGaugeAndChanges(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetMembership(2)
	if v := getGaugeValue(c.membershipMasters); v != 2 {
		t.Errorf("expected membership=2, got %v", v)
	}

	c.MembershipChanged(1, 2)
	if v := getCounterValue(c.membershipChanges.WithLabelValues("added")); v != 1 {
		t.Errorf("expected added=1, got %v", v)
	}
	if v := getCounterValue(c.membershipChanges.WithLabelValues("removed")); v != 2 {
		t.Errorf("expected removed=2, got %v", v)
	}
}

func TestControlPlaneConnectedGauge(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetControlPlaneConnected(true)
	if v := getGaugeValue(c.controlConnected); v != 1 {
		t.Errorf("expected connected=1, got %v", v)
	}
	c.SetControlPlaneConnected(false)
	if v := getGaugeValue(c.controlConnected); v != 0 {
		t.Errorf("expected connected=0, got %v", v)
	}
}

func TestRemovePeer(t *testing.T) {
	c, reg := newTestCollector(t)

	c.UpdatePoolStats("peer1", 1, 0, 1)
	c.SetPeerHealth("peer1", true)
	c.PoolExhausted("peer1")

	c.RemovePeer("peer1")

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "addr" && l.GetValue() == "peer1" {
					t.Errorf("metric %s still has peer1 label after removal", f.GetName())
				}
			}
		}
	}
}

func TestMultiplePeersIndependent(t *testing.T) {
	c, _ := newTestCollector(t)

	c.UpdatePoolStats("peerA", 1, 0, 1)
	c.UpdatePoolStats("peerB", 2, 1, 3)

	vA := getGaugeValue(c.poolReady.WithLabelValues("peerA"))
	vB := getGaugeValue(c.poolReady.WithLabelValues("peerB"))

	if vA != 1 {
		t.Errorf("expected peerA ready=1, got %v", vA)
	}
	if vB != 2 {
		t.Errorf("expected peerB ready=2, got %v", vB)
	}
}

func TestNewDoesNotPanicOnMultipleCalls(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("New() panicked on repeated calls: %v", r)
		}
	}()

	c1 := New()
	c2 := New()

	c1.UpdatePoolStats("peer1", 1, 0, 1)
	c2.UpdatePoolStats("peer1", 2, 0, 2)

	v1 := getGaugeValue(c1.poolReady.WithLabelValues("peer1"))
	v2 := getGaugeValue(c2.poolReady.WithLabelValues("peer1"))

	if v1 != 1 {
		t.Errorf("c1 expected ready=1, got %v", v1)
	}
	if v2 != 2 {
		t.Errorf("c2 expected ready=2, got %v", v2)
	}
}
