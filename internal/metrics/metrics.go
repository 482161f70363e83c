// Package metrics exposes the Prometheus surface for the messaging core:
// pool occupancy, auth outcomes, dispatcher throughput, muxconn reconnects,
// peer health, and control-plane membership. Each Collector owns its own
// custom registry so it can be mounted under /metrics via promhttp without
// colliding with the default global registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric the messaging core emits.
type Collector struct {
	Registry *prometheus.Registry

	poolReady         *prometheus.GaugeVec
	poolInFlightDials *prometheus.GaugeVec
	poolLoans         *prometheus.GaugeVec
	poolExhausted     *prometheus.CounterVec

	authAttempts *prometheus.CounterVec

	dispatchRequests *prometheus.CounterVec
	dispatchErrors   *prometheus.CounterVec

	muxReconnects *prometheus.CounterVec

	peerHealth          *prometheus.GaugeVec
	healthCheckDuration *prometheus.HistogramVec
	healthCheckErrors   *prometheus.CounterVec

	membershipMasters prometheus.Gauge
	membershipChanges *prometheus.CounterVec
	controlConnected  prometheus.Gauge
}

// New creates and registers every metric on a fresh custom registry. Safe to
// call more than once (e.g. in tests) since each call owns an independent
// registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,

		poolReady: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zenith_pool_ready_connections",
				Help: "Number of ready multiplexed connections per peer address",
			},
			[]string{"addr"},
		),
		poolInFlightDials: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zenith_pool_in_flight_dials",
				Help: "Number of dials currently in progress per peer address",
			},
			[]string{"addr"},
		),
		poolLoans: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zenith_pool_total_loans",
				Help: "Sum of loan counts across ready connections per peer address",
			},
			[]string{"addr"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zenith_pool_exhausted_total",
				Help: "Total Allocate calls that failed with NoAvailableConnections per peer address",
			},
			[]string{"addr"},
		),

		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zenith_auth_attempts_total",
				Help: "Login handshake attempts by plane (data/control) and result",
			},
			[]string{"plane", "result"},
		),

		dispatchRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zenith_dispatch_requests_total",
				Help: "Requests handled by the server dispatcher per message type",
			},
			[]string{"message_type"},
		),
		dispatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zenith_dispatch_errors_total",
				Help: "Requests that produced an error response per message type and kind",
			},
			[]string{"message_type", "kind"},
		),

		muxReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zenith_muxconn_reconnects_total",
				Help: "Reconnect attempts by the multiplexed connection supervisor per peer address",
			},
			[]string{"addr"},
		),

		peerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zenith_peer_health",
				Help: "Reachability of a configured peer (1=healthy, 0=unhealthy)",
			},
			[]string{"addr"},
		),
		healthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zenith_health_check_duration_seconds",
				Help:    "Duration of peer reachability probes",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"addr", "status"},
		),
		healthCheckErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zenith_health_check_errors_total",
				Help: "Peer reachability probe errors by type",
			},
			[]string{"addr", "error_type"},
		),

		membershipMasters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zenith_membership_masters",
			Help: "Current number of master data-plane listeners owned by this node",
		}),
		membershipChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zenith_membership_changes_total",
				Help: "Master listeners added or removed in response to master_list events",
			},
			[]string{"action"},
		),
		controlConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zenith_control_plane_connected",
			Help: "Whether the control-plane channel is currently connected (1) or not (0)",
		}),
	}

	reg.MustRegister(
		c.poolReady,
		c.poolInFlightDials,
		c.poolLoans,
		c.poolExhausted,
		c.authAttempts,
		c.dispatchRequests,
		c.dispatchErrors,
		c.muxReconnects,
		c.peerHealth,
		c.healthCheckDuration,
		c.healthCheckErrors,
		c.membershipMasters,
		c.membershipChanges,
		c.controlConnected,
	)

	return c
}

// UpdatePoolStats sets the pool occupancy gauges for addr.
func (c *Collector) UpdatePoolStats(addr string, ready, inFlightDials, totalLoans int) {
	c.poolReady.WithLabelValues(addr).Set(float64(ready))
	c.poolInFlightDials.WithLabelValues(addr).Set(float64(inFlightDials))
	c.poolLoans.WithLabelValues(addr).Set(float64(totalLoans))
}

// PoolExhausted increments the exhausted counter for addr by one.
func (c *Collector) PoolExhausted(addr string) {
	c.poolExhausted.WithLabelValues(addr).Inc()
}

// AuthAttempt records a login handshake outcome. plane is "data" or
// "control"; result is "success" or "failure".
func (c *Collector) AuthAttempt(plane string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.authAttempts.WithLabelValues(plane, result).Inc()
}

// DispatchRequest increments the per-message-type request counter.
func (c *Collector) DispatchRequest(messageType string) {
	c.dispatchRequests.WithLabelValues(messageType).Inc()
}

// DispatchError increments the per-message-type error counter. kind is one
// of the error taxonomy names (Protocol, Transport, ...).
func (c *Collector) DispatchError(messageType, kind string) {
	c.dispatchErrors.WithLabelValues(messageType, kind).Inc()
}

// MuxconnReconnect increments the reconnect counter for addr.
func (c *Collector) MuxconnReconnect(addr string) {
	c.muxReconnects.WithLabelValues(addr).Inc()
}

// SetPeerHealth sets the health gauge for addr.
func (c *Collector) SetPeerHealth(addr string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.peerHealth.WithLabelValues(addr).Set(val)
}

// HealthCheckCompleted records a peer probe duration and result.
func (c *Collector) HealthCheckCompleted(addr string, d time.Duration, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.healthCheckDuration.WithLabelValues(addr, status).Observe(d.Seconds())
}

// HealthCheckError records a peer probe error by type.
func (c *Collector) HealthCheckError(addr, errorType string) {
	c.healthCheckErrors.WithLabelValues(addr, errorType).Inc()
}

// SetMembership sets the current master-listener count.
func (c *Collector) SetMembership(count int) {
	c.membershipMasters.Set(float64(count))
}

// MembershipChanged increments the added/removed counters for a
// master_list diff.
func (c *Collector) MembershipChanged(added, removed int) {
	if added > 0 {
		c.membershipChanges.WithLabelValues("added").Add(float64(added))
	}
	if removed > 0 {
		c.membershipChanges.WithLabelValues("removed").Add(float64(removed))
	}
}

// SetControlPlaneConnected reports the control-plane channel's connection
// state.
func (c *Collector) SetControlPlaneConnected(connected bool) {
	val := 0.0
	if connected {
		val = 1.0
	}
	c.controlConnected.Set(val)
}

// RemovePeer clears every per-addr metric series for a peer that's no
// longer configured, so /metrics doesn't accumulate stale series forever.
func (c *Collector) RemovePeer(addr string) {
	c.poolReady.DeleteLabelValues(addr)
	c.poolInFlightDials.DeleteLabelValues(addr)
	c.poolLoans.DeleteLabelValues(addr)
	c.poolExhausted.DeleteLabelValues(addr)
	c.muxReconnects.DeleteLabelValues(addr)
	c.peerHealth.DeleteLabelValues(addr)
	c.healthCheckDuration.DeletePartialMatch(prometheus.Labels{"addr": addr})
	c.healthCheckErrors.DeletePartialMatch(prometheus.Labels{"addr": addr})
}
