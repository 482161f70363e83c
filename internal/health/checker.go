// Package health runs a periodic reachability probe against configured
// peers: dial, send a Ping frame, expect a Pong back within the configured
// timeout. A bounded worker pool sweeps the target list each tick, mutex-
// guarded per-target state tracks a consecutive-failure streak, and a peer
// only flips to unhealthy once that streak crosses the configured
// threshold — recovery clears it immediately. A peer here is another node
// speaking this module's own protocol, not a PG/MySQL backend.
package health

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/zenithdb/zenith/internal/metrics"
	"github.com/zenithdb/zenith/internal/msgtype"
	"github.com/zenithdb/zenith/internal/wire"
)

// Status is a peer's reachability status.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// PeerHealth holds the current reachability state for one configured peer.
type PeerHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Checker periodically probes a fixed list of peer addresses.
type Checker struct {
	mu    sync.RWMutex
	peers map[string]*PeerHealth

	addrs   []string
	metrics *metrics.Collector

	interval          time.Duration
	failureThreshold  int
	connectionTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Options configures a Checker.
type Options struct {
	Addrs             []string
	Interval          time.Duration
	FailureThreshold  int
	ConnectionTimeout time.Duration
	Metrics           *metrics.Collector
}

// NewChecker creates a health checker for the given peer addresses.
func NewChecker(opts Options) *Checker {
	return &Checker{
		peers:             make(map[string]*PeerHealth),
		addrs:             opts.Addrs,
		metrics:           opts.Metrics,
		interval:          opts.Interval,
		failureThreshold:  opts.FailureThreshold,
		connectionTimeout: opts.ConnectionTimeout,
		stopCh:            make(chan struct{}),
	}
}

// Start begins periodic probing in the background.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold, "peers", len(c.addrs))
}

// Stop stops the checker. Safe to call more than once.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	c.checkAll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll() {
	const maxWorkers = 10
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for _, addr := range c.addrs {
		addr := addr
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			start := time.Now()
			healthy, err := c.pingPeer(addr)
			elapsed := time.Since(start)
			if c.metrics != nil {
				c.metrics.HealthCheckCompleted(addr, elapsed, healthy)
			}
			errMsg := ""
			if err != nil {
				errMsg = err.Error()
			}
			c.updateStatus(addr, healthy, errMsg)
		}()
	}
	wg.Wait()
}

// pingPeer dials addr, sends a Ping frame, and requires a Pong back before
// the checker's connection timeout elapses.
func (c *Checker) pingPeer(addr string) (bool, error) {
	conn, err := net.DialTimeout("tcp", addr, c.connectionTimeout)
	if err != nil {
		if c.metrics != nil {
			c.metrics.HealthCheckError(addr, "connection_refused")
		}
		return false, err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.connectionTimeout))

	req := wire.NewRequest(uint32(msgtype.Ping), uint32(time.Now().UnixMilli()), nil)
	if _, err := req.WriteTo(conn); err != nil {
		if c.metrics != nil {
			c.metrics.HealthCheckError(addr, "write_error")
		}
		return false, err
	}

	resp, err := wire.ReadFrom(conn)
	if err != nil {
		if c.metrics != nil {
			c.metrics.HealthCheckError(addr, "read_error")
		}
		return false, err
	}

	if msgtype.FromUint32(resp.Header.MessageType) != msgtype.Pong {
		if c.metrics != nil {
			c.metrics.HealthCheckError(addr, "unexpected_response")
		}
		return false, nil
	}
	return true, nil
}

func (c *Checker) updateStatus(addr string, healthy bool, lastErr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ph := c.getOrCreate(addr)
	ph.LastCheck = time.Now()

	if healthy {
		if ph.ConsecutiveFailures > 0 {
			slog.Info("peer recovered", "peer", addr, "failures", ph.ConsecutiveFailures)
		}
		ph.Status = StatusHealthy
		ph.ConsecutiveFailures = 0
		ph.LastError = ""
	} else {
		ph.ConsecutiveFailures++
		ph.LastError = lastErr
		if ph.ConsecutiveFailures >= c.failureThreshold {
			if ph.Status != StatusUnhealthy {
				slog.Warn("peer marked unhealthy", "peer", addr, "failures", ph.ConsecutiveFailures, "error", lastErr)
			}
			ph.Status = StatusUnhealthy
		}
	}

	if c.metrics != nil {
		c.metrics.SetPeerHealth(addr, ph.Status == StatusHealthy)
	}
}

func (c *Checker) getOrCreate(addr string) *PeerHealth {
	ph, ok := c.peers[addr]
	if !ok {
		ph = &PeerHealth{Status: StatusUnknown}
		c.peers[addr] = ph
	}
	return ph
}

// IsHealthy reports whether addr is healthy. An address never probed is
// treated as healthy so newly configured peers aren't rejected before their
// first check completes.
func (c *Checker) IsHealthy(addr string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ph, ok := c.peers[addr]
	if !ok {
		return true
	}
	return ph.Status != StatusUnhealthy
}

// GetStatus returns the current health record for addr.
func (c *Checker) GetStatus(addr string) PeerHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ph, ok := c.peers[addr]
	if !ok {
		return PeerHealth{Status: StatusUnknown}
	}
	return *ph
}

// GetAllStatuses returns a snapshot of every known peer's health record.
func (c *Checker) GetAllStatuses() map[string]PeerHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]PeerHealth, len(c.peers))
	for addr, ph := range c.peers {
		result[addr] = *ph
	}
	return result
}

// OverallHealthy reports whether every known peer is currently healthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ph := range c.peers {
		if ph.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// RemovePeer drops health state for a peer that's no longer configured.
func (c *Checker) RemovePeer(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.peers, addr)
	if c.metrics != nil {
		c.metrics.RemovePeer(addr)
	}
	slog.Info("removed health state", "peer", addr)
}
