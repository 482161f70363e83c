package health

import (
	"net"
	"testing"
	"time"

	"github.com/zenithdb/zenith/internal/msgtype"
	"github.com/zenithdb/zenith/internal/wire"
)

var testOptions = Options{
	Interval:          30 * time.Second,
	FailureThreshold:  3,
	ConnectionTimeout: time.Second,
}

func TestCheckerInitialState(t *testing.T) {
	c := NewChecker(testOptions)

	if !c.IsHealthy("unknown") {
		t.Error("unknown peer should be treated as healthy")
	}

	status := c.GetStatus("unknown")
	if status.Status != StatusUnknown {
		t.Errorf("expected StatusUnknown, got %v", status.Status)
	}
}

func TestCheckerUpdateStatus(t *testing.T) {
	c := NewChecker(testOptions)

	c.updateStatus("peer1", true, "")
	if !c.IsHealthy("peer1") {
		t.Error("should be healthy after healthy update")
	}
	if status := c.GetStatus("peer1"); status.Status != StatusHealthy {
		t.Errorf("expected StatusHealthy, got %v", status.Status)
	}

	for i := 0; i < testOptions.FailureThreshold; i++ {
		c.updateStatus("peer1", false, "probe failed")
	}
	if c.IsHealthy("peer1") {
		t.Error("expected unhealthy after reaching failure threshold")
	}
	status := c.GetStatus("peer1")
	if status.Status != StatusUnhealthy {
		t.Errorf("expected StatusUnhealthy, got %v", status.Status)
	}
	if status.LastError != "probe failed" {
		t.Errorf("expected last error recorded, got %q", status.LastError)
	}

	c.updateStatus("peer1", true, "")
	if !c.IsHealthy("peer1") {
		t.Error("expected recovery to clear unhealthy status")
	}
	if status := c.GetStatus("peer1"); status.ConsecutiveFailures != 0 {
		t.Errorf("expected failures reset on recovery, got %d", status.ConsecutiveFailures)
	}
}

func TestCheckerBelowThresholdStaysHealthy(t *testing.T) {
	c := NewChecker(testOptions)

	c.updateStatus("peer1", false, "one blip")
	if !c.IsHealthy("peer1") {
		t.Error("single failure below threshold should not flip to unhealthy")
	}
}

// pongListener accepts connections until closed; on each it reads one Ping
// frame and replies Pong.
func pongListener(t *testing.T) (addr string, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				msg, err := wire.ReadFrom(conn)
				if err != nil {
					return
				}
				resp := wire.Reply(msg.Header, uint32(msgtype.Pong), msg.Header.TimestampMS, nil)
				resp.WriteTo(conn)
			}()
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestPingPeerHealthy(t *testing.T) {
	addr, closeFn := pongListener(t)
	defer closeFn()

	c := NewChecker(testOptions)
	healthy, err := c.pingPeer(addr)
	if err != nil {
		t.Fatalf("pingPeer: %v", err)
	}
	if !healthy {
		t.Error("expected healthy response from pong listener")
	}
}

func TestPingPeerUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := NewChecker(testOptions)
	healthy, err := c.pingPeer(addr)
	if err == nil {
		t.Fatal("expected dial error against closed listener")
	}
	if healthy {
		t.Error("expected unhealthy result on dial failure")
	}
}

func TestRemovePeerClearsState(t *testing.T) {
	c := NewChecker(testOptions)
	c.updateStatus("peer1", true, "")
	c.RemovePeer("peer1")

	status := c.GetStatus("peer1")
	if status.Status != StatusUnknown {
		t.Errorf("expected state cleared, got %v", status.Status)
	}
}

func TestOverallHealthy(t *testing.T) {
	c := NewChecker(testOptions)
	c.updateStatus("peer1", true, "")
	c.updateStatus("peer2", true, "")
	if !c.OverallHealthy() {
		t.Error("expected overall healthy with all peers healthy")
	}

	for i := 0; i < testOptions.FailureThreshold; i++ {
		c.updateStatus("peer2", false, "down")
	}
	if c.OverallHealthy() {
		t.Error("expected overall unhealthy once a peer trips the threshold")
	}
}
