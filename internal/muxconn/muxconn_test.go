package muxconn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zenithdb/zenith/internal/wire"
)

// echoPongServer accepts exactly one connection and replies to every Ping
// frame it reads with a Pong carrying the same message id.
func echoPongServer(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msg, err := wire.ReadFrom(conn)
			if err != nil {
				return
			}
			resp := wire.Reply(msg.Header, uint32(91), msg.Header.TimestampMS, []byte("PONG"))
			if _, err := resp.WriteTo(conn); err != nil {
				return
			}
		}
	}()
}

func TestSendReceivesCorrelatedResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	echoPongServer(t, ln)

	c, err := Dial(context.Background(), Options{Addr: ln.Addr().String()})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	req := wire.NewRequest(uint32(90), 1000, nil)
	resp, err := c.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Header.MessageID != req.Header.MessageID {
		t.Fatalf("message id mismatch: got %s want %s", resp.Header.MessageID, req.Header.MessageID)
	}
	if resp.Header.Flag != wire.FlagResponse {
		t.Fatalf("expected Response flag, got %s", resp.Header.Flag)
	}
	if string(resp.Body) != "PONG" {
		t.Fatalf("expected PONG body, got %q", resp.Body)
	}
}

func TestSendTimesOutAndCleansPendingTable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// Accept but never respond.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		<-time.After(2 * time.Second)
		conn.Close()
	}()

	c, err := Dial(context.Background(), Options{Addr: ln.Addr().String(), SendTimeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	start := time.Now()
	req := wire.NewRequest(uint32(90), 0, nil)
	_, err = c.Send(context.Background(), req)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error")
	}
	me, ok := err.(*Error)
	if !ok || me.Kind != KindTimeout {
		t.Fatalf("expected KindTimeout, got %v (%T)", err, err)
	}
	if elapsed < 150*time.Millisecond || elapsed > time.Second {
		t.Fatalf("timeout fired at unexpected time: %s", elapsed)
	}

	c.mu.Lock()
	n := len(c.pending)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected empty pending table after timeout, got %d entries", n)
	}
}

func TestMultiplexConcurrentSendsAllCorrelate(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	echoPongServer(t, ln)

	c, err := Dial(context.Background(), Options{Addr: ln.Addr().String()})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	const n = 200
	var wg sync.WaitGroup
	errs := make([]error, n)
	ids := make([]wire.MessageID, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := wire.NewRequest(uint32(90), uint32(i), nil)
			ids[i] = req.Header.MessageID
			resp, err := c.Send(context.Background(), req)
			if err != nil {
				errs[i] = err
				return
			}
			if resp.Header.MessageID != ids[i] {
				errs[i] = context.Canceled // any non-nil sentinel marking a mismatch
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
}

func TestCloseFailsPendingSendsWithClosedError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// Accept but never respond, so the Send below stays pending until Close.
	go func() {
		_, _ = ln.Accept()
	}()

	c, err := Dial(context.Background(), Options{Addr: ln.Addr().String(), SendTimeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		req := wire.NewRequest(uint32(90), 0, nil)
		_, err := c.Send(context.Background(), req)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	c.Close()

	select {
	case err := <-done:
		me, ok := err.(*Error)
		if !ok || me.Kind != KindClosed {
			t.Fatalf("expected KindClosed, got %v (%T)", err, err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after Close")
	}
}

// TestFramingErrorTriggersReconnectWithinInterval feeds the reader loop a
// header that fails start-marker validation, which must surface as a
// *wire.FramingError, tear the socket down, and bring up a fresh dial after
// exactly one ReconnectInterval.
func TestFramingErrorTriggersReconnectWithinInterval(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	badFrameSent := make(chan time.Time, 1)
	reconnected := make(chan time.Time, 1)

	go func() {
		conn1, err := ln.Accept()
		if err != nil {
			return
		}
		// HeaderSize zero bytes: well-formed length, invalid start marker,
		// which ReadFrom rejects as a *wire.FramingError.
		var badHeader [wire.HeaderSize]byte
		_, _ = conn1.Write(badHeader[:])
		badFrameSent <- time.Now()
		conn1.Close()

		conn2, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn2.Close()
		reconnected <- time.Now()
		<-time.After(time.Second)
	}()

	c, err := Dial(context.Background(), Options{Addr: ln.Addr().String()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	var sentAt, reconnectedAt time.Time
	select {
	case sentAt = <-badFrameSent:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the initial connection")
	}

	select {
	case reconnectedAt = <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect dial never arrived")
	}

	elapsed := reconnectedAt.Sub(sentAt)
	if elapsed < 2500*time.Millisecond || elapsed > 3500*time.Millisecond {
		t.Fatalf("reconnect took %s, want the default ReconnectInterval (3s) +/- 500ms", elapsed)
	}
}

// TestReconnectReauthenticatesBeforeReady proves the reconnect supervisor
// reruns Authenticate on every redial and never reports StateReady while a
// fresh login handshake is still outstanding.
func TestReconnectReauthenticatesBeforeReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	const authMsgType = 12345
	serverConns := make(chan net.Conn, 2)
	releaseSecondReply := make(chan struct{})

	go func() {
		for i := 0; i < 2; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			msg, err := wire.ReadFrom(conn)
			if err != nil {
				conn.Close()
				return
			}
			if i == 1 {
				<-releaseSecondReply
			}
			resp := wire.Reply(msg.Header, uint32(authMsgType), msg.Header.TimestampMS, []byte("OK"))
			if _, err := resp.WriteTo(conn); err != nil {
				conn.Close()
				return
			}
			serverConns <- conn
		}
	}()

	var authCount atomic.Int32
	authenticate := func(ctx context.Context, sender Sender) error {
		authCount.Add(1)
		req := wire.NewRequest(uint32(authMsgType), 0, nil)
		resp, err := sender.Send(ctx, req)
		if err != nil {
			return err
		}
		if string(resp.Body) != "OK" {
			return fmt.Errorf("unexpected auth response %q", resp.Body)
		}
		return nil
	}

	c, err := Dial(context.Background(), Options{
		Addr:              ln.Addr().String(),
		Authenticate:      authenticate,
		ReconnectInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if got := authCount.Load(); got != 1 {
		t.Fatalf("expected 1 auth call after initial dial, got %d", got)
	}
	if c.State() != StateReady {
		t.Fatalf("expected StateReady after initial dial, got %s", c.State())
	}

	first := <-serverConns
	first.Close() // force a transport failure and trigger the reconnect supervisor

	time.Sleep(100 * time.Millisecond)
	if c.State() == StateReady {
		t.Fatal("connection reports Ready while reauthentication is still pending")
	}

	close(releaseSecondReply)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == StateReady {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if c.State() != StateReady {
		t.Fatalf("connection never returned to StateReady after reconnect, state=%s", c.State())
	}
	if got := authCount.Load(); got != 2 {
		t.Fatalf("expected Authenticate to run again on reconnect, got authCount=%d", got)
	}
}
