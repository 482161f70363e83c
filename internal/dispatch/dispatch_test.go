package dispatch_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/zenithdb/zenith/internal/dispatch"
	"github.com/zenithdb/zenith/internal/msgtype"
	"github.com/zenithdb/zenith/internal/muxconn"
	"github.com/zenithdb/zenith/internal/statement"
	"github.com/zenithdb/zenith/internal/store"
	"github.com/zenithdb/zenith/internal/wire"
)

func newTestDispatcher() *dispatch.Dispatcher {
	d := dispatch.New(statement.NewRegistry(), nil)
	dispatch.RegisterStorageHandlers(d, store.NewMemory())
	return d
}

// TestPingPongRoundTrip sends a Ping with a fixed message id and requires
// the server to echo the same id on a Pong response carrying the raw ASCII
// body "PONG".
func TestPingPongRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	d := newTestDispatcher()
	go d.Accept(ln)

	c, err := muxconn.Dial(context.Background(), muxconn.Options{
		Addr:        ln.Addr().String(),
		SendTimeout: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	req := wire.NewRequest(uint32(msgtype.Ping), 1000, nil)
	resp, err := c.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if resp.Header.MessageID != req.Header.MessageID {
		t.Fatalf("message id mismatch: got %s want %s", resp.Header.MessageID, req.Header.MessageID)
	}
	if resp.Header.Flag != wire.FlagResponse {
		t.Fatalf("expected Response flag, got %s", resp.Header.Flag)
	}
	if msgtype.FromUint32(resp.Header.MessageType) != msgtype.Pong {
		t.Fatalf("expected Pong type, got %s", msgtype.FromUint32(resp.Header.MessageType))
	}

	if string(resp.Body) != "PONG" {
		t.Fatalf("expected raw PONG body, got %q", resp.Body)
	}
}

// TestUnknownCommandNeverCrashesDispatcher feeds a message type with no
// registered handler and confirms the connection stays alive and answers
// with UnknownCommand rather than closing.
func TestUnknownCommandNeverCrashesDispatcher(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	d := newTestDispatcher()
	go d.Accept(ln)

	c, err := muxconn.Dial(context.Background(), muxconn.Options{
		Addr:        ln.Addr().String(),
		SendTimeout: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	req := wire.NewRequest(uint32(9999), 0, []byte("garbage"))
	resp, err := c.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msgtype.FromUint32(resp.Header.MessageType) != msgtype.UnknownCommand {
		t.Fatalf("expected UnknownCommand, got %s", msgtype.FromUint32(resp.Header.MessageType))
	}

	// The connection must still be usable afterwards.
	req2 := wire.NewRequest(uint32(msgtype.Ping), 0, nil)
	if _, err := c.Send(context.Background(), req2); err != nil {
		t.Fatalf("connection did not survive unknown command: %v", err)
	}
}

// TestMultiplexManyConcurrentRequests fires many concurrent CreateDatabase
// sends on a single connection while the server replies out of order;
// every caller must get the response matching its own message id.
func TestMultiplexManyConcurrentRequests(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	d := newTestDispatcher()
	go d.Accept(ln)

	c, err := muxconn.Dial(context.Background(), muxconn.Options{
		Addr:        ln.Addr().String(),
		SendTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	const n = 1000
	var wg sync.WaitGroup
	errs := make([]error, n)
	ids := make([]wire.MessageID, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, err := statement.EncodePrefixed(&statement.CreateDatabasePayload{Name: "db"})
			if err != nil {
				errs[i] = err
				return
			}
			req := wire.NewRequest(uint32(msgtype.CreateDatabase), uint32(i), body)
			ids[i] = req.Header.MessageID
			resp, err := c.Send(context.Background(), req)
			if err != nil {
				errs[i] = err
				return
			}
			if resp.Header.MessageID != ids[i] {
				errs[i] = errMismatch
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

var errMismatch = &mismatchError{}

type mismatchError struct{}

func (*mismatchError) Error() string { return "message id mismatch" }
