// Package muxconn implements a multiplexed connection: one TCP socket
// carrying many concurrently outstanding requests, correlated to their
// responses by message id. A reader goroutine and a writer goroutine share
// the socket; a reconnect supervisor redials on any socket failure and
// re-authenticates before the connection resumes normal service.
package muxconn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zenithdb/zenith/internal/wire"
)

// State is the connection's lifecycle stage.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateReady
	StateReconnecting
	StateBroken
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateAuthenticating:
		return "Authenticating"
	case StateReady:
		return "Ready"
	case StateReconnecting:
		return "Reconnecting"
	case StateBroken:
		return "Broken"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

var nextConnID uint64

// AuthenticateFunc runs a login handshake over sender. It is invoked by the
// reconnect supervisor after every successful redial, and must succeed
// before the connection is allowed back into StateReady.
type AuthenticateFunc func(ctx context.Context, sender Sender) error

// Sender is the minimal surface AuthenticateFunc needs; *Conn satisfies it.
type Sender interface {
	Send(ctx context.Context, req wire.Message) (wire.Message, error)
}

// Options configures a Conn.
type Options struct {
	Addr              string
	DialTimeout       time.Duration
	SendTimeout       time.Duration
	ReconnectInterval time.Duration
	WriterQueueSize   int
	Authenticate      AuthenticateFunc
	Dialer            func(ctx context.Context, addr string) (net.Conn, error)
}

func (o *Options) setDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = 3 * time.Second
	}
	if o.WriterQueueSize <= 0 {
		o.WriterQueueSize = 32
	}
	if o.Dialer == nil {
		o.Dialer = func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "tcp", addr)
		}
	}
}

type writeReq struct {
	msg  wire.Message
	sink chan sendResult
}

// sendResult is what the reader loop, a reconnect failure, or Close
// delivers to a pending Send call. A non-nil Err always wins over Msg.
type sendResult struct {
	msg wire.Message
	err error
}

// Conn is one logical multiplexed connection. It outlives any single socket:
// a reconnect replaces the underlying net.Conn but keeps ID and the pending
// table semantics intact.
type Conn struct {
	id   uint64
	opts Options

	mu      sync.Mutex
	state   State
	raw     net.Conn
	pending map[wire.MessageID]chan sendResult

	writeCh     chan writeReq
	closed      chan struct{}
	closeOnce   sync.Once
	requireAuth chan struct{}

	readerDone chan struct{}
}

// Dial establishes a fresh Conn: dials opts.Addr, starts the reader/writer
// goroutines, runs opts.Authenticate if set, and returns only once the
// connection is Ready (or authentication has failed).
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	opts.setDefaults()
	c := &Conn{
		id:          atomic.AddUint64(&nextConnID, 1),
		opts:        opts,
		state:       StateConnecting,
		pending:     make(map[wire.MessageID]chan sendResult),
		writeCh:     make(chan writeReq, opts.WriterQueueSize),
		closed:      make(chan struct{}),
		requireAuth: make(chan struct{}, 1),
	}

	if err := c.dial(ctx); err != nil {
		return nil, newErr(KindTransport, "initial dial failed", err)
	}
	c.startIOLoops()

	if err := c.authenticateNow(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.setState(StateReady)
	return c, nil
}

// ID returns the stable, monotonic connection identity, preserved across
// reconnects.
func (c *Conn) ID() uint64 { return c.id }

// State returns the connection's current lifecycle stage.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()
	conn, err := c.opts.Dialer(dialCtx, c.opts.Addr)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.raw = conn
	c.mu.Unlock()
	return nil
}

func (c *Conn) authenticateNow(ctx context.Context) error {
	if c.opts.Authenticate == nil {
		return nil
	}
	c.setState(StateAuthenticating)
	select {
	case c.requireAuth <- struct{}{}:
	default:
	}
	if err := c.opts.Authenticate(ctx, c); err != nil {
		return newErr(KindAuth, "login handshake failed", err)
	}
	return nil
}

// RequireAuth returns a channel that signals each time a successful
// (re)dial enters the login step. It fires only when Options.Authenticate
// is set, just before that login runs, while the connection is in
// StateAuthenticating. The channel buffers one signal; an edge that arrives
// while an earlier one is still unread is dropped.
func (c *Conn) RequireAuth() <-chan struct{} {
	return c.requireAuth
}

// Send enqueues req, waits for its correlated response (or the connection's
// SendTimeout, or ctx cancellation), and returns it. The pending entry is
// always removed before Send returns, by whichever path resolves first.
func (c *Conn) Send(ctx context.Context, req wire.Message) (wire.Message, error) {
	sink := make(chan sendResult, 1)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return wire.Message{}, newErr(KindClosed, "send on closed connection", nil)
	}
	c.pending[req.Header.MessageID] = sink
	c.mu.Unlock()

	select {
	case c.writeCh <- writeReq{msg: req, sink: sink}:
	case <-ctx.Done():
		c.removePending(req.Header.MessageID)
		return wire.Message{}, ctx.Err()
	case <-c.closed:
		c.removePending(req.Header.MessageID)
		return wire.Message{}, newErr(KindClosed, "send on closed connection", nil)
	}

	timer := time.NewTimer(c.opts.SendTimeout)
	defer timer.Stop()

	select {
	case res := <-sink:
		if res.err != nil {
			return wire.Message{}, res.err
		}
		return res.msg, nil
	case <-timer.C:
		c.removePending(req.Header.MessageID)
		return wire.Message{}, newErr(KindTimeout, fmt.Sprintf("no response within %s", c.opts.SendTimeout), nil)
	case <-ctx.Done():
		c.removePending(req.Header.MessageID)
		return wire.Message{}, ctx.Err()
	case <-c.closed:
		c.removePending(req.Header.MessageID)
		return wire.Message{}, newErr(KindClosed, "connection closed while awaiting response", nil)
	}
}

func (c *Conn) removePending(id wire.MessageID) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close tears the connection down permanently: the socket is closed, every
// pending sink is failed with Closed, and further Send calls return Closed
// immediately.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.closed)

		c.mu.Lock()
		if c.raw != nil {
			err = c.raw.Close()
		}
		pending := c.pending
		c.pending = make(map[wire.MessageID]chan sendResult)
		c.mu.Unlock()

		closedErr := newErr(KindClosed, "connection closed", nil)
		for _, sink := range pending {
			select {
			case sink <- sendResult{err: closedErr}:
			default:
			}
		}
	})
	return err
}

func (c *Conn) startIOLoops() {
	c.readerDone = make(chan struct{})
	go c.readerLoop()
	go c.writerLoop()
}

func (c *Conn) writerLoop() {
	for {
		select {
		case wr := <-c.writeCh:
			c.mu.Lock()
			raw := c.raw
			c.mu.Unlock()
			if raw == nil {
				continue
			}
			if _, err := wr.msg.WriteTo(raw); err != nil {
				c.handleFailure(err)
				continue
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) readerLoop() {
	for {
		c.mu.Lock()
		raw := c.raw
		c.mu.Unlock()
		if raw == nil {
			select {
			case <-c.closed:
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		msg, err := wire.ReadFrom(raw)
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.handleFailure(err)
			// give the supervisor a moment to install a new raw conn before
			// hammering ReadFrom against a closed socket again.
			select {
			case <-c.closed:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		c.mu.Lock()
		sink, ok := c.pending[msg.Header.MessageID]
		if ok {
			delete(c.pending, msg.Header.MessageID)
		}
		c.mu.Unlock()

		if !ok {
			// Late response after timeout, or an unsolicited frame. Dropped,
			// matching the reader task's documented behavior.
			continue
		}
		select {
		case sink <- sendResult{msg: msg}:
		default:
		}
	}
}

// handleFailure tears down the current socket, fails every pending sink
// with a Transport error, and starts the reconnect supervisor on its own
// goroutine. The state check keeps the reader and the writer of one failed
// socket from starting two supervisors.
func (c *Conn) handleFailure(cause error) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateBroken
	raw := c.raw
	c.raw = nil
	pending := c.pending
	c.pending = make(map[wire.MessageID]chan sendResult)
	c.state = StateReconnecting
	c.mu.Unlock()

	if raw != nil {
		_ = raw.Close()
	}
	transportErr := newErr(KindTransport, "connection lost", cause)
	for _, sink := range pending {
		select {
		case sink <- sendResult{err: transportErr}:
		default:
		}
	}

	go c.reconnectLoop()
}

func (c *Conn) reconnectLoop() {
	for {
		select {
		case <-c.closed:
			return
		case <-time.After(c.opts.ReconnectInterval):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
		err := c.dial(ctx)
		cancel()
		if err != nil {
			continue
		}

		authCtx, authCancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
		err = c.authenticateNow(authCtx)
		authCancel()
		if err != nil {
			c.mu.Lock()
			if c.state != StateClosed {
				c.state = StateReconnecting
			}
			if c.raw != nil {
				_ = c.raw.Close()
				c.raw = nil
			}
			c.mu.Unlock()
			continue
		}

		c.setState(StateReady)
		return
	}
}
