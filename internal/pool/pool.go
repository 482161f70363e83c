// Package pool implements the self-healing connection pool: it maintains
// between min and max multiplexed connections to one address, allocates the
// least-loaded connection to each borrower, replenishes on failure, and
// shrinks idle capacity back toward the configured minimum.
package pool

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/zenithdb/zenith/internal/muxconn"
)

// Options configures a Pool. Addr and the identity/auth callback are shared
// by every dial the pool performs.
type Options struct {
	Addr              string
	MinConn           int
	MaxConn           int
	DialTimeout       time.Duration
	SendTimeout       time.Duration
	ReconnectInterval time.Duration
	Authenticate      muxconn.AuthenticateFunc
	Dialer            muxconn.Options // base options for every dial; Pool overrides Addr, DialTimeout, SendTimeout, ReconnectInterval and Authenticate
}

func (o *Options) setDefaults() {
	if o.MinConn < 1 {
		o.MinConn = 1
	}
	// Guardrail from the design notes: a misconfigured max below min must
	// never silently cap the pool under its own floor.
	if o.MaxConn < o.MinConn {
		o.MaxConn = o.MinConn
	}
	if o.MaxConn < 1 {
		o.MaxConn = 1
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = 3 * time.Second
	}
}

// Stats is a point-in-time snapshot of pool occupancy, exposed so a metrics
// collector can turn it into gauges.
type Stats struct {
	Ready         int
	InFlightDials int
	MinConn       int
	MaxConn       int
	TotalLoans    int
	Exhausted     int64
}

// Pool maintains [MinConn..MaxConn] multiplexed connections to a single
// address, handing out the least-loaded one to each Allocate call.
type Pool struct {
	opts Options

	mu      sync.Mutex
	cond    *sync.Cond
	h       entryHeap
	byID    map[uint64]*entry
	dialing int
	warm    bool
	closed  bool

	exhausted int64
}

// New constructs a Pool and schedules MinConn concurrent warm-up dials. It
// returns immediately; callers that need to wait for warm-up can poll
// Stats().Ready or use AllocateWait.
func New(opts Options) *Pool {
	opts.setDefaults()
	p := &Pool{
		opts: opts,
		h:    make(entryHeap, 0, opts.MaxConn),
		byID: make(map[uint64]*entry),
	}
	p.cond = sync.NewCond(&p.mu)
	heap.Init(&p.h)

	for i := 0; i < opts.MinConn; i++ {
		go p.dialLoop()
	}
	return p
}

// dialLoop dials, retrying at ReconnectInterval on failure, until it
// succeeds or the pool is closed. Used for both warm-up and replenishment —
// once a dial slot has been claimed, there's no behavioral distinction
// between the two.
func (p *Pool) dialLoop() {
	p.mu.Lock()
	p.dialing++
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.dialing--
		p.mu.Unlock()
	}()

	for {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.opts.DialTimeout)
		mo := p.opts.Dialer
		mo.Addr = p.opts.Addr
		mo.DialTimeout = p.opts.DialTimeout
		mo.SendTimeout = p.opts.SendTimeout
		mo.ReconnectInterval = p.opts.ReconnectInterval
		mo.Authenticate = p.opts.Authenticate
		conn, err := muxconn.Dial(ctx, mo)
		cancel()
		if err != nil {
			time.Sleep(p.opts.ReconnectInterval)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return
		}
		e := &entry{conn: conn, loan: 0}
		heap.Push(&p.h, e)
		p.byID[conn.ID()] = e
		p.warm = true
		p.cond.Broadcast()
		p.mu.Unlock()
		return
	}
}

// Handle is a borrowed connection; callers must call Release exactly once.
type Handle struct {
	pool *Pool
	conn *muxconn.Conn
	id   uint64
}

// Conn returns the underlying multiplexed connection.
func (h *Handle) Conn() *muxconn.Conn { return h.conn }

// Allocate returns the least-loaded ready connection. If the ready set is
// empty, it schedules a new dial when the pool is below MaxConn and fails
// immediately with ErrNoAvailableConnections either way. See AllocateWait
// for a bounded-wait alternative.
func (p *Pool) Allocate(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocateLocked()
}

func (p *Pool) allocateLocked() (*Handle, error) {
	if p.closed {
		return nil, &ErrClosed{}
	}
	if len(p.h) == 0 {
		if p.dialing+len(p.h) < p.opts.MaxConn {
			go p.dialLoop()
		}
		p.exhausted++
		return nil, &ErrNoAvailableConnections{Addr: p.opts.Addr}
	}

	e := p.h[0]
	e.loan++
	heap.Fix(&p.h, e.index)
	return &Handle{pool: p, conn: e.conn, id: e.conn.ID()}, nil
}

// AllocateWait behaves like Allocate but, when the pool is momentarily
// empty, blocks (up to ctx's deadline) for a connection to become ready
// instead of failing immediately — an optional bounded-wait alternative to
// Allocate's fail-fast behavior.
func (p *Pool) AllocateWait(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.h) == 0 && !p.closed {
		if p.dialing == 0 {
			go p.dialLoop()
		}
		waitDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-waitDone:
			}
		}()
		p.cond.Wait()
		close(waitDone)

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return p.allocateLocked()
}

// Release returns a borrowed connection. If it was the connection's last
// loan and the pool is above MinConn, the connection is closed and
// discarded (idle shrink); otherwise it's reinserted for reuse.
func (p *Pool) Release(h *Handle) {
	p.mu.Lock()
	e, ok := p.byID[h.id]
	if !ok {
		p.mu.Unlock()
		return
	}
	e.loan--
	if e.loan < 0 {
		e.loan = 0
	}

	if e.loan == 0 && len(p.h) > p.opts.MinConn {
		p.removeEntryLocked(e)
		p.mu.Unlock()
		e.conn.Close()
		return
	}

	heap.Fix(&p.h, e.index)
	p.cond.Broadcast()
	p.mu.Unlock()
}

// OnConnectionFailure removes connID's entry (if present) and schedules a
// replenishment dial. Safe to call even if the entry was already removed.
func (p *Pool) OnConnectionFailure(connID uint64) {
	p.mu.Lock()
	e, ok := p.byID[connID]
	if ok {
		p.removeEntryLocked(e)
	}
	p.mu.Unlock()
	if ok {
		go p.dialLoop()
	}
}

// removeEntryLocked removes e from the heap and id index. Caller holds mu.
func (p *Pool) removeEntryLocked(e *entry) {
	if e.index >= 0 && e.index < len(p.h) && p.h[e.index] == e {
		heap.Remove(&p.h, e.index)
	}
	delete(p.byID, e.conn.ID())
}

// Stats returns a point-in-time snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, e := range p.h {
		total += e.loan
	}
	return Stats{
		Ready:         len(p.h),
		InFlightDials: p.dialing,
		MinConn:       p.opts.MinConn,
		MaxConn:       p.opts.MaxConn,
		TotalLoans:    total,
		Exhausted:     p.exhausted,
	}
}

// Warm reports whether at least one dial has ever succeeded.
func (p *Pool) Warm() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.warm
}

// Close tears down every ready connection and prevents further dials.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	entries := make([]*entry, len(p.h))
	copy(entries, p.h)
	p.h = p.h[:0]
	p.byID = make(map[uint64]*entry)
	p.cond.Broadcast()
	p.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := e.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
