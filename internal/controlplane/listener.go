package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/zenithdb/zenith/internal/auth"
	"github.com/zenithdb/zenith/internal/dispatch"
	"github.com/zenithdb/zenith/internal/wire"
)

// Conn is the minimal connection surface a master listener needs to dial a
// data-plane peer: a net.Conn plus whatever timeouts the caller wants to
// impose. Matching this to net.Conn lets tests substitute a net.Pipe.
type Conn = net.Conn

// masterListener owns one redialing data-plane connection to a master node
// advertised by the control plane, running a dispatcher over it so this
// node can serve requests the master relays back (replica registration,
// statement forwarding, etc).
type masterListener struct {
	url    string
	cancel context.CancelFunc
	done   chan struct{}
}

// rawSender adapts a net.Conn into the auth.Sender interface expected by
// auth.Login, by performing one blocking request/response framed exchange.
type rawSender struct {
	conn net.Conn
}

func (s rawSender) Send(ctx context.Context, msg wire.Message) (wire.Message, error) {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetDeadline(deadline)
	} else {
		s.conn.SetDeadline(time.Time{})
	}
	defer s.conn.SetDeadline(time.Time{})

	if _, err := msg.WriteTo(s.conn); err != nil {
		return wire.Message{}, err
	}
	return wire.ReadFrom(s.conn)
}

// startMaster launches the goroutine that keeps a dispatcher attached to
// url (a "tcp://host:port" master address), respawning the connection on
// failure until ctx is cancelled. It returns immediately; the caller keeps
// the handle to cancel it later.
func (c *Client) startMaster(parent context.Context, url string) *masterListener {
	ctx, cancel := context.WithCancel(parent)
	ml := &masterListener{
		url:    url,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(ml.done)
		c.runMasterListener(ctx, url)
	}()

	return ml
}

func stripScheme(url string) string {
	return strings.TrimPrefix(strings.TrimPrefix(url, "tcp://"), "tcp4://")
}

// runMasterListener dials url, authenticates, and serves a dispatcher over
// the connection until it fails or ctx is cancelled, redialing in between.
func (c *Client) runMasterListener(ctx context.Context, url string) {
	addr := stripScheme(url)
	logger := c.opts.Logger.With("master", url)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.serveMasterOnce(ctx, addr, logger); err != nil {
			logger.Warn("master listener connection ended", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.ReconnectInterval):
		}
	}
}

func (c *Client) serveMasterOnce(ctx context.Context, addr string, logger *slog.Logger) error {
	dial := c.opts.Dial
	if dial == nil {
		dial = func(ctx context.Context, addr string) (Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}

	conn, err := dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	identity := auth.Identity{
		NodeID:    c.opts.NodeID,
		NodeName:  c.opts.NodeName,
		IsReplica: c.opts.IsReplica,
		Tags:      c.opts.Tags,
	}
	loginCtx, cancelLogin := context.WithTimeout(ctx, 10*time.Second)
	err = auth.Login(loginCtx, rawSender{conn: conn}, c.opts.ClusterToken, identity)
	cancelLogin()
	if c.opts.Metrics != nil {
		c.opts.Metrics.AuthAttempt("data", err == nil)
	}
	if err != nil {
		return err
	}

	logger.Info("authenticated with master, serving dispatcher")

	d := dispatch.New(c.opts.Registry, logger)
	if c.opts.Storage != nil {
		dispatch.RegisterStorageHandlers(d, c.opts.Storage)
	}

	served := make(chan struct{})
	go func() {
		defer close(served)
		d.Serve(conn)
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		<-served
		return ctx.Err()
	case <-served:
		return fmt.Errorf("master connection closed")
	}
}
