// Package controlplane implements the long-lived control channel to the
// management node: HMAC+Date authenticated WebSocket connect, a `register`
// announcement of this node's data-plane address, and a receive loop that
// diffs `master_list` events into a live set of per-master data-plane
// listeners. Grounded directly on original_source/src/managment/client.rs,
// re-expressed with gorilla/websocket in place of tokio-tungstenite and
// following the Hub/Client goroutine-per-connection shape used by the
// streamspace websocket hub example in the retrieval pack.
package controlplane

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zenithdb/zenith/internal/auth"
	"github.com/zenithdb/zenith/internal/metrics"
	"github.com/zenithdb/zenith/internal/statement"
	"github.com/zenithdb/zenith/internal/store"
)

// ReconnectInterval is how long the client sleeps between control-channel
// reconnect attempts.
const ReconnectInterval = 5 * time.Second

// Options configures a Client.
type Options struct {
	NodeID       string
	NodeName     string
	IsReplica    bool
	Tags         []string
	ClusterToken string

	// AdminAddr is the management node's base HTTP(S) address, e.g.
	// "http://admin.internal:9000". The client rewrites the scheme to
	// ws/wss and appends the slave WebSocket path.
	AdminAddr string

	// DataPlaneAddr is this node's own data-plane listen address,
	// advertised to the management node in the register payload.
	DataPlaneAddr string

	// Storage and Registry back every per-master listener's dispatcher.
	Storage  store.Storage
	Registry *statement.Registry

	Metrics *metrics.Collector
	Logger  *slog.Logger

	// Dial opens a data-plane connection to a stripped master address
	// ("host:port", tcp:// prefix removed). Defaults to net.Dial("tcp", ...).
	Dial func(ctx context.Context, addr string) (Conn, error)

	// WSDialer is used to establish the control WebSocket. Defaults to
	// websocket.DefaultDialer.
	WSDialer *websocket.Dialer

	ReconnectInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = ReconnectInterval
	}
	if o.WSDialer == nil {
		o.WSDialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client is the control-plane driver: one connect loop to the management
// node, plus one listener goroutine per currently attached master.
type Client struct {
	opts Options

	mu      sync.Mutex
	masters map[string]*masterListener
}

// New constructs a Client. Call Run to start the connect loop; Run blocks
// until ctx is cancelled.
func New(opts Options) *Client {
	opts.setDefaults()
	return &Client{
		opts:    opts,
		masters: make(map[string]*masterListener),
	}
}

// Run drives the control-plane connect loop until ctx is cancelled: connect,
// register, receive events, and on any error sleep ReconnectInterval and
// retry with a freshly generated signature.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.connectOnce(ctx)
		if c.opts.Metrics != nil {
			c.opts.Metrics.SetControlPlaneConnected(false)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.opts.Logger.Warn("control-plane connection lost, retrying", "err", err, "retry_in", c.opts.ReconnectInterval)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.ReconnectInterval):
		}
	}
}

// wsURL rewrites AdminAddr's scheme to ws/wss and appends the slave path.
func (c *Client) wsURL() string {
	addr := c.opts.AdminAddr
	addr = strings.Replace(addr, "https://", "wss://", 1)
	addr = strings.Replace(addr, "http://", "ws://", 1)
	addr = strings.TrimSuffix(addr, "/")
	return fmt.Sprintf("%s/managment/ws/slave?node_id=%s", addr, c.opts.NodeID)
}

// connectOnce performs one authenticated WebSocket session: dial, register,
// then receive-loop until the socket errors or closes.
func (c *Client) connectOnce(ctx context.Context) error {
	date := time.Now().UTC()
	hash := auth.ComputeControlHash(c.opts.ClusterToken, c.opts.NodeID, date)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+hash)
	header.Set("Date", date.Format(time.RFC3339))

	conn, resp, err := c.opts.WSDialer.DialContext(ctx, c.wsURL(), header)
	if c.opts.Metrics != nil {
		c.opts.Metrics.AuthAttempt("control", err == nil)
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("controlplane: dial: %w (status %s)", err, resp.Status)
		}
		return fmt.Errorf("controlplane: dial: %w", err)
	}
	defer conn.Close()

	if c.opts.Metrics != nil {
		c.opts.Metrics.SetControlPlaneConnected(true)
	}
	c.opts.Logger.Info("connected to management node", "addr", c.opts.AdminAddr)

	if err := c.register(conn); err != nil {
		return fmt.Errorf("controlplane: register: %w", err)
	}

	return c.receiveLoop(ctx, conn)
}

type registerPayload struct {
	URL string `json:"url"`
}

type registerMessage struct {
	Action  string `json:"action"`
	NodeID  string `json:"node_id"`
	Payload string `json:"payload"`
}

// register sends the `register` action with a base64-encoded JSON payload
// carrying this node's data-plane address.
func (c *Client) register(conn *websocket.Conn) error {
	payloadJSON, err := json.Marshal(registerPayload{URL: c.opts.DataPlaneAddr})
	if err != nil {
		return err
	}

	msg := registerMessage{
		Action:  "register",
		NodeID:  c.opts.NodeID,
		Payload: base64.StdEncoding.EncodeToString(payloadJSON),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, body)
}

type inboundEvent struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

type masterListPayload struct {
	Masters []string `json:"masters"`
}

// receiveLoop parses inbound JSON frames and dispatches on their action.
// Unknown actions are ignored, matching the original client's behavior.
func (c *Client) receiveLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var evt inboundEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			c.opts.Logger.Warn("controlplane: malformed event", "err", err)
			continue
		}

		switch evt.Action {
		case "master_list":
			var payload masterListPayload
			if err := json.Unmarshal(evt.Payload, &payload); err != nil {
				c.opts.Logger.Warn("controlplane: malformed master_list payload", "err", err)
				continue
			}
			c.applyMasterList(ctx, payload.Masters)
		default:
			// Unknown actions are ignored.
		}
	}
}

// applyMasterList diffs masters against the currently running listener set,
// cancelling removed masters and spawning fresh listeners for added ones.
// Unchanged masters are left running untouched, never respawned.
func (c *Client) applyMasterList(ctx context.Context, masters []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := make(map[string]struct{}, len(c.masters))
	for url := range c.masters {
		current[url] = struct{}{}
	}
	added, removed := Diff(current, masters)

	for _, url := range removed {
		if ml, ok := c.masters[url]; ok {
			ml.cancel()
			delete(c.masters, url)
		}
	}
	for _, url := range added {
		c.masters[url] = c.startMaster(ctx, url)
	}

	if len(added) > 0 || len(removed) > 0 {
		c.opts.Logger.Info("master membership changed", "added", added, "removed", removed, "total", len(c.masters))
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.MembershipChanged(len(added), len(removed))
		c.opts.Metrics.SetMembership(len(c.masters))
	}
}

// Masters returns the URLs of every currently running master listener,
// sorted for deterministic test assertions.
func (c *Client) Masters() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	urls := make([]string, 0, len(c.masters))
	for url := range c.masters {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// Close cancels every running master listener. The control-channel connect
// loop itself stops when the ctx passed to Run is cancelled.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ml := range c.masters {
		ml.cancel()
	}
	c.masters = make(map[string]*masterListener)
}
