// Package dispatch implements the server side of the messaging core: accept
// loop, per-connection frame reader, handler lookup by message type, and a
// single serialized writer so concurrent handler goroutines never interleave
// response bytes on the wire.
package dispatch

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/zenithdb/zenith/internal/msgtype"
	"github.com/zenithdb/zenith/internal/statement"
	"github.com/zenithdb/zenith/internal/wire"
)

// Handler processes one decoded payload and returns the bytes to place in
// the response body. Returning an error produces a Protocol-kind error
// response; it never closes the connection.
type Handler func(header wire.Header, payload statement.Payload) ([]byte, error)

// Dispatcher routes frames by message type to a registered Handler.
type Dispatcher struct {
	registry *statement.Registry
	handlers map[msgtype.Type]Handler
	logger   *slog.Logger
}

// New returns a Dispatcher with no handlers registered; call Handle to wire
// each message type before Serve.
func New(registry *statement.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		handlers: make(map[msgtype.Type]Handler),
		logger:   logger,
	}
}

// Handle registers fn as the handler for t, overwriting any previous
// registration.
func (d *Dispatcher) Handle(t msgtype.Type, fn Handler) {
	d.handlers[t] = fn
}

// ListenAndServe accepts connections on addr and serves each with Serve
// until the listener errors (e.g. on Close from another goroutine).
func (d *Dispatcher) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("dispatch: listen %s: %w", addr, err)
	}
	defer ln.Close()
	return d.Accept(ln)
}

// Accept runs the accept loop against an already-bound listener, spawning
// one Serve goroutine per incoming connection.
func (d *Dispatcher) Accept(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go d.Serve(conn)
	}
}

// Serve runs the dispatcher loop on a single connection until it closes or
// a framing error occurs. Each frame is handled on its own goroutine so slow
// handlers don't block the reader; a mutex around the socket write keeps
// response bytes from interleaving.
func (d *Dispatcher) Serve(conn net.Conn) {
	defer conn.Close()

	var writeMu sync.Mutex
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, err := wire.ReadFrom(conn)
		if err != nil {
			if _, ok := err.(*wire.FramingError); ok {
				d.logger.Warn("framing error, closing connection", "err", err, "addr", conn.RemoteAddr())
			}
			return
		}

		wg.Add(1)
		go func(req wire.Message) {
			defer wg.Done()
			resp := d.handle(req)
			writeMu.Lock()
			defer writeMu.Unlock()
			if _, err := resp.WriteTo(conn); err != nil {
				d.logger.Warn("write response failed", "err", err, "addr", conn.RemoteAddr())
			}
		}(msg)
	}
}

// handle decodes and dispatches one request frame, recovering from handler
// panics so one bad request can never take the connection down.
func (d *Dispatcher) handle(req wire.Message) (resp wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			body, _ := statement.Encode(&statement.ProtocolErrorPayload{Message: fmt.Sprintf("handler panic: %v", r)})
			resp = wire.Reply(req.Header, uint32(msgtype.UnknownCommand), req.Header.TimestampMS, body)
		}
	}()

	t := msgtype.FromUint32(req.Header.MessageType)
	handler, ok := d.handlers[t]
	if !ok || t == msgtype.UnknownCommand {
		body, _ := statement.Encode(&statement.UnknownCommandPayload{Message: "Unsupported command"})
		return wire.Reply(req.Header, uint32(msgtype.UnknownCommand), req.Header.TimestampMS, body)
	}

	payload, err := d.registry.Decode(t, req.Body)
	if err != nil {
		body, _ := statement.Encode(&statement.ProtocolErrorPayload{Message: err.Error()})
		return wire.Reply(req.Header, uint32(msgtype.UnknownCommand), req.Header.TimestampMS, body)
	}

	respBody, err := handler(req.Header, payload)
	if err != nil {
		body, _ := statement.Encode(&statement.ProtocolErrorPayload{Message: err.Error()})
		return wire.Reply(req.Header, uint32(msgtype.UnknownCommand), req.Header.TimestampMS, body)
	}

	return wire.Reply(req.Header, uint32(responseType(t)), req.Header.TimestampMS, respBody)
}

// responseType maps a request's message type to the type tag its successful
// response carries. Every type echoes its own tag except Ping, which is
// answered with its dedicated reply type, Pong.
func responseType(reqType msgtype.Type) msgtype.Type {
	if reqType == msgtype.Ping {
		return msgtype.Pong
	}
	return reqType
}
