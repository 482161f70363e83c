package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/zenithdb/zenith/internal/msgtype"
	"github.com/zenithdb/zenith/internal/statement"
	"github.com/zenithdb/zenith/internal/wire"
)

// Sender is the minimal surface a connection must offer for the login
// handshake to run over it. *muxconn.Conn satisfies this structurally,
// which keeps this package from importing muxconn and creating a cycle
// (muxconn needs an authenticator to call back into, not the other way
// around).
type Sender interface {
	Send(ctx context.Context, req wire.Message) (wire.Message, error)
}

// Login performs one data-plane login handshake over sender: builds a fresh
// Login payload signed with token, sends it as a request, and inspects the
// response type. A response typed Welcome or Login is accepted; any other
// type is treated as an auth failure. The response body is not inspected.
func Login(ctx context.Context, sender Sender, token string, id Identity) error {
	now := time.Now().Unix()
	hash := ComputeLoginHash(token, now, id)

	payload := &statement.LoginPayload{
		Timestamp: uint64(now),
		IsReplica: id.IsReplica,
		Hash:      hash,
		NodeName:  id.NodeName,
		NodeID:    id.NodeID,
		Tags:      id.Tags,
	}
	body, err := statement.Encode(payload)
	if err != nil {
		return fmt.Errorf("auth: encoding login payload: %w", err)
	}

	req := wire.NewRequest(uint32(msgtype.Login), uint32(now), body)
	resp, err := sender.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("auth: sending login: %w", err)
	}

	respType := msgtype.FromUint32(resp.Header.MessageType)
	if respType != msgtype.Welcome && respType != msgtype.Login {
		return fmt.Errorf("auth: unexpected login response type %s", respType)
	}
	return nil
}

// Authenticator builds a function suitable for use as a muxconn reconnect
// callback: it closes over the token and identity and runs Login against
// whatever Sender it's handed.
func Authenticator(token string, id Identity) func(ctx context.Context, sender Sender) error {
	return func(ctx context.Context, sender Sender) error {
		return Login(ctx, sender, token, id)
	}
}
