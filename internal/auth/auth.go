// Package auth implements the HMAC-SHA256 login handshake used both on the
// data-plane (Login message over a muxconn.Conn) and on the control-plane
// (Authorization/Date headers over the websocket channel). Both share the
// same hash construction and constant-time verification discipline; only the
// signed string and transport differ.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSkewWindow bounds how far a login timestamp may drift from the
// verifier's clock before it is rejected.
const DefaultSkewWindow = 5 * time.Minute

// Identity is the set of fields a node asserts about itself during login.
type Identity struct {
	NodeID    string
	NodeName  string
	IsReplica bool
	Tags      []string
}

// loginMessage builds the exact string signed for a data-plane login:
// "{timestamp}|{node_id}|{is_replica}|{tags_csv}".
func loginMessage(timestampUnix int64, id Identity) string {
	return fmt.Sprintf("%d|%s|%t|%s", timestampUnix, id.NodeID, id.IsReplica, strings.Join(id.Tags, ","))
}

// ComputeLoginHash returns the hex-encoded HMAC-SHA256 login hash for id at
// timestampUnix, keyed by token.
func ComputeLoginHash(token string, timestampUnix int64, id Identity) string {
	return hexHMAC(token, loginMessage(timestampUnix, id))
}

// VerifyLogin recomputes the login hash and compares it to hash in constant
// time, then checks timestampUnix against now within skew. A zero skew
// defaults to DefaultSkewWindow.
func VerifyLogin(token string, timestampUnix int64, id Identity, hash string, now time.Time, skew time.Duration) error {
	if skew <= 0 {
		skew = DefaultSkewWindow
	}
	want := ComputeLoginHash(token, timestampUnix, id)
	if !hmac.Equal([]byte(want), []byte(hash)) {
		return fmt.Errorf("auth: hmac mismatch")
	}
	ts := time.Unix(timestampUnix, 0)
	delta := now.Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	if delta > skew {
		return fmt.Errorf("auth: timestamp %s outside skew window of %s (now %s)", ts, skew, now)
	}
	return nil
}

// controlMessage builds the exact string signed for a control-plane request:
// "{node_id}|{rfc3339_date}".
func controlMessage(nodeID string, date time.Time) string {
	return fmt.Sprintf("%s|%s", nodeID, date.UTC().Format(time.RFC3339))
}

// ComputeControlHash returns the hex-encoded HMAC-SHA256 hash a slave sends
// as its control-plane Authorization bearer token, signed over its node id
// and the current RFC3339 date.
func ComputeControlHash(token, nodeID string, date time.Time) string {
	return hexHMAC(token, controlMessage(nodeID, date))
}

// VerifyControl recomputes the control-plane hash using the supplied date —
// which MUST come from the request's Date header, never the verifier's own
// clock — and compares in constant time.
func VerifyControl(token, nodeID string, date time.Time, hash string) error {
	want := ComputeControlHash(token, nodeID, date)
	if !hmac.Equal([]byte(want), []byte(hash)) {
		return fmt.Errorf("auth: control hmac mismatch")
	}
	return nil
}

func hexHMAC(token, message string) string {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseUnixSeconds is a small helper for headers/payloads that carry a unix
// timestamp as a decimal string.
func ParseUnixSeconds(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
