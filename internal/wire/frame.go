// Package wire implements the length-framed binary protocol described by the
// messaging core: a fixed 37-byte header followed by a variable-length body.
// Encoding is big-endian throughout, matching the careful byte-level parsing
// style used for the backend wire protocols this codebase grew out of.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

const (
	// StartMarker opens every frame header.
	StartMarker uint32 = 0xDEADBEEF
	// EndMarker closes every frame header.
	EndMarker uint32 = 0xBEEFDEAD

	// HeaderSize is the exact encoded size of a Header, in bytes.
	HeaderSize = 4 + 16 + 4 + 1 + 4 + 4 + 4

	// MaxBodySize bounds how much a peer can force us to allocate for one
	// frame body. 64 MiB.
	MaxBodySize = 64 << 20
)

// Flag distinguishes a request frame from its response.
type Flag uint8

const (
	FlagRequest  Flag = 1
	FlagResponse Flag = 2
)

func (f Flag) String() string {
	switch f {
	case FlagRequest:
		return "Request"
	case FlagResponse:
		return "Response"
	default:
		return fmt.Sprintf("Flag(%d)", uint8(f))
	}
}

// MessageID is the 128-bit correlation identifier generated by the sender of
// a request; the responder echoes it back verbatim.
type MessageID [16]byte

// NewMessageID generates a fresh random message id.
func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}

// Header is the 37-byte fixed portion of a Message.
type Header struct {
	MessageID   MessageID
	MessageType uint32
	Flag        Flag
	TimestampMS uint32
	BodySize    uint32
}

// Message is one decoded frame: header plus exactly BodySize body bytes.
type Message struct {
	Header Header
	Body   []byte
}

// NewRequest builds a request-flagged message with a fresh message id.
func NewRequest(messageType uint32, timestampMS uint32, body []byte) Message {
	return Message{
		Header: Header{
			MessageID:   NewMessageID(),
			MessageType: messageType,
			Flag:        FlagRequest,
			TimestampMS: timestampMS,
			BodySize:    uint32(len(body)),
		},
		Body: body,
	}
}

// Reply builds a response-flagged message that echoes req's message id, as
// required by the correlation invariant.
func Reply(req Header, messageType uint32, timestampMS uint32, body []byte) Message {
	return Message{
		Header: Header{
			MessageID:   req.MessageID,
			MessageType: messageType,
			Flag:        FlagResponse,
			TimestampMS: timestampMS,
			BodySize:    uint32(len(body)),
		},
		Body: body,
	}
}

// Encode serializes m into a single big-endian byte slice: header then body.
func (m Message) Encode() []byte {
	buf := make([]byte, HeaderSize+len(m.Body))
	off := 0
	binary.BigEndian.PutUint32(buf[off:], StartMarker)
	off += 4
	copy(buf[off:], m.Header.MessageID[:])
	off += 16
	binary.BigEndian.PutUint32(buf[off:], m.Header.MessageType)
	off += 4
	buf[off] = byte(m.Header.Flag)
	off++
	binary.BigEndian.PutUint32(buf[off:], m.Header.TimestampMS)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], uint32(len(m.Body)))
	off += 4
	binary.BigEndian.PutUint32(buf[off:], EndMarker)
	off += 4
	copy(buf[off:], m.Body)
	return buf
}

// WriteTo writes the encoded frame to w in a single call, keeping writes
// atomic from the caller's perspective (the caller is still responsible for
// serializing concurrent writers on a shared connection).
func (m Message) WriteTo(w io.Writer) (int64, error) {
	buf := m.Encode()
	n, err := w.Write(buf)
	return int64(n), err
}

// FramingError indicates a frame failed header or marker validation. It is
// fatal to the connection that produced it, never to the process.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: %s", e.Reason)
}

// ReadFrom decodes exactly one Message from r: 37 header bytes, validated,
// then exactly BodySize body bytes. Any marker/flag/size mismatch returns a
// *FramingError.
func ReadFrom(r io.Reader) (Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}

	off := 0
	start := binary.BigEndian.Uint32(hdr[off:])
	off += 4
	if start != StartMarker {
		return Message{}, &FramingError{Reason: fmt.Sprintf("bad start marker: %#x", start)}
	}

	var msgID MessageID
	copy(msgID[:], hdr[off:off+16])
	off += 16

	msgType := binary.BigEndian.Uint32(hdr[off:])
	off += 4

	flag := Flag(hdr[off])
	off++
	if flag != FlagRequest && flag != FlagResponse {
		return Message{}, &FramingError{Reason: fmt.Sprintf("bad flag: %d", flag)}
	}

	ts := binary.BigEndian.Uint32(hdr[off:])
	off += 4

	bodySize := binary.BigEndian.Uint32(hdr[off:])
	off += 4
	if bodySize > MaxBodySize {
		return Message{}, &FramingError{Reason: fmt.Sprintf("body size %d exceeds max %d", bodySize, MaxBodySize)}
	}

	end := binary.BigEndian.Uint32(hdr[off:])
	if end != EndMarker {
		return Message{}, &FramingError{Reason: fmt.Sprintf("bad end marker: %#x", end)}
	}

	var body []byte
	if bodySize > 0 {
		body = make([]byte, bodySize)
		if _, err := io.ReadFull(r, body); err != nil {
			return Message{}, err
		}
	}

	return Message{
		Header: Header{
			MessageID:   msgID,
			MessageType: msgType,
			Flag:        flag,
			TimestampMS: ts,
			BodySize:    bodySize,
		},
		Body: body,
	}, nil
}
