// Package statement holds the opaque-payload codecs for every message type in
// the registry. Each payload is encoded as MessagePack with a 4-byte
// big-endian length prefix ahead of the blob — the dominant convention across
// the statement codecs this module grew out of, and mandatory for any new
// payload per the project's wire contract.
package statement

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Payload is the opaque handle the dispatcher hands to storage. Concrete
// payload types implement no methods; the registry's decode function is the
// only thing that knows how to produce one from bytes.
type Payload interface{}

// EncodePrefixed MessagePack-encodes v and prepends its length as a 4-byte
// big-endian unsigned int, per the payload codec convention.
func EncodePrefixed(v interface{}) ([]byte, error) {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// DecodePrefixed reads the 4-byte length prefix, validates it against the
// remaining buffer, and MessagePack-decodes into v.
func DecodePrefixed(data []byte, v interface{}) error {
	if len(data) < 4 {
		return fmt.Errorf("payload too short for length prefix: %d bytes", len(data))
	}
	n := binary.BigEndian.Uint32(data)
	if int(n) != len(data)-4 {
		return fmt.Errorf("payload length prefix %d does not match remaining %d bytes", n, len(data)-4)
	}
	if err := msgpack.Unmarshal(data[4:], v); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}

// --- Database management ---

type CreateDatabasePayload struct {
	Name string `msgpack:"name"`
}

type DropDatabasePayload struct {
	Name string `msgpack:"name"`
}

type ShowDatabasesPayload struct{}

type ShowDatabasesResult struct {
	Names []string `msgpack:"names"`
}

// --- Table operations ---

// ColumnDef describes one column in a table schema.
type ColumnDef struct {
	Name     string `msgpack:"name"`
	Type     string `msgpack:"type"`
	Nullable bool   `msgpack:"nullable"`
}

type CreateTablePayload struct {
	DB      string      `msgpack:"db"`
	Table   string      `msgpack:"table"`
	Columns []ColumnDef `msgpack:"columns"`
	Storage string      `msgpack:"storage"`
}

type DropTablePayload struct {
	DB    string `msgpack:"db"`
	Table string `msgpack:"table"`
}

type AlterTablePayload struct {
	DB      string   `msgpack:"db"`
	Table   string   `msgpack:"table"`
	Changes []string `msgpack:"changes"`
}

type RenameTablePayload struct {
	DB  string `msgpack:"db"`
	Old string `msgpack:"old"`
	New string `msgpack:"new"`
}

type TruncateTablePayload struct {
	DB    string `msgpack:"db"`
	Table string `msgpack:"table"`
}

type ShowTablesPayload struct {
	DB string `msgpack:"db"`
}

type ShowTablesResult struct {
	Names []string `msgpack:"names"`
}

type DescribeTablePayload struct {
	DB    string `msgpack:"db"`
	Table string `msgpack:"table"`
}

type DescribeTableResult struct {
	Columns []ColumnDef `msgpack:"columns"`
}

// --- Index operations ---

type CreateIndexPayload struct {
	DB      string   `msgpack:"db"`
	Table   string   `msgpack:"table"`
	Name    string   `msgpack:"name"`
	Columns []string `msgpack:"columns"`
	Unique  bool     `msgpack:"unique"`
}

type DropIndexPayload struct {
	DB    string `msgpack:"db"`
	Table string `msgpack:"table"`
	Name  string `msgpack:"name"`
}

type ShowIndexesPayload struct {
	DB    string `msgpack:"db"`
	Table string `msgpack:"table"`
}

type ShowIndexesResult struct {
	Names []string `msgpack:"names"`
}

// --- Data operations ---

// Row is a loosely typed record: column name to value.
type Row map[string]interface{}

type InsertPayload struct {
	DB    string `msgpack:"db"`
	Table string `msgpack:"table"`
	Row   Row    `msgpack:"row"`
}

type SelectPayload struct {
	DB    string `msgpack:"db"`
	Table string `msgpack:"table"`
}

type SelectResult struct {
	Rows []Row `msgpack:"rows"`
}

type UpdatePayload struct {
	DB    string `msgpack:"db"`
	Table string `msgpack:"table"`
	Row   Row    `msgpack:"row"`
}

type DeletePayload struct {
	DB    string `msgpack:"db"`
	Table string `msgpack:"table"`
}

type BulkInsertPayload struct {
	DB      string          `msgpack:"db"`
	Table   string          `msgpack:"table"`
	Columns []string        `msgpack:"columns"`
	Rows    [][]interface{} `msgpack:"rows"`
}

type UpsertPayload struct {
	DB    string `msgpack:"db"`
	Table string `msgpack:"table"`
	Row   Row    `msgpack:"row"`
}

// --- Transaction management ---

type BeginTransactionPayload struct {
	ID        string `msgpack:"id"`
	Isolation string `msgpack:"isolation"`
}

type CommitPayload struct {
	ID string `msgpack:"id"`
}

type RollbackPayload struct {
	ID string `msgpack:"id"`
}

type SavepointPayload struct {
	ID   string `msgpack:"id"`
	Name string `msgpack:"name"`
}

type ReleaseSavepointPayload struct {
	ID   string `msgpack:"id"`
	Name string `msgpack:"name"`
}

// --- Authentication ---

// LoginPayload carries the HMAC login handshake fields.
type LoginPayload struct {
	Timestamp uint64   `msgpack:"timestamp"`
	IsReplica bool     `msgpack:"is_replica"`
	Hash      string   `msgpack:"hash"`
	NodeName  string   `msgpack:"node_name"`
	NodeID    string   `msgpack:"node_id"`
	Tags      []string `msgpack:"tags"`
}

// --- Utility ---

type PingPayload struct{}

type PongPayload struct {
	Body string `msgpack:"body"`
}

type GreetingPayload struct {
	Text string `msgpack:"text"`
}

type WelcomePayload struct {
	Text string `msgpack:"text"`
}

// UnknownCommandPayload is the canonical error body for unrecognized message
// types.
type UnknownCommandPayload struct {
	Message string `msgpack:"message"`
}

// ProtocolErrorPayload is the canonical error body for a handler-level
// semantic failure (malformed payload for a known type, storage error, …).
type ProtocolErrorPayload struct {
	Message string `msgpack:"message"`
}
