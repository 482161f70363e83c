package statement

import (
	"fmt"

	"github.com/zenithdb/zenith/internal/msgtype"
)

// DecodeFunc turns a prefixed payload blob into a concrete Payload value.
type DecodeFunc func(data []byte) (Payload, error)

// Registry maps a message type to the decoder for its payload. It is built
// once at startup and then only ever read, so no locking is needed.
type Registry struct {
	decoders map[msgtype.Type]DecodeFunc
}

// NewRegistry returns a Registry pre-populated with every payload type known
// to the message-type registry.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[msgtype.Type]DecodeFunc)}

	reg(r, msgtype.CreateDatabase, func() Payload { return &CreateDatabasePayload{} })
	reg(r, msgtype.DropDatabase, func() Payload { return &DropDatabasePayload{} })
	reg(r, msgtype.ShowDatabases, func() Payload { return &ShowDatabasesPayload{} })

	reg(r, msgtype.CreateTable, func() Payload { return &CreateTablePayload{} })
	reg(r, msgtype.DropTable, func() Payload { return &DropTablePayload{} })
	reg(r, msgtype.AlterTable, func() Payload { return &AlterTablePayload{} })
	reg(r, msgtype.RenameTable, func() Payload { return &RenameTablePayload{} })
	reg(r, msgtype.TruncateTable, func() Payload { return &TruncateTablePayload{} })
	reg(r, msgtype.ShowTables, func() Payload { return &ShowTablesPayload{} })
	reg(r, msgtype.DescribeTable, func() Payload { return &DescribeTablePayload{} })

	reg(r, msgtype.CreateIndex, func() Payload { return &CreateIndexPayload{} })
	reg(r, msgtype.DropIndex, func() Payload { return &DropIndexPayload{} })
	reg(r, msgtype.ShowIndexes, func() Payload { return &ShowIndexesPayload{} })

	reg(r, msgtype.Insert, func() Payload { return &InsertPayload{} })
	reg(r, msgtype.Select, func() Payload { return &SelectPayload{} })
	reg(r, msgtype.Update, func() Payload { return &UpdatePayload{} })
	reg(r, msgtype.Delete, func() Payload { return &DeletePayload{} })
	reg(r, msgtype.BulkInsert, func() Payload { return &BulkInsertPayload{} })
	reg(r, msgtype.Upsert, func() Payload { return &UpsertPayload{} })

	reg(r, msgtype.BeginTransaction, func() Payload { return &BeginTransactionPayload{} })
	reg(r, msgtype.Commit, func() Payload { return &CommitPayload{} })
	reg(r, msgtype.Rollback, func() Payload { return &RollbackPayload{} })
	reg(r, msgtype.Savepoint, func() Payload { return &SavepointPayload{} })
	reg(r, msgtype.ReleaseSavepoint, func() Payload { return &ReleaseSavepointPayload{} })

	reg(r, msgtype.Login, func() Payload { return &LoginPayload{} })

	reg(r, msgtype.Ping, func() Payload { return &PingPayload{} })
	reg(r, msgtype.Pong, func() Payload { return &PongPayload{} })
	reg(r, msgtype.Greeting, func() Payload { return &GreetingPayload{} })
	reg(r, msgtype.Welcome, func() Payload { return &WelcomePayload{} })

	return r
}

// reg registers a decoder built from a zero-value factory, so callers never
// repeat the DecodePrefixed boilerplate per type.
func reg(r *Registry, t msgtype.Type, zero func() Payload) {
	r.decoders[t] = func(data []byte) (Payload, error) {
		v := zero()
		// A bodiless frame (Ping and other Utility-type messages carry no
		// payload at all) decodes straight to the zero value rather than
		// failing the length-prefix check DecodePrefixed otherwise requires.
		if len(data) == 0 {
			return v, nil
		}
		if err := DecodePrefixed(data, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Decode looks up the decoder for t and applies it to data. Unknown types
// and decode failures both return an error; neither ever panics — the
// dispatcher turns this into an UnknownCommand or ProtocolError response.
func (r *Registry) Decode(t msgtype.Type, data []byte) (Payload, error) {
	dec, ok := r.decoders[t]
	if !ok {
		return nil, fmt.Errorf("statement: no payload decoder registered for %s", t)
	}
	return dec(data)
}

// Encode is the symmetric helper for handlers building a response payload.
func Encode(v interface{}) ([]byte, error) {
	return EncodePrefixed(v)
}
