package dispatch

import (
	"fmt"

	"github.com/zenithdb/zenith/internal/msgtype"
	"github.com/zenithdb/zenith/internal/statement"
	"github.com/zenithdb/zenith/internal/store"
	"github.com/zenithdb/zenith/internal/wire"
)

// RegisterStorageHandlers wires every statement-bearing message type to s,
// so a freshly built Dispatcher only needs a Storage implementation to
// start serving the full command surface.
func RegisterStorageHandlers(d *Dispatcher, s store.Storage) {
	d.Handle(msgtype.CreateDatabase, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.CreateDatabasePayload)
		if err := s.CreateDatabase(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.DropDatabase, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.DropDatabasePayload)
		if err := s.DropDatabase(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.ShowDatabases, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.ShowDatabasesPayload)
		res, err := s.ShowDatabases(in)
		if err != nil {
			return nil, err
		}
		return statement.Encode(res)
	})

	d.Handle(msgtype.CreateTable, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.CreateTablePayload)
		if err := s.CreateTable(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.DropTable, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.DropTablePayload)
		if err := s.DropTable(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.AlterTable, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.AlterTablePayload)
		if err := s.AlterTable(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.RenameTable, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.RenameTablePayload)
		if err := s.RenameTable(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.TruncateTable, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.TruncateTablePayload)
		if err := s.TruncateTable(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.ShowTables, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.ShowTablesPayload)
		res, err := s.ShowTables(in)
		if err != nil {
			return nil, err
		}
		return statement.Encode(res)
	})

	d.Handle(msgtype.DescribeTable, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.DescribeTablePayload)
		res, err := s.DescribeTable(in)
		if err != nil {
			return nil, err
		}
		return statement.Encode(res)
	})

	d.Handle(msgtype.CreateIndex, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.CreateIndexPayload)
		if err := s.CreateIndex(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.DropIndex, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.DropIndexPayload)
		if err := s.DropIndex(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.ShowIndexes, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.ShowIndexesPayload)
		res, err := s.ShowIndexes(in)
		if err != nil {
			return nil, err
		}
		return statement.Encode(res)
	})

	d.Handle(msgtype.Insert, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.InsertPayload)
		if err := s.Insert(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.Select, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.SelectPayload)
		res, err := s.Select(in)
		if err != nil {
			return nil, err
		}
		return statement.Encode(res)
	})

	d.Handle(msgtype.Update, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.UpdatePayload)
		n, err := s.Update(in)
		if err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: fmt.Sprintf("updated %d", n)})
	})

	d.Handle(msgtype.Delete, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.DeletePayload)
		n, err := s.Delete(in)
		if err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: fmt.Sprintf("deleted %d", n)})
	})

	d.Handle(msgtype.BulkInsert, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.BulkInsertPayload)
		n, err := s.BulkInsert(in)
		if err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: fmt.Sprintf("inserted %d", n)})
	})

	d.Handle(msgtype.Upsert, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.UpsertPayload)
		if err := s.Upsert(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.BeginTransaction, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.BeginTransactionPayload)
		if err := s.BeginTransaction(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.Commit, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.CommitPayload)
		if err := s.Commit(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.Rollback, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.RollbackPayload)
		if err := s.Rollback(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.Savepoint, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.SavepointPayload)
		if err := s.Savepoint(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	d.Handle(msgtype.ReleaseSavepoint, func(_ wire.Header, p statement.Payload) ([]byte, error) {
		in := p.(*statement.ReleaseSavepointPayload)
		if err := s.ReleaseSavepoint(in); err != nil {
			return nil, err
		}
		return statement.Encode(&statement.WelcomePayload{Text: "ok"})
	})

	// Ping/Pong is a Utility-type echo, not a statement: it carries the raw
	// ASCII bytes "PONG" on the wire, unwrapped by the statement catalog's
	// MessagePack+length-prefix convention.
	d.Handle(msgtype.Ping, func(_ wire.Header, _ statement.Payload) ([]byte, error) {
		return []byte("PONG"), nil
	})
}

// RegisterLoginHandler wires the Login message type to fn, which is
// expected to verify the payload (via auth.VerifyLogin) and return a
// Welcome acknowledgement or an error.
func RegisterLoginHandler(d *Dispatcher, fn Handler) {
	d.Handle(msgtype.Login, fn)
}
