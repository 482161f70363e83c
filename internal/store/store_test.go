package store

import (
	"testing"

	"github.com/zenithdb/zenith/internal/statement"
)

func TestDatabaseLifecycle(t *testing.T) {
	m := NewMemory()

	if err := m.CreateDatabase(&statement.CreateDatabasePayload{Name: "orders"}); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := m.CreateDatabase(&statement.CreateDatabasePayload{Name: "orders"}); err == nil {
		t.Fatal("expected conflict creating duplicate database")
	}

	res, err := m.ShowDatabases(&statement.ShowDatabasesPayload{})
	if err != nil {
		t.Fatalf("ShowDatabases: %v", err)
	}
	if len(res.Names) != 1 || res.Names[0] != "orders" {
		t.Fatalf("unexpected databases: %v", res.Names)
	}

	if err := m.DropDatabase(&statement.DropDatabasePayload{Name: "orders"}); err != nil {
		t.Fatalf("DropDatabase: %v", err)
	}
	if err := m.DropDatabase(&statement.DropDatabasePayload{Name: "orders"}); err == nil {
		t.Fatal("expected not-found dropping a missing database")
	}
}

func TestTableAndRowLifecycle(t *testing.T) {
	m := NewMemory()
	if err := m.CreateDatabase(&statement.CreateDatabasePayload{Name: "orders"}); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	cols := []statement.ColumnDef{{Name: "sku", Type: "string"}, {Name: "qty", Type: "int"}}
	if err := m.CreateTable(&statement.CreateTablePayload{DB: "orders", Table: "items", Columns: cols}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	if err := m.Insert(&statement.InsertPayload{DB: "orders", Table: "items", Row: statement.Row{"sku": "A1", "qty": 2}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.Insert(&statement.InsertPayload{DB: "orders", Table: "items", Row: statement.Row{"sku": "B2", "qty": 5}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	sel, err := m.Select(&statement.SelectPayload{DB: "orders", Table: "items"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(sel.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(sel.Rows))
	}

	n, err := m.Update(&statement.UpdatePayload{DB: "orders", Table: "items", Row: statement.Row{"qty": 9}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows updated, got %d", n)
	}

	n, err = m.Delete(&statement.DeletePayload{DB: "orders", Table: "items"})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows deleted, got %d", n)
	}

	desc, err := m.DescribeTable(&statement.DescribeTablePayload{DB: "orders", Table: "items"})
	if err != nil {
		t.Fatalf("DescribeTable: %v", err)
	}
	if len(desc.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(desc.Columns))
	}
}

func TestTransactionLifecycle(t *testing.T) {
	m := NewMemory()
	if err := m.BeginTransaction(&statement.BeginTransactionPayload{ID: "tx1"}); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := m.Savepoint(&statement.SavepointPayload{ID: "tx1", Name: "sp1"}); err != nil {
		t.Fatalf("Savepoint: %v", err)
	}
	if err := m.ReleaseSavepoint(&statement.ReleaseSavepointPayload{ID: "tx1", Name: "sp1"}); err != nil {
		t.Fatalf("ReleaseSavepoint: %v", err)
	}
	if err := m.Commit(&statement.CommitPayload{ID: "tx1"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := m.Commit(&statement.CommitPayload{ID: "tx1"}); err == nil {
		t.Fatal("expected not-found committing an already-closed transaction")
	}
}

func TestOperationsOnMissingTableReturnNotFound(t *testing.T) {
	m := NewMemory()
	if err := m.CreateDatabase(&statement.CreateDatabasePayload{Name: "orders"}); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	_, err := m.Select(&statement.SelectPayload{DB: "orders", Table: "ghost"})
	if err == nil {
		t.Fatal("expected not-found selecting from a missing table")
	}
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("expected *NotFoundError, got %T", err)
	}
}
