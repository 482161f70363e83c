// Package store defines the narrow synchronous boundary between the
// dispatcher and whatever actually holds data. Every method here corresponds
// to one statement type in the payload registry; a production engine swaps
// the in-memory Memory implementation for something durable without the
// dispatcher noticing.
package store

import (
	"fmt"
	"sync"

	"github.com/zenithdb/zenith/internal/statement"
)

// Storage is the full command surface a node exposes to its own dispatcher.
// Every method is synchronous and expected to return quickly; long-running
// work belongs behind a queue the caller builds on top of this interface,
// not inside an implementation of it.
type Storage interface {
	CreateDatabase(p *statement.CreateDatabasePayload) error
	DropDatabase(p *statement.DropDatabasePayload) error
	ShowDatabases(p *statement.ShowDatabasesPayload) (*statement.ShowDatabasesResult, error)

	CreateTable(p *statement.CreateTablePayload) error
	DropTable(p *statement.DropTablePayload) error
	AlterTable(p *statement.AlterTablePayload) error
	RenameTable(p *statement.RenameTablePayload) error
	TruncateTable(p *statement.TruncateTablePayload) error
	ShowTables(p *statement.ShowTablesPayload) (*statement.ShowTablesResult, error)
	DescribeTable(p *statement.DescribeTablePayload) (*statement.DescribeTableResult, error)

	CreateIndex(p *statement.CreateIndexPayload) error
	DropIndex(p *statement.DropIndexPayload) error
	ShowIndexes(p *statement.ShowIndexesPayload) (*statement.ShowIndexesResult, error)

	Insert(p *statement.InsertPayload) error
	Select(p *statement.SelectPayload) (*statement.SelectResult, error)
	Update(p *statement.UpdatePayload) (int, error)
	Delete(p *statement.DeletePayload) (int, error)
	BulkInsert(p *statement.BulkInsertPayload) (int, error)
	Upsert(p *statement.UpsertPayload) error

	BeginTransaction(p *statement.BeginTransactionPayload) error
	Commit(p *statement.CommitPayload) error
	Rollback(p *statement.RollbackPayload) error
	Savepoint(p *statement.SavepointPayload) error
	ReleaseSavepoint(p *statement.ReleaseSavepointPayload) error
}

// NotFoundError reports a missing database, table, index, transaction, or
// savepoint by name.
type NotFoundError struct {
	Kind string // "database", "table", "index", "transaction", "savepoint"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %q", e.Kind, e.Name)
}

// ConflictError reports an attempt to create something that already exists.
type ConflictError struct {
	Kind string
	Name string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists: %q", e.Kind, e.Name)
}

type table struct {
	columns []statement.ColumnDef
	indexes map[string]*statement.CreateIndexPayload
	rows    []statement.Row
}

type database struct {
	tables map[string]*table
}

type txn struct {
	savepoints map[string]struct{}
}

// Memory is a single-mutex, in-process Storage implementation. It favors
// correctness and readability over throughput — exactly the role the toy KV
// store played for the engine this protocol was lifted from, scaled up to
// the full statement surface.
type Memory struct {
	mu   sync.Mutex
	dbs  map[string]*database
	txns map[string]*txn
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		dbs:  make(map[string]*database),
		txns: make(map[string]*txn),
	}
}

func (m *Memory) CreateDatabase(p *statement.CreateDatabasePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dbs[p.Name]; ok {
		return &ConflictError{Kind: "database", Name: p.Name}
	}
	m.dbs[p.Name] = &database{tables: make(map[string]*table)}
	return nil
}

func (m *Memory) DropDatabase(p *statement.DropDatabasePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dbs[p.Name]; !ok {
		return &NotFoundError{Kind: "database", Name: p.Name}
	}
	delete(m.dbs, p.Name)
	return nil
}

func (m *Memory) ShowDatabases(_ *statement.ShowDatabasesPayload) (*statement.ShowDatabasesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.dbs))
	for name := range m.dbs {
		names = append(names, name)
	}
	return &statement.ShowDatabasesResult{Names: names}, nil
}

func (m *Memory) db(name string) (*database, error) {
	d, ok := m.dbs[name]
	if !ok {
		return nil, &NotFoundError{Kind: "database", Name: name}
	}
	return d, nil
}

func (m *Memory) CreateTable(p *statement.CreateTablePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return err
	}
	if _, ok := d.tables[p.Table]; ok {
		return &ConflictError{Kind: "table", Name: p.Table}
	}
	d.tables[p.Table] = &table{columns: p.Columns, indexes: make(map[string]*statement.CreateIndexPayload)}
	return nil
}

func (m *Memory) tableIn(d *database, name string) (*table, error) {
	t, ok := d.tables[name]
	if !ok {
		return nil, &NotFoundError{Kind: "table", Name: name}
	}
	return t, nil
}

func (m *Memory) DropTable(p *statement.DropTablePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return err
	}
	if _, err := m.tableIn(d, p.Table); err != nil {
		return err
	}
	delete(d.tables, p.Table)
	return nil
}

func (m *Memory) AlterTable(p *statement.AlterTablePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return err
	}
	_, err = m.tableIn(d, p.Table)
	return err
}

func (m *Memory) RenameTable(p *statement.RenameTablePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return err
	}
	t, err := m.tableIn(d, p.Old)
	if err != nil {
		return err
	}
	if _, ok := d.tables[p.New]; ok {
		return &ConflictError{Kind: "table", Name: p.New}
	}
	delete(d.tables, p.Old)
	d.tables[p.New] = t
	return nil
}

func (m *Memory) TruncateTable(p *statement.TruncateTablePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return err
	}
	t, err := m.tableIn(d, p.Table)
	if err != nil {
		return err
	}
	t.rows = nil
	return nil
}

func (m *Memory) ShowTables(p *statement.ShowTablesPayload) (*statement.ShowTablesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	return &statement.ShowTablesResult{Names: names}, nil
}

func (m *Memory) DescribeTable(p *statement.DescribeTablePayload) (*statement.DescribeTableResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return nil, err
	}
	t, err := m.tableIn(d, p.Table)
	if err != nil {
		return nil, err
	}
	return &statement.DescribeTableResult{Columns: t.columns}, nil
}

func (m *Memory) CreateIndex(p *statement.CreateIndexPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return err
	}
	t, err := m.tableIn(d, p.Table)
	if err != nil {
		return err
	}
	if _, ok := t.indexes[p.Name]; ok {
		return &ConflictError{Kind: "index", Name: p.Name}
	}
	t.indexes[p.Name] = p
	return nil
}

func (m *Memory) DropIndex(p *statement.DropIndexPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return err
	}
	t, err := m.tableIn(d, p.Table)
	if err != nil {
		return err
	}
	if _, ok := t.indexes[p.Name]; !ok {
		return &NotFoundError{Kind: "index", Name: p.Name}
	}
	delete(t.indexes, p.Name)
	return nil
}

func (m *Memory) ShowIndexes(p *statement.ShowIndexesPayload) (*statement.ShowIndexesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return nil, err
	}
	t, err := m.tableIn(d, p.Table)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(t.indexes))
	for name := range t.indexes {
		names = append(names, name)
	}
	return &statement.ShowIndexesResult{Names: names}, nil
}

func (m *Memory) Insert(p *statement.InsertPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return err
	}
	t, err := m.tableIn(d, p.Table)
	if err != nil {
		return err
	}
	t.rows = append(t.rows, p.Row)
	return nil
}

func (m *Memory) Select(p *statement.SelectPayload) (*statement.SelectResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return nil, err
	}
	t, err := m.tableIn(d, p.Table)
	if err != nil {
		return nil, err
	}
	out := make([]statement.Row, len(t.rows))
	copy(out, t.rows)
	return &statement.SelectResult{Rows: out}, nil
}

func (m *Memory) Update(p *statement.UpdatePayload) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return 0, err
	}
	t, err := m.tableIn(d, p.Table)
	if err != nil {
		return 0, err
	}
	for i := range t.rows {
		for k, v := range p.Row {
			t.rows[i][k] = v
		}
	}
	return len(t.rows), nil
}

func (m *Memory) Delete(p *statement.DeletePayload) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return 0, err
	}
	t, err := m.tableIn(d, p.Table)
	if err != nil {
		return 0, err
	}
	n := len(t.rows)
	t.rows = nil
	return n, nil
}

func (m *Memory) BulkInsert(p *statement.BulkInsertPayload) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return 0, err
	}
	t, err := m.tableIn(d, p.Table)
	if err != nil {
		return 0, err
	}
	for _, values := range p.Rows {
		row := make(statement.Row, len(p.Columns))
		for i, col := range p.Columns {
			if i < len(values) {
				row[col] = values[i]
			}
		}
		t.rows = append(t.rows, row)
	}
	return len(p.Rows), nil
}

func (m *Memory) Upsert(p *statement.UpsertPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(p.DB)
	if err != nil {
		return err
	}
	t, err := m.tableIn(d, p.Table)
	if err != nil {
		return err
	}
	t.rows = append(t.rows, p.Row)
	return nil
}

func (m *Memory) BeginTransaction(p *statement.BeginTransactionPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txns[p.ID]; ok {
		return &ConflictError{Kind: "transaction", Name: p.ID}
	}
	m.txns[p.ID] = &txn{savepoints: make(map[string]struct{})}
	return nil
}

func (m *Memory) txnFor(id string) (*txn, error) {
	tx, ok := m.txns[id]
	if !ok {
		return nil, &NotFoundError{Kind: "transaction", Name: id}
	}
	return tx, nil
}

func (m *Memory) Commit(p *statement.CommitPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.txnFor(p.ID); err != nil {
		return err
	}
	delete(m.txns, p.ID)
	return nil
}

func (m *Memory) Rollback(p *statement.RollbackPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.txnFor(p.ID); err != nil {
		return err
	}
	delete(m.txns, p.ID)
	return nil
}

func (m *Memory) Savepoint(p *statement.SavepointPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.txnFor(p.ID)
	if err != nil {
		return err
	}
	tx.savepoints[p.Name] = struct{}{}
	return nil
}

func (m *Memory) ReleaseSavepoint(p *statement.ReleaseSavepointPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.txnFor(p.ID)
	if err != nil {
		return err
	}
	if _, ok := tx.savepoints[p.Name]; !ok {
		return &NotFoundError{Kind: "savepoint", Name: p.Name}
	}
	delete(tx.savepoints, p.Name)
	return nil
}

var _ Storage = (*Memory)(nil)
