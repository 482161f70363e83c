// Package msgtype defines the stable numeric message-type registry shared by
// every node in the cluster. The tag groups (1/10/20/30/40/50/90/255) are part
// of the wire contract — do not renumber existing entries.
package msgtype

// Type is the 32-bit message-type tag carried in every frame header.
type Type uint32

const (
	// Database management
	CreateDatabase Type = 1
	DropDatabase   Type = 2
	ShowDatabases  Type = 3

	// Table operations
	CreateTable    Type = 10
	DropTable      Type = 11
	AlterTable     Type = 12
	RenameTable    Type = 13
	TruncateTable  Type = 14
	ShowTables     Type = 15
	DescribeTable  Type = 16

	// Index operations
	CreateIndex Type = 20
	DropIndex   Type = 21
	ShowIndexes Type = 22

	// Data operations
	Insert     Type = 30
	Select     Type = 31
	Update     Type = 32
	Delete     Type = 33
	BulkInsert Type = 34
	Upsert     Type = 35

	// Transaction management
	BeginTransaction Type = 40
	Commit           Type = 41
	Rollback         Type = 42
	Savepoint        Type = 43
	ReleaseSavepoint Type = 44

	// Authentication
	Login Type = 50

	// Utility
	Ping           Type = 90
	Pong           Type = 91
	Greeting       Type = 92
	Welcome        Type = 93
	UnknownCommand Type = 255
)

var names = map[Type]string{
	CreateDatabase:   "CreateDatabase",
	DropDatabase:     "DropDatabase",
	ShowDatabases:    "ShowDatabases",
	CreateTable:      "CreateTable",
	DropTable:        "DropTable",
	AlterTable:       "AlterTable",
	RenameTable:      "RenameTable",
	TruncateTable:    "TruncateTable",
	ShowTables:       "ShowTables",
	DescribeTable:    "DescribeTable",
	CreateIndex:      "CreateIndex",
	DropIndex:        "DropIndex",
	ShowIndexes:      "ShowIndexes",
	Insert:           "Insert",
	Select:           "Select",
	Update:           "Update",
	Delete:           "Delete",
	BulkInsert:       "BulkInsert",
	Upsert:           "Upsert",
	BeginTransaction: "BeginTransaction",
	Commit:           "Commit",
	Rollback:         "Rollback",
	Savepoint:        "Savepoint",
	ReleaseSavepoint: "ReleaseSavepoint",
	Login:            "Login",
	Ping:             "Ping",
	Pong:             "Pong",
	Greeting:         "Greeting",
	Welcome:          "Welcome",
	UnknownCommand:   "UnknownCommand",
}

// String returns the registry name for t, or "UnknownCommand" if t is not
// a recognized tag — unknown type ids always map to UnknownCommand.
func (t Type) String() string {
	if name, ok := names[t]; ok {
		return name
	}
	return "UnknownCommand"
}

// FromUint32 maps a wire tag to its Type, normalizing unknown ids to
// UnknownCommand per the registry's exhaustiveness rule.
func FromUint32(id uint32) Type {
	t := Type(id)
	if _, ok := names[t]; ok {
		return t
	}
	return UnknownCommand
}

// Known reports whether t is a member of the exhaustive registry.
func (t Type) Known() bool {
	_, ok := names[t]
	return ok
}
