package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypeSQL      Type = "SQL"
	TypeCustom   Type = "CUSTOM"
	TypeBaseline Type = "BASELINE"
	TypeInit     Type = "INIT"
	TypeSchema   Type = "SCHEMA"
	TypeUndo     Type = "UNDO"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeSQL, TypeCustom, TypeBaseline, TypeInit, TypeSchema, TypeUndo:
		return t, nil
	}

	return "", fmt.Errorf("unknown migration type %q", s)
}

// IsSynthetic reports types written by the engine itself rather than by a script.
// They are never checked for drift.
func (t Type) IsSynthetic() bool {
	return t == TypeBaseline || t == TypeInit || t == TypeSchema
}

func (t Type) IsBaseline() bool {
	return t == TypeBaseline || t == TypeInit
}

// ---

// Conn is the subset of *sql.DB, *sql.Conn and *sql.Tx that migrations run against.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

type Executor interface {
	Execute(ctx context.Context, conn Conn) error
	// CanExecuteInTransaction is false for migrations containing statements
	// a database refuses to run inside a transaction.
	CanExecuteInTransaction() bool
}

// ExecutorFunc adapts a plain function to a transactional Executor.
type ExecutorFunc func(ctx context.Context, conn Conn) error

func (f ExecutorFunc) Execute(ctx context.Context, conn Conn) error {
	return f(ctx, conn)
}

func (f ExecutorFunc) CanExecuteInTransaction() bool {
	return true
}

// ---

// Resolved is a migration found in a source. A zero Version marks it repeatable.
type Resolved struct {
	Version          Version
	Description      string
	Script           string
	Type             Type
	Checksum         *int32
	PhysicalLocation string
	Executor         Executor
}

func (m *Resolved) IsRepeatable() bool {
	return m.Version.IsZero()
}

func (m *Resolved) CanExecuteInTransaction() bool {
	return m.Executor == nil || m.Executor.CanExecuteInTransaction()
}

// Key is the identity used for duplicate detection: the version, or the
// description for repeatable migrations.
func (m *Resolved) Key() string {
	if m.IsRepeatable() {
		return "R:" + m.Description
	}

	return "V:" + m.Version.Canonical()
}

// ---

// Applied is one row of the schema history table.
type Applied struct {
	InstalledRank int
	Version       Version
	Description   string
	Type          Type
	Script        string
	Checksum      *int32
	InstalledBy   string
	InstalledOn   time.Time
	ExecutionTime int
	Success       bool
}

func (m *Applied) IsRepeatable() bool {
	return m.Version.IsZero()
}

// ---

func Checksum(v int32) *int32 {
	return &v
}

func ChecksumsEqual(a, b *int32) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return *a == *b
}

func FormatChecksum(c *int32) string {
	if c == nil {
		return ""
	}

	return fmt.Sprintf("%d", *c)
}
