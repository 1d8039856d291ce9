package database

import (
	"context"
	"database/sql/driver"
	"reflect"

	"github.com/Konsultn-Engineering/rowbind/schema"
)

// RowCursor exposes the current row of a result set by ordinal.
type RowCursor interface {
	Fields() []schema.FieldDescriptor
	Len() int
	IsNull(i int) bool
	Value(i int) any
	DeclaredType(i int) reflect.Type
}

// Cursor is a forward-only RowCursor over a result set.
type Cursor interface {
	RowCursor
	Next() bool
	Err() error
	Close() error
}

// Parameter is one bound statement slot. DBType empty means the provider
// infers the type from the value.
type Parameter struct {
	Name      string
	Value     any
	DBType    string
	Size      int
	Precision int
	Scale     int
	Direction schema.Direction
}

// Statement receives bound parameters and, after execution, hands back the
// values of output parameters.
type Statement interface {
	Bind(p Parameter) error
	ReadBack(name string) (any, error)
	AfterExecute(fn func(Statement) error)
}

// Database runs commands and queries for one provider.
type Database interface {
	Query(ctx context.Context, query string, args ...any) (Cursor, error)
	Execute(ctx context.Context, cmd *Command) error
	PingContext(ctx context.Context) error
	Close() error
}

type dbNull struct{}

// DBNull is bound in place of a missing value. It is distinct from an unset
// parameter and encodes as SQL NULL.
var DBNull driver.Valuer = dbNull{}

func (dbNull) Value() (driver.Value, error) { return nil, nil }
func (dbNull) String() string               { return "DBNull" }

// IsDBNull reports whether v is the DBNull sentinel or nil.
func IsDBNull(v any) bool {
	if v == nil {
		return true
	}
	_, ok := v.(dbNull)
	return ok
}
