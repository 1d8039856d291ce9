// Package databasetest provides in-memory cursors and databases for tests.
package databasetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/Konsultn-Engineering/rowbind/database"
	"github.com/Konsultn-Engineering/rowbind/schema"
)

// Field builds a nullable result-set field of Go type T.
func Field[T any](name string) schema.FieldDescriptor {
	return schema.FieldDescriptor{
		Name:      name,
		Type:      reflect.TypeFor[T](),
		Nullable:  schema.NullYes,
		Direction: schema.DirOutput,
	}
}

// Untyped builds a field whose provider did not report a type.
func Untyped(name string) schema.FieldDescriptor {
	return schema.FieldDescriptor{Name: name, Direction: schema.DirOutput}
}

// NotNull marks f as declared NOT NULL.
func NotNull(f schema.FieldDescriptor) schema.FieldDescriptor {
	f.Nullable = schema.NullNo
	return f
}

// Raw sets the provider type name of f.
func Raw(f schema.FieldDescriptor, raw string) schema.FieldDescriptor {
	f.RawType = raw
	return f
}

// Param turns f into a write-set field bound by name.
func Param(f schema.FieldDescriptor) schema.FieldDescriptor {
	f.Ordinal = -1
	f.Direction = schema.DirInput
	return f
}

// Output turns f into a write-set field read back after execution.
func Output(f schema.FieldDescriptor) schema.FieldDescriptor {
	f.Ordinal = -1
	f.Direction = schema.DirOutput
	return f
}

// Cursor is a database.Cursor over rows held in memory.
type Cursor struct {
	fields []schema.FieldDescriptor
	rows   [][]any
	pos    int
	err    error
	closed bool
}

// NewCursor returns a cursor over rows. Field ordinals are assigned from
// their position.
func NewCursor(fields []schema.FieldDescriptor, rows ...[]any) *Cursor {
	fs := make([]schema.FieldDescriptor, len(fields))
	for i, f := range fields {
		f.Ordinal = i
		fs[i] = f
	}
	return &Cursor{fields: fs, rows: rows, pos: -1}
}

// FailWith makes the cursor report err once its rows are exhausted.
func (c *Cursor) FailWith(err error) *Cursor {
	c.err = err
	return c
}

func (c *Cursor) Next() bool {
	if c.closed || c.pos+1 >= len(c.rows) {
		return false
	}
	c.pos++
	return true
}

// Err reports the configured failure after the last row.
func (c *Cursor) Err() error {
	if c.pos+1 >= len(c.rows) {
		return c.err
	}
	return nil
}

func (c *Cursor) Close() error {
	c.closed = true
	return nil
}

func (c *Cursor) Closed() bool { return c.closed }

func (c *Cursor) Fields() []schema.FieldDescriptor { return c.fields }

func (c *Cursor) Len() int { return len(c.fields) }

func (c *Cursor) IsNull(i int) bool { return c.Value(i) == nil }

func (c *Cursor) Value(i int) any {
	row := c.rows[c.pos]
	if i >= len(row) {
		return nil
	}
	return row[i]
}

func (c *Cursor) DeclaredType(i int) reflect.Type { return c.fields[i].Type }

// Database records executed commands and serves canned cursors by query text.
type Database struct {
	mu       sync.Mutex
	cursors  map[string]*Cursor
	outputs  []map[string]any
	Executed []*database.Command
}

func NewDatabase() *Database {
	return &Database{cursors: make(map[string]*Cursor)}
}

// OnQuery registers the cursor returned for query.
func (d *Database) OnQuery(query string, c *Cursor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursors[query] = c
}

// ReturnOutputs queues output values handed to the next executed command.
func (d *Database) ReturnOutputs(outputs map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outputs = append(d.outputs, outputs)
}

func (d *Database) Query(_ context.Context, query string, _ ...any) (database.Cursor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cursors[query]
	if !ok {
		return nil, fmt.Errorf("databasetest: no cursor for %q", query)
	}
	return c, nil
}

func (d *Database) Execute(_ context.Context, cmd *database.Command) error {
	d.mu.Lock()
	d.Executed = append(d.Executed, cmd)
	var outputs map[string]any
	if len(d.outputs) > 0 {
		outputs, d.outputs = d.outputs[0], d.outputs[1:]
	}
	d.mu.Unlock()
	return cmd.Complete(outputs)
}

func (d *Database) PingContext(context.Context) error { return nil }

func (d *Database) Close() error { return nil }

// ErrBroken is a ready-made failure for FailWith.
var ErrBroken = errors.New("databasetest: broken cursor")

var (
	_ database.Cursor   = (*Cursor)(nil)
	_ database.Database = (*Database)(nil)
)
