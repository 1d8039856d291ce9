package database

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"reflect"

	"github.com/Konsultn-Engineering/rowbind/cache"
	"github.com/Konsultn-Engineering/rowbind/schema"
)

// SqlDatabase implements Database for *sql.DB. Statements are prepared once
// and kept in an LRU cache.
type SqlDatabase struct {
	db    *sql.DB
	stmts *cache.StatementCache
}

// NewSqlDatabase wraps db, caching up to cacheSize prepared statements.
func NewSqlDatabase(db *sql.DB, cacheSize int) (*SqlDatabase, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	stmts, err := cache.NewStatementCache(cacheSize)
	if err != nil {
		return nil, err
	}
	return &SqlDatabase{db: db, stmts: stmts}, nil
}

// Query runs a query and returns a cursor over its rows.
func (s *SqlDatabase) Query(ctx context.Context, query string, args ...any) (Cursor, error) {
	stmt, err := s.stmts.GetOrPrepare(ctx, s.db, query)
	if err != nil {
		return nil, fmt.Errorf("database: prepare: %w", err)
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	return NewSQLCursor(rows)
}

// Execute runs cmd with its input parameters as sql.Named arguments. When the
// command has output parameters its first result row supplies them, so the
// text is expected to carry a RETURNING (or OUTPUT) clause.
func (s *SqlDatabase) Execute(ctx context.Context, cmd *Command) error {
	inputs := cmd.Inputs()
	args := make([]any, len(inputs))
	for i, p := range inputs {
		args[i] = sql.Named(p.Name, argValue(p))
	}

	stmt, err := s.stmts.GetOrPrepare(ctx, s.db, cmd.Text)
	if err != nil {
		return fmt.Errorf("database: prepare: %w", err)
	}
	if !cmd.HasOutputs() {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
		return cmd.Complete(nil)
	}

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return err
	}
	cur, err := NewSQLCursor(rows)
	if err != nil {
		return err
	}
	outputs, err := firstRow(cur)
	if err != nil {
		return err
	}
	return cmd.Complete(outputs)
}

func (s *SqlDatabase) PingContext(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases cached statements and closes the database.
func (s *SqlDatabase) Close() error {
	_ = s.stmts.Close()
	return s.db.Close()
}

// SQLCursor implements Cursor for *sql.Rows. Field types come from the
// driver's scan types with sql.Null wrappers removed, falling back to the
// declared database type name.
type SQLCursor struct {
	rows   *sql.Rows
	fields []schema.FieldDescriptor
	values []any
	dest   []any
	err    error
}

func NewSQLCursor(rows *sql.Rows) (*SQLCursor, error) {
	cols, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		return nil, err
	}

	c := &SQLCursor{
		rows:   rows,
		fields: make([]schema.FieldDescriptor, len(cols)),
		values: make([]any, len(cols)),
		dest:   make([]any, len(cols)),
	}
	for i, ct := range cols {
		c.fields[i] = describeColumn(i, ct)
		c.dest[i] = &c.values[i]
	}
	return c, nil
}

var rawBytesType = reflect.TypeFor[sql.RawBytes]()

func describeColumn(i int, ct *sql.ColumnType) schema.FieldDescriptor {
	f := schema.FieldDescriptor{
		Name:      ct.Name(),
		Ordinal:   i,
		Direction: schema.DirOutput,
		RawType:   ct.DatabaseTypeName(),
	}
	if nullable, ok := ct.Nullable(); ok {
		f.Nullable = schema.NullNo
		if nullable {
			f.Nullable = schema.NullYes
		}
	}
	if n, ok := ct.Length(); ok && n > 0 && n < math.MaxInt32 {
		f.Size = int(n)
	}
	if p, s, ok := ct.DecimalSize(); ok {
		f.Precision, f.Scale = int(p), int(s)
	}

	if st := ct.ScanType(); st != nil {
		elem, _ := schema.NullableElem(st)
		if elem.Kind() != reflect.Interface && elem != rawBytesType {
			f.Type = elem
		}
	}
	if f.Type == nil {
		f.Type = schema.GoTypeForRaw(f.RawType)
	}
	return f
}

func (c *SQLCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	clear(c.values)
	if err := c.rows.Scan(c.dest...); err != nil {
		c.err = err
		return false
	}
	return true
}

func (c *SQLCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *SQLCursor) Close() error { return c.rows.Close() }

func (c *SQLCursor) Fields() []schema.FieldDescriptor { return c.fields }

func (c *SQLCursor) Len() int { return len(c.fields) }

func (c *SQLCursor) IsNull(i int) bool { return c.values[i] == nil }

func (c *SQLCursor) Value(i int) any { return c.values[i] }

func (c *SQLCursor) DeclaredType(i int) reflect.Type { return c.fields[i].Type }

// firstRow drains cur and returns its first row keyed by column name.
func firstRow(cur Cursor) (map[string]any, error) {
	defer cur.Close()
	outputs := make(map[string]any, cur.Len())
	if cur.Next() {
		for i, f := range cur.Fields() {
			outputs[f.Name] = cur.Value(i)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return outputs, cur.Close()
}

var (
	_ Database = (*SqlDatabase)(nil)
	_ Cursor   = (*SQLCursor)(nil)
)
