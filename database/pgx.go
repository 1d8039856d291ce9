package database

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Konsultn-Engineering/rowbind/schema"
)

// PgxConn is the part of pgxpool.Pool, pgx.Conn and pgx.Tx used by
// PgxDatabase.
type PgxConn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgxDatabase implements Database on top of pgx. Commands are sent with
// pgx.NamedArgs, so parameters are written as @name in the text.
type PgxDatabase struct {
	conn PgxConn
}

func NewPgxDatabase(pool *pgxpool.Pool) *PgxDatabase {
	return &PgxDatabase{conn: pool}
}

// NewPgxDatabaseFrom wraps any pgx connection, pool or transaction.
func NewPgxDatabaseFrom(conn PgxConn) *PgxDatabase {
	return &PgxDatabase{conn: conn}
}

func (p *PgxDatabase) Query(ctx context.Context, query string, args ...any) (Cursor, error) {
	rows, err := p.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return NewPgxCursor(rows), nil
}

func (p *PgxDatabase) Execute(ctx context.Context, cmd *Command) error {
	args := pgx.NamedArgs{}
	for _, param := range cmd.Inputs() {
		args[param.Name] = argValue(param)
	}

	if !cmd.HasOutputs() {
		if _, err := p.conn.Exec(ctx, cmd.Text, args); err != nil {
			return err
		}
		return cmd.Complete(nil)
	}

	rows, err := p.conn.Query(ctx, cmd.Text, args)
	if err != nil {
		return err
	}
	outputs, err := firstRow(NewPgxCursor(rows))
	if err != nil {
		return err
	}
	return cmd.Complete(outputs)
}

func (p *PgxDatabase) PingContext(ctx context.Context) error {
	if pinger, ok := p.conn.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// Close closes a pool. Connections and transactions are left to their owner.
func (p *PgxDatabase) Close() error {
	if pool, ok := p.conn.(*pgxpool.Pool); ok {
		pool.Close()
	}
	return nil
}

// pgTypes resolves OIDs of the built-in PostgreSQL types to their names.
var pgTypes = pgtype.NewMap()

// pgGoTypes holds the Go type pgx.Rows.Values produces for each OID.
var pgGoTypes = map[uint32]reflect.Type{
	pgtype.BoolOID:        reflect.TypeFor[bool](),
	pgtype.Int2OID:        reflect.TypeFor[int16](),
	pgtype.Int4OID:        reflect.TypeFor[int32](),
	pgtype.Int8OID:        reflect.TypeFor[int64](),
	pgtype.Float4OID:      reflect.TypeFor[float32](),
	pgtype.Float8OID:      reflect.TypeFor[float64](),
	pgtype.TextOID:        reflect.TypeFor[string](),
	pgtype.VarcharOID:     reflect.TypeFor[string](),
	pgtype.BPCharOID:      reflect.TypeFor[string](),
	pgtype.NameOID:        reflect.TypeFor[string](),
	pgtype.ByteaOID:       reflect.TypeFor[[]byte](),
	pgtype.UUIDOID:        reflect.TypeFor[[16]byte](),
	pgtype.DateOID:        reflect.TypeFor[time.Time](),
	pgtype.TimestampOID:   reflect.TypeFor[time.Time](),
	pgtype.TimestamptzOID: reflect.TypeFor[time.Time](),
	pgtype.TimeOID:        reflect.TypeFor[pgtype.Time](),
	pgtype.NumericOID:     reflect.TypeFor[pgtype.Numeric](),
}

// PgxCursor implements Cursor for pgx.Rows.
type PgxCursor struct {
	rows   pgx.Rows
	fields []schema.FieldDescriptor
	values []any
	err    error
}

func NewPgxCursor(rows pgx.Rows) *PgxCursor {
	fds := rows.FieldDescriptions()
	c := &PgxCursor{rows: rows, fields: make([]schema.FieldDescriptor, len(fds))}
	for i, fd := range fds {
		c.fields[i] = describePgField(i, fd)
	}
	return c
}

func describePgField(i int, fd pgconn.FieldDescription) schema.FieldDescriptor {
	f := schema.FieldDescriptor{
		Name:      fd.Name,
		Ordinal:   i,
		Direction: schema.DirOutput,
		Type:      pgGoTypes[fd.DataTypeOID],
	}
	if t, ok := pgTypes.TypeForOID(fd.DataTypeOID); ok {
		f.RawType = strings.ToUpper(t.Name)
	}
	if f.Type == nil && f.RawType != "" {
		f.Type = schema.GoTypeForRaw(f.RawType)
	}

	// Type modifiers carry a 4 byte header.
	if mod := fd.TypeModifier - 4; mod >= 0 {
		switch fd.DataTypeOID {
		case pgtype.NumericOID:
			f.Precision = int(mod>>16) & 0xffff
			f.Scale = int(mod) & 0xffff
		case pgtype.VarcharOID, pgtype.BPCharOID:
			f.Size = int(mod)
		}
	}
	return f
}

func (c *PgxCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	c.values, c.err = c.rows.Values()
	return c.err == nil
}

func (c *PgxCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *PgxCursor) Close() error {
	c.rows.Close()
	return c.rows.Err()
}

func (c *PgxCursor) Fields() []schema.FieldDescriptor { return c.fields }

func (c *PgxCursor) Len() int { return len(c.fields) }

func (c *PgxCursor) IsNull(i int) bool { return c.values[i] == nil }

func (c *PgxCursor) Value(i int) any { return c.values[i] }

func (c *PgxCursor) DeclaredType(i int) reflect.Type { return c.fields[i].Type }

var (
	_ Database = (*PgxDatabase)(nil)
	_ Cursor   = (*PgxCursor)(nil)
)
