package rowbind

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/Konsultn-Engineering/rowbind/database"
	"github.com/Konsultn-Engineering/rowbind/schema"
)

func mapperOrDefault(m *Mapper) *Mapper {
	if m == nil {
		return Default()
	}
	return m
}

// Scan maps the current row of cur into a T. A nil Mapper means Default().
func Scan[T any](m *Mapper, cur database.RowCursor) (T, error) {
	var zero T
	r, err := mapperOrDefault(m).CompileReader(reflect.TypeFor[T](), cur.Fields())
	if err != nil {
		return zero, err
	}
	v, err := r.Read(cur)
	if err != nil {
		return zero, err
	}
	return v.Interface().(T), nil
}

// ScanAll maps every remaining row of cur. The cursor is not closed.
func ScanAll[T any](m *Mapper, cur database.Cursor) ([]T, error) {
	r, err := mapperOrDefault(m).CompileReader(reflect.TypeFor[T](), cur.Fields())
	if err != nil {
		return nil, err
	}

	var out []T
	for cur.Next() {
		v, err := r.Read(cur)
		if err != nil {
			return nil, err
		}
		out = append(out, v.Interface().(T))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Bind binds items to stmt using the parameter set fields. More than one item
// binds a batch whose parameter names carry a _<index> suffix after the first.
func Bind[T any](m *Mapper, stmt database.Statement, fields []schema.FieldDescriptor, items ...*T) error {
	if len(items) == 0 {
		return fmt.Errorf("rowbind: bind of no %s values", reflect.TypeFor[T]())
	}
	w, err := mapperOrDefault(m).CompileWriter(reflect.TypeFor[T](), fields, len(items))
	if err != nil {
		return err
	}
	return w.Write(stmt, items)
}

// WriteFields derives the parameter set of T from its struct tags. Identity
// members are output fields read back after execution.
func WriteFields[T any](m *Mapper) ([]schema.FieldDescriptor, error) {
	return mapperOrDefault(m).WriteFields(reflect.TypeFor[T]())
}

// Query runs query on db and maps every row into a T.
func Query[T any](ctx context.Context, m *Mapper, db database.Database, query string, args ...any) (out []T, err error) {
	cur, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, cur.Close()) }()
	return ScanAll[T](m, cur)
}

// Exec binds items to a new command for text and runs it on db. Output
// fields are stored back into items after execution.
func Exec[T any](ctx context.Context, m *Mapper, db database.Database, text string, fields []schema.FieldDescriptor, items ...*T) error {
	cmd := database.NewCommand(text)
	if err := Bind(m, cmd, fields, items...); err != nil {
		return err
	}
	return db.Execute(ctx, cmd)
}
