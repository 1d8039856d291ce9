// Package handler defines the user hooks consulted by compiled pipelines:
// value handlers own the conversion of one member, class handlers see a
// whole object after it is read or before it is written.
package handler

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/Konsultn-Engineering/rowbind/database"
	"github.com/Konsultn-Engineering/rowbind/schema"
)

// Context describes the slot a handler is working on.
type Context struct {
	Field  schema.FieldDescriptor
	Fields []schema.FieldDescriptor // full shape of the row or parameter set
	Member *schema.ClassMember      // nil for plain and map-like targets

	// Null is set when a read sees NULL. The handler may return a default.
	Null bool
}

// ValueHandler converts between a storage type S and a member type M.
type ValueHandler[S, M any] interface {
	Read(value S, ctx *Context) (M, error)
	Write(value M, ctx *Context) (S, error)
}

// ClassHandler post-processes whole objects. Read runs after every member is
// set and may return a replacement; Write runs before any parameter is bound.
type ClassHandler[T any] interface {
	Read(obj *T, ctx *Context) (*T, error)
	Write(stmt database.Statement, obj *T) (*T, error)
}

// ErrNoFunc is returned by a Func missing the requested direction.
var ErrNoFunc = errors.New("handler: direction not implemented")

// Func adapts plain functions to a ValueHandler. A nil direction fails with
// ErrNoFunc.
type Func[S, M any] struct {
	ReadFunc  func(S, *Context) (M, error)
	WriteFunc func(M, *Context) (S, error)
}

func (f Func[S, M]) Read(v S, ctx *Context) (M, error) {
	if f.ReadFunc == nil {
		var zero M
		return zero, ErrNoFunc
	}
	return f.ReadFunc(v, ctx)
}

func (f Func[S, M]) Write(v M, ctx *Context) (S, error) {
	if f.WriteFunc == nil {
		var zero S
		return zero, ErrNoFunc
	}
	return f.WriteFunc(v, ctx)
}

// Value is a ValueHandler with its type parameters erased, as captured by
// compiled pipelines.
type Value interface {
	StorageType() reflect.Type
	MemberType() reflect.Type
	// ReadValue takes a value of StorageType, or an invalid Value when
	// ctx.Null is set, and returns a value of MemberType.
	ReadValue(raw reflect.Value, ctx *Context) (reflect.Value, error)
	WriteValue(member reflect.Value, ctx *Context) (any, error)
}

// Class is a ClassHandler with its type parameter erased.
type Class interface {
	Type() reflect.Type
	// ReadInstance takes and returns a *T.
	ReadInstance(obj reflect.Value, ctx *Context) (reflect.Value, error)
	WriteInstance(stmt database.Statement, obj reflect.Value) (reflect.Value, error)
}

// ValueOf erases h.
func ValueOf[S, M any](h ValueHandler[S, M]) Value {
	return erasedValue[S, M]{h: h}
}

// ClassOf erases h.
func ClassOf[T any](h ClassHandler[T]) Class {
	return erasedClass[T]{h: h}
}

type erasedValue[S, M any] struct{ h ValueHandler[S, M] }

func (e erasedValue[S, M]) StorageType() reflect.Type { return reflect.TypeFor[S]() }

func (e erasedValue[S, M]) MemberType() reflect.Type { return reflect.TypeFor[M]() }

func (e erasedValue[S, M]) ReadValue(raw reflect.Value, ctx *Context) (reflect.Value, error) {
	var s S
	if raw.IsValid() {
		v, ok := raw.Interface().(S)
		if !ok {
			return reflect.Value{}, fmt.Errorf("handler: read got %s, want %s", raw.Type(), e.StorageType())
		}
		s = v
	}
	m, err := e.h.Read(s, ctx)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(e.MemberType()).Elem()
	out.Set(reflect.ValueOf(&m).Elem())
	return out, nil
}

func (e erasedValue[S, M]) WriteValue(member reflect.Value, ctx *Context) (any, error) {
	m, ok := member.Interface().(M)
	if !ok {
		return nil, fmt.Errorf("handler: write got %s, want %s", member.Type(), e.MemberType())
	}
	return e.h.Write(m, ctx)
}

type erasedClass[T any] struct{ h ClassHandler[T] }

func (e erasedClass[T]) Type() reflect.Type { return reflect.TypeFor[T]() }

func (e erasedClass[T]) ReadInstance(obj reflect.Value, ctx *Context) (reflect.Value, error) {
	out, err := e.h.Read(obj.Interface().(*T), ctx)
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(out), nil
}

func (e erasedClass[T]) WriteInstance(stmt database.Statement, obj reflect.Value) (reflect.Value, error) {
	out, err := e.h.Write(stmt, obj.Interface().(*T))
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(out), nil
}
