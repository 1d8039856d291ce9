package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var errorType = reflect.TypeFor[error]()

// ConstructorParam is one named argument of a registered constructor.
type ConstructorParam struct {
	Name     string
	Type     reflect.Type
	Optional bool
}

// Constructor is a registered factory for a target type.
type Constructor struct {
	Fn         reflect.Value
	Params     []ConstructorParam
	ReturnsPtr bool
	ReturnsErr bool
}

// Call invokes the constructor and returns a *T.
func (c *Constructor) Call(args []reflect.Value) (reflect.Value, error) {
	out := c.Fn.Call(args)
	if c.ReturnsErr {
		if err, _ := out[1].Interface().(error); err != nil {
			return reflect.Value{}, err
		}
	}
	res := out[0]
	if c.ReturnsPtr {
		if res.IsNil() {
			return reflect.Value{}, errors.New("schema: constructor returned nil")
		}
		return res, nil
	}
	ptr := reflect.New(res.Type())
	ptr.Elem().Set(res)
	return ptr, nil
}

var constructors struct {
	sync.RWMutex
	byType map[reflect.Type][]*Constructor
}

// RegisterConstructor records fn as a factory for T. fn must return T or *T,
// optionally followed by an error. params names each argument in order; a
// trailing "?" marks the argument optional, so it receives its zero value when
// the result set has no matching column.
//
//	schema.RegisterConstructor[Point](NewPoint, "x", "y", "label?")
func RegisterConstructor[T any](fn any, params ...string) error {
	t := reflect.TypeFor[T]()
	if _, seen := described.Load(t); seen {
		return fmt.Errorf("schema: constructor for %s registered after first use", t)
	}

	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return fmt.Errorf("schema: constructor for %s must be a func, got %s", t, ft)
	}
	if ft.IsVariadic() {
		return fmt.Errorf("schema: constructor for %s must not be variadic", t)
	}
	if ft.NumIn() != len(params) {
		return fmt.Errorf("schema: constructor for %s takes %d args, %d names given", t, ft.NumIn(), len(params))
	}

	ctor := &Constructor{Fn: fv}
	switch {
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
		ctor.ReturnsErr = true
	case ft.NumOut() != 1:
		return fmt.Errorf("schema: constructor for %s must return %s[, error]", t, t)
	}
	switch ft.Out(0) {
	case t:
	case reflect.PointerTo(t):
		ctor.ReturnsPtr = true
	default:
		return fmt.Errorf("schema: constructor for %s returns %s", t, ft.Out(0))
	}

	for i, name := range params {
		p := ConstructorParam{Name: name, Type: ft.In(i)}
		if strings.HasSuffix(name, "?") {
			p.Name = strings.TrimSuffix(name, "?")
			p.Optional = true
		}
		if p.Name == "" {
			return fmt.Errorf("schema: constructor for %s has an unnamed parameter %d", t, i)
		}
		ctor.Params = append(ctor.Params, p)
	}

	constructors.Lock()
	defer constructors.Unlock()
	if constructors.byType == nil {
		constructors.byType = make(map[reflect.Type][]*Constructor)
	}
	constructors.byType[t] = append(constructors.byType[t], ctor)
	return nil
}

func constructorsFor(t reflect.Type) []*Constructor {
	constructors.RLock()
	defer constructors.RUnlock()
	return append([]*Constructor(nil), constructors.byType[t]...)
}
