package handler

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/Konsultn-Engineering/rowbind/schema"
)

type memberKey struct {
	owner  reflect.Type
	member string
}

// Registry holds value handlers by member type, by (owner type, member) and
// by the name used in a handler:<name> tag option, plus class handlers by
// type. Registration is expected before the first pipeline that could use a
// handler is compiled; pipelines capture what they found at compile time.
type Registry struct {
	mu       sync.RWMutex
	byType   map[reflect.Type]Value
	byMember map[memberKey]Value
	byName   map[string]Value
	classes  map[reflect.Type]Class
}

func NewRegistry() *Registry {
	return &Registry{
		byType:   make(map[reflect.Type]Value),
		byMember: make(map[memberKey]Value),
		byName:   make(map[string]Value),
		classes:  make(map[reflect.Type]Class),
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// RegisterType makes h the handler for every member of type M.
func RegisterType[S, M any](r *Registry, h ValueHandler[S, M]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[reflect.TypeFor[M]()] = ValueOf(h)
}

// RegisterMember makes h the handler for one member of T, named by Go field
// name or by the column name the default schema context derives.
func RegisterMember[T, S, M any](r *Registry, member string, h ValueHandler[S, M]) error {
	return RegisterMemberIn[T, S, M](r, schema.Default(), member, h)
}

// RegisterMemberIn is RegisterMember resolving column names through sc, for
// mappers built with their own tag name or naming strategy. The registration
// is keyed by Go field name and applies under every context.
func RegisterMemberIn[T, S, M any](r *Registry, sc *schema.Context, member string, h ValueHandler[S, M]) error {
	owner := reflect.TypeFor[T]()
	if owner.Kind() != reflect.Struct {
		return fmt.Errorf("handler: %s is not a struct", owner)
	}
	d, err := sc.Describe(owner)
	if err != nil {
		return err
	}
	m := d.Member(member)
	if m == nil {
		return fmt.Errorf("handler: %s has no member %q", owner, member)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byMember[memberKey{owner, strings.ToLower(m.Name)}] = ValueOf(h)
	return nil
}

// RegisterNamed registers h under name for members tagged handler:<name>.
func RegisterNamed[S, M any](r *Registry, name string, h ValueHandler[S, M]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[strings.ToLower(name)] = ValueOf(h)
}

// RegisterClass makes h the class handler of T.
func RegisterClass[T any](r *Registry, h ClassHandler[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[reflect.TypeFor[T]()] = ClassOf(h)
}

// Lookup finds the handler owning member m of owner: a member registration,
// then the tag's named handler, then a registration for the member's type or
// the value type inside its nullable wrapper. A tag naming an unregistered
// handler is an error.
func (r *Registry) Lookup(owner reflect.Type, m *schema.ClassMember) (Value, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.byMember[memberKey{owner, strings.ToLower(m.Name)}]; ok {
		return h, true, nil
	}
	if m.Handler != "" {
		h, ok := r.byName[strings.ToLower(m.Handler)]
		if !ok {
			return nil, false, fmt.Errorf("handler: %s.%s names unknown handler %q", owner, m.Name, m.Handler)
		}
		return h, true, nil
	}
	h, ok := r.lookupType(m.Type)
	return h, ok, nil
}

// LookupType finds a handler registered for t or for the value type inside
// t's nullable wrapper.
func (r *Registry) LookupType(t reflect.Type) (Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupType(t)
}

func (r *Registry) lookupType(t reflect.Type) (Value, bool) {
	if h, ok := r.byType[t]; ok {
		return h, true
	}
	if elem, w := schema.NullableElem(t); w != schema.WrapNone {
		h, ok := r.byType[elem]
		return h, ok
	}
	return nil, false
}

// Class returns the class handler registered for t.
func (r *Registry) Class(t reflect.Type) (Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.classes[t]
	return h, ok
}

// Len reports the number of registrations of all kinds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType) + len(r.byMember) + len(r.byName) + len(r.classes)
}
