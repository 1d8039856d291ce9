package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Integer is the set of types an enum may be declared on.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// EnumInfo holds the name/value tables of a registered enum type. Values are
// kept as int64; unsigned values round-trip through their bit pattern.
type EnumInfo struct {
	Type  reflect.Type
	Kind  reflect.Kind
	Flags bool

	names  map[int64]string
	values map[string]int64
	order  []int64
}

// EnumOption configures an enum at registration.
type EnumOption func(*EnumInfo)

// AsFlags marks the enum as a bitmask whose values combine with OR.
func AsFlags() EnumOption {
	return func(e *EnumInfo) { e.Flags = true }
}

var enums sync.Map // reflect.Type -> *EnumInfo

// RegisterEnum records the defined values of E. It is meant to be called from
// a package-level var or init, before E is first described; registering an
// already described type panics.
func RegisterEnum[E Integer](names map[E]string, opts ...EnumOption) *EnumInfo {
	t := reflect.TypeFor[E]()
	if _, seen := described.Load(t); seen {
		panic(fmt.Sprintf("schema: enum %s registered after first use", t))
	}

	info := &EnumInfo{
		Type:   t,
		Kind:   t.Kind(),
		names:  make(map[int64]string, len(names)),
		values: make(map[string]int64, len(names)),
	}
	for _, opt := range opts {
		opt(info)
	}
	for v, name := range names {
		n := toInt64(reflect.ValueOf(v))
		info.names[n] = name
		info.values[strings.ToLower(name)] = n
		info.order = append(info.order, n)
	}
	sort.Slice(info.order, func(i, j int) bool { return info.order[i] < info.order[j] })

	enums.Store(t, info)
	return info
}

// LookupEnum returns the registration for t, or nil.
func LookupEnum(t reflect.Type) *EnumInfo {
	if t == nil {
		return nil
	}
	if info, ok := enums.Load(t); ok {
		return info.(*EnumInfo)
	}
	return nil
}

// Defined reports whether v is a declared value. For flag enums every set
// bit must belong to some declared value.
func (e *EnumInfo) Defined(v int64) bool {
	if _, ok := e.names[v]; ok {
		return true
	}
	if !e.Flags {
		return false
	}
	rest := v
	for _, f := range e.order {
		if f != 0 && rest&f == f {
			rest &^= f
		}
	}
	return rest == 0
}

// Name returns the declared name of v.
func (e *EnumInfo) Name(v int64) (string, bool) {
	name, ok := e.names[v]
	return name, ok
}

// Format renders v by name. Flag enums join the names of the set bits with
// "|"; values with no name render as decimal text.
func (e *EnumInfo) Format(v int64) string {
	if name, ok := e.names[v]; ok {
		return name
	}
	if e.Flags && v != 0 {
		var parts []string
		rest := v
		for _, f := range e.order {
			if f != 0 && rest&f == f {
				parts = append(parts, e.names[f])
				rest &^= f
			}
		}
		if rest == 0 {
			return strings.Join(parts, "|")
		}
	}
	if e.unsigned() {
		return strconv.FormatUint(uint64(v), 10)
	}
	return strconv.FormatInt(v, 10)
}

// Parse resolves a name (case-insensitive) or decimal text. Flag enums accept
// names joined by "|" or ",". The result is not checked against the defined
// set; callers apply their own policy.
func (e *EnumInfo) Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if v, ok := e.values[strings.ToLower(s)]; ok {
		return v, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if e.Flags && strings.ContainsAny(s, "|,") {
		var v int64
		for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
			f, ok := e.values[strings.ToLower(strings.TrimSpace(part))]
			if !ok {
				return 0, fmt.Errorf("schema: %q is not a member of %s", part, e.Type)
			}
			v |= f
		}
		return v, nil
	}
	return 0, fmt.Errorf("schema: %q is not a member of %s", s, e.Type)
}

// Int extracts the numeric value of an enum-typed reflect.Value.
func (e *EnumInfo) Int(v reflect.Value) int64 { return toInt64(v) }

// Value converts n into a reflect.Value of the enum type.
func (e *EnumInfo) Value(n int64) reflect.Value {
	out := reflect.New(e.Type).Elem()
	if e.unsigned() {
		out.SetUint(uint64(n))
	} else {
		out.SetInt(n)
	}
	return out
}

// Fits reports whether n is representable in the enum's integer type.
func (e *EnumInfo) Fits(n int64) bool {
	z := reflect.New(e.Type).Elem()
	if e.unsigned() {
		if e.Kind == reflect.Uint64 || e.Kind == reflect.Uint || e.Kind == reflect.Uintptr {
			return true
		}
		return n >= 0 && !z.OverflowUint(uint64(n))
	}
	return !z.OverflowInt(n)
}

func (e *EnumInfo) unsigned() bool {
	switch e.Kind {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func toInt64(v reflect.Value) int64 {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64(v.Uint())
	default:
		return v.Int()
	}
}
