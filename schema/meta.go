package schema

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Wrapper identifies how a nullable type wraps its value.
type Wrapper uint8

const (
	WrapNone    Wrapper = iota
	WrapPointer         // *T
	WrapSQLNull         // sql.NullString, sql.Null[T], ...
)

// TypeDescriptor is the reflection summary of a Go type as seen by the
// mapper. Descriptors are built once per type and Context and never change.
type TypeDescriptor struct {
	Type       reflect.Type
	Underlying reflect.Type // value type inside a nullable wrapper; Type otherwise
	Nullable   bool
	Wrapper    Wrapper
	Enum       *EnumInfo

	Plain   bool // scalar-like: numbers, text, time, GUIDs, Scanner/Valuer types
	MapLike bool // map[string]V or *Record
	Record  bool // *Record

	Members      []*ClassMember
	Constructors []*Constructor

	byColumn map[string]*ClassMember
	byName   map[string]*ClassMember
}

// ClassMember is one mapped struct field. Index addresses the field through
// any flattened embedded structs.
type ClassMember struct {
	Name      string
	Column    string
	Type      reflect.Type
	Index     []int
	Nullable  bool
	DBType    string
	Handler   string
	Generator string
	Default   string
	Primary   bool
	Identity  bool
	NotNull   bool
	Size      int
	Precision int
	Scale     int
}

// Member finds a member by column name, then by Go field name, ignoring case.
func (d *TypeDescriptor) Member(name string) *ClassMember {
	key := strings.ToLower(name)
	if m, ok := d.byColumn[key]; ok {
		return m
	}
	return d.byName[key]
}

// IsClass reports whether values of the type are built member by member.
func (d *TypeDescriptor) IsClass() bool {
	return !d.Plain && !d.MapLike && d.Underlying.Kind() == reflect.Struct
}

// Wrap lifts a value of the underlying type into the descriptor's type.
func (d *TypeDescriptor) Wrap(v reflect.Value) reflect.Value {
	switch d.Wrapper {
	case WrapPointer:
		p := reflect.New(d.Underlying)
		p.Elem().Set(v)
		return p
	case WrapSQLNull:
		out := reflect.New(d.Type).Elem()
		out.Field(0).Set(v)
		out.Field(1).SetBool(true)
		return out
	default:
		return v
	}
}

// Unwrap returns the value inside a nullable wrapper; ok is false when the
// wrapper is empty. Non-nullable values are returned as-is.
func (d *TypeDescriptor) Unwrap(v reflect.Value) (reflect.Value, bool) {
	switch d.Wrapper {
	case WrapPointer:
		if v.IsNil() {
			return reflect.Value{}, false
		}
		return v.Elem(), true
	case WrapSQLNull:
		if !v.Field(1).Bool() {
			return reflect.Value{}, false
		}
		return v.Field(0), true
	default:
		if v.Kind() == reflect.Interface {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			return v.Elem(), true
		}
		return v, true
	}
}

// NullableElem reports the value type carried by a nullable wrapper type.
func NullableElem(t reflect.Type) (reflect.Type, Wrapper) {
	if t == nil {
		return nil, WrapNone
	}
	if t.Kind() == reflect.Pointer && t != recordPtrType {
		return t.Elem(), WrapPointer
	}
	if isSQLNull(t) {
		return t.Field(0).Type, WrapSQLNull
	}
	return t, WrapNone
}

// isSQLNull matches sql.NullString and friends as well as sql.Null[T]: two
// fields, the second a bool named Valid.
func isSQLNull(t reflect.Type) bool {
	return t.Kind() == reflect.Struct &&
		t.PkgPath() == "database/sql" &&
		t.NumField() == 2 &&
		t.Field(1).Name == "Valid" &&
		t.Field(1).Type.Kind() == reflect.Bool
}

var (
	recordPtrType = reflect.TypeFor[*Record]()
	scannerType   = reflect.TypeFor[sql.Scanner]()
	valuerType    = reflect.TypeFor[driver.Valuer]()
	ulidType      = reflect.TypeFor[ulid.ULID]()
)

// described remembers every type any Context has described, so late
// registrations can be rejected.
var described sync.Map

// IsPlain reports whether t is scalar-like and never decomposed into members.
func IsPlain(t reflect.Type) bool {
	switch t {
	case timeType, dateType, clockType, durationType, uuidType, ulidType, bytesType, jsonType:
		return true
	}
	if LookupEnum(t) != nil {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.Interface:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	}
	return t.Implements(valuerType) || reflect.PointerTo(t).Implements(scannerType)
}

func (c *Context) buildDescriptor(t reflect.Type) (*TypeDescriptor, error) {
	d := &TypeDescriptor{Type: t, Underlying: t}

	if t == recordPtrType {
		d.MapLike, d.Record = true, true
		return d, nil
	}
	if t.Kind() == reflect.Map {
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("schema: map type %s must have string keys", t)
		}
		d.MapLike = true
		return d, nil
	}

	if elem, w := NullableElem(t); w != WrapNone {
		d.Underlying, d.Wrapper, d.Nullable = elem, w, true
	}
	u := d.Underlying
	d.Enum = LookupEnum(u)
	d.Plain = IsPlain(u)
	if d.Plain || u.Kind() != reflect.Struct {
		return d, nil
	}

	d.Constructors = constructorsFor(u)
	d.byColumn = make(map[string]*ClassMember)
	d.byName = make(map[string]*ClassMember)
	if err := c.collectMembers(d, u, nil, make(map[reflect.Type]bool)); err != nil {
		return nil, fmt.Errorf("schema: describe %s: %w", u, err)
	}
	return d, nil
}

// collectMembers walks the direct fields of t first and then its embedded
// structs, so an outer field always shadows a promoted one with the same column.
func (c *Context) collectMembers(d *TypeDescriptor, t reflect.Type, prefix []int, seen map[reflect.Type]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true

	var embedded []reflect.StructField
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() && !sf.Anonymous {
			continue
		}
		tag, err := c.tags.ParseTag(sf.Name, sf.Tag)
		if err != nil {
			return err
		}
		if tag.Skip {
			continue
		}

		_, explicit := sf.Tag.Lookup(c.tagName)
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && !IsPlain(sf.Type) && !explicit {
			embedded = append(embedded, sf)
			continue
		}
		if !sf.IsExported() {
			continue
		}

		index := append(append([]int(nil), prefix...), i)
		c.addMember(d, sf, index, tag)
	}

	for _, sf := range embedded {
		index := append(append([]int(nil), prefix...), sf.Index...)
		if err := c.collectMembers(d, sf.Type, index, seen); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) addMember(d *TypeDescriptor, sf reflect.StructField, index []int, tag *ParsedTag) {
	colKey := strings.ToLower(tag.ColumnName)
	if _, dup := d.byColumn[colKey]; dup {
		return
	}

	_, w := NullableElem(sf.Type)
	m := &ClassMember{
		Name:      sf.Name,
		Column:    tag.ColumnName,
		Type:      sf.Type,
		Index:     index,
		Nullable:  (w != WrapNone || sf.Type.Kind() == reflect.Interface || tag.Null) && !tag.NotNull,
		DBType:    tag.Type,
		Handler:   tag.Handler,
		Generator: tag.Generator,
		Default:   tag.Default,
		Primary:   tag.Primary,
		Identity:  tag.Identity,
		NotNull:   tag.NotNull,
		Size:      tag.Size,
		Precision: tag.Precision,
		Scale:     tag.Scale,
	}
	d.Members = append(d.Members, m)
	d.byColumn[colKey] = m
	if _, dup := d.byName[strings.ToLower(sf.Name)]; !dup {
		d.byName[strings.ToLower(sf.Name)] = m
	}
}
