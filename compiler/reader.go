package compiler

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/Konsultn-Engineering/rowbind/database"
	"github.com/Konsultn-Engineering/rowbind/handler"
	"github.com/Konsultn-Engineering/rowbind/schema"
)

var recordType = reflect.TypeFor[*schema.Record]()

// compilation is the state of one CompileReader or CompileWriter call.
type compilation struct {
	opts   Options
	typ    reflect.Type // requested type
	owner  reflect.Type // struct type whose members are mapped, if any
	fields []schema.FieldDescriptor
}

// Reader is a compiled row -> value pipeline. It is immutable and safe for
// concurrent use.
type Reader struct {
	key      Key
	typ      reflect.Type
	width    int
	read     func(database.RowCursor) (reflect.Value, error)
	bindings []string
}

func (r *Reader) Key() Key { return r.key }

// Type is the type of the values Read returns.
func (r *Reader) Type() reflect.Type { return r.typ }

// Read maps the current row of cur. The cursor must have the width the
// pipeline was compiled for.
func (r *Reader) Read(cur database.RowCursor) (reflect.Value, error) {
	if n := cur.Len(); n != r.width {
		return reflect.Value{}, shapeErr(r.typ, "", "cursor has %d fields, pipeline was compiled for %d", n, r.width)
	}
	return r.read(cur)
}

// Describe lists the compiled bindings, one line per field or constructor
// argument.
func (r *Reader) Describe() []string { return append([]string(nil), r.bindings...) }

// CompileReader builds the pipeline reading rows shaped like fields into
// values of t. t may be a struct, a pointer to one, a plain value type, a
// map with string keys, or *schema.Record.
func CompileReader(t reflect.Type, fields []schema.FieldDescriptor, opts Options) (*Reader, error) {
	return compileReader(KindReader, t, fields, opts)
}

// CompileRecordReader builds a reader producing *schema.Record values.
func CompileRecordReader(fields []schema.FieldDescriptor, opts Options) (*Reader, error) {
	return compileReader(KindRecordReader, recordType, fields, opts)
}

func compileReader(kind Kind, t reflect.Type, fields []schema.FieldDescriptor, opts Options) (*Reader, error) {
	if t == nil {
		return nil, fmt.Errorf("compiler: nil target type")
	}
	opts = opts.withDefaults()
	c := &compilation{opts: opts, typ: t, fields: fields}
	desc, err := opts.Schema.Describe(t)
	if err != nil {
		return nil, shapeErr(t, "", "%v", err)
	}

	r := &Reader{key: KeyFor(kind, t, fields, opts), typ: t, width: len(fields)}
	switch {
	case desc.MapLike:
		err = c.compileMap(r, desc)
	case desc.IsClass():
		err = c.compileStruct(r, desc)
	default:
		err = c.compilePlain(r)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (c *compilation) compilePlain(r *Reader) error {
	if len(c.fields) == 0 {
		return shapeErr(c.typ, "", "no fields to read a %s from", c.typ)
	}
	s, err := c.newSlot(c.fields[0], nil, c.typ)
	if err != nil {
		return err
	}
	r.bindings = []string{s.describe()}
	r.read = func(cur database.RowCursor) (reflect.Value, error) {
		return s.read(cur, 0)
	}
	return nil
}

type entry struct {
	key     reflect.Value
	ordinal int
	slot    *slot
}

// mapElem is the value type of a map-like target.
func (c *compilation) mapElem(desc *schema.TypeDescriptor) reflect.Type {
	if desc.Record {
		return reflect.TypeFor[any]()
	}
	return c.typ.Elem()
}

func (c *compilation) compileMap(r *Reader, desc *schema.TypeDescriptor) error {
	elem := c.mapElem(desc)

	seen := make(map[string]bool, len(c.fields))
	var entries []entry
	for i, f := range c.fields {
		lower := strings.ToLower(f.Name)
		if f.Name == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		s, err := c.newSlot(f, nil, elem)
		if err != nil {
			return err
		}
		e := entry{ordinal: i, slot: s}
		if !desc.Record {
			e.key = reflect.ValueOf(f.Name).Convert(c.typ.Key())
		}
		entries = append(entries, e)
		r.bindings = append(r.bindings, s.describe())
	}
	if len(entries) == 0 {
		return shapeErr(c.typ, "", "no named fields")
	}

	if desc.Record {
		r.read = func(cur database.RowCursor) (reflect.Value, error) {
			rec := schema.NewRecord(len(entries))
			for _, e := range entries {
				v, err := e.slot.read(cur, e.ordinal)
				if err != nil {
					return reflect.Value{}, err
				}
				rec.Set(e.slot.field.Name, v.Interface())
			}
			return reflect.ValueOf(rec), nil
		}
		return nil
	}

	r.read = func(cur database.RowCursor) (reflect.Value, error) {
		m := reflect.MakeMapWithSize(c.typ, len(entries))
		for _, e := range entries {
			v, err := e.slot.read(cur, e.ordinal)
			if err != nil {
				return reflect.Value{}, err
			}
			m.SetMapIndex(e.key, v)
		}
		return m, nil
	}
	return nil
}

type memberStep struct {
	ordinal int
	index   []int
	slot    *slot
}

type argStep struct {
	ordinal int // -1 for an optional parameter without a field
	typ     reflect.Type
	slot    *slot
}

func (c *compilation) compileStruct(r *Reader, desc *schema.TypeDescriptor) error {
	c.owner = desc.Underlying
	byName := make(map[string]int, len(c.fields))
	for i, f := range c.fields {
		if f.Name == "" {
			continue
		}
		if _, dup := byName[strings.ToLower(f.Name)]; !dup {
			byName[strings.ToLower(f.Name)] = i
		}
	}

	ctor, args, used, err := c.chooseConstructor(desc, byName, r)
	if err != nil {
		return err
	}

	var steps []memberStep
	assigned := make(map[*schema.ClassMember]bool)
	for i, f := range c.fields {
		if f.Name == "" || used[i] {
			continue
		}
		m := desc.Member(f.Name)
		if m == nil || assigned[m] {
			continue
		}
		assigned[m] = true
		s, err := c.newSlot(f, m, m.Type)
		if err != nil {
			return err
		}
		steps = append(steps, memberStep{ordinal: i, index: m.Index, slot: s})
		r.bindings = append(r.bindings, s.describe())
	}

	class, _ := c.opts.Handlers.Class(c.owner)
	fields := c.fields
	wrapper := desc.Wrapper

	r.read = func(cur database.RowCursor) (reflect.Value, error) {
		var obj reflect.Value // *T
		if ctor != nil {
			in := make([]reflect.Value, len(args))
			for i, a := range args {
				if a.slot == nil {
					in[i] = reflect.Zero(a.typ)
					continue
				}
				v, err := a.slot.read(cur, a.ordinal)
				if err != nil {
					return reflect.Value{}, err
				}
				in[i] = v
			}
			var err error
			if obj, err = ctor.Call(in); err != nil {
				return reflect.Value{}, fmt.Errorf("compiler: construct %s: %w", desc.Underlying, err)
			}
		} else {
			obj = reflect.New(desc.Underlying)
		}

		elem := obj.Elem()
		for _, st := range steps {
			v, err := st.slot.read(cur, st.ordinal)
			if err != nil {
				return reflect.Value{}, err
			}
			elem.FieldByIndex(st.index).Set(v)
		}

		if class != nil {
			out, err := class.ReadInstance(obj, &handler.Context{Fields: fields})
			if err != nil {
				return reflect.Value{}, err
			}
			if !out.IsValid() || out.IsNil() {
				return reflect.Value{}, ErrNilInstance
			}
			obj = out
		}

		switch wrapper {
		case schema.WrapPointer:
			return obj, nil
		case schema.WrapSQLNull:
			return desc.Wrap(obj.Elem()), nil
		default:
			return obj.Elem(), nil
		}
	}
	return nil
}

// chooseConstructor picks the registered constructor with the most
// parameters that can all be satisfied from the field set. used marks the
// fields consumed by its parameters.
func (c *compilation) chooseConstructor(desc *schema.TypeDescriptor, byName map[string]int, r *Reader) (*schema.Constructor, []argStep, map[int]bool, error) {
	if len(desc.Constructors) == 0 {
		return nil, nil, nil, nil
	}

	var best, widest *schema.Constructor
	var missing string
	for _, ctor := range desc.Constructors {
		if widest == nil || len(ctor.Params) > len(widest.Params) {
			widest = ctor
			missing = ""
			for _, p := range ctor.Params {
				if _, ok := byName[strings.ToLower(p.Name)]; !ok && !p.Optional {
					missing = p.Name
					break
				}
			}
		}
		if satisfiable(ctor, byName) && (best == nil || len(ctor.Params) > len(best.Params)) {
			best = ctor
		}
	}
	if best == nil {
		return nil, nil, nil, shapeErr(c.typ, missing, "no constructor can be satisfied: missing parameter %q", missing)
	}

	args := make([]argStep, len(best.Params))
	used := make(map[int]bool, len(best.Params))
	for i, p := range best.Params {
		args[i] = argStep{ordinal: -1, typ: p.Type}
		ord, ok := byName[strings.ToLower(p.Name)]
		if !ok {
			r.bindings = append(r.bindings, fmt.Sprintf("(absent) -> arg %s: zero %s", p.Name, p.Type))
			continue
		}
		s, err := c.newSlot(c.fields[ord], nil, p.Type)
		if err != nil {
			return nil, nil, nil, err
		}
		s.name = p.Name
		args[i] = argStep{ordinal: ord, typ: p.Type, slot: s}
		used[ord] = true
		r.bindings = append(r.bindings, "arg "+s.describe())
	}
	return best, args, used, nil
}

func satisfiable(ctor *schema.Constructor, byName map[string]int) bool {
	for _, p := range ctor.Params {
		if _, ok := byName[strings.ToLower(p.Name)]; !ok && !p.Optional {
			return false
		}
	}
	return true
}
