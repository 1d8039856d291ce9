package compiler

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/Konsultn-Engineering/rowbind/convert"
	"github.com/Konsultn-Engineering/rowbind/database"
	"github.com/Konsultn-Engineering/rowbind/handler"
	"github.com/Konsultn-Engineering/rowbind/schema"
)

var int64Type = reflect.TypeFor[int64]()

// Writer is a compiled object -> parameters pipeline. It is immutable and
// safe for concurrent use.
type Writer struct {
	key      Key
	typ      reflect.Type
	desc     *schema.TypeDescriptor
	batch    int
	params   []*param
	class    handler.Class
	outputs  bool
	bindings []string
}

// param is the compiled binding of one write field.
type param struct {
	field  schema.FieldDescriptor
	member *schema.ClassMember // struct sources only
	desc   *schema.TypeDescriptor
	target reflect.Type // nil: bind map values as they are

	plan      *convert.Plan
	handler   handler.Value
	ctx       handler.Context
	generator schema.IDGenerator
	genPlan   *convert.Plan
	readBack  *slot
}

func (w *Writer) Key() Key { return w.key }

// Type is the element type the writer was compiled for.
func (w *Writer) Type() reflect.Type { return w.typ }

// Describe lists the compiled parameter bindings.
func (w *Writer) Describe() []string { return append([]string(nil), w.bindings...) }

// CompileWriter builds the pipeline binding values of t to the parameter set
// fields. t is a struct type (or pointer to one), a map with string keys, or
// *schema.Record.
func CompileWriter(t reflect.Type, fields []schema.FieldDescriptor, opts Options) (*Writer, error) {
	if t == nil {
		return nil, fmt.Errorf("compiler: nil source type")
	}
	opts = opts.withDefaults()
	desc, err := opts.Schema.Describe(t)
	if err != nil {
		return nil, shapeErr(t, "", "%v", err)
	}
	if desc.Wrapper == schema.WrapPointer && desc.IsClass() {
		t = desc.Underlying
		desc, _ = opts.Schema.Describe(t)
	}
	if !desc.IsClass() && !desc.MapLike {
		return nil, shapeErr(t, "", "writers need a struct, a map or a record")
	}

	c := &compilation{opts: opts, typ: t, fields: fields}
	w := &Writer{
		key:   KeyFor(KindWriter, t, fields, opts),
		typ:   t,
		desc:  desc,
		batch: opts.BatchSize,
	}
	if desc.IsClass() {
		c.owner = t
		w.class, _ = opts.Handlers.Class(t)
	}

	for _, f := range fields {
		p, err := c.newParam(desc, f)
		if err != nil {
			return nil, err
		}
		w.params = append(w.params, p)
		w.outputs = w.outputs || f.Direction.IsOutput()
		w.bindings = append(w.bindings, p.describe())
	}
	return w, nil
}

func (c *compilation) newParam(desc *schema.TypeDescriptor, f schema.FieldDescriptor) (*param, error) {
	p := &param{field: f, target: f.Type}
	p.ctx = handler.Context{Field: f, Fields: c.fields}

	if desc.MapLike {
		var err error
		if f.Direction.IsOutput() {
			read := f
			read.Nullable = schema.NullYes
			if p.readBack, err = c.newSlot(read, nil, c.mapElem(desc)); err != nil {
				return nil, err
			}
		}
		if p.target != nil {
			if p.plan, err = convert.Decide(nil, p.target, c.convertOptions(f, f.Name)); err != nil {
				return nil, shapeErr(c.typ, f.Name, "%v", err)
			}
		}
		return p, nil
	}

	m := desc.Member(f.Name)
	if m == nil {
		return nil, shapeErr(c.typ, f.Name, "no member maps to this field")
	}
	p.member = m
	p.ctx.Member = m
	md, err := c.opts.Schema.Describe(m.Type)
	if err != nil {
		return nil, shapeErr(c.typ, f.Name, "%v", err)
	}
	p.desc = md

	if f.Direction.IsOutput() {
		read := f
		read.Nullable = schema.NullYes
		if p.readBack, err = c.newSlot(read, m, m.Type); err != nil {
			return nil, err
		}
	}
	if f.Direction == schema.DirOutput {
		return p, nil
	}

	h, found, err := c.opts.Handlers.Lookup(c.owner, m)
	if err != nil {
		return nil, shapeErr(c.typ, f.Name, "%v", err)
	}
	if found {
		if mt := h.MemberType(); mt != md.Type && mt != md.Underlying {
			return nil, shapeErr(c.typ, f.Name, "handler takes %s, member is %s", mt, md.Type)
		}
		p.handler = h
	} else {
		if p.target == nil {
			p.target = md.Underlying
			if md.Enum != nil {
				p.target = int64Type
			}
		}
		if p.plan, err = convert.Decide(md.Underlying, p.target, c.convertOptions(f, m.Name)); err != nil {
			return nil, shapeErr(c.typ, f.Name, "%v", err)
		}
	}

	if m.Generator != "" {
		g, ok := schema.LookupGenerator(m.Generator)
		if !ok {
			return nil, shapeErr(c.typ, f.Name, "unknown generator %q", m.Generator)
		}
		p.generator = g
		if p.genPlan, err = convert.Decide(nil, md.Underlying, convert.Options{Member: m.Name}); err != nil {
			return nil, shapeErr(c.typ, f.Name, "%v", err)
		}
	}
	return p, nil
}

func (c *compilation) convertOptions(f schema.FieldDescriptor, member string) convert.Options {
	return convert.Options{EnumPolicy: c.opts.EnumPolicy, RawType: f.RawType, Member: member}
}

func (p *param) describe() string {
	var b strings.Builder
	b.WriteString(p.field.Name)
	if p.member != nil {
		b.WriteString(" <- " + p.member.Name)
	}
	switch {
	case p.handler != nil:
		fmt.Fprintf(&b, ": handler %s -> %s", p.handler.MemberType(), p.handler.StorageType())
	case p.plan != nil:
		b.WriteString(": " + p.plan.String())
	default:
		b.WriteString(": as is")
	}
	if p.generator != nil {
		b.WriteString(", generated " + p.generator.Type())
	}
	if p.field.Direction != schema.DirInput {
		b.WriteString(", " + p.field.Direction.String())
	}
	return b.String()
}

// item is one object of a write.
type item struct {
	v           reflect.Value // struct value, map or *Record
	addressable bool
}

// Write binds the parameters of src to stmt. src is a T, *T, []T or []*T for
// struct writers and a map or *schema.Record for map writers. Every value is
// converted before the first Bind, so a failure leaves stmt untouched.
func (w *Writer) Write(stmt database.Statement, src any) error {
	items, err := w.items(src)
	if err != nil {
		return err
	}
	if len(items) > w.batch {
		return fmt.Errorf("compiler: %d objects exceed batch size %d", len(items), w.batch)
	}

	type pending struct {
		params []database.Parameter
		it     item
	}
	all := make([]pending, 0, len(items))
	for i, it := range items {
		if w.class != nil {
			out, err := w.class.WriteInstance(stmt, it.v.Addr())
			if err != nil {
				return err
			}
			if !out.IsValid() || out.IsNil() {
				return ErrNilInstance
			}
			it.v = out.Elem()
		}
		params, err := w.bindItem(it, i)
		if err != nil {
			return err
		}
		all = append(all, pending{params: params, it: it})
	}

	for _, pe := range all {
		for _, p := range pe.params {
			if err := stmt.Bind(p); err != nil {
				return err
			}
		}
	}
	if w.outputs {
		for i, pe := range all {
			w.registerReadBack(stmt, pe.it, i)
		}
	}
	return nil
}

func (w *Writer) items(src any) ([]item, error) {
	rv := reflect.ValueOf(src)
	if !rv.IsValid() {
		return nil, fmt.Errorf("compiler: write of nil")
	}

	if w.desc.MapLike {
		if rv.Type() != w.typ {
			return nil, fmt.Errorf("compiler: writer for %s got %s", w.typ, rv.Type())
		}
		if rv.IsNil() {
			return nil, fmt.Errorf("compiler: write of nil %s", w.typ)
		}
		return []item{{v: rv, addressable: true}}, nil
	}

	one := func(v reflect.Value, addressable bool) (item, error) {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return item{}, fmt.Errorf("compiler: write of nil %s", v.Type())
			}
			return item{v: v.Elem(), addressable: true}, nil
		}
		// work on a copy so generators and class handlers never touch the
		// caller's value
		cp := reflect.New(w.typ).Elem()
		cp.Set(v)
		return item{v: cp, addressable: addressable}, nil
	}

	switch {
	case rv.Type() == w.typ:
		it, err := one(rv, false)
		return []item{it}, err
	case rv.Type() == reflect.PointerTo(w.typ):
		it, err := one(rv, true)
		return []item{it}, err
	case rv.Kind() == reflect.Slice && (rv.Type().Elem() == w.typ || rv.Type().Elem() == reflect.PointerTo(w.typ)):
		items := make([]item, rv.Len())
		for i := range items {
			it, err := one(rv.Index(i), false)
			if err != nil {
				return nil, err
			}
			items[i] = it
		}
		return items, nil
	}
	return nil, fmt.Errorf("compiler: writer for %s got %s", w.typ, rv.Type())
}

// paramName suffixes batch positions after the first.
func paramName(name string, i int) string {
	if i == 0 {
		return name
	}
	return name + "_" + strconv.Itoa(i)
}

func (w *Writer) bindItem(it item, i int) ([]database.Parameter, error) {
	out := make([]database.Parameter, 0, len(w.params))
	for _, p := range w.params {
		if p.field.Direction.IsOutput() && !it.addressable {
			return nil, fmt.Errorf("compiler: field %q is read back after execution and needs a *%s source", p.field.Name, w.typ)
		}

		bp := database.Parameter{
			Name:      paramName(p.field.Name, i),
			Value:     database.DBNull,
			Direction: p.field.Direction,
			Size:      p.field.Size,
			Precision: p.field.Precision,
			Scale:     p.field.Scale,
		}
		if p.member != nil {
			bp.Size = firstNonZero(bp.Size, p.member.Size)
			bp.Precision = firstNonZero(bp.Precision, p.member.Precision)
			bp.Scale = firstNonZero(bp.Scale, p.member.Scale)
		}
		if p.handler == nil {
			bp.DBType = p.field.RawType
		}

		if p.field.Direction.IsInput() {
			v, err := w.value(p, it)
			if err != nil {
				return nil, err
			}
			bp.Value = v
		}
		out = append(out, bp)
	}
	return out, nil
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// value computes the bound value of p for one object. Absent values become
// DBNull, or a NullViolationError for NOT NULL fields.
func (w *Writer) value(p *param, it item) (any, error) {
	if p.member == nil {
		return p.mapValue(it)
	}

	mv := it.v.FieldByIndex(p.member.Index)
	if p.generator != nil && mv.IsZero() {
		if err := p.generate(mv); err != nil {
			return nil, err
		}
	}

	if p.handler != nil && p.handler.MemberType() == p.desc.Type {
		ctx := p.ctx
		v, err := p.handler.WriteValue(mv, &ctx)
		if err != nil {
			return nil, err
		}
		return p.present(v)
	}

	inner, ok := p.desc.Unwrap(mv)
	if !ok {
		return p.absent()
	}
	if p.handler != nil {
		ctx := p.ctx
		v, err := p.handler.WriteValue(inner, &ctx)
		if err != nil {
			return nil, err
		}
		return p.present(v)
	}

	conv, err := p.plan.Apply(inner)
	if err != nil {
		if errors.Is(err, convert.ErrNull) {
			return p.absent()
		}
		return nil, &ConversionError{Field: p.field.Name, Member: p.member.Name, Value: inner.Interface(), Err: err}
	}
	return conv.Interface(), nil
}

func (p *param) mapValue(it item) (any, error) {
	var raw any
	var ok bool
	if rec, isRec := it.v.Interface().(*schema.Record); isRec {
		raw, ok = rec.Get(p.field.Name)
	} else {
		raw, ok = lookupKey(it.v, p.field.Name)
	}
	if !ok || raw == nil {
		return p.absent()
	}
	if p.plan == nil {
		return p.present(raw)
	}
	conv, err := p.plan.ApplyAny(raw)
	if err != nil {
		if errors.Is(err, convert.ErrNull) {
			return p.absent()
		}
		return nil, &ConversionError{Field: p.field.Name, Value: raw, Err: err}
	}
	return conv.Interface(), nil
}

// lookupKey finds name in a string-keyed map, exactly first and then
// ignoring case.
func lookupKey(m reflect.Value, name string) (any, bool) {
	key := reflect.ValueOf(name).Convert(m.Type().Key())
	if v := m.MapIndex(key); v.IsValid() {
		return v.Interface(), true
	}
	iter := m.MapRange()
	for iter.Next() {
		if strings.EqualFold(iter.Key().String(), name) {
			return iter.Value().Interface(), true
		}
	}
	return nil, false
}

func (p *param) present(v any) (any, error) {
	if v == nil {
		return p.absent()
	}
	return v, nil
}

func (p *param) absent() (any, error) {
	if p.field.Nullable == schema.NullNo {
		name := p.field.Name
		if p.member != nil {
			name = p.member.Name
		}
		return nil, &NullViolationError{Member: name, Field: p.field.Name}
	}
	return database.DBNull, nil
}

func (p *param) generate(mv reflect.Value) error {
	if !mv.CanSet() {
		return fmt.Errorf("compiler: cannot set generated value of %s", p.member.Name)
	}
	id, err := p.generator.Generate()
	if err != nil {
		return err
	}
	v, err := p.genPlan.ApplyAny(id)
	if err != nil {
		return &ConversionError{Field: p.field.Name, Member: p.member.Name, Value: id, Err: err}
	}
	if !v.Type().AssignableTo(p.desc.Underlying) {
		return &ConversionError{Field: p.field.Name, Member: p.member.Name, Value: id, Err: convert.ErrTypeMismatch}
	}
	mv.Set(p.desc.Wrap(v))
	return nil
}

// registerReadBack stores output values into the object after execution.
func (w *Writer) registerReadBack(stmt database.Statement, it item, i int) {
	stmt.AfterExecute(func(s database.Statement) error {
		for _, p := range w.params {
			if !p.field.Direction.IsOutput() {
				continue
			}
			raw, err := s.ReadBack(paramName(p.field.Name, i))
			if err != nil {
				return err
			}
			var v reflect.Value
			if raw == nil {
				v, err = p.readBack.null()
			} else {
				v, err = p.readBack.value(raw)
			}
			if err != nil {
				return err
			}
			if p.member == nil {
				setMapValue(it.v, p.field.Name, v)
				continue
			}
			it.v.FieldByIndex(p.member.Index).Set(v)
		}
		return nil
	})
}

// setMapValue stores a read-back value already converted to the map's
// element type.
func setMapValue(m reflect.Value, name string, v reflect.Value) {
	if rec, ok := m.Interface().(*schema.Record); ok {
		rec.Set(name, v.Interface())
		return
	}
	m.SetMapIndex(reflect.ValueOf(name).Convert(m.Type().Key()), v)
}
