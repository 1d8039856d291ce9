package compiler

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/Konsultn-Engineering/rowbind/convert"
	"github.com/Konsultn-Engineering/rowbind/database"
	"github.com/Konsultn-Engineering/rowbind/handler"
	"github.com/Konsultn-Engineering/rowbind/schema"
)

var stringType = reflect.TypeFor[string]()

// slot turns one raw field value into a value of a destination type: the
// null-guard, the coercion plan or value handler, and the nullable wrap. Read
// pipelines and writer read-backs share it.
type slot struct {
	field  schema.FieldDescriptor
	member *schema.ClassMember
	name   string
	desc   *schema.TypeDescriptor

	plan     *convert.Plan
	handler  handler.Value
	ctx      handler.Context
	def      reflect.Value // underlying-typed default from the tag
	guard    bool
	required bool
}

func (c *compilation) newSlot(f schema.FieldDescriptor, m *schema.ClassMember, dst reflect.Type) (*slot, error) {
	desc, err := c.opts.Schema.Describe(dst)
	if err != nil {
		return nil, shapeErr(c.typ, f.Name, "%v", err)
	}
	s := &slot{
		field:  f,
		member: m,
		name:   f.Name,
		desc:   desc,
		guard:  f.MayBeNull(),
		ctx:    handler.Context{Field: f, Fields: c.fields, Member: m},
	}
	if m != nil {
		s.name = m.Name
	}

	var h handler.Value
	var found bool
	if m != nil {
		h, found, err = c.opts.Handlers.Lookup(c.owner, m)
		if err != nil {
			return nil, shapeErr(c.typ, f.Name, "%v", err)
		}
	} else {
		h, found = c.opts.Handlers.LookupType(dst)
	}
	target := desc.Underlying
	if found {
		if mt := h.MemberType(); mt != desc.Type && mt != desc.Underlying {
			return nil, shapeErr(c.typ, f.Name, "handler produces %s, member is %s", mt, desc.Type)
		}
		s.handler = h
		target = h.StorageType()
	}

	s.plan, err = convert.Decide(f.Type, target, convert.Options{
		EnumPolicy: c.opts.EnumPolicy,
		RawType:    f.RawType,
		Member:     s.name,
	})
	if err != nil {
		return nil, shapeErr(c.typ, f.Name, "%v", err)
	}

	if m != nil && m.Default != "" && s.handler == nil {
		if s.def, err = s.parseDefault(m.Default); err != nil {
			return nil, shapeErr(c.typ, f.Name, "default %q: %v", m.Default, err)
		}
	}
	s.required = c.opts.StrictNulls && !desc.Nullable && (m == nil || !m.Nullable)
	return s, nil
}

func (s *slot) parseDefault(text string) (reflect.Value, error) {
	p, err := convert.Decide(stringType, s.desc.Underlying, convert.Options{Member: s.name})
	if err != nil {
		return reflect.Value{}, err
	}
	v, err := p.Apply(reflect.ValueOf(text))
	if err != nil {
		return reflect.Value{}, err
	}
	if _, err := s.lift(v); err != nil {
		return reflect.Value{}, err
	}
	return v, nil
}

// read takes field i of the current row.
func (s *slot) read(cur database.RowCursor, i int) (reflect.Value, error) {
	if s.guard && cur.IsNull(i) {
		return s.null()
	}
	return s.value(cur.Value(i))
}

// value converts a raw non-null value. A value that turns out to be null
// (a nil, or a Valuer yielding nil) takes the null branch.
func (s *slot) value(raw any) (reflect.Value, error) {
	conv, err := s.plan.Apply(reflect.ValueOf(raw))
	if err != nil {
		if errors.Is(err, convert.ErrNull) {
			return s.null()
		}
		return reflect.Value{}, s.convErr(raw, err)
	}

	if s.handler != nil {
		if !conv.Type().AssignableTo(s.handler.StorageType()) {
			return reflect.Value{}, s.convErr(raw, fmt.Errorf("%w: handler stores %s, got %s",
				convert.ErrTypeMismatch, s.handler.StorageType(), conv.Type()))
		}
		ctx := s.ctx
		out, err := s.handler.ReadValue(conv, &ctx)
		if err != nil {
			return reflect.Value{}, err
		}
		return s.lift(out)
	}

	out, err := s.lift(conv)
	if err != nil {
		return reflect.Value{}, s.convErr(raw, err)
	}
	return out, nil
}

func (s *slot) null() (reflect.Value, error) {
	if s.handler != nil {
		ctx := s.ctx
		ctx.Null = true
		out, err := s.handler.ReadValue(reflect.Value{}, &ctx)
		if err != nil {
			return reflect.Value{}, err
		}
		return s.lift(out)
	}
	if s.required {
		return reflect.Value{}, &NullViolationError{Member: s.name, Field: s.field.Name}
	}
	if s.def.IsValid() {
		// lifted per use so pointer members never share a default
		return s.lift(s.def)
	}
	return reflect.Zero(s.desc.Type), nil
}

// lift puts a value of the underlying type into the destination type,
// wrapping it for nullable destinations.
func (s *slot) lift(v reflect.Value) (reflect.Value, error) {
	if v.Type() == s.desc.Type {
		return v, nil
	}
	if !v.Type().AssignableTo(s.desc.Underlying) {
		return reflect.Value{}, fmt.Errorf("%w: cannot assign %s to %s", convert.ErrTypeMismatch, v.Type(), s.desc.Type)
	}
	if s.desc.Wrapper == schema.WrapNone {
		out := reflect.New(s.desc.Type).Elem()
		out.Set(v)
		return out, nil
	}
	return s.desc.Wrap(v), nil
}

func (s *slot) convErr(raw any, err error) error {
	return &ConversionError{Field: s.field.Name, Member: s.name, Value: raw, Err: err}
}

func (s *slot) describe() string {
	conv := s.plan.String()
	if s.handler != nil {
		conv = fmt.Sprintf("%s then handler %s -> %s", conv, s.handler.StorageType(), s.handler.MemberType())
	}
	guard := "guarded"
	if !s.guard {
		guard = "unguarded"
	}
	return fmt.Sprintf("%s -> %s: %s, %s", s.field.Name, s.name, conv, guard)
}
