package convert

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	ErrNull          = errors.New("convert: null value")
	ErrTypeMismatch  = errors.New("convert: type mismatch")
	ErrOverflow      = errors.New("convert: value out of range")
	ErrSyntax        = errors.New("convert: invalid syntax")
	ErrUndefinedEnum = errors.New("convert: undefined enum value")
)

// Kind names the rule that produced a Plan.
type Kind uint8

const (
	KindIdentity Kind = iota
	KindAssign
	KindEnumParse    // text -> enum
	KindEnumValidate // number -> enum
	KindEnumFormat   // enum -> text
	KindEnumNumeric  // enum -> number
	KindStructured   // GUID and date/time pairs
	KindConvert      // reflect conversion with range checks
	KindChangeType   // formatting, bool/number, Scanner and Valuer
	KindParse        // strict text parsers
	KindPassthrough  // no rule matched
	KindDynamic      // source type decided per value
)

var kindNames = [...]string{
	KindIdentity:     "identity",
	KindAssign:       "assign",
	KindEnumParse:    "enum-parse",
	KindEnumValidate: "enum-validate",
	KindEnumFormat:   "enum-format",
	KindEnumNumeric:  "enum-numeric",
	KindStructured:   "structured",
	KindConvert:      "convert",
	KindChangeType:   "change-type",
	KindParse:        "parse",
	KindPassthrough:  "passthrough",
	KindDynamic:      "dynamic",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Named provider rules. They are ordinary rows of the decision table and show
// up in Plan.Rule when they fire.
const (
	// RuleFlagsAlwaysCast: flag enums are never validated, any combination of
	// bits is accepted.
	RuleFlagsAlwaysCast = "flags-always-cast"
	// RuleEnumDecimalWiden: enums bound to float or DECIMAL/NUMERIC/MONEY
	// columns travel through float64 (or decimal text for string targets).
	RuleEnumDecimalWiden = "enum-decimal-widen"
)

// Options carries the context a decision may depend on.
type Options struct {
	EnumPolicy EnumPolicy
	RawType    string // provider type of the field, e.g. NUMERIC(18,0)
	Member     string // for error messages
}

// Func converts one value.
type Func func(reflect.Value) (reflect.Value, error)

// Plan is a decided conversion from Source to Target. A Plan is immutable and
// safe for concurrent use. When a value arrives whose type differs from
// Source, the plan decides again for that type and remembers the result.
type Plan struct {
	Kind   Kind
	Rule   string
	Source reflect.Type
	Target reflect.Type

	fn      Func
	opts    Options
	dynamic sync.Map // reflect.Type -> *Plan
}

func (p *Plan) String() string {
	src := "?"
	if p.Source != nil {
		src = p.Source.String()
	}
	s := fmt.Sprintf("%s -> %s [%s]", src, p.Target, p.Kind)
	if p.Rule != "" {
		s += " (" + p.Rule + ")"
	}
	return s
}

// Apply converts v. An invalid or nil-interface v yields ErrNull.
func (p *Plan) Apply(v reflect.Value) (reflect.Value, error) {
	if v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, ErrNull
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return reflect.Value{}, ErrNull
	}
	if p.Source == nil || v.Type() != p.Source {
		return p.redirect(v)
	}
	if p.fn == nil {
		return v, nil
	}
	return p.fn(v)
}

// ApplyAny is Apply for an untyped value.
func (p *Plan) ApplyAny(v any) (reflect.Value, error) { return p.Apply(reflect.ValueOf(v)) }

func (p *Plan) redirect(v reflect.Value) (reflect.Value, error) {
	t := v.Type()
	if q, ok := p.dynamic.Load(t); ok {
		return q.(*Plan).Apply(v)
	}
	q, err := Decide(t, p.Target, p.opts)
	if err != nil {
		return reflect.Value{}, err
	}
	actual, _ := p.dynamic.LoadOrStore(t, q)
	return actual.(*Plan).Apply(v)
}

// Decide walks the decision table for src -> dst. The first matching rule
// wins:
//
//  1. identity
//  2. assignable (including interface targets)
//  3. enum target: parse names, validate numbers by policy
//  4. enum source: format names, reinterpret numbers
//  5. structured pairs: GUID<->text, GUID<->bytes, time<->time of day,
//     time<->date, time of day<->duration
//  6. general: range-checked conversion, change-type table, strict parsers
//  7. passthrough
//
// A nil src yields a dynamic plan that decides per value.
func Decide(src, dst reflect.Type, opts Options) (*Plan, error) {
	if dst == nil {
		return nil, errors.New("convert: nil target type")
	}
	if !opts.EnumPolicy.Valid() {
		return nil, fmt.Errorf("convert: invalid enum policy %d", opts.EnumPolicy)
	}

	p := &Plan{Source: src, Target: dst, opts: opts}
	switch {
	case src == nil:
		p.Kind = KindDynamic
		return p, nil
	case src == dst:
		p.Kind = KindIdentity
		return p, nil
	case src.AssignableTo(dst):
		p.Kind = KindAssign
		return p, nil
	}

	for _, rule := range table {
		if r, ok := rule(src, dst, opts); ok {
			p.Kind, p.Rule, p.fn = r.kind, r.name, r.fn
			return p, nil
		}
	}
	p.Kind = KindPassthrough
	return p, nil
}

type decision struct {
	kind Kind
	name string
	fn   Func
}

type ruleFunc func(src, dst reflect.Type, opts Options) (decision, bool)

var table []ruleFunc

func init() {
	table = []ruleFunc{
		enumTarget,
		enumSource,
		structured,
		convertible,
		changeType,
		parseText,
	}
}
