package convert

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/Konsultn-Engineering/rowbind/schema"
)

var (
	scannerType = reflect.TypeFor[sql.Scanner]()
	valuerType  = reflect.TypeFor[driver.Valuer]()
)

func isSigned(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isInteger(t reflect.Type) bool { return isSigned(t) || isUnsigned(t) }

func isFloat(t reflect.Type) bool {
	return t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64
}

func isNumeric(t reflect.Type) bool { return isInteger(t) || isFloat(t) }

func isBytes(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

func isText(t reflect.Type) bool { return t.Kind() == reflect.String || isBytes(t) }

func textOf(v reflect.Value) string {
	if v.Kind() == reflect.String {
		return v.String()
	}
	return string(v.Bytes())
}

// convertible is the "convert to type" primitive: numeric conversions with
// range checks and same-kind reinterpretation of named types. Integer to
// string (rune) conversion is deliberately not offered.
func convertible(src, dst reflect.Type, _ Options) (decision, bool) {
	switch {
	case isNumeric(src) && dst == clockType:
		return decision{kind: KindConvert, fn: func(v reflect.Value) (reflect.Value, error) {
			out, err := toNumber(v, dst)
			if err != nil {
				return reflect.Value{}, err
			}
			if !out.Interface().(schema.TimeOfDay).Valid() {
				return reflect.Value{}, overflow(v, dst)
			}
			return out, nil
		}}, true

	case isNumeric(src) && isNumeric(dst):
		return decision{kind: KindConvert, fn: func(v reflect.Value) (reflect.Value, error) {
			return toNumber(v, dst)
		}}, true

	case isText(src) && isText(dst),
		src.Kind() == dst.Kind() && src.ConvertibleTo(dst) && !isNumeric(src) &&
			src.Kind() != reflect.Pointer && src.Kind() != reflect.Interface:
		return decision{kind: KindConvert, fn: func(v reflect.Value) (reflect.Value, error) {
			return v.Convert(dst), nil
		}}, true
	}
	return decision{}, false
}

// toNumber converts between numeric kinds, failing instead of truncating.
func toNumber(v reflect.Value, dst reflect.Type) (reflect.Value, error) {
	out := reflect.New(dst).Elem()
	src := v.Type()
	switch {
	case isSigned(dst):
		var n int64
		switch {
		case isSigned(src):
			n = v.Int()
		case isUnsigned(src):
			if v.Uint() > math.MaxInt64 {
				return reflect.Value{}, overflow(v, dst)
			}
			n = int64(v.Uint())
		default:
			f := v.Float()
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				return reflect.Value{}, overflow(v, dst)
			}
			n = int64(f)
		}
		if out.OverflowInt(n) {
			return reflect.Value{}, overflow(v, dst)
		}
		out.SetInt(n)

	case isUnsigned(dst):
		var n uint64
		switch {
		case isSigned(src):
			if v.Int() < 0 {
				return reflect.Value{}, overflow(v, dst)
			}
			n = uint64(v.Int())
		case isUnsigned(src):
			n = v.Uint()
		default:
			f := v.Float()
			if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
				return reflect.Value{}, overflow(v, dst)
			}
			n = uint64(f)
		}
		if out.OverflowUint(n) {
			return reflect.Value{}, overflow(v, dst)
		}
		out.SetUint(n)

	default:
		var f float64
		switch {
		case isSigned(src):
			f = float64(v.Int())
		case isUnsigned(src):
			f = float64(v.Uint())
		default:
			f = v.Float()
		}
		if out.OverflowFloat(f) {
			return reflect.Value{}, overflow(v, dst)
		}
		out.SetFloat(f)
	}
	return out, nil
}

func overflow(v reflect.Value, dst reflect.Type) error {
	return fmt.Errorf("%w: %v does not fit %s", ErrOverflow, v.Interface(), dst)
}

// changeType covers the pairs a plain conversion cannot express.
func changeType(src, dst reflect.Type, opts Options) (decision, bool) {
	var fn Func
	switch {
	case src.Kind() == reflect.Bool && isNumeric(dst):
		fn = func(v reflect.Value) (reflect.Value, error) {
			var n int64
			if v.Bool() {
				n = 1
			}
			return toNumber(reflect.ValueOf(n), dst)
		}
	case isNumeric(src) && dst.Kind() == reflect.Bool:
		fn = func(v reflect.Value) (reflect.Value, error) {
			zero := reflect.Zero(src)
			return reflect.ValueOf(!v.Equal(zero)).Convert(dst), nil
		}

	case src == timeType && dst.Kind() == reflect.String:
		fn = func(v reflect.Value) (reflect.Value, error) {
			return reflect.ValueOf(v.Interface().(time.Time).Format(time.RFC3339Nano)).Convert(dst), nil
		}
	case (src == dateType || src == clockType || src == durationType) && dst.Kind() == reflect.String:
		fn = func(v reflect.Value) (reflect.Value, error) {
			return reflect.ValueOf(v.Interface().(fmt.Stringer).String()).Convert(dst), nil
		}
	case (isNumeric(src) || src.Kind() == reflect.Bool) && dst.Kind() == reflect.String:
		fn = func(v reflect.Value) (reflect.Value, error) {
			return reflect.ValueOf(formatScalar(v)).Convert(dst), nil
		}

	case isInteger(src) && dst == timeType:
		fn = func(v reflect.Value) (reflect.Value, error) {
			n, err := integral(v)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(time.Unix(n, 0).UTC()), nil
		}

	case src.Implements(valuerType):
		inner := &Plan{Kind: KindDynamic, Target: dst, opts: opts}
		fn = func(v reflect.Value) (reflect.Value, error) {
			raw, err := v.Interface().(driver.Valuer).Value()
			if err != nil {
				return reflect.Value{}, err
			}
			if raw == nil {
				return reflect.Value{}, ErrNull
			}
			if reflect.TypeOf(raw) == src {
				return reflect.Value{}, fmt.Errorf("%w: %s valuer returns itself", ErrTypeMismatch, src)
			}
			return inner.Apply(reflect.ValueOf(raw))
		}

	case reflect.PointerTo(dst).Implements(scannerType):
		fn = func(v reflect.Value) (reflect.Value, error) {
			out := reflect.New(dst)
			if err := out.Interface().(sql.Scanner).Scan(v.Interface()); err != nil {
				return reflect.Value{}, err
			}
			return out.Elem(), nil
		}
	default:
		return decision{}, false
	}
	return decision{kind: KindChangeType, fn: fn}, true
}

// formatScalar renders numbers and booleans in an invariant form.
func formatScalar(v reflect.Value) string {
	switch {
	case isSigned(v.Type()):
		return strconv.FormatInt(v.Int(), 10)
	case isUnsigned(v.Type()):
		return strconv.FormatUint(v.Uint(), 10)
	case v.Kind() == reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case v.Kind() == reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 32)
	default:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	}
}
