package convert

import (
	"fmt"
	"reflect"
	"time"

	"github.com/Konsultn-Engineering/rowbind/schema"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	uuidType     = reflect.TypeFor[uuid.UUID]()
	ulidType     = reflect.TypeFor[ulid.ULID]()
	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
	dateType     = reflect.TypeFor[schema.Date]()
	clockType    = reflect.TypeFor[schema.TimeOfDay]()
)

func isGUID(t reflect.Type) bool { return t == uuidType || t == ulidType }

func structured(src, dst reflect.Type, _ Options) (decision, bool) {
	var fn Func
	switch {
	case isGUID(src) && dst.Kind() == reflect.String:
		fn = func(v reflect.Value) (reflect.Value, error) {
			return reflect.ValueOf(v.Interface().(fmt.Stringer).String()).Convert(dst), nil
		}
	case src.Kind() == reflect.String && isGUID(dst):
		fn = func(v reflect.Value) (reflect.Value, error) { return parseGUID(v.String(), dst) }

	case isGUID(src) && isBytes(dst):
		fn = func(v reflect.Value) (reflect.Value, error) {
			b := make([]byte, 16)
			reflect.Copy(reflect.ValueOf(b), v)
			return reflect.ValueOf(b).Convert(dst), nil
		}
	case isBytes(src) && isGUID(dst):
		fn = func(v reflect.Value) (reflect.Value, error) {
			b := v.Bytes()
			if len(b) != 16 {
				return parseGUID(string(b), dst)
			}
			out := reflect.New(dst).Elem()
			reflect.Copy(out, reflect.ValueOf(b))
			return out, nil
		}

	case src == timeType && dst == clockType:
		fn = func(v reflect.Value) (reflect.Value, error) {
			return reflect.ValueOf(schema.TimeOfDayOf(v.Interface().(time.Time))), nil
		}
	case src == clockType && dst == timeType:
		fn = func(v reflect.Value) (reflect.Value, error) {
			tod := v.Interface().(schema.TimeOfDay)
			if !tod.Valid() {
				return reflect.Value{}, fmt.Errorf("%w: time of day %s", ErrOverflow, tod.Duration())
			}
			return reflect.ValueOf(time.Time{}.Add(tod.Duration())), nil
		}

	case src == timeType && dst == dateType:
		fn = func(v reflect.Value) (reflect.Value, error) {
			return reflect.ValueOf(schema.DateOf(v.Interface().(time.Time))), nil
		}
	case src == dateType && dst == timeType:
		fn = func(v reflect.Value) (reflect.Value, error) {
			return reflect.ValueOf(v.Interface().(schema.Date).Time()), nil
		}

	case src == clockType && dst == durationType:
		fn = func(v reflect.Value) (reflect.Value, error) {
			return reflect.ValueOf(v.Interface().(schema.TimeOfDay).Duration()), nil
		}
	case src == durationType && dst == clockType:
		fn = func(v reflect.Value) (reflect.Value, error) {
			tod := schema.TimeOfDay(v.Interface().(time.Duration))
			if !tod.Valid() {
				return reflect.Value{}, fmt.Errorf("%w: %s is not a time of day", ErrOverflow, tod.Duration())
			}
			return reflect.ValueOf(tod), nil
		}
	default:
		return decision{}, false
	}
	return decision{kind: KindStructured, fn: fn}, true
}

func parseGUID(s string, dst reflect.Type) (reflect.Value, error) {
	if dst == ulidType {
		id, err := ulid.ParseStrict(s)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%w: %q is not a ULID: %v", ErrSyntax, s, err)
		}
		return reflect.ValueOf(id), nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %q is not a UUID: %v", ErrSyntax, s, err)
	}
	return reflect.ValueOf(id), nil
}
