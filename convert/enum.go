package convert

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/Konsultn-Engineering/rowbind/schema"
)

// enumPolicy applies RuleFlagsAlwaysCast.
func enumPolicy(info *schema.EnumInfo, policy EnumPolicy) (EnumPolicy, string) {
	if info.Flags {
		return EnumCast, RuleFlagsAlwaysCast
	}
	return policy, ""
}

func enumTarget(src, dst reflect.Type, opts Options) (decision, bool) {
	info := schema.LookupEnum(dst)
	if info == nil {
		return decision{}, false
	}
	policy, rule := enumPolicy(info, opts.EnumPolicy)

	switch {
	case isText(src):
		return decision{KindEnumParse, rule, func(v reflect.Value) (reflect.Value, error) {
			n, err := info.Parse(textOf(v))
			if err != nil {
				if policy == EnumValidateOrDefault {
					return reflect.Zero(dst), nil
				}
				return reflect.Value{}, fmt.Errorf("%w: %v", ErrUndefinedEnum, err)
			}
			return checkEnum(info, policy, n)
		}}, true

	case isNumeric(src):
		return decision{KindEnumValidate, rule, func(v reflect.Value) (reflect.Value, error) {
			n, err := integral(v)
			if err != nil {
				return reflect.Value{}, err
			}
			return checkEnum(info, policy, n)
		}}, true
	}
	return decision{}, false
}

func checkEnum(info *schema.EnumInfo, policy EnumPolicy, n int64) (reflect.Value, error) {
	if info.Fits(n) && (policy == EnumCast || info.Defined(n)) {
		return info.Value(n), nil
	}
	if policy == EnumValidateOrDefault {
		return reflect.Zero(info.Type), nil
	}
	if !info.Fits(n) {
		return reflect.Value{}, fmt.Errorf("%w: %d does not fit %s", ErrOverflow, n, info.Type)
	}
	return reflect.Value{}, fmt.Errorf("%w: %d is not defined by %s", ErrUndefinedEnum, n, info.Type)
}

func enumSource(src, dst reflect.Type, opts Options) (decision, bool) {
	info := schema.LookupEnum(src)
	if info == nil {
		return decision{}, false
	}
	policy, rule := enumPolicy(info, opts.EnumPolicy)

	value := func(v reflect.Value) (int64, error) {
		n := info.Int(v)
		if policy == EnumCast || info.Defined(n) {
			return n, nil
		}
		if policy == EnumValidateOrDefault {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %d is not defined by %s", ErrUndefinedEnum, n, info.Type)
	}
	decimal := isDecimalRaw(opts.RawType)

	switch {
	case dst.Kind() == reflect.String && decimal:
		return decision{KindEnumNumeric, RuleEnumDecimalWiden, func(v reflect.Value) (reflect.Value, error) {
			n, err := value(v)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(strconv.FormatFloat(float64(n), 'f', -1, 64)).Convert(dst), nil
		}}, true

	case dst.Kind() == reflect.String:
		return decision{KindEnumFormat, rule, func(v reflect.Value) (reflect.Value, error) {
			n, err := value(v)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(info.Format(n)).Convert(dst), nil
		}}, true

	case isFloat(dst):
		return decision{KindEnumNumeric, RuleEnumDecimalWiden, func(v reflect.Value) (reflect.Value, error) {
			n, err := value(v)
			if err != nil {
				return reflect.Value{}, err
			}
			return toNumber(reflect.ValueOf(float64(n)), dst)
		}}, true

	case isInteger(dst):
		return decision{KindEnumNumeric, rule, func(v reflect.Value) (reflect.Value, error) {
			n, err := value(v)
			if err != nil {
				return reflect.Value{}, err
			}
			return toNumber(reflect.ValueOf(n), dst)
		}}, true
	}
	return decision{}, false
}

// integral extracts a whole number from any numeric value.
func integral(v reflect.Value) (int64, error) {
	switch {
	case isSigned(v.Type()):
		return v.Int(), nil
	case isUnsigned(v.Type()):
		return int64(v.Uint()), nil // values above MaxInt64 keep their bit pattern
	default:
		f := v.Float()
		if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, fmt.Errorf("%w: %v is not a whole number", ErrOverflow, f)
		}
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: %v", ErrOverflow, f)
		}
		return int64(f), nil
	}
}

func isDecimalRaw(raw string) bool {
	switch schema.BaseRawType(raw) {
	case "DECIMAL", "NUMERIC", "DEC", "NUMBER", "MONEY", "SMALLMONEY":
		return true
	}
	return false
}
