package convert

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Konsultn-Engineering/rowbind/schema"
)

// decimalPattern accepts plain and exponent notation only: no grouping
// separators, no locale decimal commas, no hex, no Inf/NaN.
var decimalPattern = regexp.MustCompile(`^[+-]?(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][+-]?\d+)?$`)

// dateTimeLayouts are the ISO 8601 forms a round-tripped timestamp can take.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseText is the last general rule: strict, culture-free parsers for text
// sources.
func parseText(src, dst reflect.Type, _ Options) (decision, bool) {
	if !isText(src) {
		return decision{}, false
	}

	var parse func(string) (any, error)
	switch {
	case dst == timeType:
		parse = func(s string) (any, error) { return ParseDateTime(s) }
	case dst == dateType:
		parse = func(s string) (any, error) { return schema.ParseDate(s) }
	case dst == clockType:
		parse = func(s string) (any, error) { return schema.ParseTimeOfDay(s) }
	case dst == durationType:
		parse = func(s string) (any, error) { return ParseDuration(s) }
	case isSigned(dst):
		bits := dst.Bits()
		parse = func(s string) (any, error) {
			n, err := strconv.ParseInt(s, 10, bits)
			return n, numErr(s, dst, err)
		}
	case isUnsigned(dst):
		bits := dst.Bits()
		parse = func(s string) (any, error) {
			n, err := strconv.ParseUint(s, 10, bits)
			return n, numErr(s, dst, err)
		}
	case isFloat(dst):
		bits := dst.Bits()
		parse = func(s string) (any, error) { return ParseDecimal(s, bits) }
	case dst.Kind() == reflect.Bool:
		parse = func(s string) (any, error) {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a boolean", ErrSyntax, s)
			}
			return b, nil
		}
	default:
		return decision{}, false
	}

	return decision{kind: KindParse, fn: func(v reflect.Value) (reflect.Value, error) {
		out, err := parse(textOf(v))
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(out).Convert(dst), nil
	}}, true
}

func numErr(s string, dst reflect.Type, err error) error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
		return fmt.Errorf("%w: %q does not fit %s", ErrOverflow, s, dst)
	}
	return fmt.Errorf("%w: %q is not a %s", ErrSyntax, s, dst)
}

// ParseDecimal parses invariant decimal text.
func ParseDecimal(s string, bits int) (float64, error) {
	if !decimalPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: %q is not a decimal", ErrSyntax, s)
	}
	f, err := strconv.ParseFloat(s, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q does not fit float%d", ErrOverflow, s, bits)
	}
	return f, nil
}

// ParseDateTime accepts RFC 3339 and the ISO 8601 forms without a zone or
// with a space separator. Zone-less input is taken as UTC; a bare date is
// midnight UTC.
func ParseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if d, err := schema.ParseDate(s); err == nil {
		return d.Time(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q is not an ISO 8601 timestamp", ErrSyntax, s)
}

// ParseDuration accepts Go duration syntax (1h30m) and clock syntax
// ([-]hh:mm:ss[.fffffffff]) where hours may exceed 23.
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	neg := strings.HasPrefix(s, "-")
	parts := strings.Split(strings.TrimPrefix(s, "-"), ":")
	if len(parts) != 3 || len(parts[1]) != 2 || len(parts[2]) < 2 {
		return 0, fmt.Errorf("%w: %q is not a duration", ErrSyntax, s)
	}
	h, errH := strconv.ParseUint(parts[0], 10, 32)
	m, errM := strconv.ParseUint(parts[1], 10, 8)
	sec, errS := ParseDecimal(parts[2], 64)
	if errH != nil || errM != nil || errS != nil || m > 59 || sec >= 60 {
		return 0, fmt.Errorf("%w: %q is not a duration", ErrSyntax, s)
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec*float64(time.Second))
	if neg {
		d = -d
	}
	return d, nil
}
