package convert

import (
	"fmt"
	"strings"
)

// EnumPolicy controls what happens when a number or name does not match a
// defined enum value.
type EnumPolicy uint8

const (
	// EnumCast reinterprets the value without checking it.
	EnumCast EnumPolicy = iota
	// EnumValidateOrDefault replaces an undefined value with the zero value.
	EnumValidateOrDefault
	// EnumValidateOrThrow fails the conversion.
	EnumValidateOrThrow
)

func (p EnumPolicy) Valid() bool { return p <= EnumValidateOrThrow }

func (p EnumPolicy) String() string {
	switch p {
	case EnumCast:
		return "cast"
	case EnumValidateOrDefault:
		return "validate_or_default"
	case EnumValidateOrThrow:
		return "validate_or_throw"
	default:
		return fmt.Sprintf("EnumPolicy(%d)", uint8(p))
	}
}

// ParseEnumPolicy accepts the String forms, with '-' or '_' separators.
func ParseEnumPolicy(s string) (EnumPolicy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "cast":
		return EnumCast, nil
	case "validate_or_default", "default":
		return EnumValidateOrDefault, nil
	case "validate_or_throw", "throw", "strict":
		return EnumValidateOrThrow, nil
	default:
		return 0, fmt.Errorf("convert: unknown enum policy %q", s)
	}
}

func (p EnumPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *EnumPolicy) UnmarshalText(text []byte) error {
	v, err := ParseEnumPolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
