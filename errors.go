package rowbind

import (
	"github.com/Konsultn-Engineering/rowbind/compiler"
	"github.com/Konsultn-Engineering/rowbind/convert"
)

type (
	ShapeError         = compiler.ShapeError
	ConversionError    = compiler.ConversionError
	NullViolationError = compiler.NullViolationError
)

var (
	ErrShape         = compiler.ErrShape
	ErrConversion    = compiler.ErrConversion
	ErrNullViolation = compiler.ErrNullViolation
	ErrNilInstance   = compiler.ErrNilInstance
)

type EnumPolicy = convert.EnumPolicy

const (
	EnumCast              = convert.EnumCast
	EnumValidateOrDefault = convert.EnumValidateOrDefault
	EnumValidateOrThrow   = convert.EnumValidateOrThrow
)
