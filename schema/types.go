package schema

import (
	"fmt"
	"reflect"
)

// Nullability describes what a provider reported about a column's NULL-ness.
type Nullability uint8

const (
	NullUnknown Nullability = iota // provider did not say
	NullYes                        // column accepts NULL
	NullNo                         // column is declared NOT NULL
)

func (n Nullability) String() string {
	switch n {
	case NullYes:
		return "null"
	case NullNo:
		return "not_null"
	default:
		return "unknown"
	}
}

// Direction of a parameter slot. Result-set fields are always DirOutput.
type Direction uint8

const (
	DirInput Direction = iota
	DirOutput
	DirInputOutput
)

// IsInput reports whether a value flows from the application to the database.
func (d Direction) IsInput() bool { return d == DirInput || d == DirInputOutput }

// IsOutput reports whether a value flows back from the database after execution.
func (d Direction) IsOutput() bool { return d == DirOutput || d == DirInputOutput }

func (d Direction) String() string {
	switch d {
	case DirInput:
		return "in"
	case DirOutput:
		return "out"
	case DirInputOutput:
		return "inout"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// FieldDescriptor describes one column of a result set or one parameter of a
// statement. Descriptors are produced by a cursor or a schema source and are
// treated as immutable values once built.
type FieldDescriptor struct {
	Name       string
	Type       reflect.Type // declared Go type; nil when the provider did not report one
	Nullable   Nullability
	Ordinal    int // position in the row; -1 for parameters
	Direction  Direction
	PrimaryKey bool
	Identity   bool
	Size       int
	Precision  int
	Scale      int
	RawType    string // provider type name, e.g. NUMERIC(10,2)
}

// MayBeNull reports whether a null-guard is needed for this field.
func (f FieldDescriptor) MayBeNull() bool { return f.Nullable != NullNo }

func (f FieldDescriptor) String() string {
	typ := "?"
	if f.Type != nil {
		typ = f.Type.String()
	}
	return fmt.Sprintf("%s(%s,%s,%s)", f.Name, typ, f.Nullable, f.Direction)
}
