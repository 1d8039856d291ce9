package schema

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	stringType   = reflect.TypeFor[string]()
	boolType     = reflect.TypeFor[bool]()
	bytesType    = reflect.TypeFor[[]byte]()
	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
	dateType     = reflect.TypeFor[Date]()
	clockType    = reflect.TypeFor[TimeOfDay]()
	uuidType     = reflect.TypeFor[uuid.UUID]()
	jsonType     = reflect.TypeFor[json.RawMessage]()
	int16Type    = reflect.TypeFor[int16]()
	int32Type    = reflect.TypeFor[int32]()
	int64Type    = reflect.TypeFor[int64]()
	uint32Type   = reflect.TypeFor[uint32]()
	float32Type  = reflect.TypeFor[float32]()
	float64Type  = reflect.TypeFor[float64]()
)

// rawTypes maps upper-cased provider type names (without parameters) to the
// Go type a column of that type is read as.
var rawTypes = map[string]reflect.Type{
	// character
	"CHAR": stringType, "VARCHAR": stringType, "TEXT": stringType, "CLOB": stringType,
	"NCHAR": stringType, "NVARCHAR": stringType, "NTEXT": stringType, "CHARACTER": stringType,
	"CHARACTER VARYING": stringType, "VARCHAR2": stringType, "NVARCHAR2": stringType,
	"BPCHAR": stringType, "NAME": stringType, "CITEXT": stringType, "XML": stringType,

	// integers
	"TINYINT": int16Type, "SMALLINT": int16Type, "INT2": int16Type, "SMALLSERIAL": int16Type,
	"MEDIUMINT": int32Type, "INT": int32Type, "INT4": int32Type, "SERIAL": int32Type,
	"INTEGER": int64Type, "BIGINT": int64Type, "INT8": int64Type, "BIGSERIAL": int64Type,
	"OID": uint32Type,

	// floating point and exact numerics
	"REAL": float32Type, "FLOAT4": float32Type,
	"FLOAT": float64Type, "FLOAT8": float64Type, "DOUBLE": float64Type, "DOUBLE PRECISION": float64Type,
	"NUMERIC": float64Type, "DECIMAL": float64Type, "DEC": float64Type, "NUMBER": float64Type,
	"MONEY": float64Type, "SMALLMONEY": float64Type,

	// boolean
	"BOOLEAN": boolType, "BOOL": boolType, "BIT": boolType,

	// temporal
	"DATE": dateType, "TIME": clockType, "TIME WITHOUT TIME ZONE": clockType,
	"DATETIME": timeType, "DATETIME2": timeType, "TIMESTAMP": timeType, "TIMESTAMPTZ": timeType,
	"TIMESTAMP WITH TIME ZONE": timeType, "TIMESTAMP WITHOUT TIME ZONE": timeType,
	"DATETIMEOFFSET": timeType, "INTERVAL": durationType,

	// binary
	"BINARY": bytesType, "VARBINARY": bytesType, "BLOB": bytesType, "BYTEA": bytesType,
	"RAW": bytesType, "IMAGE": bytesType, "ROWVERSION": bytesType,

	// identifiers and documents
	"UUID": uuidType, "UNIQUEIDENTIFIER": uuidType,
	"JSON": jsonType, "JSONB": jsonType,
}

// BaseRawType upper-cases a provider type name and strips its parameters:
// "numeric(10, 2)" becomes "NUMERIC".
func BaseRawType(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if i := strings.IndexByte(raw, '('); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	return strings.TrimPrefix(raw, "UNSIGNED ")
}

// GoTypeForRaw returns the Go type for a provider type name, or nil when the
// name is unknown.
func GoTypeForRaw(raw string) reflect.Type {
	if raw == "" {
		return nil
	}
	return rawTypes[BaseRawType(raw)]
}
