package schema

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the shape of a field list: names, ordinals, declared
// types, nullability, direction and the provider hints. Two lists that differ
// in any of these never share a fingerprint in practice.
func Fingerprint(fields []FieldDescriptor) uint64 {
	d := xxhash.New()
	var buf [8]byte
	putInt := func(n int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(n)))
		_, _ = d.Write(buf[:])
	}

	putInt(len(fields))
	for _, f := range fields {
		_, _ = d.WriteString(f.Name)
		_, _ = d.Write([]byte{0})
		putInt(f.Ordinal)
		if f.Type != nil {
			_, _ = d.WriteString(f.Type.PkgPath())
			_, _ = d.WriteString(".")
			_, _ = d.WriteString(f.Type.String())
		}
		_, _ = d.Write([]byte{0, byte(f.Nullable), byte(f.Direction), flagByte(f.PrimaryKey), flagByte(f.Identity)})
		putInt(f.Size)
		putInt(f.Precision)
		putInt(f.Scale)
		_, _ = d.WriteString(f.RawType)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

func flagByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
