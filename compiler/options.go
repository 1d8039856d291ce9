package compiler

import (
	"fmt"
	"reflect"

	"github.com/Konsultn-Engineering/rowbind/convert"
	"github.com/Konsultn-Engineering/rowbind/handler"
	"github.com/Konsultn-Engineering/rowbind/schema"
)

// Kind distinguishes the pipelines that can be compiled for one type and
// field set.
type Kind uint8

const (
	KindReader Kind = iota
	KindRecordReader
	KindWriter
)

func (k Kind) String() string {
	switch k {
	case KindReader:
		return "reader"
	case KindRecordReader:
		return "record-reader"
	case KindWriter:
		return "writer"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Key identifies a compiled pipeline. Two requests with equal keys may share
// one pipeline.
type Key struct {
	Type        reflect.Type
	Fingerprint uint64
	Kind        Kind
	BatchSize   int
	EnumPolicy  convert.EnumPolicy
}

func (k Key) String() string {
	return fmt.Sprintf("%s %s fp=%016x batch=%d enum=%s", k.Kind, k.Type, k.Fingerprint, k.BatchSize, k.EnumPolicy)
}

// Options control compilation. The zero value uses the default schema
// context and handler registry.
type Options struct {
	Schema      *schema.Context
	Handlers    *handler.Registry
	EnumPolicy  convert.EnumPolicy
	BatchSize   int  // writers only; values below 1 mean 1
	StrictNulls bool // NULL into a non-nullable member fails instead of zeroing
}

func (o Options) withDefaults() Options {
	if o.Schema == nil {
		o.Schema = schema.Default()
	}
	if o.Handlers == nil {
		o.Handlers = handler.Default()
	}
	if o.BatchSize < 1 {
		o.BatchSize = 1
	}
	return o
}

// KeyFor returns the cache key of the pipeline of the given kind.
func KeyFor(kind Kind, t reflect.Type, fields []schema.FieldDescriptor, opts Options) Key {
	opts = opts.withDefaults()
	k := Key{
		Type:        t,
		Fingerprint: schema.Fingerprint(fields),
		Kind:        kind,
		EnumPolicy:  opts.EnumPolicy,
	}
	if kind == KindWriter {
		k.BatchSize = opts.BatchSize
	}
	return k
}
