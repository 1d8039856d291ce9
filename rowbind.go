// Package rowbind maps database rows to Go values and Go values to statement
// parameters through compiled, cached pipelines.
//
// A Mapper compiles one pipeline per (type, field set, options) and reuses it
// for every later request with the same shape:
//
//	m, _ := rowbind.New(rowbind.WithEnumPolicy(rowbind.EnumValidateOrThrow))
//	users, err := rowbind.ScanAll[User](m, cursor)
package rowbind

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/Konsultn-Engineering/rowbind/cache"
	"github.com/Konsultn-Engineering/rowbind/compiler"
	"github.com/Konsultn-Engineering/rowbind/convert"
	"github.com/Konsultn-Engineering/rowbind/handler"
	"github.com/Konsultn-Engineering/rowbind/schema"
)

// Mapper compiles and caches read and write pipelines. It is safe for
// concurrent use.
type Mapper struct {
	schema      *schema.Context
	schemaOpts  []schema.Option
	handlers    *handler.Registry
	enumPolicy  convert.EnumPolicy
	strictNulls bool
	cacheSize   int
	logger      *slog.Logger

	readers *cache.PipelineCache[compiler.Key, *compiler.Reader]
	writers *cache.PipelineCache[compiler.Key, *compiler.Writer]
}

// Stats reports the pipeline cache counters of a Mapper.
type Stats struct {
	Readers cache.Stats
	Writers cache.Stats
}

// New builds a Mapper. Without options it uses the default schema context,
// the default handler registry, EnumCast and an unbounded cache.
func New(opts ...Option) (*Mapper, error) {
	m := &Mapper{
		handlers: handler.Default(),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cacheSize < 0 {
		return nil, fmt.Errorf("rowbind: cache size must not be negative, got %d", m.cacheSize)
	}
	if m.schema == nil {
		if len(m.schemaOpts) > 0 {
			m.schema = schema.New(m.schemaOpts...)
		} else {
			m.schema = schema.Default()
		}
	}

	if m.cacheSize == 0 {
		m.readers = cache.New[compiler.Key, *compiler.Reader]()
		m.writers = cache.New[compiler.Key, *compiler.Writer]()
		return m, nil
	}
	var err error
	if m.readers, err = cache.NewBounded(m.cacheSize, func(k compiler.Key, _ *compiler.Reader) { m.logEvict(k) }); err != nil {
		return nil, fmt.Errorf("rowbind: reader cache: %w", err)
	}
	if m.writers, err = cache.NewBounded(m.cacheSize, func(k compiler.Key, _ *compiler.Writer) { m.logEvict(k) }); err != nil {
		return nil, fmt.Errorf("rowbind: writer cache: %w", err)
	}
	return m, nil
}

var defaultMapper = sync.OnceValue(func() *Mapper {
	m, err := New()
	if err != nil {
		panic(err)
	}
	return m
})

// Default returns the process-wide Mapper built without options.
func Default() *Mapper { return defaultMapper() }

func (m *Mapper) Schema() *schema.Context { return m.schema }

func (m *Mapper) Handlers() *handler.Registry { return m.handlers }

func (m *Mapper) options(batchSize int) compiler.Options {
	return compiler.Options{
		Schema:      m.schema,
		Handlers:    m.handlers,
		EnumPolicy:  m.enumPolicy,
		BatchSize:   batchSize,
		StrictNulls: m.strictNulls,
	}
}

// CompileReader returns the pipeline reading rows shaped like fields into
// values of t, compiling it on first use.
func (m *Mapper) CompileReader(t reflect.Type, fields []schema.FieldDescriptor) (*compiler.Reader, error) {
	opts := m.options(0)
	key := compiler.KeyFor(compiler.KindReader, t, fields, opts)
	return m.readers.GetOrCompile(key, func() (*compiler.Reader, error) {
		start := time.Now()
		r, err := compiler.CompileReader(t, fields, opts)
		m.logCompile(key, len(fields), start, err)
		return r, err
	})
}

// CompileRecordReader returns the pipeline reading rows into *schema.Record.
func (m *Mapper) CompileRecordReader(fields []schema.FieldDescriptor) (*compiler.Reader, error) {
	opts := m.options(0)
	key := compiler.KeyFor(compiler.KindRecordReader, reflect.TypeFor[*schema.Record](), fields, opts)
	return m.readers.GetOrCompile(key, func() (*compiler.Reader, error) {
		start := time.Now()
		r, err := compiler.CompileRecordReader(fields, opts)
		m.logCompile(key, len(fields), start, err)
		return r, err
	})
}

// CompileWriter returns the pipeline binding up to batchSize values of t to
// the parameter set fields.
func (m *Mapper) CompileWriter(t reflect.Type, fields []schema.FieldDescriptor, batchSize int) (*compiler.Writer, error) {
	opts := m.options(batchSize)
	key := compiler.KeyFor(compiler.KindWriter, t, fields, opts)
	return m.writers.GetOrCompile(key, func() (*compiler.Writer, error) {
		start := time.Now()
		w, err := compiler.CompileWriter(t, fields, opts)
		m.logCompile(key, len(fields), start, err)
		return w, err
	})
}

// WriteFields derives the parameter set of struct type t from its tags.
func (m *Mapper) WriteFields(t reflect.Type) ([]schema.FieldDescriptor, error) {
	return m.schema.WriteFields(t)
}

func (m *Mapper) Stats() Stats {
	return Stats{Readers: m.readers.Stats(), Writers: m.writers.Stats()}
}

// Purge drops every cached pipeline.
func (m *Mapper) Purge() {
	m.readers.Purge()
	m.writers.Purge()
}

func (m *Mapper) logCompile(key compiler.Key, fields int, start time.Time, err error) {
	attrs := []any{
		slog.String("type", typeName(key.Type)),
		slog.String("kind", key.Kind.String()),
		slog.String("fingerprint", fmt.Sprintf("%016x", key.Fingerprint)),
		slog.Int("fields", fields),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		m.logger.Debug("pipeline compile failed", append(attrs, slog.Any("error", err))...)
		return
	}
	m.logger.Debug("pipeline compiled", attrs...)
}

func (m *Mapper) logEvict(key compiler.Key) {
	m.logger.Debug("pipeline evicted",
		slog.String("type", typeName(key.Type)),
		slog.String("kind", key.Kind.String()),
		slog.String("fingerprint", fmt.Sprintf("%016x", key.Fingerprint)),
	)
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
