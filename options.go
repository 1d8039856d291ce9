package rowbind

import (
	"log/slog"

	"github.com/Konsultn-Engineering/rowbind/convert"
	"github.com/Konsultn-Engineering/rowbind/handler"
	"github.com/Konsultn-Engineering/rowbind/schema"
)

type Option func(*Mapper)

// WithEnumPolicy sets how integers outside an enum's defined set are treated.
func WithEnumPolicy(p convert.EnumPolicy) Option {
	return func(m *Mapper) { m.enumPolicy = p }
}

// WithHandlers replaces the default handler registry.
func WithHandlers(r *handler.Registry) Option {
	return func(m *Mapper) {
		if r != nil {
			m.handlers = r
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Mapper) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithCacheSize bounds each pipeline cache to n entries. Zero means
// unbounded.
func WithCacheSize(n int) Option {
	return func(m *Mapper) { m.cacheSize = n }
}

// WithTagName sets the struct tag key read for mapping options.
func WithTagName(name string) Option {
	return func(m *Mapper) { m.schemaOpts = append(m.schemaOpts, schema.WithTagName(name)) }
}

// WithNamingStrategy sets how Go names map to column and relation names.
func WithNamingStrategy(s schema.NamingStrategy) Option {
	return func(m *Mapper) { m.schemaOpts = append(m.schemaOpts, schema.WithNamingStrategy(s)) }
}

// WithSchema uses an existing schema context. It takes precedence over
// WithTagName and WithNamingStrategy.
func WithSchema(sc *schema.Context) Option {
	return func(m *Mapper) { m.schema = sc }
}

// WithStrictNulls makes NULL into a non-nullable member a NullViolationError
// instead of the member's zero value.
func WithStrictNulls(strict bool) Option {
	return func(m *Mapper) { m.strictNulls = strict }
}
