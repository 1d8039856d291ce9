package schema

import (
	"fmt"
	"reflect"
	"sync"
)

// Context owns the naming configuration and the descriptor cache. Descriptors
// are created lazily on first use and live as long as the Context.
type Context struct {
	namingStrategy NamingStrategy
	tagName        string
	tags           *TagParser

	descriptors sync.Map // reflect.Type -> *TypeDescriptor
}

type Option func(*Context)

// WithNamingStrategy sets how Go names map to column and relation names.
func WithNamingStrategy(strategy NamingStrategy) Option {
	return func(ctx *Context) {
		if strategy != nil {
			ctx.namingStrategy = strategy
		}
	}
}

// WithTagName sets the struct tag key read for mapping options.
func WithTagName(tagName string) Option {
	return func(ctx *Context) {
		if tagName != "" {
			ctx.tagName = tagName
		}
	}
}

func New(options ...Option) *Context {
	ctx := &Context{
		namingStrategy: DefaultNamingStrategy(),
		tagName:        "db",
	}
	for _, opt := range options {
		opt(ctx)
	}
	ctx.tags = NewTagParser(ctx.tagName, ctx.namingStrategy)
	return ctx
}

var defaultContext = sync.OnceValue(func() *Context { return New() })

// Default returns the process-wide Context with default options.
func Default() *Context { return defaultContext() }

// Describe returns the cached descriptor of t using the default Context.
func Describe(t reflect.Type) (*TypeDescriptor, error) { return Default().Describe(t) }

func (c *Context) NamingStrategy() NamingStrategy { return c.namingStrategy }

func (c *Context) TagName() string { return c.tagName }

// Describe returns the descriptor of t, building it on first use. Concurrent
// first calls may build twice; every caller receives the stored copy.
func (c *Context) Describe(t reflect.Type) (*TypeDescriptor, error) {
	if t == nil {
		return nil, fmt.Errorf("schema: describe nil type")
	}
	if d, ok := c.descriptors.Load(t); ok {
		return d.(*TypeDescriptor), nil
	}

	d, err := c.buildDescriptor(t)
	if err != nil {
		return nil, err
	}
	described.Store(t, struct{}{})
	if d.Underlying != t {
		described.Store(d.Underlying, struct{}{})
	}
	actual, _ := c.descriptors.LoadOrStore(t, d)
	return actual.(*TypeDescriptor), nil
}

// Fields derives the field list of a struct type from its tags: every member
// in declaration order, ordinals assigned for reading. Identity members are
// reported as output-direction fields so a write set can read them back.
func (c *Context) Fields(t reflect.Type) ([]FieldDescriptor, error) {
	d, err := c.Describe(t)
	if err != nil {
		return nil, err
	}
	if !d.IsClass() {
		return nil, fmt.Errorf("schema: %s has no members", t)
	}

	fields := make([]FieldDescriptor, 0, len(d.Members))
	for i, m := range d.Members {
		f := FieldDescriptor{
			Name:       m.Column,
			Type:       GoTypeForRaw(m.DBType),
			Nullable:   NullNo,
			Ordinal:    i,
			Direction:  DirInput,
			PrimaryKey: m.Primary,
			Identity:   m.Identity,
			Size:       m.Size,
			Precision:  m.Precision,
			Scale:      m.Scale,
			RawType:    m.DBType,
		}
		if m.Nullable {
			f.Nullable = NullYes
		}
		if m.Identity {
			f.Direction = DirOutput
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// WriteFields is Fields with ordinals cleared, ready for a write pipeline.
func (c *Context) WriteFields(t reflect.Type) ([]FieldDescriptor, error) {
	fields, err := c.Fields(t)
	if err != nil {
		return nil, err
	}
	for i := range fields {
		fields[i].Ordinal = -1
	}
	return fields, nil
}
