package database

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/Konsultn-Engineering/rowbind/schema"
)

// SchemaSource reports the fields of a relation. dir selects the read set
// (DirOutput: result columns with ordinals) or the write set (DirInput:
// parameters, identity columns returned as outputs).
type SchemaSource interface {
	Fields(ctx context.Context, relation string, dir schema.Direction) ([]schema.FieldDescriptor, error)
}

// StaticSchema is a SchemaSource over field lists registered up front.
type StaticSchema struct {
	mu        sync.RWMutex
	relations map[string][]schema.FieldDescriptor
}

func NewStaticSchema() *StaticSchema {
	return &StaticSchema{relations: make(map[string][]schema.FieldDescriptor)}
}

// Add registers the fields of relation, replacing any earlier registration.
func (s *StaticSchema) Add(relation string, fields ...schema.FieldDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relations[strings.ToLower(relation)] = append([]schema.FieldDescriptor(nil), fields...)
}

// AddType registers the fields derived from the tags of struct type t under
// the relation name produced by the context's naming strategy, which it
// returns.
func (s *StaticSchema) AddType(sc *schema.Context, t reflect.Type) (string, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	fields, err := sc.Fields(t)
	if err != nil {
		return "", err
	}
	relation := sc.NamingStrategy().TableName(t.Name())
	s.Add(relation, fields...)
	return relation, nil
}

func (s *StaticSchema) Fields(_ context.Context, relation string, dir schema.Direction) ([]schema.FieldDescriptor, error) {
	s.mu.RLock()
	registered, ok := s.relations[strings.ToLower(relation)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("database: unknown relation %q", relation)
	}

	fields := make([]schema.FieldDescriptor, len(registered))
	for i, f := range registered {
		if dir == schema.DirOutput {
			f.Ordinal = i
			f.Direction = schema.DirOutput
		} else {
			f.Ordinal = -1
			f.Direction = schema.DirInput
			if f.Identity {
				f.Direction = schema.DirOutput
			}
		}
		fields[i] = f
	}
	return fields, nil
}

var _ SchemaSource = (*StaticSchema)(nil)
