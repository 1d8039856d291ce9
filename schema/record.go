package schema

import "strings"

// Record is an ordered, string-keyed bag of values. Lookups are
// case-insensitive; the first spelling of a name is the one kept.
type Record struct {
	names  []string
	values []any
	index  map[string]int
}

// NewRecord returns an empty record with room for n entries.
func NewRecord(n int) *Record {
	return &Record{
		names:  make([]string, 0, n),
		values: make([]any, 0, n),
		index:  make(map[string]int, n),
	}
}

// Set adds name or replaces its value.
func (r *Record) Set(name string, v any) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	key := strings.ToLower(name)
	if i, ok := r.index[key]; ok {
		r.values[i] = v
		return
	}
	r.index[key] = len(r.names)
	r.names = append(r.names, name)
	r.values = append(r.values, v)
}

func (r *Record) Get(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	i, ok := r.index[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.names)
}

// Names returns the entry names in insertion order.
func (r *Record) Names() []string { return append([]string(nil), r.names...) }

// Values returns the entry values in insertion order.
func (r *Record) Values() []any { return append([]any(nil), r.values...) }

// Range calls fn for each entry in order until fn returns false.
func (r *Record) Range(fn func(name string, v any) bool) {
	for i, name := range r.names {
		if !fn(name, r.values[i]) {
			return
		}
	}
}

// Map copies the record into a plain map.
func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.names))
	for i, name := range r.names {
		m[name] = r.values[i]
	}
	return m
}
