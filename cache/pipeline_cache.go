package cache

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Compiles  uint64
	Evictions uint64
	Size      int
}

// PipelineCache maps keys to compiled values. Lookups are lock-free for the
// unbounded variant; the bounded variant keeps the most recently used entries.
//
// Two goroutines missing the same key may both compile. The first value
// stored wins and is returned to every caller.
type PipelineCache[K comparable, V any] struct {
	entries sync.Map
	bounded *lru.Cache[K, V]

	size      atomic.Int64
	hits      atomic.Uint64
	misses    atomic.Uint64
	compiles  atomic.Uint64
	evictions atomic.Uint64
}

// New returns an unbounded cache.
func New[K comparable, V any]() *PipelineCache[K, V] {
	return &PipelineCache[K, V]{}
}

// NewBounded returns a cache holding at most size entries. onEvict may be nil.
func NewBounded[K comparable, V any](size int, onEvict func(K, V)) (*PipelineCache[K, V], error) {
	c := &PipelineCache[K, V]{}
	l, err := lru.NewWithEvict(size, func(k K, v V) {
		c.evictions.Add(1)
		if onEvict != nil {
			onEvict(k, v)
		}
	})
	if err != nil {
		return nil, err
	}
	c.bounded = l
	return c, nil
}

// GetOrCompile returns the value cached for key, calling compile on a miss.
// Errors are returned to the caller and never cached.
func (c *PipelineCache[K, V]) GetOrCompile(key K, compile func() (V, error)) (V, error) {
	if v, ok := c.load(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	v, err := compile()
	if err != nil {
		var zero V
		return zero, err
	}
	c.compiles.Add(1)
	return c.store(key, v), nil
}

// Get returns the cached value without compiling.
func (c *PipelineCache[K, V]) Get(key K) (V, bool) {
	return c.load(key)
}

func (c *PipelineCache[K, V]) load(key K) (V, bool) {
	if c.bounded != nil {
		return c.bounded.Get(key)
	}
	if v, ok := c.entries.Load(key); ok {
		return v.(V), true
	}
	var zero V
	return zero, false
}

func (c *PipelineCache[K, V]) store(key K, v V) V {
	if c.bounded != nil {
		if prev, ok, _ := c.bounded.PeekOrAdd(key, v); ok {
			return prev
		}
		return v
	}
	actual, loaded := c.entries.LoadOrStore(key, v)
	if !loaded {
		c.size.Add(1)
	}
	return actual.(V)
}

func (c *PipelineCache[K, V]) Len() int {
	if c.bounded != nil {
		return c.bounded.Len()
	}
	return int(c.size.Load())
}

func (c *PipelineCache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Compiles:  c.compiles.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
	}
}

// Purge drops every entry. Counters are kept.
func (c *PipelineCache[K, V]) Purge() {
	if c.bounded != nil {
		c.bounded.Purge()
		return
	}
	c.entries.Range(func(k, _ any) bool {
		if _, ok := c.entries.LoadAndDelete(k); ok {
			c.size.Add(-1)
		}
		return true
	})
}
