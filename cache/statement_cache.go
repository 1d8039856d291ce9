package cache

import (
	"context"
	"database/sql"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Preparer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// StatementCache keeps prepared statements keyed by the hash of their text.
// Evicted statements are closed.
type StatementCache struct {
	cache *lru.Cache[uint64, *sql.Stmt]
	mu    sync.Mutex
}

func NewStatementCache(size int) (*StatementCache, error) {
	c, err := lru.NewWithEvict(size, func(_ uint64, stmt *sql.Stmt) {
		_ = stmt.Close()
	})
	if err != nil {
		return nil, err
	}
	return &StatementCache{cache: c}, nil
}

// GetOrPrepare returns the cached statement for query, preparing it on db on
// a miss. Preparation happens under the cache lock so a query is prepared once.
func (s *StatementCache) GetOrPrepare(ctx context.Context, db Preparer, query string) (*sql.Stmt, error) {
	key := xxhash.Sum64String(query)
	if stmt, ok := s.cache.Get(key); ok {
		return stmt, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if stmt, ok := s.cache.Get(key); ok {
		return stmt, nil
	}
	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, stmt)
	return stmt, nil
}

func (s *StatementCache) Len() int { return s.cache.Len() }

// Close closes every cached statement.
func (s *StatementCache) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
	return nil
}
