// Package memory provides an in-process cursor.Store bounded by an LRU.
package memory

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ggoodman/pushstream-go/cursor"
)

var _ cursor.Store = (*Store)(nil)

// DefaultSize is the number of keys kept when New is given a non-positive
// size.
const DefaultSize = 1024

// Store keeps cursors in memory. The least recently used key is evicted once
// the store is full.
type Store struct {
	cache *lru.Cache[string, entry]
	now   func() time.Time
}

type entry struct {
	eventID   string
	expiresAt time.Time
}

// New creates a Store holding at most size keys.
func New(size int) (*Store, error) {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &Store{cache: cache, now: time.Now}, nil
}

func (s *Store) Load(ctx context.Context, key string) (string, error) {
	e, ok := s.cache.Get(key)
	if !ok {
		return "", nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.cache.Remove(key)
		return "", nil
	}
	return e.eventID, nil
}

func (s *Store) Save(ctx context.Context, key, eventID string, opts ...cursor.Option) error {
	o := cursor.ApplyOptions(opts...)
	e := entry{eventID: eventID}
	if o.TTL != nil {
		e.expiresAt = s.now().Add(*o.TTL)
	}
	s.cache.Add(key, e)
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

// Len returns the number of keys held, expired or not.
func (s *Store) Len() int {
	return s.cache.Len()
}

func (s *Store) Close() error {
	s.cache.Purge()
	return nil
}
