// Package idempotency caches HTTP responses so retried creation requests
// (same idempotency key) replay the original outcome instead of creating a
// second record.
package idempotency

import (
	"sync"
	"time"
)

type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string][]string
}

type Store struct {
	cache sync.Map
	ttl   time.Duration
}

type entry struct {
	resp      Response
	timestamp time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{ttl: ttl}
}

func (s *Store) Get(key string) (Response, bool) {
	val, ok := s.cache.Load(key)
	if !ok {
		return Response{}, false
	}
	e := val.(entry)
	if time.Since(e.timestamp) > s.ttl {
		s.cache.Delete(key)
		return Response{}, false
	}
	return e.resp, true
}

func (s *Store) Set(key string, resp Response) {
	s.cache.Store(key, entry{
		resp:      resp,
		timestamp: time.Now(),
	})
}
