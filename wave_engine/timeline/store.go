// Package timeline keeps an in-memory trail of request lifecycle events for
// the debug snapshot endpoint. It is diagnostic only and not persisted.
package timeline

import (
	"sync"
	"time"
)

type RequestEvent struct {
	RequestID string            `json:"request_id"`
	Stage     string            `json:"stage"` // CREATED, WAVE_SENT, WAVE_SKIPPED, NIGHT_RESUMED, COMPLETED, EXPIRED
	Timestamp time.Time         `json:"timestamp"`
	StationID string            `json:"station_id"`
	Wave      int               `json:"wave"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

const maxEvents = 10000

type Store struct {
	events []RequestEvent
	mu     sync.RWMutex
}

func NewStore() *Store {
	return &Store{
		events: make([]RequestEvent, 0),
	}
}

func (s *Store) Record(e RequestEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.events = append(s.events, e)
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
}

func (s *Store) GetEvents(requestID string) []RequestEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []RequestEvent
	for _, e := range s.events {
		if e.RequestID == requestID {
			results = append(results, e)
		}
	}
	return results
}

func (s *Store) GetAllEvents() []RequestEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := make([]RequestEvent, len(s.events))
	copy(c, s.events)
	return c
}
