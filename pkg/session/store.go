// Package session hosts the stateful counterpart to the blocking loop:
// callers create a session, then drive evaluate and apply one request at a
// time while the session carries the conversation between calls.
package session

import (
	"sync"
	"time"

	"chisel/pkg/design"
)

// Store keeps live sessions in memory. Lookups take a short store-wide lock;
// work done under With additionally holds a per-session lock, so concurrent
// operations on the same session serialize while distinct sessions proceed
// in parallel.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	sess *design.Session
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*entry)}
}

// Add registers a session under its ID, replacing any previous holder.
func (s *Store) Add(sess *design.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = &entry{sess: sess}
}

// With runs fn with exclusive access to the named session. It returns
// a SessionNotFoundError when the ID is unknown, otherwise fn's error.
func (s *Store) With(id string, fn func(*design.Session) error) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return &design.SessionNotFoundError{ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.sess)
}

// Remove deletes and returns the named session. An evaluation already in
// flight on it finishes against the detached state and is discarded.
func (s *Store) Remove(id string) (*design.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	delete(s.sessions, id)
	return e.sess, true
}

// PurgeExpired removes every session past its TTL at the given instant and
// returns the removed IDs.
func (s *Store) PurgeExpired(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, e := range s.sessions {
		if e.sess.Expired(now) {
			delete(s.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Len reports how many sessions are live.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
