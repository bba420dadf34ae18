// Package session owns the in-memory interview sessions shared between HTTP
// handlers and background workers.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/recon/internal/apperr"
)

type entry struct {
	createdAt time.Time

	mu      sync.Mutex
	sess    Session
	notify  chan struct{}
	removed bool
}

// Store maps session IDs to sessions. The map lock is held only for lookup,
// insert and delete; each session has its own mutex so work on one session
// never blocks another.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	clock   func() time.Time
	newID   func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source used for creation stamps and sweeps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		clock:   time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a new session in initializing status and returns a snapshot.
// cfg is expected to be normalized already.
func (s *Store) Create(cfg Config) Session {
	sess := Session{
		ID:             s.newID(),
		Status:         StatusInitializing,
		Config:         cfg,
		CreatedAt:      s.clock(),
		Answers:        make(map[int]*UserAnswer),
		TotalQuestions: cfg.NumQuestions + 1,
	}
	e := &entry{createdAt: sess.CreatedAt, sess: sess, notify: make(chan struct{})}

	s.mu.Lock()
	s.entries[sess.ID] = e
	s.mu.Unlock()

	return sess.clone()
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Get returns a deep copy of the session.
func (s *Store) Get(id string) (Session, error) {
	sess, _, err := s.Watch(id)
	return sess, err
}

// Watch returns a snapshot together with a channel that is closed on the
// next successful mutation of the session.
func (s *Store) Watch(id string) (Session, <-chan struct{}, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Session{}, nil, apperr.NotFound("session")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, nil, apperr.NotFound("session")
	}
	return e.sess.clone(), e.notify, nil
}

// Mutate applies fn under exclusive access to one session. fn must not block
// on I/O. If fn returns an error the session is left as fn left it and
// watchers are not notified.
func (s *Store) Mutate(id string, fn func(*Session) error) error {
	e, ok := s.lookup(id)
	if !ok {
		return apperr.NotFound("session")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return apperr.NotFound("session")
	}
	if err := fn(&e.sess); err != nil {
		return err
	}
	close(e.notify)
	e.notify = make(chan struct{})
	return nil
}

// Sweep removes sessions whose age exceeds maxAge and returns them.
func (s *Store) Sweep(maxAge time.Duration) []Session {
	now := s.clock()

	s.mu.Lock()
	var expired []*entry
	for id, e := range s.entries {
		if now.Sub(e.createdAt) > maxAge {
			expired = append(expired, e)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	removed := make([]Session, 0, len(expired))
	for _, e := range expired {
		e.mu.Lock()
		e.removed = true
		removed = append(removed, e.sess.clone())
		close(e.notify)
		e.notify = make(chan struct{})
		e.mu.Unlock()
	}
	return removed
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
