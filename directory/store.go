package directory

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("directory: user not found")

// seed is inserted by NewStore, in order, before the store is shared.
var seed = []CreateUserRequest{
	{Name: "John Doe", Email: "john@example.com", Age: 30},
	{Name: "Jane Smith", Email: "jane@example.com", Age: 25},
	{Name: "Bob Johnson", Email: "bob@example.com", Age: 35},
}

// Store holds the records of one process. Ids start at 1 and are never reused.
type Store struct {
	mu     sync.RWMutex
	byID   map[int32]Record
	order  []int32
	nextID int32
	last   time.Time
	now    func() time.Time
}

type StoreOption func(*Store)

// WithClock replaces time.Now as the source of created_at stamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		byID:   make(map[int32]Record),
		nextID: 1,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, u := range seed {
		s.insertLocked(u.Name, u.Email, u.Age)
	}
	return s
}

// Insert adds a record and returns it with its assigned id and creation stamp.
// If ctx is already done nothing is stored and the context error is returned.
func (s *Store) Insert(ctx context.Context, name, email string, age int32) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	return s.insertLocked(name, email, age), nil
}

func (s *Store) insertLocked(name, email string, age int32) Record {
	// stamps never go backwards, even if the wall clock does
	now := s.now().UTC()
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now

	rec := Record{
		UserID:    s.nextID,
		Name:      name,
		Email:     email,
		Age:       age,
		CreatedAt: now.Format(time.RFC3339Nano),
	}
	s.nextID++
	s.byID[rec.UserID] = rec
	s.order = append(s.order, rec.UserID)
	return rec
}

func (s *Store) Get(id int32) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// List returns every record in insertion order. The slice is never nil.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
