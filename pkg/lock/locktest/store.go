// Package locktest provides an in-memory lock.Store for tests.
//
// The store emulates the parts of a relational database the lock template relies on: a unique
// key on the resource name and exclusive row locks taken by Tx.Get and held until the
// transaction commits or rolls back. Each transaction behaves like a separate connection, so
// concurrent templates sharing one Store exclude each other the same way they would against a
// real database.
//
// Example usage:
//
//	store := locktest.NewStore()
//	store.Seed(lock.Row{ResourceName: "schema_history", Locked: true, LastUpdated: time.Now().Add(-time.Minute)})
//
//	tmpl := lock.New(lock.Config{Store: store})
package locktest

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pseudomuto/schemalock/pkg/lock"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("transaction has already been committed or rolled back")

type (
	// Store is an in-memory lock table.
	Store struct {
		// Hooks inject failures; each hook runs before the operation it is named after and
		// aborts it when it returns an error.
		Hooks Hooks

		mu      sync.Mutex
		rows    map[string]lock.Row
		rowLock map[string]chan struct{}
		inserts int
		begins  int
	}

	// Hooks allows tests to fail individual operations.
	Hooks struct {
		Insert func(resource string) error
		Begin  func() error
		Get    func(resource string) error
		Set    func(resource string, locked bool) error
		Commit func() error
	}

	tx struct {
		store  *Store
		held   map[string]bool
		writes map[string]lock.Row
		done   bool
	}
)

// NewStore creates an empty in-memory lock table.
func NewStore() *Store {
	return &Store{
		rows:    make(map[string]lock.Row),
		rowLock: make(map[string]chan struct{}),
	}
}

// Seed writes a row directly, bypassing row locks.
func (s *Store) Seed(row lock.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.ResourceName] = row
}

// Delete removes a row directly, bypassing row locks.
func (s *Store) Delete(resource string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, resource)
}

// Row returns the committed state of a row.
func (s *Store) Row(resource string) (lock.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[resource]
	return row, ok
}

// Len returns the number of rows in the table.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Inserts returns how many Insert calls reached the table, including duplicates.
func (s *Store) Inserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

// Begins returns how many transactions were started.
func (s *Store) Begins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins
}

// Insert implements lock.Store.
func (s *Store) Insert(ctx context.Context, resource string, at time.Time) error {
	if s.Hooks.Insert != nil {
		if err := s.Hooks.Insert(resource); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inserts++
	if _, ok := s.rows[resource]; ok {
		return errors.Wrapf(lock.ErrDuplicate, "duplicate key value for %q", resource)
	}

	s.rows[resource] = lock.Row{ResourceName: resource, LastUpdated: at}
	return nil
}

// Begin implements lock.Store.
func (s *Store) Begin(ctx context.Context) (lock.Tx, error) {
	if s.Hooks.Begin != nil {
		if err := s.Hooks.Begin(); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.begins++
	s.mu.Unlock()

	return &tx{
		store:  s,
		held:   make(map[string]bool),
		writes: make(map[string]lock.Row),
	}, nil
}

func (s *Store) semaphore(resource string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	sem, ok := s.rowLock[resource]
	if !ok {
		sem = make(chan struct{}, 1)
		s.rowLock[resource] = sem
	}

	return sem
}

func (t *tx) Get(ctx context.Context, resource string) (*lock.Row, error) {
	if t.done {
		return nil, ErrTxDone
	}

	if !t.held[resource] {
		select {
		case t.store.semaphore(resource) <- struct{}{}:
			t.held[resource] = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if t.store.Hooks.Get != nil {
		if err := t.store.Hooks.Get(resource); err != nil {
			return nil, err
		}
	}

	if row, ok := t.writes[resource]; ok {
		return &row, nil
	}

	row, ok := t.store.Row(resource)
	if !ok {
		return nil, lock.ErrNotFound
	}

	return &row, nil
}

func (t *tx) Set(ctx context.Context, resource string, locked bool, at time.Time) error {
	if t.done {
		return ErrTxDone
	}

	if t.store.Hooks.Set != nil {
		if err := t.store.Hooks.Set(resource, locked); err != nil {
			return err
		}
	}

	t.writes[resource] = lock.Row{ResourceName: resource, Locked: locked, LastUpdated: at}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	defer t.finish()

	if t.store.Hooks.Commit != nil {
		if err := t.store.Hooks.Commit(); err != nil {
			return err
		}
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for resource, row := range t.writes {
		if _, ok := t.store.rows[resource]; !ok {
			return lock.ErrNotFound
		}
		t.store.rows[resource] = row
	}

	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}

	t.finish()
	return nil
}

func (t *tx) finish() {
	t.done = true
	for resource := range t.held {
		<-t.store.semaphore(resource)
	}
	clear(t.held)
}
