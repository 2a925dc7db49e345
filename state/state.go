// Package state holds an immutable snapshot with copy-on-update semantics
// and a simple subscriber list. Updates are pure transitions: apply an
// updater to the previous snapshot, publish the new one. There is no lock
// around readers because a snapshot is never mutated after publication;
// writers serialize through the store.
package state

import "sync"

// Store holds the current snapshot of type S. S should be a value type or a
// struct of immutable fields; updaters must return a fresh value rather
// than mutating shared references.
type Store[S any] struct {
	mu      sync.Mutex
	current S
	subs    map[int]func(S)
	nextSub int
}

// NewStore creates a store with an initial snapshot.
func NewStore[S any](initial S) *Store[S] {
	return &Store[S]{current: initial, subs: make(map[int]func(S))}
}

// Get returns the current snapshot.
func (s *Store[S]) Get() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update applies fn to the current snapshot, publishes the result, and
// notifies subscribers synchronously in registration order.
func (s *Store[S]) Update(fn func(S) S) S {
	s.mu.Lock()
	next := fn(s.current)
	s.current = next
	subs := make([]func(S), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if sub, ok := s.subs[i]; ok {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(next)
	}
	return next
}

// Subscribe registers fn to receive every published snapshot. The returned
// cancel function removes the subscription.
func (s *Store[S]) Subscribe(fn func(S)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
