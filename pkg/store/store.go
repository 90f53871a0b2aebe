package store

import (
	"slices"
	"sync"

	"github.com/entrhq/browsepilot/pkg/types"
)

// Store holds one State per task instance.
type Store struct {
	mu     sync.RWMutex
	states map[string]State
}

// New creates an empty store.
func New() *Store {
	return &Store{states: make(map[string]State)}
}

// Get returns a copy of the state for taskID.
func (s *Store) Get(taskID string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[taskID]
	if !ok {
		return State{}, false
	}
	return st.Clone(), true
}

// Update replaces the state for taskID with fn applied to a copy of it.
func (s *Store) Update(taskID string, fn func(State) State) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.states[taskID]
	if !ok {
		cur = Initial(taskID)
	}
	next := fn(cur.Clone())
	next.TaskID = taskID
	s.states[taskID] = next.Clone()
	return next
}

// Apply folds an orchestrator event into the store. Its signature matches
// orchestrator.Observer.
func (s *Store) Apply(e *types.TaskEvent) {
	if e == nil || e.TaskID == "" {
		return
	}
	s.Update(e.TaskID, func(st State) State {
		return Reduce(st, e)
	})
}

// Reset puts taskID back to its idle shape and returns it.
func (s *Store) Reset(taskID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Initial(taskID)
	s.states[taskID] = st
	return st.Clone()
}

// Delete forgets taskID.
func (s *Store) Delete(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, taskID)
}

// IDs returns the known task ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)
	return ids
}
