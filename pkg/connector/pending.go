package connector

import (
	"sort"
	"sync"

	"github.com/jeremyhahn/go-trusted-relay/pkg/request"
)

// PendingSet holds the IDs of requests awaiting resolution by the remote
// authority. It is safe for concurrent use.
type PendingSet struct {
	mu  sync.Mutex
	ids map[request.ID]struct{}
}

func NewPendingSet() *PendingSet {
	return &PendingSet{ids: make(map[request.ID]struct{})}
}

// Adds the ID, returning false if it was already present
func (s *PendingSet) Add(id request.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *PendingSet) Remove(id request.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *PendingSet) Contains(id request.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *PendingSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Returns a sorted point-in-time copy of the set
func (s *PendingSet) Snapshot() []request.ID {
	s.mu.Lock()
	ids := make([]request.ID, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
