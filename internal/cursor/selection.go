package cursor

import (
	"sort"
	"sync"
)

// Selection is a set of row indexes picked for an unsubscribe action.
// The zero value is empty and ready to use.
type Selection struct {
	mu     sync.Mutex
	picked map[int]struct{}
}

// Toggle flips row i and reports whether it is now selected
func (s *Selection) Toggle(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.picked[i]; ok {
		delete(s.picked, i)
		return false
	}
	if s.picked == nil {
		s.picked = make(map[int]struct{})
	}
	s.picked[i] = struct{}{}
	return true
}

func (s *Selection) Has(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.picked[i]
	return ok
}

func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.picked)
}

// Indices returns the selected indexes in ascending order
func (s *Selection) Indices() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int, 0, len(s.picked))
	for i := range s.picked {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.picked = nil
}
