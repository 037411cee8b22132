package chef

import (
	"slices"
	"strings"
)

// Filter narrows the catalogue. Zero fields match everything.
type Filter struct {
	Cuisine string
	// Dietary lists styles the chef must all cook for, e.g. "vegan".
	Dietary []string
}

// Matches reports whether c satisfies the filter. Comparison ignores case.
func (f Filter) Matches(c Chef) bool {
	if f.Cuisine != "" && !strings.EqualFold(c.Cuisine, f.Cuisine) {
		return false
	}
	for _, want := range f.Dietary {
		if !slices.ContainsFunc(c.Dietary, func(have string) bool {
			return strings.EqualFold(have, want)
		}) {
			return false
		}
	}
	return true
}

// Store exposes the chef catalogue.
type Store interface {
	List(f Filter) []Chef
	FindByID(id string) (Chef, bool)
}

// MemoryStore serves a fixed catalogue in seed order.
type MemoryStore struct {
	items []Chef
	byID  map[string]int
}

// NewMemoryStore indexes the supplied chefs. Later duplicates of an id are
// ignored.
func NewMemoryStore(items []Chef) *MemoryStore {
	s := &MemoryStore{byID: make(map[string]int, len(items))}
	for _, c := range items {
		if _, dup := s.byID[c.ID]; dup {
			continue
		}
		s.byID[c.ID] = len(s.items)
		s.items = append(s.items, c)
	}
	return s
}

// List returns the chefs matching f.
func (s *MemoryStore) List(f Filter) []Chef {
	out := make([]Chef, 0, len(s.items))
	for _, c := range s.items {
		if f.Matches(c) {
			out = append(out, c)
		}
	}
	return out
}

// FindByID looks up a chef by identifier.
func (s *MemoryStore) FindByID(id string) (Chef, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Chef{}, false
	}
	return s.items[i], true
}
