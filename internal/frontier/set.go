package frontier

import "sort"

// orderedSet is a string set that remembers insertion order.
type orderedSet struct {
	index map[string]struct{}
	items []string
}

func newOrderedSet(values ...string) *orderedSet {
	s := &orderedSet{index: make(map[string]struct{}, len(values))}
	s.add(values...)
	return s
}

// add inserts values that are non-empty and not yet present. It reports
// how many were new.
func (s *orderedSet) add(values ...string) int {
	added := 0
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := s.index[v]; ok {
			continue
		}
		s.index[v] = struct{}{}
		s.items = append(s.items, v)
		added++
	}
	return added
}

func (s *orderedSet) has(v string) bool {
	_, ok := s.index[v]
	return ok
}

func (s *orderedSet) remove(v string) {
	if _, ok := s.index[v]; !ok {
		return
	}
	delete(s.index, v)
	for i, item := range s.items {
		if item == v {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

func (s *orderedSet) len() int { return len(s.items) }

// sorted returns a sorted copy of the members.
func (s *orderedSet) sorted() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	sort.Strings(out)
	return out
}
