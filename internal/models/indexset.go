package models

import (
	"encoding/json"
	"sort"
)

// IndexSet is a set of segment indices. It marshals to a sorted JSON array
// so session.json stays stable and diffable.
type IndexSet map[uint32]struct{}

// NewIndexSet returns an empty set.
func NewIndexSet() IndexSet {
	return make(IndexSet)
}

// Add inserts an index.
func (s IndexSet) Add(i uint32) {
	s[i] = struct{}{}
}

// Remove deletes an index.
func (s IndexSet) Remove(i uint32) {
	delete(s, i)
}

// Contains reports whether the index is present.
func (s IndexSet) Contains(i uint32) bool {
	_, ok := s[i]
	return ok
}

// Len returns the number of indices in the set.
func (s IndexSet) Len() int {
	return len(s)
}

// Sorted returns the indices in ascending order.
func (s IndexSet) Sorted() []uint32 {
	out := make([]uint32, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Clone returns a copy of the set.
func (s IndexSet) Clone() IndexSet {
	out := make(IndexSet, len(s))
	for i := range s {
		out[i] = struct{}{}
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (s IndexSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *IndexSet) UnmarshalJSON(data []byte) error {
	var indices []uint32
	if err := json.Unmarshal(data, &indices); err != nil {
		return err
	}
	out := make(IndexSet, len(indices))
	for _, i := range indices {
		out[i] = struct{}{}
	}
	*s = out
	return nil
}
