package topology

import "sync/atomic"

// Store publishes the current Index. Readers get either the previous or the
// next index, never a partial one.
type Store struct {
	cur atomic.Pointer[Index]
}

func NewStore() *Store {
	s := &Store{}
	s.cur.Store(Empty())
	return s
}

func (s *Store) Load() *Index { return s.cur.Load() }

// Replace swaps in idx and returns the index it replaced.
func (s *Store) Replace(idx *Index) *Index {
	if idx == nil {
		idx = Empty()
	}
	return s.cur.Swap(idx)
}
