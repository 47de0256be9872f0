package ecs

// DenseStorage associates component values of type T with entity indices.
// Presence is tracked by a hierarchical bitset and values live in a slice
// addressed directly by index, so insert/remove/get are O(1) and iteration
// skips absent slots without scanning them.
//
// Storage is deliberately independent of the entity allocator: it does not
// check that an index belongs to a live entity. Holding on to a stale
// index is the caller's bug, caught at the Entity level through
// generations.
//
// The backing slice and bitset grow lazily and never shrink on Remove,
// only on Clear. Steady-state loops churn entities constantly; keeping the
// high-water allocation avoids reallocating every frame.
type DenseStorage[T any] struct {
	present BitSet
	data    []T
}

// NewDenseStorage returns an empty storage.
func NewDenseStorage[T any]() *DenseStorage[T] {
	return &DenseStorage[T]{}
}

// Insert associates datum with the index. If the index was already
// present the previous value is returned with ok=true (overwrite
// semantics), otherwise ok is false.
func (s *DenseStorage[T]) Insert(idx Index, datum T) (prev T, ok bool) {
	if int(idx) >= len(s.data) {
		grown := make([]T, int(idx)+1)
		copy(grown, s.data)
		s.data = grown
	}
	if s.present.Add(idx) {
		prev, ok = s.data[idx], true
	}
	s.data[idx] = datum
	return prev, ok
}

// Remove detaches and returns the value at the index, if present.
func (s *DenseStorage[T]) Remove(idx Index) (T, bool) {
	var zero T
	if !s.present.Remove(idx) {
		return zero, false
	}
	v := s.data[idx]
	s.data[idx] = zero
	return v, true
}

// Contains reports whether the index has an associated value.
func (s *DenseStorage[T]) Contains(idx Index) bool {
	return s.present.Contains(idx)
}

// Get returns a pointer to the value at the index, or nil if absent. The
// pointer stays valid until the next Insert that grows the storage.
func (s *DenseStorage[T]) Get(idx Index) *T {
	if !s.present.Contains(idx) {
		return nil
	}
	return &s.data[idx]
}

// Len counts the stored values.
func (s *DenseStorage[T]) Len() int {
	return s.present.Len()
}

// Clear drops every entry and releases the backing allocation.
func (s *DenseStorage[T]) Clear() {
	s.present.Clear()
	s.data = nil
}

// Each visits every stored value in ascending index order. Return false
// from fn to stop early. The pointer passed to fn aliases the stored
// value, so mutation through it is visible to later reads.
func (s *DenseStorage[T]) Each(fn func(Index, *T) bool) {
	s.present.Each(func(i Index) bool {
		return fn(i, &s.data[i])
	})
}

// Indices returns the occupied indices in ascending order.
func (s *DenseStorage[T]) Indices() []Index {
	return s.present.Indices()
}

// TagStorage marks entities with a component type that carries no
// per-entity data. Only the presence set is stored plus one shared value,
// so tagging a million entities costs a bitset, not a million values.
type TagStorage[T any] struct {
	present BitSet
	shared  T
}

// NewTagStorage returns an empty tag storage whose Get yields shared for
// every present index.
func NewTagStorage[T any](shared T) *TagStorage[T] {
	return &TagStorage[T]{shared: shared}
}

// Insert marks the index. The previous shared value is returned with
// ok=true when the index was already marked.
func (s *TagStorage[T]) Insert(idx Index, _ T) (prev T, ok bool) {
	if s.present.Add(idx) {
		return s.shared, true
	}
	var zero T
	return zero, false
}

// Remove unmarks the index, returning the shared value if it was marked.
func (s *TagStorage[T]) Remove(idx Index) (T, bool) {
	if !s.present.Remove(idx) {
		var zero T
		return zero, false
	}
	return s.shared, true
}

// Contains reports whether the index is marked.
func (s *TagStorage[T]) Contains(idx Index) bool {
	return s.present.Contains(idx)
}

// Get returns the shared value for any marked index, nil otherwise.
func (s *TagStorage[T]) Get(idx Index) *T {
	if !s.present.Contains(idx) {
		return nil
	}
	return &s.shared
}

// Len counts the marked indices.
func (s *TagStorage[T]) Len() int {
	return s.present.Len()
}

// Clear unmarks every index.
func (s *TagStorage[T]) Clear() {
	s.present.Clear()
}

// Each visits the shared value once per marked index in ascending order.
func (s *TagStorage[T]) Each(fn func(Index, *T) bool) {
	s.present.Each(func(i Index) bool {
		return fn(i, &s.shared)
	})
}

// Indices returns the marked indices in ascending order.
func (s *TagStorage[T]) Indices() []Index {
	return s.present.Indices()
}
