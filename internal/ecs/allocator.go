package ecs

// Entities is the allocator resource that owns entity identity: the next
// unused index, the free-list of reusable indices, and the dense
// generation table. It is mutated only through Create and Destroy; the
// World's maintenance phase is the only caller during normal operation.
//
// Entities is not safe for concurrent use on its own; access goes through
// the resource container's locking discipline like any other resource.
type Entities struct {
	maxIndex    Index
	freeIndices []Index
	generations []Generation
}

// NewEntities returns an empty allocator.
func NewEntities() *Entities {
	return &Entities{}
}

// Create issues a new entity, reusing the most recently freed index when
// one is available. The generation table grows on demand for fresh
// indices.
func (e *Entities) Create() Entity {
	var idx Index
	if n := len(e.freeIndices); n > 0 {
		idx = e.freeIndices[n-1]
		e.freeIndices = e.freeIndices[:n-1]
	} else {
		idx = e.maxIndex
		e.maxIndex++
	}

	if int(idx) >= len(e.generations) {
		grown := make([]Generation, int(idx)+1)
		copy(grown, e.generations)
		e.generations = grown
	}

	gen := e.generations[idx].activate()
	return Entity{idx: idx, gen: gen}
}

// Destroy releases the entity's slot. Destroying an entity twice trips the
// generation parity check and panics.
func (e *Entities) Destroy(entity Entity) {
	e.generations[entity.idx].deactivate()
	e.freeIndices = append(e.freeIndices, entity.idx)
}

// Len counts the currently active slots.
func (e *Entities) Len() int {
	n := 0
	for _, g := range e.generations {
		if g.Active() {
			n++
		}
	}
	return n
}

// Iter returns an iterator over all live entities in ascending index
// order. The iterator is a snapshot-free cursor: it walks the generation
// table as it stands at each Next call.
func (e *Entities) Iter() *EntityIter {
	return &EntityIter{gens: e.generations}
}

// EntityIter yields live entities in ascending index order. Once exhausted
// it stays exhausted.
type EntityIter struct {
	idx  int
	gens []Generation
}

// Next returns the next live entity, or false when the iterator is done.
func (it *EntityIter) Next() (Entity, bool) {
	for it.idx < len(it.gens) {
		i := it.idx
		it.idx++
		if it.gens[i].Active() {
			return Entity{idx: Index(i), gen: it.gens[i]}, true
		}
	}
	return Entity{}, false
}

// Remaining reports the exact number of entities Next will still yield.
func (it *EntityIter) Remaining() int {
	n := 0
	for _, g := range it.gens[min(it.idx, len(it.gens)):] {
		if g.Active() {
			n++
		}
	}
	return n
}

// Collect drains the iterator into a slice.
func (it *EntityIter) Collect() []Entity {
	out := make([]Entity, 0, it.Remaining())
	for {
		e, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}
