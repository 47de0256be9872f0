package ecs

import "fmt"

// Index is the reusable numeric identity of an entity slot. It is unique
// among currently live entities; destroyed slots return their Index to a
// free-list for later reuse.
type Index uint32

// Generation counts how often an entity slot has transitioned between
// active and inactive. Parity encodes liveness: odd is active, even is
// inactive.
type Generation uint32

// Active reports whether the generation is odd, i.e. the slot is live.
func (g Generation) Active() bool {
	return g%2 == 1
}

// activate flips an inactive generation to active. Calling it on an active
// generation is a logic bug, not an environmental condition, and panics.
func (g *Generation) activate() Generation {
	if g.Active() {
		panic(fmt.Sprintf("ecs: activate on active generation %d", *g))
	}
	*g++
	return *g
}

// deactivate flips an active generation to inactive. Panics on
// double-destroy for the same reason activate panics on double-create.
func (g *Generation) deactivate() Generation {
	if !g.Active() {
		panic(fmt.Sprintf("ecs: deactivate on inactive generation %d", *g))
	}
	*g++
	return *g
}

// Entity identifies one object instance in a world. A handle obtained
// before a destroy/recreate cycle at the same Index carries an older
// Generation and compares unequal to the new handle, which is what makes
// stale handles detectable.
type Entity struct {
	idx Index
	gen Generation
}

// NewEntity constructs an entity handle from raw parts. Normal code
// receives handles from Entities.Create; this exists for decoding and
// tests.
func NewEntity(idx Index, gen Generation) Entity {
	return Entity{idx: idx, gen: gen}
}

// Index returns the slot index, usable to address component storages.
func (e Entity) Index() Index {
	return e.idx
}

// Generation returns the reuse counter of the handle.
func (e Entity) Generation() Generation {
	return e.gen
}

// Less orders entities by Index alone.
func (e Entity) Less(other Entity) bool {
	return e.idx < other.idx
}

func (e Entity) String() string {
	return fmt.Sprintf("(%d, %d)", e.idx, e.gen)
}
