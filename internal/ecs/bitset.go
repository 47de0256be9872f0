package ecs

import "math/bits"

// Log2 of the word width. Words are 64-bit regardless of platform so that
// serialized presence sets are portable.
const bitsetShift = 6

const bitsetWordBits = 1 << bitsetShift

// BitSet is a hierarchical bitset: layer 0 holds the actual bits, and each
// layer above summarizes one word of the layer below per bit. "Is anything
// set near index i" and "find the next set bit" descend the summary layers
// instead of scanning words, which keeps iteration cheap when the set is
// sparse relative to the maximum index.
//
// Four layers cover 2^24 indices, which bounds the usable entity index
// range per storage.
type BitSet struct {
	layer0 []uint64
	layer1 []uint64
	layer2 []uint64
	layer3 uint64
}

// MaxBitSetIndex is the highest index a BitSet can hold.
const MaxBitSetIndex = 1<<(bitsetShift*4) - 1

func bitsetWord(i Index, layer int) int {
	return int(i) >> (bitsetShift * (layer + 1))
}

func bitsetMask(i Index, layer int) uint64 {
	return 1 << ((uint32(i) >> (bitsetShift * layer)) & (bitsetWordBits - 1))
}

// Contains reports whether the index is in the set.
func (b *BitSet) Contains(i Index) bool {
	w := bitsetWord(i, 0)
	return w < len(b.layer0) && b.layer0[w]&bitsetMask(i, 0) != 0
}

// Empty reports whether no index is set.
func (b *BitSet) Empty() bool {
	return b.layer3 == 0
}

// Add inserts the index and returns true if it was already present. The
// backing layers grow lazily; they never shrink except through Clear.
func (b *BitSet) Add(i Index) bool {
	if i > MaxBitSetIndex {
		panic("ecs: bitset index out of range")
	}
	w := bitsetWord(i, 0)
	if w >= len(b.layer0) {
		b.grow(i)
	}

	mask := bitsetMask(i, 0)
	if b.layer0[w]&mask != 0 {
		return true
	}
	b.layer0[w] |= mask
	b.layer1[bitsetWord(i, 1)] |= bitsetMask(i, 1)
	b.layer2[bitsetWord(i, 2)] |= bitsetMask(i, 2)
	b.layer3 |= bitsetMask(i, 3)
	return false
}

// Remove deletes the index, returning false if it was not in the set.
// Summary bits are cleared only when the corresponding lower word empties.
func (b *BitSet) Remove(i Index) bool {
	w := bitsetWord(i, 0)
	if w >= len(b.layer0) || b.layer0[w]&bitsetMask(i, 0) == 0 {
		return false
	}

	b.layer0[w] &^= bitsetMask(i, 0)
	if b.layer0[w] != 0 {
		return true
	}
	w1 := bitsetWord(i, 1)
	b.layer1[w1] &^= bitsetMask(i, 1)
	if b.layer1[w1] != 0 {
		return true
	}
	w2 := bitsetWord(i, 2)
	b.layer2[w2] &^= bitsetMask(i, 2)
	if b.layer2[w2] != 0 {
		return true
	}
	b.layer3 &^= bitsetMask(i, 3)
	return true
}

// Clear resets the set to empty and releases the backing layers.
func (b *BitSet) Clear() {
	b.layer0 = nil
	b.layer1 = nil
	b.layer2 = nil
	b.layer3 = 0
}

// Len counts the set bits.
func (b *BitSet) Len() int {
	n := 0
	for _, w := range b.layer0 {
		n += bits.OnesCount64(w)
	}
	return n
}

// Each calls fn for every set index in ascending order, descending the
// summary layers to skip empty regions. Iteration stops early when fn
// returns false.
func (b *BitSet) Each(fn func(Index) bool) {
	l3 := b.layer3
	for l3 != 0 {
		i2 := bits.TrailingZeros64(l3)
		l3 &^= 1 << i2
		if i2 >= len(b.layer2) {
			return
		}
		l2 := b.layer2[i2]
		for l2 != 0 {
			j := bits.TrailingZeros64(l2)
			l2 &^= 1 << j
			i1 := i2*bitsetWordBits + j
			if i1 >= len(b.layer1) {
				return
			}
			l1 := b.layer1[i1]
			for l1 != 0 {
				k := bits.TrailingZeros64(l1)
				l1 &^= 1 << k
				i0 := i1*bitsetWordBits + k
				if i0 >= len(b.layer0) {
					return
				}
				l0 := b.layer0[i0]
				for l0 != 0 {
					m := bits.TrailingZeros64(l0)
					l0 &^= 1 << m
					if !fn(Index(i0*bitsetWordBits + m)) {
						return
					}
				}
			}
		}
	}
}

// Indices collects the set indices in ascending order.
func (b *BitSet) Indices() []Index {
	out := make([]Index, 0, b.Len())
	b.Each(func(i Index) bool {
		out = append(out, i)
		return true
	})
	return out
}

func (b *BitSet) grow(i Index) {
	if n := bitsetWord(i, 0) + 1; n > len(b.layer0) {
		b.layer0 = append(b.layer0, make([]uint64, n-len(b.layer0))...)
	}
	if n := bitsetWord(i, 1) + 1; n > len(b.layer1) {
		b.layer1 = append(b.layer1, make([]uint64, n-len(b.layer1))...)
	}
	if n := bitsetWord(i, 2) + 1; n > len(b.layer2) {
		b.layer2 = append(b.layer2, make([]uint64, n-len(b.layer2))...)
	}
}
