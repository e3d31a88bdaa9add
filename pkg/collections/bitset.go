// Package collections provides compact index sets used by the graph
// algorithms over node handles.
package collections

import "math/bits"

// ============================================================================
// Bitset
// ============================================================================

// Bitset is a growable set of non-negative integers, one bit per element.
type Bitset struct {
	bits []uint64
	size int
}

// NewBitset creates a new bitset with room for size elements.
func NewBitset(size int) *Bitset {
	if size <= 0 {
		size = 64
	}
	return &Bitset{
		bits: make([]uint64, (size+63)/64),
		size: size,
	}
}

// Set sets the bit at index i.
func (b *Bitset) Set(i int) {
	if i < 0 {
		return
	}
	if i/64 >= len(b.bits) {
		b.grow(i + 1)
	}
	b.bits[i/64] |= 1 << (i % 64)
	if i >= b.size {
		b.size = i + 1
	}
}

// Clear clears the bit at index i.
func (b *Bitset) Clear(i int) {
	if i < 0 || i/64 >= len(b.bits) {
		return
	}
	b.bits[i/64] &^= 1 << (i % 64)
}

// Test returns true if the bit at index i is set.
func (b *Bitset) Test(i int) bool {
	if i < 0 || i/64 >= len(b.bits) {
		return false
	}
	return b.bits[i/64]&(1<<(i%64)) != 0
}

// ClearAll clears every bit.
func (b *Bitset) ClearAll() {
	for i := range b.bits {
		b.bits[i] = 0
	}
}

// Count returns the number of set bits.
func (b *Bitset) Count() int {
	count := 0
	for _, word := range b.bits {
		count += bits.OnesCount64(word)
	}
	return count
}

// Size returns the logical size of the bitset.
func (b *Bitset) Size() int {
	return b.size
}

func (b *Bitset) grow(newSize int) {
	numWords := (newSize + 63) / 64
	if numWords <= len(b.bits) {
		return
	}
	newCap := len(b.bits) * 2
	if newCap < numWords {
		newCap = numWords
	}
	newBits := make([]uint64, newCap)
	copy(newBits, b.bits)
	b.bits = newBits
}

// Clone creates a copy of the bitset.
func (b *Bitset) Clone() *Bitset {
	newBits := make([]uint64, len(b.bits))
	copy(newBits, b.bits)
	return &Bitset{bits: newBits, size: b.size}
}

// Or adds every element of other.
func (b *Bitset) Or(other *Bitset) {
	if other == nil {
		return
	}
	if len(other.bits) > len(b.bits) {
		b.grow(len(other.bits) * 64)
	}
	for i := range other.bits {
		b.bits[i] |= other.bits[i]
	}
	if other.size > b.size {
		b.size = other.size
	}
}

// Iterate calls fn for each set bit in ascending order until fn returns false.
func (b *Bitset) Iterate(fn func(i int) bool) {
	for wordIdx, word := range b.bits {
		base := wordIdx * 64
		for word != 0 {
			tz := bits.TrailingZeros64(word)
			if !fn(base + tz) {
				return
			}
			word &= word - 1
		}
	}
}

// ToSlice returns all set bit indices in ascending order.
func (b *Bitset) ToSlice() []int {
	result := make([]int, 0, b.Count())
	b.Iterate(func(i int) bool {
		result = append(result, i)
		return true
	})
	return result
}

// ============================================================================
// VersionedBitset
// ============================================================================

// VersionedBitset is a visited set whose Reset is O(1).
type VersionedBitset struct {
	versions []uint32
	current  uint32
}

// NewVersionedBitset creates a new versioned bitset.
func NewVersionedBitset(size int) *VersionedBitset {
	if size <= 0 {
		size = 64
	}
	return &VersionedBitset{
		versions: make([]uint32, size),
		current:  1,
	}
}

// Set marks index i in the current version.
func (v *VersionedBitset) Set(i int) {
	if i < 0 {
		return
	}
	if i >= len(v.versions) {
		newCap := len(v.versions) * 2
		if newCap <= i {
			newCap = i + 1
		}
		grown := make([]uint32, newCap)
		copy(grown, v.versions)
		v.versions = grown
	}
	v.versions[i] = v.current
}

// Test reports whether index i is marked in the current version.
func (v *VersionedBitset) Test(i int) bool {
	if i < 0 || i >= len(v.versions) {
		return false
	}
	return v.versions[i] == v.current
}

// Reset unmarks everything.
func (v *VersionedBitset) Reset() {
	v.current++
	if v.current == 0 {
		for i := range v.versions {
			v.versions[i] = 0
		}
		v.current = 1
	}
}

// ============================================================================
// OrderedSet
// ============================================================================

// OrderedSet is an insertion-ordered set of non-negative integers.
type OrderedSet struct {
	members *Bitset
	order   []int
}

// NewOrderedSet creates an empty ordered set.
func NewOrderedSet(size int) *OrderedSet {
	return &OrderedSet{members: NewBitset(size)}
}

// Add inserts i and reports whether it was absent.
func (s *OrderedSet) Add(i int) bool {
	if i < 0 || s.members.Test(i) {
		return false
	}
	s.members.Set(i)
	s.order = append(s.order, i)
	return true
}

// Contains reports whether i is a member.
func (s *OrderedSet) Contains(i int) bool {
	return s.members.Test(i)
}

// Len returns the number of members.
func (s *OrderedSet) Len() int {
	return len(s.order)
}

// Values returns the members in insertion order.
func (s *OrderedSet) Values() []int {
	out := make([]int, len(s.order))
	copy(out, s.order)
	return out
}
