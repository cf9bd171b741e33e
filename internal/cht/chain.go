// SPDX-License-Identifier: MIT

package cht

import (
	"github.com/prefixstore/rib/internal/addrfam"
)

// Entry is the payload a Chain stores per key: the original key bits
// (for collision detection while descending) and the caller's value.
type Entry[T any] struct {
	Bits  addrfam.AF
	Value T
}

// bucket is one level of the chain: an OnceBoxSlice of entries (the
// values landing in this level's slots) paired one-for-one with an
// OnceBoxSlice of child buckets (the next level down, lazily grown
// only for slots that collide). This is the "higher-level structure
// chaining OnceBoxSlice arrays" of spec §4.1.
type bucket[T any] struct {
	entries  *OnceBoxSlice[Entry[T]]
	children *OnceBoxSlice[bucket[T]]
}

func newBucket[T any](size int) *bucket[T] {
	return &bucket[T]{
		entries:  NewOnceBoxSlice[Entry[T]](size),
		children: NewOnceBoxSlice[bucket[T]](size),
	}
}

// Chain is the lock-free chained hash table shared by the treebitmap
// (keyed by NodeId) and the prefix CHT (keyed by PrefixId). All
// entries in one Chain share the same key Length; they are
// disambiguated by consuming Length's bits in fixed 4-bit nibbles
// (addrfam.NodeSetSize/PrevNodeSize), expanding into a deeper power-
// of-two bucket only when two distinct Bits values collide in the
// same slot.
type Chain[T any] struct {
	length uint8
	root   *bucket[T]
}

// NewChain allocates the level-0 bucket for keys of the given fixed
// Length.
func NewChain[T any](length uint8) *Chain[T] {
	size := 1 << uint(max(addrfam.NodeSetSize(length, 0), 0))
	return &Chain[T]{
		length: length,
		root:   newBucket[T](size),
	}
}

// Get returns the entry for bits without creating one.
func (c *Chain[T]) Get(bits addrfam.AF) (*Entry[T], bool) {
	b := c.root
	for level := 0; ; level++ {
		idx := c.indexAt(bits, level)

		e, ok := b.entries.Get(idx)
		if !ok {
			return nil, false
		}
		if e.Bits == bits {
			return e, true
		}

		child, ok := b.children.Get(idx)
		if !ok {
			return nil, false
		}
		b = child
	}
}

// GetOrInit returns the entry for bits, creating it via newValue() if
// absent. created reports whether this call installed the value.
func (c *Chain[T]) GetOrInit(bits addrfam.AF, newValue func() T) (e *Entry[T], created bool) {
	b := c.root
	for level := 0; ; level++ {
		idx := c.indexAt(bits, level)

		if existing, ok := b.entries.Get(idx); ok {
			if existing.Bits == bits {
				return existing, false
			}

			nextSize := 1 << uint(max(addrfam.NodeSetSize(c.length, level+1), 0))
			child, _ := b.children.GetOrInit(idx, func() *bucket[T] { return newBucket[T](nextSize) })
			b = child
			continue
		}

		candidate := Entry[T]{Bits: bits, Value: newValue()}
		installed, created := b.entries.GetOrInit(idx, func() *Entry[T] { return &candidate })
		if created {
			return installed, true
		}
		if installed.Bits == bits {
			return installed, false
		}

		// lost the race to a different key: descend into this slot's
		// child bucket before retrying, same as the collision branch
		// above, so the next iteration consumes a fresh nibble instead
		// of recomputing idx against the same parent bucket.
		nextSize := 1 << uint(max(addrfam.NodeSetSize(c.length, level+1), 0))
		child, _ := b.children.GetOrInit(idx, func() *bucket[T] { return newBucket[T](nextSize) })
		b = child
	}
}

// All calls fn for every entry currently stored in the chain. Order is
// unspecified (bucket/slot scan order), matching the unordered
// iteration the treebitmap and prefix CHT both document.
func (c *Chain[T]) All(fn func(*Entry[T])) {
	var walk func(*bucket[T])
	walk = func(b *bucket[T]) {
		for i := 0; i < b.entries.Len(); i++ {
			if e, ok := b.entries.Get(i); ok {
				fn(e)
			}
			if child, ok := b.children.Get(i); ok {
				walk(child)
			}
		}
	}
	walk(c.root)
}

func (c *Chain[T]) indexAt(bits addrfam.AF, level int) int {
	size := addrfam.NodeSetSize(c.length, level)
	if size <= 0 {
		return 0
	}
	consumed := uint8(addrfam.PrevNodeSize(c.length, level))
	return int(bits.BitSpanAt(consumed, uint8(size)).Bits)
}
