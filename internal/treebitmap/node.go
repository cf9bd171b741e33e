// SPDX-License-Identifier: MIT

// Package treebitmap implements the lock-free trie of bitmap nodes
// that indexes prefix existence: two atomic bitmaps per node (child
// occupancy and prefix occupancy), with nodes themselves addressed
// through a length-indexed cht.Chain rather than parent pointers.
package treebitmap

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/prefixstore/rib/internal/addrfam"
)

// Node is one stride's worth of trie structure: which of its 16
// nibble positions lead to a child node, and which of its 31 prefix
// positions terminate a stored prefix. Neither bitmap stores pointers;
// children and prefixes are identified purely by position and fetched
// through the owning Family's node/prefix chains.
type Node struct {
	ptrbitarr atomic.Uint32 // low 16 bits: child occupancy, one per nibble 0..15
	pfxbitarr atomic.Uint32 // bits 31..1: prefix occupancy (bit 31 is the /0 slot), bit 0 unused padding

	muiMu    sync.Mutex
	muiIndex *bitset.BitSet // lazily allocated: muis ever written through this node
}

func newNode() Node {
	return Node{}
}

// recordMui marks mui as having written a record through n, growing
// the secondary index lazily. This is an optimization (§4.6 of the
// design notes): a stale-in-the-false-positive-direction index never
// breaks correctness because per-mui iteration still filters through
// the MultiMap.
func (n *Node) recordMui(mui uint32) {
	n.muiMu.Lock()
	defer n.muiMu.Unlock()
	if n.muiIndex == nil {
		n.muiIndex = bitset.New(uint(mui) + 1)
	}
	n.muiIndex.Set(uint(mui))
}

// hasMui reports whether mui may have a record somewhere under n. A
// false positive is possible, since the index holds every mui whose
// insert passed through n, wherever below n its prefix ended; a false
// negative would be a bug, not a benign race, since the index only grows.
func (n *Node) hasMui(mui uint32) bool {
	n.muiMu.Lock()
	defer n.muiMu.Unlock()
	if n.muiIndex == nil {
		return false
	}
	return n.muiIndex.Test(uint(mui))
}

// outcomeKind enumerates the result of claiming a slot in a node, per
// spec §4.2.
type outcomeKind int

const (
	newNodeOutcome outcomeKind = iota
	existingNodeOutcome
	newPrefixOutcome
	existingPrefixOutcome
)

type outcome struct {
	kind    outcomeKind
	retries int
}

// evalNodeOrPrefixAt performs the atomic read-OR-update-compare-
// exchange described in spec §4.2: claim the child slot for span (if
// isLastStride is false) or the prefix slot for span (if true). A
// failed compare-exchange spins with exponential backoff and retries;
// it is never fatal, only observable through the returned retry count.
func evalNodeOrPrefixAt(n *Node, span addrfam.BitSpan, isLastStride bool) outcome {
	if isLastStride {
		bit := pfxBitPos(span)
		isNew, retries := claimBit(&n.pfxbitarr, bit)
		if isNew {
			return outcome{kind: newPrefixOutcome, retries: retries}
		}
		return outcome{kind: existingPrefixOutcome, retries: retries}
	}

	bit := childBitPos(span.Bits)
	isNew, retries := claimBit(&n.ptrbitarr, bit)
	if isNew {
		return outcome{kind: newNodeOutcome, retries: retries}
	}
	return outcome{kind: existingNodeOutcome, retries: retries}
}

// claimBit sets bit in bm if it is not already set, retrying the
// compare-exchange with exponential backoff on contention. It reports
// whether this call was the one to set the bit.
func claimBit(bm *atomic.Uint32, bit uint32) (wasNew bool, retries int) {
	for {
		old := bm.Load()
		if old&bit != 0 {
			return false, retries
		}
		if bm.CompareAndSwap(old, old|bit) {
			return true, retries
		}
		retries++
		backoff(retries)
	}
}

// testBit reports whether bit is currently set in bm, a lock-free
// read.
func testBit(bm *atomic.Uint32, bit uint32) bool {
	return bm.Load()&bit != 0
}

func backoff(attempt int) {
	if attempt > 10 {
		attempt = 10
	}
	time.Sleep(time.Duration(1<<uint(attempt)) * 100 * time.Nanosecond)
}

// pfxBitPos computes the prefix-bitmap bit value for span, per spec
// §4.2: position = 1 << (31 - ((1<<len) - 1 + bits)).
func pfxBitPos(span addrfam.BitSpan) uint32 {
	idx := (uint32(1)<<span.Len - 1) + span.Bits
	return uint32(1) << (31 - idx)
}

// childBitPos maps a full nibble (span.Len == StrideLen) directly to
// its bit in ptrbitarr. The spec derives this bitmap from pfxbitarr by
// a one-bit shift so the two can be or-ed for occupancy checks; this
// implementation instead indexes ptrbitarr directly by nibble value,
// an internal encoding choice with no effect on external semantics
// (spec §9: stride/bitmap encoding is an implementation detail).
func childBitPos(nibble uint32) uint32 {
	return uint32(1) << nibble
}

// moreChildMask returns the set of ptrbitarr positions nested inside
// start (only meaningful when start.Len <= StrideLen).
func moreChildMask(start addrfam.BitSpan) uint32 {
	if start.Len > addrfam.StrideLen {
		return 0
	}
	var mask uint32
	extra := addrfam.StrideLen - start.Len
	for b := uint32(0); b < uint32(1)<<extra; b++ {
		nibble := start.Bits<<extra | b
		mask |= childBitPos(nibble)
	}
	return mask
}

// lpmWithinNode finds the longest prefix, among those terminated in n,
// whose bits (truncated to its own length) are a prefix of span.Bits.
// It walks span.Len down to 0, exactly mirroring the "decrement and
// probe" shape of spec §4.3's less-specifics walk, but scoped to a
// single stride (at most 5 probes since StrideLen==4).
func lpmWithinNode(n *Node, span addrfam.BitSpan) (addrfam.BitSpan, bool) {
	bm := n.pfxbitarr.Load()
	for l := int(span.Len); l >= 0; l-- {
		bits := span.Bits >> uint(int(span.Len)-l)
		pos := pfxBitPos(addrfam.BitSpan{Bits: bits, Len: uint8(l)})
		if bm&pos != 0 {
			return addrfam.BitSpan{Bits: bits, Len: uint8(l)}, true
		}
	}
	return addrfam.BitSpan{}, false
}
