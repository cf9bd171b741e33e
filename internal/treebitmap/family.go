// SPDX-License-Identifier: MIT

package treebitmap

import (
	"github.com/bits-and-blooms/bitset"
	"sync/atomic"

	"github.com/prefixstore/rib/internal/addrfam"
	"github.com/prefixstore/rib/internal/cht"
)

// rootDepths is the number of length-indexed node chains a Family
// needs: one per stride boundary from the root (depth 0, NodeId.Len
// 0) down to the address width. Per spec §9: 9 for IPv4 (32/4 + 1),
// 33 for IPv6 (128/4 + 1).
func rootDepths(width uint8) int { return int(width)/addrfam.StrideLen + 1 }

// Family is the treebitmap for one address family (IPv4 or IPv6): a
// length-indexed array of node chains plus the process-wide withdrawn-
// mui bitmap (spec §4.7).
type Family struct {
	width uint8
	depth []*cht.Chain[Node] // depth[d] holds nodes with NodeId.Len == d*StrideLen

	withdrawn atomic.Pointer[bitset.BitSet]
}

// NewFamily builds an empty Family for the given address width (32 or
// 128).
func NewFamily(width uint8) *Family {
	f := &Family{width: width}
	n := rootDepths(width)
	f.depth = make([]*cht.Chain[Node], n)
	for d := 0; d < n; d++ {
		f.depth[d] = cht.NewChain[Node](uint8(d) * addrfam.StrideLen)
	}
	return f
}

// step is one precomputed hop of the descent toward a prefix: pure
// arithmetic, independent of which nodes actually exist yet.
type step struct {
	depth   int
	nodeID  addrfam.NodeId
	span    addrfam.BitSpan
	isLast  bool
	childID addrfam.NodeId
}

// planSteps computes the full descent path for pfx, from the family
// root down to the node that owns pfx's own prefix slot.
func planSteps(pfx addrfam.PrefixId) []step {
	width := pfx.Bits.Width
	steps := make([]step, 0, int(pfx.Len)/addrfam.StrideLen+1)

	curID := addrfam.NodeId{Bits: addrfam.AF{Width: width}, Len: 0}
	depth := 0
	for {
		strideEnd := curID.Len + addrfam.StrideLen
		isLast := strideEnd >= pfx.Len
		if isLast {
			strideEnd = pfx.Len
		}
		span := pfx.Bits.BitSpanAt(curID.Len, strideEnd-curID.Len)

		s := step{depth: depth, nodeID: curID, span: span, isLast: isLast}
		if !isLast {
			s.childID = addrfam.ComposeNodeId(curID.Bits, curID.Len, span)
		}
		steps = append(steps, s)

		if isLast {
			return steps
		}
		curID = s.childID
		depth++
	}
}

// SetPrefixExists is the unique write path (spec §4.3): walk the trie
// from the root, installing nodes and claiming bits as needed, and
// finally claim pfx's own prefix slot. mui is recorded in every
// visited node's secondary index along the way.
func (f *Family) SetPrefixExists(pfx addrfam.PrefixId, mui uint32) (retries int, existed bool) {
	steps := planSteps(pfx)

	for _, s := range steps {
		entry, _ := f.depth[s.depth].GetOrInit(s.nodeID.Bits, newNode)
		node := &entry.Value
		node.recordMui(mui)

		out := evalNodeOrPrefixAt(node, s.span, s.isLast)
		retries += out.retries

		if s.isLast {
			return retries, out.kind == existingPrefixOutcome
		}
		// else: child slot claimed (or already existed); the child
		// node itself is installed lazily on the next iteration's
		// GetOrInit against f.depth[s.depth+1].
	}

	// unreachable: planSteps always ends with isLast == true.
	return retries, false
}

// lookupNode fetches (read-only) the node at depth d for the given
// NodeId bits, if it has been created.
func (f *Family) lookupNode(depth int, bits addrfam.AF) (*Node, bool) {
	e, ok := f.depth[depth].Get(bits)
	if !ok {
		return nil, false
	}
	return &e.Value, true
}

// walkPath performs the read-only version of SetPrefixExists's
// descent, stopping at the first missing node. reached is the index
// of the last step actually taken (inclusive); ok is false if a node
// was missing before the final step.
func (f *Family) walkPath(steps []step) (path []*Node, reached int, ok bool) {
	path = make([]*Node, 0, len(steps))
	for i, s := range steps {
		n, found := f.lookupNode(s.depth, s.nodeID.Bits)
		if !found {
			return path, i - 1, false
		}
		path = append(path, n)
		if i == len(steps)-1 {
			return path, i, true
		}
	}
	return path, len(steps) - 1, true
}

// PrefixExists reports whether pfx itself has been claimed.
func (f *Family) PrefixExists(pfx addrfam.PrefixId) bool {
	steps := planSteps(pfx)
	path, reached, ok := f.walkPath(steps)
	if !ok || reached != len(steps)-1 {
		return false
	}
	last := path[len(path)-1]
	return testBit(&last.pfxbitarr, pfxBitPos(steps[len(steps)-1].span))
}

// LongestMatchingPrefix walks toward pfx, returning the deepest
// prefix slot found along the way (spec §4.3's longest-match walk).
func (f *Family) LongestMatchingPrefix(pfx addrfam.PrefixId) (addrfam.PrefixId, bool) {
	steps := planSteps(pfx)
	path, reached, _ := f.walkPath(steps)

	var best addrfam.PrefixId
	found := false

	for i := 0; i <= reached && i < len(path); i++ {
		n := path[i]
		s := steps[i]
		if span, ok := lpmWithinNode(n, s.span); ok {
			best = addrfam.ComposePrefixId(s.nodeID.Bits, s.nodeID.Len, span)
			found = true
		}
	}
	return best, found
}

// MoreSpecifics enumerates every prefix strictly nested inside pfx.
// Order is unspecified (spec §4.3: "bit-scan order, not numeric or
// length order").
func (f *Family) MoreSpecifics(pfx addrfam.PrefixId, yield func(addrfam.PrefixId) bool) {
	steps := planSteps(pfx)
	path, reached, ok := f.walkPath(steps)
	if !ok || reached != len(steps)-1 {
		return
	}

	terminal := path[len(path)-1]
	terminalStep := steps[len(steps)-1]
	exactPos := pfxBitPos(terminalStep.span)

	// 1. other prefixes co-located in the terminal node, strictly more
	// specific than pfx's own slot.
	if !f.emitMorePfx(terminal, terminalStep, exactPos, yield) {
		return
	}

	// 2. descend into every child nested inside pfx's own span and
	// yield everything under it.
	childMask := moreChildMask(terminalStep.span)
	ptr := terminal.ptrbitarr.Load()
	for nibble := uint32(0); nibble < 16; nibble++ {
		bit := childBitPos(nibble)
		if childMask&bit == 0 || ptr&bit == 0 {
			continue
		}
		childSpan := addrfam.BitSpan{Bits: nibble, Len: addrfam.StrideLen}
		childID := addrfam.ComposeNodeId(terminalStep.nodeID.Bits, terminalStep.nodeID.Len, childSpan)
		child, found := f.lookupNode(terminalStep.depth+1, childID.Bits)
		if !found {
			continue
		}
		if !f.walkSubtree(childID, terminalStep.depth+1, child, yield) {
			return
		}
	}
}

// emitMorePfx yields every prefix slot in node that is strictly more
// specific than (nested inside, but not equal to) the span at s.
func (f *Family) emitMorePfx(node *Node, s step, exactPos uint32, yield func(addrfam.PrefixId) bool) bool {
	bm := node.pfxbitarr.Load()
	for l := s.span.Len; l <= addrfam.StrideLen; l++ {
		extra := l - s.span.Len
		for b := uint32(0); b < uint32(1)<<extra; b++ {
			bits := s.span.Bits<<extra | b
			pos := pfxBitPos(addrfam.BitSpan{Bits: bits, Len: l})
			if pos == exactPos {
				continue // pfx itself: not "more" specific
			}
			if bm&pos == 0 {
				continue
			}
			id := addrfam.ComposePrefixId(s.nodeID.Bits, s.nodeID.Len, addrfam.BitSpan{Bits: bits, Len: l})
			if !yield(id) {
				return false
			}
		}
	}
	return true
}

// walkSubtree yields every prefix stored at or below node (id, depth),
// in full: used once MoreSpecifics has descended into a subtree that
// is wholly covered by the query prefix.
func (f *Family) walkSubtree(id addrfam.NodeId, depth int, node *Node, yield func(addrfam.PrefixId) bool) bool {
	bm := node.pfxbitarr.Load()
	for l := uint8(0); l <= addrfam.StrideLen; l++ {
		for b := uint32(0); b < uint32(1)<<l; b++ {
			pos := pfxBitPos(addrfam.BitSpan{Bits: b, Len: l})
			if bm&pos == 0 {
				continue
			}
			pid := addrfam.ComposePrefixId(id.Bits, id.Len, addrfam.BitSpan{Bits: b, Len: l})
			if !yield(pid) {
				return false
			}
		}
	}

	ptr := node.ptrbitarr.Load()
	for nibble := uint32(0); nibble < 16; nibble++ {
		if ptr&childBitPos(nibble) == 0 {
			continue
		}
		childSpan := addrfam.BitSpan{Bits: nibble, Len: addrfam.StrideLen}
		childID := addrfam.ComposeNodeId(id.Bits, id.Len, childSpan)
		child, found := f.lookupNode(depth+1, childID.Bits)
		if !found {
			continue
		}
		if !f.walkSubtree(childID, depth+1, child, yield) {
			return false
		}
	}
	return true
}

// LessSpecifics enumerates every existing prefix covering pfx, from
// pfx.Len-1 down to 0 (spec §4.3).
func (f *Family) LessSpecifics(pfx addrfam.PrefixId, yield func(addrfam.PrefixId) bool) {
	for curLen := int(pfx.Len) - 1; curLen >= 0; curLen-- {
		candidate := addrfam.PrefixId{
			Bits: pfx.Bits.TruncateToLen(uint8(curLen)),
			Len:  uint8(curLen),
		}
		if f.PrefixExists(candidate) {
			if !yield(candidate) {
				return
			}
		}
	}
}

// AllPrefixes enumerates every prefix ever inserted into the family.
func (f *Family) AllPrefixes(yield func(addrfam.PrefixId) bool) {
	root := addrfam.NodeId{Bits: addrfam.AF{Width: f.width}, Len: 0}
	node, found := f.lookupNode(0, root.Bits)
	if !found {
		return
	}
	f.walkSubtree(root, 0, node, yield)
}

// MuiPrefixes enumerates every prefix that may carry a record for mui,
// pruning subtrees whose secondary index does not contain mui (spec
// §4.6). Callers must still filter by consulting the MultiMap, since
// the index can only false-positive, never false-negative.
func (f *Family) MuiPrefixes(mui uint32, yield func(addrfam.PrefixId) bool) {
	root := addrfam.NodeId{Bits: addrfam.AF{Width: f.width}, Len: 0}
	node, found := f.lookupNode(0, root.Bits)
	if !found {
		return
	}
	f.walkSubtreeForMui(root, 0, node, mui, yield)
}

func (f *Family) walkSubtreeForMui(id addrfam.NodeId, depth int, node *Node, mui uint32, yield func(addrfam.PrefixId) bool) bool {
	if !node.hasMui(mui) {
		return true
	}

	bm := node.pfxbitarr.Load()
	for l := uint8(0); l <= addrfam.StrideLen; l++ {
		for b := uint32(0); b < uint32(1)<<l; b++ {
			pos := pfxBitPos(addrfam.BitSpan{Bits: b, Len: l})
			if bm&pos == 0 {
				continue
			}
			pid := addrfam.ComposePrefixId(id.Bits, id.Len, addrfam.BitSpan{Bits: b, Len: l})
			if !yield(pid) {
				return false
			}
		}
	}

	ptr := node.ptrbitarr.Load()
	for nibble := uint32(0); nibble < 16; nibble++ {
		if ptr&childBitPos(nibble) == 0 {
			continue
		}
		childSpan := addrfam.BitSpan{Bits: nibble, Len: addrfam.StrideLen}
		childID := addrfam.ComposeNodeId(id.Bits, id.Len, childSpan)
		child, found := f.lookupNode(depth+1, childID.Bits)
		if !found {
			continue
		}
		if !f.walkSubtreeForMui(childID, depth+1, child, mui, yield) {
			return false
		}
	}
	return true
}

// MarkMuiWithdrawn globally withdraws mui (spec §4.7): a copy-update-
// compare-exchange loop over the dense withdrawn-mui bitmap.
func (f *Family) MarkMuiWithdrawn(mui uint32) {
	for {
		old := f.withdrawn.Load()
		var next *bitset.BitSet
		if old == nil {
			next = bitset.New(uint(mui) + 1)
		} else {
			next = old.Clone()
		}
		next.Set(uint(mui))
		if f.withdrawn.CompareAndSwap(old, next) {
			return
		}
	}
}

// MarkMuiActive reverses a prior global withdrawal.
func (f *Family) MarkMuiActive(mui uint32) {
	for {
		old := f.withdrawn.Load()
		if old == nil {
			return
		}
		if !old.Test(uint(mui)) {
			return
		}
		next := old.Clone()
		next.Clear(uint(mui))
		if f.withdrawn.CompareAndSwap(old, next) {
			return
		}
	}
}

// IsMuiWithdrawn reports whether mui is currently globally withdrawn.
func (f *Family) IsMuiWithdrawn(mui uint32) bool {
	b := f.withdrawn.Load()
	if b == nil {
		return false
	}
	return b.Test(uint(mui))
}
