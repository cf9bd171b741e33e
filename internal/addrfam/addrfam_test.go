// SPDX-License-Identifier: MIT

package addrfam

import (
	"net/netip"
	"testing"
)

func TestFromAddrRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []string{
		"0.0.0.0",
		"255.255.255.255",
		"192.0.2.1",
		"::",
		"::1",
		"2001:db8::1",
		"ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff",
	}
	for _, s := range cases {
		addr := netip.MustParseAddr(s)
		af, err := FromAddr(addr)
		if err != nil {
			t.Fatalf("FromAddr(%s): %v", s, err)
		}
		if got := af.Addr(); got != addr {
			t.Errorf("round trip %s: got %s", s, got)
		}
	}
}

func TestShiftLeftRight(t *testing.T) {
	t.Parallel()
	af, _ := FromAddr(netip.MustParseAddr("255.255.255.255"))

	if got := af.ShiftLeft(32); !got.IsZero() {
		t.Errorf("ShiftLeft(32) of full-width value should be zero, got %v", got)
	}
	if got := af.ShiftRight(32); !got.IsZero() {
		t.Errorf("ShiftRight(32) should be zero, got %v", got)
	}
	if got := af.ShiftLeft(0); got != af {
		t.Errorf("ShiftLeft(0) should be identity, got %v", got)
	}

	v6, _ := FromAddr(netip.MustParseAddr("ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff"))
	if got := v6.ShiftLeft(128); !got.IsZero() {
		t.Errorf("v6 ShiftLeft(128) should be zero, got %v", got)
	}
	if got := v6.ShiftRight(64); got.Addr().String() != "::ffff:ffff:ffff:ffff" {
		t.Errorf("v6 ShiftRight(64) = %v", got.Addr())
	}
}

func TestTruncateToLen(t *testing.T) {
	t.Parallel()
	af, _ := FromAddr(netip.MustParseAddr("192.0.2.255"))
	got := af.TruncateToLen(24)
	want, _ := FromAddr(netip.MustParseAddr("192.0.2.0"))
	if got != want {
		t.Errorf("TruncateToLen(24) = %v, want %v", got.Addr(), want.Addr())
	}

	full := af.TruncateToLen(32)
	if full != af {
		t.Errorf("TruncateToLen(32) should be identity, got %v", full.Addr())
	}
}

func TestBitSpanAt(t *testing.T) {
	t.Parallel()
	af, _ := FromAddr(netip.MustParseAddr("192.0.2.1")) // 11000000.00000000.00000010.00000001
	span := af.BitSpanAt(0, 4)
	if span.Bits != 0b1100 || span.Len != 4 {
		t.Errorf("first nibble = %04b/%d, want 1100/4", span.Bits, span.Len)
	}
	span2 := af.BitSpanAt(4, 4)
	if span2.Bits != 0b0000 {
		t.Errorf("second nibble = %04b, want 0000", span2.Bits)
	}
}

func TestPrefixFromNetip(t *testing.T) {
	t.Parallel()
	p := netip.MustParsePrefix("10.0.0.0/8")
	id, err := PrefixFromNetip(p)
	if err != nil {
		t.Fatal(err)
	}
	if id.Len != 8 {
		t.Errorf("Len = %d, want 8", id.Len)
	}
	if id.Netip() != p {
		t.Errorf("Netip() = %v, want %v", id.Netip(), p)
	}
}

func TestPrefixFromNetipHostBitsCleared(t *testing.T) {
	t.Parallel()
	// netip.PrefixFrom doesn't require host bits to be zero; PrefixId
	// must still canonicalize them away.
	addr := netip.MustParseAddr("10.1.2.3")
	p := netip.PrefixFrom(addr, 8)
	id, err := PrefixFromNetip(p)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := FromAddr(netip.MustParseAddr("10.0.0.0"))
	if id.Bits != want {
		t.Errorf("host bits not cleared: got %v", id.Bits.Addr())
	}
}

func TestComposeNodeIdAndPrefixId(t *testing.T) {
	t.Parallel()
	base, _ := FromAddr(netip.MustParseAddr("10.0.0.0"))
	span := BitSpan{Bits: 0b0001, Len: 4}

	nodeID := ComposeNodeId(base, 8, span)
	if nodeID.Len != 12 {
		t.Errorf("NodeId.Len = %d, want 12", nodeID.Len)
	}

	pfxID := ComposePrefixId(base, 8, span)
	if pfxID.Len != 12 {
		t.Errorf("PrefixId.Len = %d, want 12", pfxID.Len)
	}
	if pfxID.Netip().Addr().String() != "10.16.0.0" {
		t.Errorf("composed addr = %v, want 10.16.0.0", pfxID.Netip().Addr())
	}
}

func TestNodeSetSizeAndPrevNodeSize(t *testing.T) {
	t.Parallel()
	// A /20 prefix spans levels 0 (bits 0-4), 1 (bits 4-8), 2 (bits
	// 8-12), 3 (bits 12-16), 4 (bits 16-20, the last full stride).
	length := uint8(20)
	for level, want := range []int{4, 4, 4, 4, 4} {
		if got := NodeSetSize(length, level); got != want {
			t.Errorf("NodeSetSize(20, %d) = %d, want %d", level, got, want)
		}
	}
	if got := NodeSetSize(length, 5); got != 0 {
		t.Errorf("NodeSetSize(20, 5) = %d, want 0", got)
	}

	if got := PrevNodeSize(length, 2); got != 8 {
		t.Errorf("PrevNodeSize(20, 2) = %d, want 8", got)
	}
}

func TestFoldAtLastNibble(t *testing.T) {
	t.Parallel()
	base, _ := FromAddr(netip.MustParseAddr("0.0.0.0"))
	span := BitSpan{Bits: 0xF, Len: 4}
	folded := Fold(base, 28, span)
	want, _ := FromAddr(netip.MustParseAddr("0.0.0.15"))
	if folded != want {
		t.Errorf("Fold at last nibble = %v, want %v", folded.Addr(), want.Addr())
	}
}
