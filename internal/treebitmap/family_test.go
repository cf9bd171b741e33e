// SPDX-License-Identifier: MIT

package treebitmap

import (
	"net/netip"
	"sort"
	"testing"

	"github.com/prefixstore/rib/internal/addrfam"
)

func pfx(t *testing.T, s string) addrfam.PrefixId {
	t.Helper()
	id, err := addrfam.PrefixFromNetip(netip.MustParsePrefix(s))
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestSetPrefixExistsAndPrefixExists(t *testing.T) {
	t.Parallel()
	f := NewFamily(32)

	p := pfx(t, "10.0.0.0/8")
	_, existed := f.SetPrefixExists(p, 1)
	if existed {
		t.Fatal("first insert should report not previously existing")
	}
	if !f.PrefixExists(p) {
		t.Fatal("PrefixExists should be true after SetPrefixExists")
	}

	_, existed2 := f.SetPrefixExists(p, 2)
	if !existed2 {
		t.Fatal("second insert of the same prefix should report existed")
	}

	other := pfx(t, "192.168.0.0/16")
	if f.PrefixExists(other) {
		t.Fatal("unrelated prefix should not exist")
	}
}

func TestLongestMatchingPrefix(t *testing.T) {
	t.Parallel()
	f := NewFamily(32)

	for _, s := range []string{"10.0.0.0/8", "10.1.0.0/16", "10.1.2.0/24"} {
		f.SetPrefixExists(pfx(t, s), 1)
	}

	got, ok := f.LongestMatchingPrefix(pfx(t, "10.1.2.5/32"))
	if !ok {
		t.Fatal("expected a match")
	}
	if got.String() != "10.1.2.0/24" {
		t.Errorf("LongestMatchingPrefix = %s, want 10.1.2.0/24", got)
	}

	got2, ok2 := f.LongestMatchingPrefix(pfx(t, "10.1.3.5/32"))
	if !ok2 {
		t.Fatal("expected a match under 10.1.0.0/16")
	}
	if got2.String() != "10.1.0.0/16" {
		t.Errorf("LongestMatchingPrefix = %s, want 10.1.0.0/16", got2)
	}

	_, ok3 := f.LongestMatchingPrefix(pfx(t, "192.168.0.0/16"))
	if ok3 {
		t.Fatal("expected no match outside 10.0.0.0/8")
	}
}

func TestLongestMatchingPrefixExactNode(t *testing.T) {
	t.Parallel()
	f := NewFamily(32)
	f.SetPrefixExists(pfx(t, "10.0.0.0/8"), 1)

	got, ok := f.LongestMatchingPrefix(pfx(t, "10.0.0.0/8"))
	if !ok || got.String() != "10.0.0.0/8" {
		t.Errorf("exact-match LPM = %v, %v", got, ok)
	}
}

func TestMoreSpecifics(t *testing.T) {
	t.Parallel()
	f := NewFamily(32)

	all := []string{
		"10.0.0.0/8",
		"10.1.0.0/16",
		"10.1.2.0/24",
		"10.2.0.0/16",
		"192.168.0.0/16",
	}
	for _, s := range all {
		f.SetPrefixExists(pfx(t, s), 1)
	}

	var got []string
	f.MoreSpecifics(pfx(t, "10.0.0.0/8"), func(p addrfam.PrefixId) bool {
		got = append(got, p.String())
		return true
	})
	sort.Strings(got)

	want := []string{"10.1.0.0/16", "10.1.2.0/24", "10.2.0.0/16"}
	if len(got) != len(want) {
		t.Fatalf("MoreSpecifics = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MoreSpecifics[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMoreSpecificsEarlyStop(t *testing.T) {
	t.Parallel()
	f := NewFamily(32)
	for _, s := range []string{"10.1.0.0/16", "10.1.2.0/24", "10.1.3.0/24"} {
		f.SetPrefixExists(pfx(t, s), 1)
	}

	count := 0
	f.MoreSpecifics(pfx(t, "10.0.0.0/8"), func(p addrfam.PrefixId) bool {
		count++
		return false
	})
	if count != 1 {
		t.Errorf("yield returning false should stop after one call, got %d", count)
	}
}

func TestLessSpecifics(t *testing.T) {
	t.Parallel()
	f := NewFamily(32)
	for _, s := range []string{"10.0.0.0/8", "10.1.0.0/16", "10.1.2.0/24"} {
		f.SetPrefixExists(pfx(t, s), 1)
	}

	var got []string
	f.LessSpecifics(pfx(t, "10.1.2.0/24"), func(p addrfam.PrefixId) bool {
		got = append(got, p.String())
		return true
	})

	want := []string{"10.1.0.0/16", "10.0.0.0/8"}
	if len(got) != len(want) {
		t.Fatalf("LessSpecifics = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("LessSpecifics[%d] = %s, want %s (order must be most-specific first)", i, got[i], want[i])
		}
	}
}

func TestAllPrefixes(t *testing.T) {
	t.Parallel()
	f := NewFamily(32)
	all := []string{"10.0.0.0/8", "10.1.0.0/16", "192.168.0.0/16", "0.0.0.0/0"}
	for _, s := range all {
		f.SetPrefixExists(pfx(t, s), 1)
	}

	seen := map[string]bool{}
	f.AllPrefixes(func(p addrfam.PrefixId) bool {
		seen[p.String()] = true
		return true
	})
	if len(seen) != len(all) {
		t.Fatalf("AllPrefixes saw %d, want %d: %v", len(seen), len(all), seen)
	}
	for _, s := range all {
		if !seen[s] {
			t.Errorf("AllPrefixes missing %s", s)
		}
	}
}

func TestMuiPrefixes(t *testing.T) {
	t.Parallel()
	f := NewFamily(32)

	f.SetPrefixExists(pfx(t, "10.0.0.0/8"), 1)
	f.SetPrefixExists(pfx(t, "10.1.0.0/16"), 2)
	f.SetPrefixExists(pfx(t, "192.168.0.0/16"), 1)

	var gotMui1 []string
	f.MuiPrefixes(1, func(p addrfam.PrefixId) bool {
		gotMui1 = append(gotMui1, p.String())
		return true
	})
	sort.Strings(gotMui1)
	want := []string{"10.0.0.0/8", "192.168.0.0/16"}
	if len(gotMui1) != len(want) {
		t.Fatalf("MuiPrefixes(1) = %v, want %v", gotMui1, want)
	}

	var gotMui3 []string
	f.MuiPrefixes(3, func(p addrfam.PrefixId) bool {
		gotMui3 = append(gotMui3, p.String())
		return true
	})
	if len(gotMui3) != 0 {
		t.Errorf("MuiPrefixes(3) should be empty, got %v", gotMui3)
	}
}

func TestGlobalWithdrawnMui(t *testing.T) {
	t.Parallel()
	f := NewFamily(32)

	if f.IsMuiWithdrawn(5) {
		t.Fatal("mui should not be withdrawn before any call")
	}
	f.MarkMuiWithdrawn(5)
	if !f.IsMuiWithdrawn(5) {
		t.Fatal("mui should be withdrawn after MarkMuiWithdrawn")
	}
	if f.IsMuiWithdrawn(6) {
		t.Fatal("unrelated mui should be unaffected")
	}
	f.MarkMuiActive(5)
	if f.IsMuiWithdrawn(5) {
		t.Fatal("mui should be active again after MarkMuiActive")
	}
}

func TestIPv6Extremes(t *testing.T) {
	t.Parallel()
	f := NewFamily(128)

	f.SetPrefixExists(pfx(t, "::/0"), 1)
	f.SetPrefixExists(pfx(t, "2001:db8::/32"), 1)
	f.SetPrefixExists(pfx(t, "2001:db8::1/128"), 1)

	got, ok := f.LongestMatchingPrefix(pfx(t, "2001:db8::1/128"))
	if !ok || got.String() != "2001:db8::1/128" {
		t.Errorf("LongestMatchingPrefix = %v, %v", got, ok)
	}

	got2, ok2 := f.LongestMatchingPrefix(pfx(t, "2001:db8::2/128"))
	if !ok2 || got2.String() != "2001:db8::/32" {
		t.Errorf("LongestMatchingPrefix = %v, %v, want 2001:db8::/32", got2, ok2)
	}
}
