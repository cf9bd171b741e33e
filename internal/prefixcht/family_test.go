// SPDX-License-Identifier: MIT

package prefixcht

import (
	"testing"

	"github.com/prefixstore/rib/internal/addrfam"
)

func TestRetrieveOrCreate(t *testing.T) {
	t.Parallel()
	f := NewFamily(32)
	id := pfxID(t, "10.0.0.0/8")

	sp1, existed1, err := f.RetrieveOrCreate(id)
	if err != nil {
		t.Fatal(err)
	}
	if existed1 {
		t.Fatal("first RetrieveOrCreate should report not existed")
	}

	sp2, existed2, err := f.RetrieveOrCreate(id)
	if err != nil {
		t.Fatal(err)
	}
	if !existed2 {
		t.Fatal("second RetrieveOrCreate should report existed")
	}
	if sp1 != sp2 {
		t.Fatal("RetrieveOrCreate should return the same StoredPrefix")
	}
}

func TestLookupMissing(t *testing.T) {
	t.Parallel()
	f := NewFamily(32)
	if _, found := f.Lookup(pfxID(t, "10.0.0.0/8")); found {
		t.Fatal("Lookup on empty family should report not found")
	}
}

func TestCheckLenOutOfRange(t *testing.T) {
	t.Parallel()
	f := NewFamily(32)
	id := addrfam.PrefixId{Bits: addrfam.AF{Width: 32}, Len: 33} // one bit past the family's width
	if _, _, err := f.RetrieveOrCreate(id); err == nil {
		t.Fatal("expected ErrLenOutOfRange")
	}
}

func TestUpsertPrefixReport(t *testing.T) {
	t.Parallel()
	f := NewFamily(32)
	id := pfxID(t, "10.0.0.0/8")

	report, err := f.UpsertPrefix(id, 1, Entry{Status: Active, LTime: 1}, nil, nil, func(uint32) bool { return false })
	if err != nil {
		t.Fatal(err)
	}
	if !report.PrefixNew || !report.MuiNew || report.MuiCount != 1 {
		t.Errorf("first upsert report = %+v", report)
	}

	report2, err := f.UpsertPrefix(id, 2, Entry{Status: Active, LTime: 2}, nil, nil, func(uint32) bool { return false })
	if err != nil {
		t.Fatal(err)
	}
	if report2.PrefixNew || !report2.MuiNew || report2.MuiCount != 2 {
		t.Errorf("second upsert report = %+v", report2)
	}
}

func TestUpsertPrefixWithRankComputesPathSelection(t *testing.T) {
	t.Parallel()
	f := NewFamily(32)
	id := pfxID(t, "10.0.0.0/8")

	prefs := map[uint32]int{1: 10, 2: 20}
	f.UpsertPrefix(id, 1, Entry{Status: Active}, prefs, rankByLocalPref, func(uint32) bool { return false })
	f.UpsertPrefix(id, 2, Entry{Status: Active}, prefs, rankByLocalPref, func(uint32) bool { return false })

	sp, found := f.Lookup(id)
	if !found {
		t.Fatal("prefix should exist")
	}
	cell := sp.PathSelection()
	if cell == nil || !cell.HasBest || cell.Best != 2 {
		t.Errorf("path selection = %+v, want best mui 2", cell)
	}
}

func TestMarkPathSelectionStaleThenStoreClearsIt(t *testing.T) {
	t.Parallel()
	sp := newStoredPrefix(pfxID(t, "10.0.0.0/8"))
	sp.MarkPathSelectionStale()
	cell := sp.PathSelection()
	if cell == nil || !cell.Stale {
		t.Fatalf("cell should be stale after MarkPathSelectionStale, got %+v", cell)
	}

	sp.StorePathSelection(cell, 5, 6, true, true)
	fresh := sp.PathSelection()
	if fresh.Stale {
		t.Error("StorePathSelection should clear the stale flag")
	}
	if fresh.Best != 5 || fresh.Backup != 6 {
		t.Errorf("fresh cell = %+v", fresh)
	}
}
