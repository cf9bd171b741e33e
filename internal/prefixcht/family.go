// SPDX-License-Identifier: MIT

package prefixcht

import (
	"fmt"

	"github.com/prefixstore/rib/internal/addrfam"
	"github.com/prefixstore/rib/internal/cht"
)

// Family is the PrefixCHT for one address family: one chain per
// prefix length, from 0 through width inclusive (33 slots for IPv4,
// 129 for IPv6, per spec §9 — rejecting out-of-range Len explicitly
// rather than over-allocating IPv4's array to 129 as the original
// source does).
type Family struct {
	width  uint8
	length []*cht.Chain[StoredPrefix]
}

// NewFamily builds an empty Family for the given address width.
func NewFamily(width uint8) *Family {
	f := &Family{width: width}
	f.length = make([]*cht.Chain[StoredPrefix], int(width)+1)
	for l := 0; l <= int(width); l++ {
		f.length[l] = cht.NewChain[StoredPrefix](uint8(l))
	}
	return f
}

// ErrLenOutOfRange is returned when a PrefixId's Len exceeds the
// family's address width.
var ErrLenOutOfRange = fmt.Errorf("prefixcht: prefix length out of range")

func (f *Family) checkLen(id addrfam.PrefixId) error {
	if int(id.Len) > int(f.width) {
		return fmt.Errorf("%w: len=%d width=%d", ErrLenOutOfRange, id.Len, f.width)
	}
	return nil
}

// RetrieveOrCreate is the non-recursive retrieve-or-create walk of
// spec §4.4: fetch the StoredPrefix for id, creating an empty one if
// this is the first record ever inserted for id. existed reports
// whether it was already present.
func (f *Family) RetrieveOrCreate(id addrfam.PrefixId) (*StoredPrefix, bool, error) {
	if err := f.checkLen(id); err != nil {
		return nil, false, err
	}
	entry, created := f.length[id.Len].GetOrInit(id.Bits, func() StoredPrefix {
		return newStoredPrefix(id)
	})
	return &entry.Value, !created, nil
}

// Lookup returns the StoredPrefix for id without creating one.
func (f *Family) Lookup(id addrfam.PrefixId) (*StoredPrefix, bool) {
	if err := f.checkLen(id); err != nil {
		return nil, false
	}
	entry, ok := f.length[id.Len].Get(id.Bits)
	if !ok {
		return nil, false
	}
	return &entry.Value, true
}

// UpsertReport describes the effect of one UpsertPrefix call, per spec
// §4.4.
type UpsertReport struct {
	PrefixNew bool
	MuiNew    bool
	MuiCount  int
	CasCount  int
}

// UpsertPrefix locates (or creates) the StoredPrefix for pfx, marks
// its path-selection cell stale, and upserts the record for mui. When
// rank is non-nil the best/backup path is recomputed immediately and
// CAS'd into the path-selection cell (spec §4.4's
// "maybe_path_selection_tbi" parameter).
func (f *Family) UpsertPrefix(pfx addrfam.PrefixId, mui uint32, e Entry, tbi any, rank RankFunc, globalWithdrawn func(uint32) bool) (UpsertReport, error) {
	sp, existed, err := f.RetrieveOrCreate(pfx)
	if err != nil {
		return UpsertReport{}, err
	}

	report := UpsertReport{PrefixNew: !existed}
	report.CasCount += sp.MarkPathSelectionStale()

	report.MuiNew = sp.Records.UpsertRecord(mui, e)
	report.MuiCount = sp.Records.Count()

	if rank != nil {
		report.CasCount += recomputePathSelection(sp, tbi, rank, globalWithdrawn)
	}

	return report, nil
}

// recomputePathSelection recomputes best/backup and CAS's the result
// into sp's path-selection cell, retrying a bounded number of times
// against concurrent recomputations before giving up and leaving the
// cell stale (a cache miss, not a correctness problem: callers that
// need a guaranteed-fresh result use
// Store.CalculateAndStoreBestAndBackupPath, which surfaces
// PathSelectionOutdated on persistent loss instead of swallowing it).
func recomputePathSelection(sp *StoredPrefix, tbi any, rank RankFunc, globalWithdrawn func(uint32) bool) (casCount int) {
	eligible := func(mui uint32, e Entry) bool {
		if e.Status == Withdrawn {
			return false
		}
		return !globalWithdrawn(mui)
	}

	for attempt := 0; attempt < 8; attempt++ {
		observed := sp.PathSelection()
		best, backup, hasBest, hasBackup := sp.Records.BestBackup(tbi, rank, eligible)
		if sp.StorePathSelection(observed, best, backup, hasBest, hasBackup) {
			return casCount
		}
		casCount++
	}
	return casCount
}
