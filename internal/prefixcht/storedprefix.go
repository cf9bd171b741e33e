// SPDX-License-Identifier: MIT

package prefixcht

import (
	"sync/atomic"

	"github.com/prefixstore/rib/internal/addrfam"
)

// pathSelectionCell is the cached best/backup mui for one prefix,
// swapped wholesale via compare-and-swap. Spec §4.4 describes a
// one-bit "stale" tag folded into the atomic pointer; Go cannot fold a
// tag bit into a pointer without unsafe tricks, so the tag is instead
// a field on the pointee — the CAS still targets the whole cell, which
// preserves the same lost-update semantics (see DESIGN.md).
type pathSelectionCell struct {
	Best   uint32
	Backup uint32
	HasBest,
	HasBackup bool
	Stale bool
}

// StoredPrefix is a PrefixCHT cell: the prefix it was created for, its
// MultiMap of per-mui records, and the cached path-selection result.
type StoredPrefix struct {
	ID      addrfam.PrefixId
	Records *MultiMap

	pathSel atomic.Pointer[pathSelectionCell]
}

func newStoredPrefix(id addrfam.PrefixId) StoredPrefix {
	return StoredPrefix{ID: id, Records: NewMultiMap()}
}

// MarkPathSelectionStale sets the cached path-selection cell's stale
// bit, retrying the compare-exchange under contention. This never
// fails permanently: it only loops against concurrent writers to the
// same prefix, which is bounded by the number of concurrent upserts in
// flight.
func (sp *StoredPrefix) MarkPathSelectionStale() (casCount int) {
	for {
		old := sp.pathSel.Load()
		next := &pathSelectionCell{Stale: true}
		if old != nil {
			*next = *old
			next.Stale = true
		}
		if sp.pathSel.CompareAndSwap(old, next) {
			return casCount
		}
		casCount++
	}
}

// StorePathSelection installs a freshly computed best/backup pair,
// clearing the stale bit, via a single compare-exchange against the
// cell observed by the caller. It reports whether the CAS won; a loss
// means another writer raced ahead and the caller may retry or accept
// staleness (spec's PathSelectionOutdated error is surfaced by callers
// that require freshness, not by this primitive itself).
func (sp *StoredPrefix) StorePathSelection(observed *pathSelectionCell, best, backup uint32, hasBest, hasBackup bool) bool {
	next := &pathSelectionCell{Best: best, Backup: backup, HasBest: hasBest, HasBackup: hasBackup}
	return sp.pathSel.CompareAndSwap(observed, next)
}

// PathSelection returns the currently cached best/backup cell (nil if
// never computed).
func (sp *StoredPrefix) PathSelection() *pathSelectionCell {
	return sp.pathSel.Load()
}
