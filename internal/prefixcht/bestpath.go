// SPDX-License-Identifier: MIT

package prefixcht

// Tie is an orderable shape a caller's path-selection callback derives
// from one record. Spec §4.5 leaves the "standard BGP best-path
// algorithm" as an external utility; this package only needs records
// to be comparable, not BGP-aware, per spec §1's explicit exclusion of
// BGP protocol state from the core.
type Tie interface {
	// Less reports whether the receiver is a worse path than other
	// (lower priority), so the best path is the maximum under this
	// ordering.
	Less(other Tie) bool
}

// RankFunc converts one mui's entry into a Tie, given the caller's
// tie-break input (route-map weights, peer preference, whatever the
// meta type's byte layout encodes).
type RankFunc func(mui uint32, e Entry, tbi any) Tie

// BestBackup walks the map and returns the best and second-best muis
// under rank, considering only entries for which eligible returns
// true (the caller decides, e.g. by consulting local status and the
// family's global withdrawn-mui set).
func (m *MultiMap) BestBackup(tbi any, rank RankFunc, eligible func(mui uint32, e Entry) bool) (best, backup uint32, hasBest, hasBackup bool) {
	var bestTie, backupTie Tie

	m.ForEachMui(func(mui uint32, e Entry) {
		if !eligible(mui, e) {
			return
		}
		t := rank(mui, e, tbi)

		switch {
		case !hasBest:
			best, bestTie, hasBest = mui, t, true
		case bestTie.Less(t):
			backup, backupTie, hasBackup = best, bestTie, hasBest
			best, bestTie = mui, t
		case !hasBackup || backupTie.Less(t):
			backup, backupTie, hasBackup = mui, t, true
		}
	})

	return best, backup, hasBest, hasBackup
}
