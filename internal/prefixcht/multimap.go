// SPDX-License-Identifier: MIT

// Package prefixcht implements the PrefixCHT (chained hash table
// keyed by prefix length and bits, storing one StoredPrefix per
// existing prefix) and the per-prefix MultiMap of mui-keyed records.
package prefixcht

import (
	"sync"

	"github.com/prefixstore/rib/internal/addrfam"
)

// Status is a record's route status.
type Status uint8

const (
	// Active marks a record as currently reachable.
	Active Status = 1
	// Withdrawn marks a record as no longer reachable.
	Withdrawn Status = 2
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Withdrawn:
		return "Withdrawn"
	default:
		return "Unknown"
	}
}

// Entry is a MultiMap value: everything about one mui's record except
// the mui itself (which is the map key).
type Entry struct {
	Meta   []byte
	LTime  uint64
	Status Status
}

// Record is an Entry paired back up with its mui and prefix, the
// shape returned by read operations.
type Record struct {
	Prefix addrfam.PrefixId
	Mui    uint32
	LTime  uint64
	Status Status
	Meta   []byte
}

// MultiMap maps mui to Entry for one prefix. It is guarded by a plain
// mutex: spec §4.5 calls for "a short critical section (hash-map
// write)" that never holds across I/O, which a mutex already
// satisfies without needing a lock-free map.
type MultiMap struct {
	mu    sync.Mutex
	byMui map[uint32]Entry
}

// NewMultiMap returns an empty MultiMap.
func NewMultiMap() *MultiMap {
	return &MultiMap{byMui: make(map[uint32]Entry)}
}

// UpsertRecord replaces (or creates) the entry for mui. It reports
// whether mui is new to this prefix.
func (m *MultiMap) UpsertRecord(mui uint32, e Entry) (isNew bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.byMui[mui]
	m.byMui[mui] = e
	return !existed
}

// MarkWithdrawnForMui sets mui's status to Withdrawn in place,
// bumping ltime. It reports whether mui had a record to mark.
func (m *MultiMap) MarkWithdrawnForMui(mui uint32, ltime uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byMui[mui]
	if !ok {
		return false
	}
	e.Status = Withdrawn
	e.LTime = ltime
	m.byMui[mui] = e
	return true
}

// MarkActiveForMui sets mui's status to Active in place.
func (m *MultiMap) MarkActiveForMui(mui uint32, ltime uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byMui[mui]
	if !ok {
		return false
	}
	e.Status = Active
	e.LTime = ltime
	m.byMui[mui] = e
	return true
}

// Get returns the entry for mui, if any.
func (m *MultiMap) Get(mui uint32) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byMui[mui]
	return e, ok
}

// Count returns the number of muis currently recorded, regardless of
// status.
func (m *MultiMap) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byMui)
}

// Snapshot returns every record for prefix, applying the
// global-withdrawn override (spec §4.7): a record whose mui is
// globally withdrawn is reported as Withdrawn even if its local status
// is Active, but the underlying stored status is untouched so a later
// global reactivation takes effect again (unless the prefix itself
// marked that mui Withdrawn locally, which always wins).
func (m *MultiMap) Snapshot(prefix addrfam.PrefixId, includeWithdrawn bool, muiFilter *uint32, globalWithdrawn func(uint32) bool) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.byMui))
	for mui, e := range m.byMui {
		if muiFilter != nil && mui != *muiFilter {
			continue
		}
		effective := e.Status
		if effective != Withdrawn && globalWithdrawn(mui) {
			effective = Withdrawn
		}
		if !includeWithdrawn && effective == Withdrawn {
			continue
		}
		out = append(out, Record{Prefix: prefix, Mui: mui, LTime: e.LTime, Status: effective, Meta: e.Meta})
	}
	return out
}

// ForEachMui calls fn(mui, entry) for every stored entry, in
// unspecified order. Used by BestBackup and by callers that need the
// mui alongside the entry without allocating a Record slice.
func (m *MultiMap) ForEachMui(fn func(mui uint32, e Entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for mui, e := range m.byMui {
		fn(mui, e)
	}
}
