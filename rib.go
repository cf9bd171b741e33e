// SPDX-License-Identifier: MIT

package rib

import (
	"fmt"
	"net/netip"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prefixstore/rib/internal/addrfam"
	"github.com/prefixstore/rib/internal/persist"
	"github.com/prefixstore/rib/internal/prefixcht"
	"github.com/prefixstore/rib/internal/treebitmap"
)

// Re-exported so callers never need to import the internal packages
// directly to build an Insert call or interpret its result.
type (
	// Status is a record's route status (Active or Withdrawn).
	Status = prefixcht.Status
	// Entry mirrors one mui's stored record.
	Entry = prefixcht.Entry
	// UpsertReport describes the effect of one Insert call.
	UpsertReport = prefixcht.UpsertReport
	// Tie is the orderable shape a RankFunc derives from one record.
	Tie = prefixcht.Tie
	// RankFunc converts a record into a Tie for path selection.
	RankFunc = prefixcht.RankFunc
	// PersistStrategy selects how Insert keeps a record durable.
	PersistStrategy = persist.Strategy
)

const (
	Active    = prefixcht.Active
	Withdrawn = prefixcht.Withdrawn

	MemoryOnly     = persist.MemoryOnly
	PersistOnly    = persist.PersistOnly
	WriteAhead     = persist.WriteAhead
	PersistHistory = persist.PersistHistory
)

// Config configures a Store.
type Config struct {
	// Strategy selects how records are kept durable (spec §4.8).
	// The zero value is MemoryOnly.
	Strategy persist.Strategy
	// PersistDir is the base directory for the persistence layer,
	// required for every Strategy other than MemoryOnly. Each address
	// family gets its own fresh uuid-named instance directory beneath
	// it (<PersistDir>/<uuid>/ipv4 and <PersistDir>/<another uuid>/ipv6).
	PersistDir string
	// Logger receives structured diagnostics. A no-op logger is used
	// if nil.
	Logger *zap.Logger
}

// Store holds one treebitmap+prefixCHT pair per address family plus
// an optional persistence layer, fanning out IPv4/IPv6 operations by
// inspecting the netip.Prefix passed in.
type Store struct {
	v4, v6 *familyStore
	log    *zap.Logger
}

type familyStore struct {
	width    uint8
	trie     *treebitmap.Family
	cht      *prefixcht.Family
	tree     *persist.Tree
	strategy persist.Strategy
}

// NewStore builds an empty Store. When cfg.Strategy is not MemoryOnly
// it opens a persist.Tree for each address family under cfg.PersistDir.
func NewStore(cfg Config) (*Store, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Store{log: log}
	var err error
	if s.v4, err = newFamilyStore(32, cfg); err != nil {
		return nil, err
	}
	if s.v6, err = newFamilyStore(128, cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func newFamilyStore(width uint8, cfg Config) (*familyStore, error) {
	fs := &familyStore{
		width:    width,
		trie:     treebitmap.NewFamily(width),
		cht:      prefixcht.NewFamily(width),
		strategy: cfg.Strategy,
	}
	if cfg.Strategy == persist.MemoryOnly {
		return fs, nil
	}
	if cfg.PersistDir == "" {
		return nil, fmt.Errorf("%w: PersistDir required for strategy %s", ErrStoreNotReady, cfg.Strategy)
	}
	tree, err := persist.Open(persist.Config{BaseDir: cfg.PersistDir, Width: width, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	fs.tree = tree
	return fs, nil
}

// Close releases any open persistence layers.
func (s *Store) Close() error {
	var firstErr error
	for _, fs := range []*familyStore{s.v4, s.v6} {
		if fs.tree == nil {
			continue
		}
		if err := fs.tree.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) familyFor(p netip.Prefix) (*familyStore, error) {
	switch {
	case p.Addr().Is4():
		return s.v4, nil
	case p.Addr().Is6():
		return s.v6, nil
	default:
		return nil, fmt.Errorf("rib: invalid prefix %v", p)
	}
}

// Insert installs (or updates) the record for mui under prefix, per
// spec §4.4. tbi and rank are optional: when rank is non-nil the
// best/backup path is recomputed and cached immediately; otherwise the
// path-selection cell is left stale for the next explicit
// CalculateAndStoreBestAndBackupPath call.
//
// Under PersistOnly no in-memory record is kept: the call only claims
// the existence bit in the trie and writes straight through to disk.
func (s *Store) Insert(prefix netip.Prefix, mui uint32, ltime uint64, meta []byte, tbi any, rank RankFunc) (UpsertReport, error) {
	pfx, err := addrfam.PrefixFromNetip(prefix)
	if err != nil {
		return UpsertReport{}, err
	}
	fs, err := s.familyFor(prefix)
	if err != nil {
		return UpsertReport{}, err
	}

	_, existed := fs.trie.SetPrefixExists(pfx, mui)

	if fs.strategy == persist.PersistOnly {
		if fs.tree == nil {
			return UpsertReport{}, ErrStoreNotReady
		}
		if err := fs.tree.PutShort(pfx, mui, ltime, Active, meta); err != nil {
			return UpsertReport{}, fmt.Errorf("%w: %v", ErrPersistFailed, err)
		}
		// MuiCount is always 0 here: PersistOnly keeps no in-memory
		// MultiMap to count against (see DESIGN.md).
		return UpsertReport{PrefixNew: !existed, MuiNew: !existed, MuiCount: 0}, nil
	}

	report, err := fs.cht.UpsertPrefix(pfx, mui, Entry{Meta: meta, LTime: ltime, Status: Active}, tbi, rank, fs.trie.IsMuiWithdrawn)
	if err != nil {
		return UpsertReport{}, err
	}

	if err := fs.mirrorWrite(pfx, mui, ltime, Active, meta); err != nil {
		return report, err
	}
	return report, nil
}

// mirrorWrite writes through to the persistence layer according to
// fs.strategy. MemoryOnly and PersistOnly are handled by their
// callers; this only serves WriteAhead and PersistHistory.
func (fs *familyStore) mirrorWrite(pfx addrfam.PrefixId, mui uint32, ltime uint64, status Status, meta []byte) error {
	switch fs.strategy {
	case persist.MemoryOnly:
		return nil
	case persist.WriteAhead:
		if err := fs.tree.PutShort(pfx, mui, ltime, status, meta); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistFailed, err)
		}
	case persist.PersistHistory:
		if err := fs.tree.PutLong(pfx, mui, ltime, status, meta); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistFailed, err)
		}
	}
	return nil
}

// Contains reports whether prefix has at least one record, ignoring
// status. If mui is non-nil, it instead reports whether prefix has a
// record for that specific mui (spec §6's contains(prefix, maybe_mui),
// dispatching to prefix_exists_for_mui when mui is supplied).
func (s *Store) Contains(prefix netip.Prefix, mui *uint32) (bool, error) {
	pfx, err := addrfam.PrefixFromNetip(prefix)
	if err != nil {
		return false, err
	}
	fs, err := s.familyFor(prefix)
	if err != nil {
		return false, err
	}
	if mui == nil {
		return fs.trie.PrefixExists(pfx), nil
	}
	return fs.prefixExistsForMui(pfx, *mui)
}

// prefixExistsForMui reports whether pfx carries a record for mui
// specifically.
func (fs *familyStore) prefixExistsForMui(pfx addrfam.PrefixId, mui uint32) (bool, error) {
	if fs.strategy == persist.PersistOnly {
		if fs.tree == nil {
			return false, ErrStoreNotReady
		}
		ok, err := fs.tree.HasShort(pfx, mui)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrPersistFailed, err)
		}
		return ok, nil
	}

	sp, found := fs.cht.Lookup(pfx)
	if !found {
		return false, nil
	}
	_, ok := sp.Records.Get(mui)
	return ok, nil
}

// MatchPrefix performs a longest-match lookup, per spec §4.3/§4.9.
func (s *Store) MatchPrefix(prefix netip.Prefix, opts MatchOptions) (QueryResult, error) {
	pfx, err := addrfam.PrefixFromNetip(prefix)
	if err != nil {
		return QueryResult{}, err
	}
	fs, err := s.familyFor(prefix)
	if err != nil {
		return QueryResult{}, err
	}
	return fs.matchPrefix(pfx, opts)
}

// MarkMuiWithdrawnForPrefix withdraws mui's record under prefix only
// (spec §4.5/§4.7's local withdrawal, as opposed to the global one).
func (s *Store) MarkMuiWithdrawnForPrefix(prefix netip.Prefix, mui uint32, ltime uint64) error {
	return s.markForPrefix(prefix, mui, ltime, Withdrawn)
}

// MarkMuiActiveForPrefix reactivates mui's record under prefix.
func (s *Store) MarkMuiActiveForPrefix(prefix netip.Prefix, mui uint32, ltime uint64) error {
	return s.markForPrefix(prefix, mui, ltime, Active)
}

func (s *Store) markForPrefix(prefix netip.Prefix, mui uint32, ltime uint64, status Status) error {
	pfx, err := addrfam.PrefixFromNetip(prefix)
	if err != nil {
		return err
	}
	fs, err := s.familyFor(prefix)
	if err != nil {
		return err
	}

	if fs.strategy == persist.PersistOnly {
		if fs.tree == nil {
			return ErrStoreNotReady
		}
		if err := fs.tree.RewriteHeader(pfx, mui, ltime, status); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistFailed, err)
		}
		return nil
	}

	sp, found := fs.cht.Lookup(pfx)
	if !found {
		return ErrPrefixNotFound
	}
	var ok bool
	if status == Withdrawn {
		ok = sp.Records.MarkWithdrawnForMui(mui, ltime)
	} else {
		ok = sp.Records.MarkActiveForMui(mui, ltime)
	}
	if !ok {
		return ErrPrefixNotFound
	}
	sp.MarkPathSelectionStale()

	e, _ := sp.Records.Get(mui)
	return fs.mirrorWrite(pfx, mui, ltime, status, e.Meta)
}

// MarkMuiWithdrawn globally withdraws mui across both address
// families (spec §4.7): every record for mui, in every prefix,
// reports Withdrawn regardless of its local status, without visiting
// each prefix.
func (s *Store) MarkMuiWithdrawn(mui uint32) {
	s.v4.trie.MarkMuiWithdrawn(mui)
	s.v6.trie.MarkMuiWithdrawn(mui)
}

// MarkMuiActive reverses a prior global withdrawal of mui.
func (s *Store) MarkMuiActive(mui uint32) {
	s.v4.trie.MarkMuiActive(mui)
	s.v6.trie.MarkMuiActive(mui)
}

// CalculateAndStoreBestAndBackupPath forces an immediate, fresh
// best/backup recomputation for prefix and attempts to CAS it into
// the cache, returning ErrPathSelectionOutdated if it loses every
// retry against concurrent writers.
func (s *Store) CalculateAndStoreBestAndBackupPath(prefix netip.Prefix, tbi any, rank RankFunc) (best, backup uint32, hasBest, hasBackup bool, err error) {
	pfx, err := addrfam.PrefixFromNetip(prefix)
	if err != nil {
		return 0, 0, false, false, err
	}
	fs, err := s.familyFor(prefix)
	if err != nil {
		return 0, 0, false, false, err
	}
	sp, found := fs.cht.Lookup(pfx)
	if !found {
		return 0, 0, false, false, ErrPrefixNotFound
	}

	eligible := func(mui uint32, e Entry) bool {
		if e.Status == Withdrawn {
			return false
		}
		return !fs.trie.IsMuiWithdrawn(mui)
	}

	for attempt := 0; attempt < 8; attempt++ {
		observed := sp.PathSelection()
		best, backup, hasBest, hasBackup = sp.Records.BestBackup(tbi, rank, eligible)
		if sp.StorePathSelection(observed, best, backup, hasBest, hasBackup) {
			return best, backup, hasBest, hasBackup, nil
		}
	}
	return 0, 0, false, false, ErrPathSelectionOutdated
}

// BestPath returns the currently cached best mui for prefix, without
// recomputing it. Returns ErrBestPathNotFound if no best mui is
// cached, either because path selection was never computed for prefix
// or because the last computation found no eligible record.
func (s *Store) BestPath(prefix netip.Prefix) (mui uint32, err error) {
	pfx, err := addrfam.PrefixFromNetip(prefix)
	if err != nil {
		return 0, err
	}
	fs, err := s.familyFor(prefix)
	if err != nil {
		return 0, err
	}
	sp, found := fs.cht.Lookup(pfx)
	if !found {
		return 0, ErrPrefixNotFound
	}
	cell := sp.PathSelection()
	if cell == nil || !cell.HasBest {
		return 0, ErrBestPathNotFound
	}
	return cell.Best, nil
}

// FlushToDisk forces both address families' persistence layers
// durable, fanning the two calls out concurrently.
func (s *Store) FlushToDisk() error {
	var g errgroup.Group
	for _, fs := range []*familyStore{s.v4, s.v6} {
		fs := fs
		g.Go(func() error {
			if fs.tree == nil {
				return nil
			}
			return fs.tree.FlushToDisk()
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return nil
}

// ApproxPersistedItems sums the approximate persisted-write count
// across both address families.
func (s *Store) ApproxPersistedItems() int64 {
	var total int64
	for _, fs := range []*familyStore{s.v4, s.v6} {
		if fs.tree != nil {
			total += fs.tree.ApproxPersistedItems()
		}
	}
	return total
}

// DiskSpace sums the LSM and value-log byte sizes across both
// address families.
func (s *Store) DiskSpace() (lsmBytes, vlogBytes int64) {
	for _, fs := range []*familyStore{s.v4, s.v6} {
		if fs.tree == nil {
			continue
		}
		l, v := fs.tree.DiskSpace()
		lsmBytes += l
		vlogBytes += v
	}
	return lsmBytes, vlogBytes
}
