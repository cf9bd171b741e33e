// SPDX-License-Identifier: MIT

package rib

import (
	"fmt"
	"iter"
	"net/netip"

	"github.com/prefixstore/rib/internal/addrfam"
	"github.com/prefixstore/rib/internal/persist"
	"github.com/prefixstore/rib/internal/prefixcht"
)

// AddrFamily selects IPv4 or IPv6 for the iteration methods, which
// have no single prefix to dispatch on.
type AddrFamily int

const (
	IPv4 AddrFamily = iota
	IPv6
)

// MatchKind reports which of the three match outcomes a MatchPrefix
// call produced.
type MatchKind int

const (
	// EmptyMatch means no eligible record was found, whether or not a
	// trie node happened to exist.
	EmptyMatch MatchKind = iota
	// ExactMatch means opts.ExactMatch was set and the exact prefix
	// carried at least one eligible record.
	ExactMatch
	// LongestMatch means the longest-prefix-match walk found a
	// covering prefix with at least one eligible record.
	LongestMatch
)

func (k MatchKind) String() string {
	switch k {
	case ExactMatch:
		return "ExactMatch"
	case LongestMatch:
		return "LongestMatch"
	default:
		return "EmptyMatch"
	}
}

// MatchOptions controls a MatchPrefix call.
type MatchOptions struct {
	// ExactMatch disables the longest-prefix-match fallback: only the
	// queried prefix itself counts.
	ExactMatch bool
	// IncludeWithdrawn includes records whose effective status (local
	// or globally overridden) is Withdrawn.
	IncludeWithdrawn bool
	// Mui, if non-nil, restricts the result to that one mui's record.
	Mui *uint32
	// IncludeLessSpecifics populates QueryResult.LessSpecifics with
	// every existing prefix covering the matched prefix.
	IncludeLessSpecifics bool
	// IncludeMoreSpecifics populates QueryResult.MoreSpecifics with
	// every existing prefix nested inside the matched prefix.
	IncludeMoreSpecifics bool
	// IncludeHistory merges historical versions read back from a
	// PersistHistory persistence layer into the returned records,
	// instead of only the current in-memory version (spec §4.9's
	// open question, resolved per SPEC_FULL.md §4).
	IncludeHistory bool
}

// PrefixRecords pairs a prefix with the records gathered for it, the
// shape spec §4.9 uses for the LessSpecifics/MoreSpecifics lists.
type PrefixRecords struct {
	Prefix  netip.Prefix
	Records []Record
}

// QueryResult is the outcome of a MatchPrefix call.
type QueryResult struct {
	Prefix        netip.Prefix
	Kind          MatchKind
	Records       []Record
	LessSpecifics []PrefixRecords
	MoreSpecifics []PrefixRecords
}

// Record is one mui's stored record for a prefix, with the prefix
// rendered back to a netip.Prefix rather than the internal
// addrfam.PrefixId it is stored as.
type Record struct {
	Prefix netip.Prefix
	Mui    uint32
	LTime  uint64
	Status Status
	Meta   []byte
}

func publicRecord(r prefixcht.Record) Record {
	return Record{
		Prefix: r.Prefix.Netip(),
		Mui:    r.Mui,
		LTime:  r.LTime,
		Status: r.Status,
		Meta:   r.Meta,
	}
}

func publicRecords(rs []prefixcht.Record) []Record {
	if rs == nil {
		return nil
	}
	out := make([]Record, len(rs))
	for i, r := range rs {
		out[i] = publicRecord(r)
	}
	return out
}

// matchPrefix implements spec §4.9's match walk, including the
// ExactMatch downgrade rule: an exact prefix that exists in the trie
// but carries no record eligible under opts is reported as
// EmptyMatch, never as a false ExactMatch with no records attached.
func (fs *familyStore) matchPrefix(pfx addrfam.PrefixId, opts MatchOptions) (QueryResult, error) {
	if opts.ExactMatch {
		if !fs.trie.PrefixExists(pfx) {
			return QueryResult{Kind: EmptyMatch}, nil
		}
		records, err := fs.gatherRecords(pfx, opts)
		if err != nil {
			return QueryResult{}, err
		}
		if len(records) == 0 {
			return QueryResult{Kind: EmptyMatch}, nil
		}
		return fs.finishMatch(pfx, ExactMatch, records, opts)
	}

	matched, found := fs.trie.LongestMatchingPrefix(pfx)
	if !found {
		return QueryResult{Kind: EmptyMatch}, nil
	}
	records, err := fs.gatherRecords(matched, opts)
	if err != nil {
		return QueryResult{}, err
	}
	if len(records) == 0 {
		return QueryResult{Kind: EmptyMatch}, nil
	}
	return fs.finishMatch(matched, LongestMatch, records, opts)
}

// finishMatch builds the QueryResult for a successful match, adding
// the optional LessSpecifics/MoreSpecifics lists relative to the
// matched prefix (spec §4.9).
func (fs *familyStore) finishMatch(matched addrfam.PrefixId, kind MatchKind, records []Record, opts MatchOptions) (QueryResult, error) {
	res := QueryResult{Prefix: matched.Netip(), Kind: kind, Records: records}

	if opts.IncludeMoreSpecifics {
		more, err := fs.gatherSpecifics(matched, opts, fs.trie.MoreSpecifics)
		if err != nil {
			return QueryResult{}, err
		}
		res.MoreSpecifics = more
	}
	if opts.IncludeLessSpecifics {
		less, err := fs.gatherSpecifics(matched, opts, fs.trie.LessSpecifics)
		if err != nil {
			return QueryResult{}, err
		}
		res.LessSpecifics = less
	}
	return res, nil
}

// gatherSpecifics runs walk (either the trie's MoreSpecifics or
// LessSpecifics) from matched and collects each yielded prefix's
// records under opts, skipping prefixes left with nothing eligible.
func (fs *familyStore) gatherSpecifics(matched addrfam.PrefixId, opts MatchOptions, walk func(addrfam.PrefixId, func(addrfam.PrefixId) bool)) ([]PrefixRecords, error) {
	var out []PrefixRecords
	var walkErr error
	walk(matched, func(pfx addrfam.PrefixId) bool {
		records, err := fs.gatherRecords(pfx, opts)
		if err != nil {
			walkErr = err
			return false
		}
		if len(records) == 0 {
			return true
		}
		out = append(out, PrefixRecords{Prefix: pfx.Netip(), Records: records})
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

// gatherRecords reads every record stored for pfx, from the in-memory
// MultiMap or, under PersistOnly, straight from the persistence layer.
func (fs *familyStore) gatherRecords(pfx addrfam.PrefixId, opts MatchOptions) ([]Record, error) {
	if fs.strategy == persist.PersistOnly {
		if fs.tree == nil {
			return nil, ErrStoreNotReady
		}
		raw, err := fs.tree.GetRecordsForPrefix(pfx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
		}
		out := make([]prefixcht.Record, 0, len(raw))
		for _, r := range raw {
			if opts.Mui != nil && r.Mui != *opts.Mui {
				continue
			}
			if r.Status != Withdrawn && fs.trie.IsMuiWithdrawn(r.Mui) {
				r.Status = Withdrawn
			}
			if !opts.IncludeWithdrawn && r.Status == Withdrawn {
				continue
			}
			out = append(out, r)
		}
		return publicRecords(out), nil
	}

	sp, found := fs.cht.Lookup(pfx)
	var current []prefixcht.Record
	if found {
		current = sp.Records.Snapshot(pfx, opts.IncludeWithdrawn, opts.Mui, fs.trie.IsMuiWithdrawn)
	}

	if !opts.IncludeHistory || fs.strategy != persist.PersistHistory || fs.tree == nil {
		return publicRecords(current), nil
	}
	merged, err := fs.mergeHistory(pfx, current, opts)
	if err != nil {
		return nil, err
	}
	return publicRecords(merged), nil
}

// mergeHistory supplements current (the live in-memory records) with
// historical versions read back from the PersistHistory long-key scan,
// per SPEC_FULL.md §4: the in-memory record always wins a tie on
// ltime, and every other historical version is filtered the same way a
// live record would be (mui, global-withdrawn override, IncludeWithdrawn).
func (fs *familyStore) mergeHistory(pfx addrfam.PrefixId, current []prefixcht.Record, opts MatchOptions) ([]prefixcht.Record, error) {
	liveLTime := make(map[uint32]uint64, len(current))
	for _, r := range current {
		liveLTime[r.Mui] = r.LTime
	}

	merged := append([]prefixcht.Record(nil), current...)
	err := fs.tree.ScanPrefix(pfx, func(r prefixcht.Record) bool {
		if opts.Mui != nil && r.Mui != *opts.Mui {
			return true
		}
		if lt, ok := liveLTime[r.Mui]; ok && lt == r.LTime {
			return true // the in-memory record already represents this version
		}
		if r.Status != Withdrawn && fs.trie.IsMuiWithdrawn(r.Mui) {
			r.Status = Withdrawn
		}
		if !opts.IncludeWithdrawn && r.Status == Withdrawn {
			return true
		}
		merged = append(merged, r)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return merged, nil
}

// GetRecordsForPrefix returns every record stored for the exact
// prefix, regardless of status — the supplemented bulk-read operation
// of spec §4.9, grounded on the original source's
// get_records_for_prefix.
func (s *Store) GetRecordsForPrefix(prefix netip.Prefix) ([]Record, error) {
	pfx, err := addrfam.PrefixFromNetip(prefix)
	if err != nil {
		return nil, err
	}
	fs, err := s.familyFor(prefix)
	if err != nil {
		return nil, err
	}
	return fs.gatherRecords(pfx, MatchOptions{IncludeWithdrawn: true})
}

func (s *Store) familyStoreFor(fam AddrFamily) *familyStore {
	if fam == IPv6 {
		return s.v6
	}
	return s.v4
}

// PrefixesIter iterates every prefix ever inserted into one address
// family's trie.
func (s *Store) PrefixesIter(fam AddrFamily) iter.Seq[netip.Prefix] {
	fs := s.familyStoreFor(fam)
	return func(yield func(netip.Prefix) bool) {
		fs.trie.AllPrefixes(func(pfx addrfam.PrefixId) bool {
			return yield(pfx.Netip())
		})
	}
}

// MoreSpecificsIterFrom iterates every prefix strictly nested inside
// prefix.
func (s *Store) MoreSpecificsIterFrom(prefix netip.Prefix) iter.Seq[netip.Prefix] {
	return func(yield func(netip.Prefix) bool) {
		pfx, err := addrfam.PrefixFromNetip(prefix)
		if err != nil {
			return
		}
		fs, err := s.familyFor(prefix)
		if err != nil {
			return
		}
		fs.trie.MoreSpecifics(pfx, func(p addrfam.PrefixId) bool { return yield(p.Netip()) })
	}
}

// LessSpecificsIterFrom iterates every existing prefix covering
// prefix, most specific first.
func (s *Store) LessSpecificsIterFrom(prefix netip.Prefix) iter.Seq[netip.Prefix] {
	return func(yield func(netip.Prefix) bool) {
		pfx, err := addrfam.PrefixFromNetip(prefix)
		if err != nil {
			return
		}
		fs, err := s.familyFor(prefix)
		if err != nil {
			return
		}
		fs.trie.LessSpecifics(pfx, func(p addrfam.PrefixId) bool { return yield(p.Netip()) })
	}
}

// IterRecordsForMui iterates every record for mui in one address
// family, pruned using the trie's secondary mui index (spec §4.6) so
// a mui with few routes never costs a full walk.
func (s *Store) IterRecordsForMui(fam AddrFamily, mui uint32) iter.Seq[Record] {
	fs := s.familyStoreFor(fam)
	return func(yield func(Record) bool) {
		fs.trie.MuiPrefixes(mui, func(pfx addrfam.PrefixId) bool {
			sp, found := fs.cht.Lookup(pfx)
			if !found {
				return true
			}
			e, ok := sp.Records.Get(mui)
			if !ok {
				return true
			}
			rec := Record{Prefix: pfx.Netip(), Mui: mui, LTime: e.LTime, Status: e.Status, Meta: e.Meta}
			return yield(rec)
		})
	}
}
