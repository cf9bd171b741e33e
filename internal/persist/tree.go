// SPDX-License-Identifier: MIT

package persist

import (
	"fmt"
	"path/filepath"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prefixstore/rib/internal/addrfam"
	"github.com/prefixstore/rib/internal/prefixcht"
)

// Strategy selects how a Store keeps a record durable, per spec §4.8.
type Strategy int

const (
	// MemoryOnly keeps no persist.Tree at all; a Store built with this
	// strategy never opens one.
	MemoryOnly Strategy = iota
	// PersistOnly overwrites a short key per mui and keeps no in-memory
	// current record: reads for this strategy go through the tree.
	PersistOnly
	// WriteAhead keeps the in-memory MultiMap authoritative and mirrors
	// every write to a short key, overwriting history.
	WriteAhead
	// PersistHistory keeps the in-memory MultiMap authoritative and
	// additionally appends a distinct long key per write, so every
	// withdrawal and reactivation remains on disk for later audit.
	PersistHistory
)

func (s Strategy) String() string {
	switch s {
	case MemoryOnly:
		return "MemoryOnly"
	case PersistOnly:
		return "PersistOnly"
	case WriteAhead:
		return "WriteAhead"
	case PersistHistory:
		return "PersistHistory"
	default:
		return "Unknown"
	}
}

// Config configures one Tree.
type Config struct {
	// BaseDir is the parent directory under which a fresh,
	// uuid-named instance directory is created (spec §6: "a
	// per-instance random id avoids collisions across restarts
	// without requiring the caller to manage directory cleanup").
	BaseDir string
	Width   uint8
	Logger  *zap.Logger
}

// Tree wraps a single badger.DB holding one address family's persisted
// records, rooted at <BaseDir>/<instance-uuid>/ipv4 or .../ipv6.
type Tree struct {
	db     *badger.DB
	width  uint8
	log    *zap.Logger
	writes atomic.Int64
}

func subdirName(width uint8) string {
	if width == 32 {
		return "ipv4"
	}
	return "ipv6"
}

// Open creates a badger.DB at cfg.BaseDir/<uuid>/<ipv4|ipv6>, with a
// fresh uuid on every call.
func Open(cfg Config) (*Tree, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	instance := uuid.New().String()
	dir := filepath.Join(cfg.BaseDir, instance, subdirName(cfg.Width))

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("persist: open badger at %s: %w", dir, err)
	}
	log.Info("opened persist tree", zap.String("dir", dir), zap.Uint8("width", cfg.Width))
	return &Tree{db: db, width: cfg.Width, log: log}, nil
}

// Close releases the underlying badger.DB.
func (t *Tree) Close() error {
	return t.db.Close()
}

// PutShort overwrites the short-key record for (pfx, mui), used by
// PersistOnly and WriteAhead.
func (t *Tree) PutShort(pfx addrfam.PrefixId, mui uint32, ltime uint64, status prefixcht.Status, meta []byte) error {
	key := EncodeShortKey(pfx, mui)
	val := EncodeValue(ltime, status, meta)
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	if err != nil {
		return fmt.Errorf("persist: put short key: %w", err)
	}
	t.writes.Add(1)
	return nil
}

// PutLong appends a new long-key record for (pfx, mui, ltime, status),
// used by PersistHistory; distinct ltimes never collide so history
// accumulates instead of being overwritten.
func (t *Tree) PutLong(pfx addrfam.PrefixId, mui uint32, ltime uint64, status prefixcht.Status, meta []byte) error {
	key := EncodeLongKey(pfx, mui, ltime, status)
	val := EncodeValue(ltime, status, meta)
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	if err != nil {
		return fmt.Errorf("persist: put long key: %w", err)
	}
	t.writes.Add(1)
	return nil
}

// RewriteHeader rewrites only the status and ltime of an existing
// short-key record, preserving its meta tail. Used when a mark-withdrawn
// or mark-active call under PersistOnly has no new meta to attach.
//
// If the key is absent it creates one with nil meta rather than
// failing, so a mark call against a prefix/mui that was never inserted
// succeeds under PersistOnly instead of returning ErrPrefixNotFound as
// the in-memory path does (see DESIGN.md).
func (t *Tree) RewriteHeader(pfx addrfam.PrefixId, mui uint32, ltime uint64, status prefixcht.Status) error {
	key := EncodeShortKey(pfx, mui)
	var meta []byte
	err := t.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				meta = nil
			} else {
				return err
			}
		} else {
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			_, _, oldMeta, err := DecodeValue(v)
			if err != nil {
				return err
			}
			meta = oldMeta
		}
		return txn.Set(key, EncodeValue(ltime, status, meta))
	})
	if err != nil {
		return fmt.Errorf("persist: rewrite header: %w", err)
	}
	t.writes.Add(1)
	return nil
}

// HasShort reports whether a short-key record exists for (pfx, mui),
// used by Contains's per-mui existence check under PersistOnly.
func (t *Tree) HasShort(pfx addrfam.PrefixId, mui uint32) (bool, error) {
	key := EncodeShortKey(pfx, mui)
	found := false
	err := t.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("persist: has short key: %w", err)
	}
	return found, nil
}

// ScanPrefix iterates every record, under a short or a long key, whose
// address and length bytes equal pfx's, yielding decoded Records. The walk stops early if yield
// returns false.
func (t *Tree) ScanPrefix(pfx addrfam.PrefixId, yield func(prefixcht.Record) bool) error {
	prefixBytes := addrBytes(pfx.Bits)
	prefixBytes = append(append([]byte(nil), prefixBytes...), pfx.Len)

	return t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixBytes
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			decodedPfx, mui, err := DecodeShortKey(t.width, key[:len(prefixBytes)+4])
			if err != nil {
				return err
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			ltime, status, meta, err := DecodeValue(v)
			if err != nil {
				return err
			}
			rec := prefixcht.Record{Prefix: decodedPfx, Mui: mui, LTime: ltime, Status: status, Meta: meta}
			if !yield(rec) {
				break
			}
		}
		return nil
	})
}

// GetRecordsForPrefix collects ScanPrefix into a slice, per spec §4.9's
// GetRecordsForPrefix supplemented operation.
func (t *Tree) GetRecordsForPrefix(pfx addrfam.PrefixId) ([]prefixcht.Record, error) {
	var out []prefixcht.Record
	err := t.ScanPrefix(pfx, func(r prefixcht.Record) bool {
		out = append(out, r)
		return true
	})
	return out, err
}

// FlushToDisk forces badger's value log and LSM state to durable
// storage, per spec §4.9's flush_to_disk supplemented operation.
func (t *Tree) FlushToDisk() error {
	if err := t.db.Sync(); err != nil {
		return fmt.Errorf("persist: flush to disk: %w", err)
	}
	return nil
}

// ApproxPersistedItems reports an upper bound on the number of writes
// this Tree has accepted. It is an approximation, not a distinct-key
// count: overwritten short keys inflate the total, matching the
// "approx" naming in spec §4.9.
func (t *Tree) ApproxPersistedItems() int64 {
	return t.writes.Load()
}

// DiskSpace reports the combined LSM and value-log byte size on disk,
// per spec §4.9's disk_space supplemented operation.
func (t *Tree) DiskSpace() (lsmBytes, vlogBytes int64) {
	return t.db.Size()
}
