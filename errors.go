// SPDX-License-Identifier: MIT

package rib

import "errors"

// Sentinel errors returned by Store methods, per spec §7.
var (
	// ErrPrefixNotFound is returned when a mark, best-path or
	// path-selection call targets a prefix that has no in-memory
	// record, or, for the per-prefix mark calls, a mui with no record
	// under that prefix. MatchPrefix reports such cases as EmptyMatch.
	ErrPrefixNotFound = errors.New("rib: prefix not found")

	// ErrBestPathNotFound is returned when a prefix exists but has no
	// cached best mui: path selection was never computed for it, or
	// the last computation found no eligible (non-withdrawn) record.
	ErrBestPathNotFound = errors.New("rib: no eligible best path")

	// ErrStoreNotReady is returned by NewStore when a strategy other
	// than MemoryOnly is configured without a PersistDir, and by
	// PersistOnly operations on a family that has no open persistence
	// tree. Persistence calls on a MemoryOnly Store are no-ops.
	ErrStoreNotReady = errors.New("rib: store has no persistence layer configured")

	// ErrPersistFailed wraps an underlying persistence-layer error.
	ErrPersistFailed = errors.New("rib: persist operation failed")

	// ErrPathSelectionOutdated is returned by
	// CalculateAndStoreBestAndBackupPath when a fresh computation
	// repeatedly loses its compare-and-swap race against concurrent
	// writers and gives up rather than spin indefinitely.
	ErrPathSelectionOutdated = errors.New("rib: path selection result outdated before it could be stored")

	// ErrFatalError names an unrecoverable structural error. No Store
	// method returns it: a corrupt on-disk record read through the
	// persist package surfaces as ErrPersistFailed.
	ErrFatalError = errors.New("rib: fatal internal error")
)
