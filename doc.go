// SPDX-License-Identifier: MIT

// Package rib implements a concurrent, lock-free IP prefix store: a
// 4-bit-stride treebitmap trie giving existence and longest-match
// queries, paired with a chained hash table of per-prefix records
// keyed by a caller-defined "mui" (multi-unique-id), and an optional
// LSM-backed persistence layer.
//
// A Store holds one Family pair (treebitmap + prefix CHT) per address
// family, dispatching IPv4 and IPv6 prefixes automatically from
// netip.Prefix.Addr().
package rib
