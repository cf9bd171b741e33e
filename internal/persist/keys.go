// SPDX-License-Identifier: MIT

// Package persist implements the optional LSM-backed persistence
// layer (spec §4.8): byte-exact key/value codecs over an embedded
// log-structured merge tree, and the four PersistStrategy behaviors.
package persist

import (
	"encoding/binary"
	"fmt"

	"github.com/prefixstore/rib/internal/addrfam"
	"github.com/prefixstore/rib/internal/prefixcht"
)

// Status byte values on disk, per spec §6. Any other byte is a fatal
// structural error at read time.
const (
	statusActiveByte    byte = 1
	statusWithdrawnByte byte = 2
)

// ErrFatal wraps a structurally invalid on-disk key or value, per
// spec §7's FatalError: the store cannot recover from this silently.
var ErrFatal = fmt.Errorf("persist: fatal on-disk format error")

func addrBytes(af addrfam.AF) []byte {
	if af.Width == 32 {
		a := af.Addr().As4()
		return a[:]
	}
	a := af.Addr().As16()
	return a[:]
}

// EncodeShortKey packs prefix.bits || prefix.len || mui, per spec §6.
func EncodeShortKey(pfx addrfam.PrefixId, mui uint32) []byte {
	addr := addrBytes(pfx.Bits)
	key := make([]byte, 0, len(addr)+1+4)
	key = append(key, addr...)
	key = append(key, pfx.Len)
	muiBytes := make([]byte, 4)
	binary.NativeEndian.PutUint32(muiBytes, mui)
	key = append(key, muiBytes...)
	return key
}

// EncodeLongKey packs EncodeShortKey(pfx, mui) || ltime || status.
func EncodeLongKey(pfx addrfam.PrefixId, mui uint32, ltime uint64, status prefixcht.Status) []byte {
	key := EncodeShortKey(pfx, mui)
	key = binary.BigEndian.AppendUint64(key, ltime)
	key = append(key, statusByte(status))
	return key
}

// EncodeValue packs ltime || status || meta, per spec §6. A
// withdrawal with no new meta is a zero-length meta tail.
func EncodeValue(ltime uint64, status prefixcht.Status, meta []byte) []byte {
	val := make([]byte, 0, 9+len(meta))
	val = binary.BigEndian.AppendUint64(val, ltime)
	val = append(val, statusByte(status))
	val = append(val, meta...)
	return val
}

// DecodeValue unpacks a value blob, rejecting any status byte outside
// {1, 2} as a fatal structural error.
func DecodeValue(v []byte) (ltime uint64, status prefixcht.Status, meta []byte, err error) {
	if len(v) < 9 {
		return 0, 0, nil, fmt.Errorf("%w: value too short (%d bytes)", ErrFatal, len(v))
	}
	ltime = binary.BigEndian.Uint64(v[0:8])
	status, err = decodeStatus(v[8])
	if err != nil {
		return 0, 0, nil, err
	}
	if len(v) > 9 {
		meta = append([]byte(nil), v[9:]...)
	}
	return ltime, status, meta, nil
}

// DecodeShortKey unpacks prefix.bits || prefix.len || mui for a family
// of the given address width (32 or 128).
func DecodeShortKey(width uint8, k []byte) (pfx addrfam.PrefixId, mui uint32, err error) {
	addrLen := int(width) / 8
	if len(k) != addrLen+1+4 {
		return addrfam.PrefixId{}, 0, fmt.Errorf("%w: short key has wrong length %d", ErrFatal, len(k))
	}
	af, err := decodeAddr(width, k[0:addrLen])
	if err != nil {
		return addrfam.PrefixId{}, 0, err
	}
	length := k[addrLen]
	mui = binary.NativeEndian.Uint32(k[addrLen+1 : addrLen+5])
	return addrfam.PrefixId{Bits: af.TruncateToLen(length), Len: length}, mui, nil
}

func decodeAddr(width uint8, b []byte) (addrfam.AF, error) {
	switch width {
	case 32:
		var a [4]byte
		copy(a[:], b)
		return addrfam.FromIPv4(a), nil
	case 128:
		var a [16]byte
		copy(a[:], b)
		return addrfam.FromIPv6(a), nil
	default:
		return addrfam.AF{}, fmt.Errorf("%w: unsupported width %d", ErrFatal, width)
	}
}

func statusByte(s prefixcht.Status) byte {
	switch s {
	case prefixcht.Active:
		return statusActiveByte
	case prefixcht.Withdrawn:
		return statusWithdrawnByte
	default:
		// Construction paths never produce an invalid Status; treat it
		// as Active rather than silently corrupting disk layout.
		return statusActiveByte
	}
}

func decodeStatus(b byte) (prefixcht.Status, error) {
	switch b {
	case statusActiveByte:
		return prefixcht.Active, nil
	case statusWithdrawnByte:
		return prefixcht.Withdrawn, nil
	default:
		return 0, fmt.Errorf("%w: invalid status byte %d", ErrFatal, b)
	}
}
