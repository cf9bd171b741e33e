// SPDX-License-Identifier: MIT

package persist

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prefixstore/rib/internal/addrfam"
	"github.com/prefixstore/rib/internal/prefixcht"
)

func testPfx(t *testing.T, s string) addrfam.PrefixId {
	t.Helper()
	id, err := addrfam.PrefixFromNetip(netip.MustParsePrefix(s))
	require.NoError(t, err)
	return id
}

func TestShortKeyRoundTrip(t *testing.T) {
	t.Parallel()
	pfx := testPfx(t, "10.0.0.0/8")
	key := EncodeShortKey(pfx, 42)

	gotPfx, gotMui, err := DecodeShortKey(32, key)
	require.NoError(t, err)
	require.Equal(t, pfx, gotPfx)
	require.Equal(t, uint32(42), gotMui)
}

func TestShortKeyRoundTripIPv6(t *testing.T) {
	t.Parallel()
	pfx := testPfx(t, "2001:db8::/32")
	key := EncodeShortKey(pfx, 7)

	gotPfx, gotMui, err := DecodeShortKey(128, key)
	require.NoError(t, err)
	require.Equal(t, pfx, gotPfx)
	require.Equal(t, uint32(7), gotMui)
}

func TestLongKeyDistinctPerLtime(t *testing.T) {
	t.Parallel()
	pfx := testPfx(t, "10.0.0.0/8")
	k1 := EncodeLongKey(pfx, 1, 100, prefixcht.Active)
	k2 := EncodeLongKey(pfx, 1, 200, prefixcht.Active)
	require.NotEqual(t, k1, k2, "distinct ltimes must produce distinct long keys")
}

func TestValueRoundTrip(t *testing.T) {
	t.Parallel()
	meta := []byte("as-path metadata")
	v := EncodeValue(12345, prefixcht.Active, meta)

	ltime, status, gotMeta, err := DecodeValue(v)
	require.NoError(t, err)
	require.Equal(t, uint64(12345), ltime)
	require.Equal(t, prefixcht.Active, status)
	require.Equal(t, meta, gotMeta)
}

func TestValueRoundTripEmptyMeta(t *testing.T) {
	t.Parallel()
	v := EncodeValue(1, prefixcht.Withdrawn, nil)
	_, status, meta, err := DecodeValue(v)
	require.NoError(t, err)
	require.Equal(t, prefixcht.Withdrawn, status)
	require.Empty(t, meta)
}

func TestDecodeValueRejectsBadStatus(t *testing.T) {
	t.Parallel()
	v := EncodeValue(1, prefixcht.Active, nil)
	v[8] = 0xFF // corrupt the status byte
	_, _, _, err := DecodeValue(v)
	require.ErrorIs(t, err, ErrFatal)
}

func TestDecodeValueRejectsShortValue(t *testing.T) {
	t.Parallel()
	_, _, _, err := DecodeValue([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrFatal)
}

func TestDecodeShortKeyRejectsWrongLength(t *testing.T) {
	t.Parallel()
	_, _, err := DecodeShortKey(32, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrFatal)
}
