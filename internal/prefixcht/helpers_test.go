// SPDX-License-Identifier: MIT

package prefixcht

import (
	"net/netip"
	"testing"

	"github.com/prefixstore/rib/internal/addrfam"
)

func pfxTestID(t *testing.T) addrfam.PrefixId {
	t.Helper()
	id, err := addrfam.PrefixFromNetip(netip.MustParsePrefix("192.0.2.0/24"))
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func pfxID(t *testing.T, s string) addrfam.PrefixId {
	t.Helper()
	id, err := addrfam.PrefixFromNetip(netip.MustParsePrefix(s))
	if err != nil {
		t.Fatal(err)
	}
	return id
}
