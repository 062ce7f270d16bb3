// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package taskgraph

import (
	"net/netip"
)

// OffsetAddr returns the address n steps after addr. The result is not
// aware of any subnet. It reports false if the step runs past the last
// address of the family (255.255.255.255 for IPv4), in which case the
// replica gets no static address.
func OffsetAddr(addr netip.Addr, n int) (netip.Addr, bool) {
	if !addr.IsValid() || n < 0 {
		return netip.Addr{}, false
	}
	for range n {
		addr = addr.Next()
		if !addr.IsValid() {
			return netip.Addr{}, false
		}
	}
	return addr, true
}
