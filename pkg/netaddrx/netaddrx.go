// Package netaddrx implements dual-stack subnet and host-address
// arithmetic, grounded on ovn-heater's DualStackSubnet/DualStackIP
// (netaddr-based) Python classes: the harness derives every node, port
// and namespace address by stepping through a handful of base CIDRs
// rather than reading addresses from a pool.
//
// No third-party CIDR library is used here. The retrieval pack contains
// no IP-math dependency (no go-cidr, no inet.af/netaddr, no ipaddr) for
// any example repo to ground one on, so this package is built on the
// standard library's net/netip, with math/big filling in the 128-bit
// arithmetic netip itself does not provide.
package netaddrx

import (
	"fmt"
	"math/big"
	"net/netip"
)

// DualStackIP is a single host address that may carry an IPv4 address, an
// IPv6 address, or both, mirroring whichever families are present on the
// subnet it was derived from.
type DualStackIP struct {
	IP4   netip.Addr
	Plen4 int
	IP6   netip.Addr
	Plen6 int
}

// HasIP4 reports whether an IPv4 address is present.
func (d DualStackIP) HasIP4() bool { return d.IP4.IsValid() }

// HasIP6 reports whether an IPv6 address is present.
func (d DualStackIP) HasIP6() bool { return d.IP6.IsValid() }

// CIDR4 renders the IPv4 address in address/prefix-length form, or the
// empty string if no IPv4 address is present.
func (d DualStackIP) CIDR4() string {
	if !d.HasIP4() {
		return ""
	}
	return fmt.Sprintf("%s/%d", d.IP4, d.Plen4)
}

// CIDR6 renders the IPv6 address in address/prefix-length form, or the
// empty string if no IPv6 address is present.
func (d DualStackIP) CIDR6() string {
	if !d.HasIP6() {
		return ""
	}
	return fmt.Sprintf("%s/%d", d.IP6, d.Plen6)
}

// DualStackSubnet is a pair of address blocks, at least one of which must
// be present.
type DualStackSubnet struct {
	N4 netip.Prefix
	N6 netip.Prefix
}

func (s DualStackSubnet) hasN4() bool { return s.N4.IsValid() }
func (s DualStackSubnet) hasN6() bool { return s.N6.IsValid() }

// ParseSubnet builds a DualStackSubnet from CIDR strings; either may be
// empty to model a single-stack subnet, but not both.
func ParseSubnet(cidr4, cidr6 string) (DualStackSubnet, error) {
	var out DualStackSubnet
	if cidr4 != "" {
		p, err := netip.ParsePrefix(cidr4)
		if err != nil {
			return DualStackSubnet{}, fmt.Errorf("netaddrx: invalid ipv4 subnet %q: %w", cidr4, err)
		}
		out.N4 = p
	}
	if cidr6 != "" {
		p, err := netip.ParsePrefix(cidr6)
		if err != nil {
			return DualStackSubnet{}, fmt.Errorf("netaddrx: invalid ipv6 subnet %q: %w", cidr6, err)
		}
		out.N6 = p
	}
	if !out.hasN4() && !out.hasN6() {
		return DualStackSubnet{}, fmt.Errorf("netaddrx: at least one address family must be present")
	}
	return out, nil
}

// Next returns the index-th subnet of the same size that follows s. The
// harness uses this to derive each worker's node subnet and each
// namespace's pod subnet from one base CIDR per cluster.
func (s DualStackSubnet) Next(index int) DualStackSubnet {
	var out DualStackSubnet
	if s.hasN4() {
		out.N4 = stepPrefix(s.N4, index)
	}
	if s.hasN6() {
		out.N6 = stepPrefix(s.N6, index)
	}
	return out
}

// Forward returns the index-th host address counting up from the start
// of the subnet.
func (s DualStackSubnet) Forward(index int) (DualStackIP, error) {
	return s.hostAt(index, false)
}

// Reverse returns the index-th host address counting down from the end
// of the subnet. Callers reserving a gateway address at the top of a
// block typically pass index=1.
func (s DualStackSubnet) Reverse(index int) (DualStackIP, error) {
	return s.hostAt(index, true)
}

func (s DualStackSubnet) hostAt(index int, fromEnd bool) (DualStackIP, error) {
	if !s.hasN4() && !s.hasN6() {
		return DualStackIP{}, fmt.Errorf("netaddrx: invalid subnet: no address family present")
	}

	var out DualStackIP
	if s.hasN4() {
		addr, err := addressAt(s.N4, index, fromEnd)
		if err != nil {
			return DualStackIP{}, err
		}
		out.IP4 = addr
		out.Plen4 = s.N4.Bits()
	}
	if s.hasN6() {
		addr, err := addressAt(s.N6, index, fromEnd)
		if err != nil {
			return DualStackIP{}, err
		}
		out.IP6 = addr
		out.Plen6 = s.N6.Bits()
	}
	return out, nil
}

func stepPrefix(p netip.Prefix, index int) netip.Prefix {
	size := blockSize(p)
	delta := new(big.Int).Mul(size, big.NewInt(int64(index)))
	addr := addAddr(p.Addr(), delta)
	next, err := addr.Prefix(p.Bits())
	if err != nil {
		// p.Bits() is valid for any already-valid prefix and stepPrefix
		// never changes address family, so Prefix() cannot fail here.
		panic(err)
	}
	return next
}

func addressAt(p netip.Prefix, index int, fromEnd bool) (netip.Addr, error) {
	base := p.Addr()
	if !fromEnd {
		return addAddr(base, big.NewInt(int64(index))), nil
	}

	size := blockSize(p)
	offset := new(big.Int).Sub(size, big.NewInt(1))
	offset.Sub(offset, big.NewInt(int64(index)))
	if offset.Sign() < 0 {
		return netip.Addr{}, fmt.Errorf("netaddrx: index %d out of range for subnet %s", index, p)
	}
	return addAddr(base, offset), nil
}

// blockSize returns 2^(bits-prefixLen) as a big.Int.
func blockSize(p netip.Prefix) *big.Int {
	bits := 32
	if p.Addr().Is6() {
		bits = 128
	}
	return new(big.Int).Lsh(big.NewInt(1), uint(bits-p.Bits()))
}

// addAddr returns addr advanced by delta, preserving its address family.
func addAddr(addr netip.Addr, delta *big.Int) netip.Addr {
	n := new(big.Int).SetBytes(addr.AsSlice())
	n.Add(n, delta)

	byteLen := 4
	if addr.Is6() {
		byteLen = 16
	}
	buf := make([]byte, byteLen)
	n.FillBytes(buf)

	next, ok := netip.AddrFromSlice(buf)
	if !ok {
		panic("netaddrx: invalid address after arithmetic")
	}
	return next
}
