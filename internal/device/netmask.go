package device

import "net"

// DefaultNetmask computes the discovery netmask for localIP from its
// address class, resolving spec.md §9's "discovery netmask default"
// open question (DESIGN.md records the decision: expose it as
// configuration, defaulting to the local address's class rather than a
// hardcoded /24).
func DefaultNetmask(localIP string) string {
	ip := net.ParseIP(localIP)
	if ip == nil {
		return "255.255.255.0"
	}
	v4 := ip.To4()
	if v4 == nil {
		return "255.255.255.0"
	}
	switch {
	case v4[0] < 128:
		return "255.0.0.0" // class A
	case v4[0] < 192:
		return "255.255.0.0" // class B
	default:
		return "255.255.255.0" // class C
	}
}

// SameSubnet reports whether localIP and peerIP fall in the same subnet
// under mask (spec.md §4.3 "the reply is emitted only if
// (localIP & mask) == (peerIP & mask)").
func SameSubnet(localIP, peerIP, mask string) bool {
	l := net.ParseIP(localIP).To4()
	p := net.ParseIP(peerIP).To4()
	m := net.ParseIP(mask).To4()
	if l == nil || p == nil || m == nil {
		return false
	}
	for i := 0; i < 4; i++ {
		if l[i]&m[i] != p[i]&m[i] {
			return false
		}
	}
	return true
}
