// The concrete UDP socket transport is out of scope for this module (see
// spec.md §1): a production UDPTransport would join the SSDP multicast
// group on each usable interface using golang.org/x/net/ipv4's
// *ipv4.PacketConn.JoinGroup, the modern replacement for the vendored
// code.google.com/p/go.net/ipv4 import gcastel-gossdp.createSocket used.
// This package's Bus/Endpoint stand in for that during tests.
package memory
