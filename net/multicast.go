package net

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// CoAP's all-nodes multicast addresses (RFC 7252 §12.8), used for
// discovery requests to .well-known/core across a constrained network
// segment.
const (
	AllCoAPNodesIPv4 = "224.0.1.187"
	AllCoAPNodesIPv6LinkLocal = "ff02::fd"
)

// JoinMulticast makes conn a member of the CoAP all-nodes group on iface
// (nil means "all interfaces"), so a server's UDP endpoint also receives
// discovery multicasts. Grounded on the same golang.org/x/net/ipv4/ipv6
// packet-conn control pattern kcp-go uses for interface-level send
// options in sess.go.
func JoinMulticast(conn *net.UDPConn, iface *net.Interface) error {
	addr := conn.LocalAddr().(*net.UDPAddr)
	if addr.IP.To4() != nil {
		p := ipv4.NewPacketConn(conn)
		group := &net.UDPAddr{IP: net.ParseIP(AllCoAPNodesIPv4)}
		return p.JoinGroup(iface, group)
	}
	p := ipv6.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(AllCoAPNodesIPv6LinkLocal)}
	return p.JoinGroup(iface, group)
}
