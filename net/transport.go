// Package net defines the transport abstraction that decouples the CoAP
// engine from any particular socket implementation (spec.md §4.C): endpoint
// kinds, socket readiness bits, and the injected send/recv capabilities the
// scheduler drives. OS-specific I/O lives behind the Driver interface in
// driver.go; this file only describes the contract.
package net

import "net"

// Kind distinguishes the four transport kinds spec.md §4.C calls out.
type Kind uint8

const (
	KindUDP Kind = iota
	KindDTLS
	KindTCP
	KindTLS
)

func (k Kind) String() string {
	switch k {
	case KindUDP:
		return "udp"
	case KindDTLS:
		return "dtls"
	case KindTCP:
		return "tcp"
	case KindTLS:
		return "tls"
	default:
		return "unknown"
	}
}

// IsDatagram reports whether this kind frames messages as UDP datagrams
// (fixed header + message id) rather than a TCP-style byte stream.
func (k Kind) IsDatagram() bool { return k == KindUDP || k == KindDTLS }

// IsSecure reports whether this kind runs over DTLS/TLS.
func (k Kind) IsSecure() bool { return k == KindDTLS || k == KindTLS }

// Readiness is a bitset of the socket conditions the scheduler's I/O driver
// may report or request (spec.md §4.C, §4.J).
type Readiness uint8

const (
	WantRead Readiness = 1 << iota
	WantWrite
	WantAccept
	WantConnect
	CanRead
	CanWrite
	CanAccept
	CanConnect
)

func (r Readiness) Has(bit Readiness) bool { return r&bit != 0 }

// Packet is a single inbound datagram or accepted stream buffer, handed from
// a Driver to the codec.
type Packet struct {
	Data []byte
	From net.Addr
}

// SendFunc is the integrator-supplied non-blocking (or promptly-completing)
// send capability; per spec.md §5 it must never block, or it stalls
// retransmission timers for the whole context.
type SendFunc func(dst net.Addr, b []byte) (n int, err error)

// RecvFunc is the integrator-supplied non-blocking receive capability. It
// returns (0, Packet{}, nil) when nothing is currently available.
type RecvFunc func() (n int, pkt Packet, err error)

// Socket is a transport-kind-tagged handle over a concrete connection, with
// the readiness bits the scheduler polls each Driver tick.
type Socket struct {
	Kind      Kind
	LocalAddr net.Addr
	Readiness Readiness
	Send      SendFunc
	Recv      RecvFunc

	// LastPacket is populated by drivers (such as PortableDriver) whose
	// readiness check necessarily already read the data off the wire, so
	// do_io doesn't call Recv a second time and drop it. Drivers that only
	// signal readiness without consuming (the epoll driver) leave this
	// zero and do_io calls Recv itself.
	LastPacket Packet

	// fd is used only by the POSIX epoll driver (see driver_posix.go); it is
	// -1 for sockets that don't back onto a real OS descriptor (e.g. tests
	// wiring in-memory pipes).
	fd int
}

// NewSocket wraps send/recv capabilities for kind into a Socket usable by a
// Driver. fd may be -1 if the integrator has no raw descriptor to offer the
// epoll driver; PosixDriver does not register such a socket, so only a
// PortableDriver serves it.
func NewSocket(kind Kind, local net.Addr, fd int, send SendFunc, recv RecvFunc) *Socket {
	return &Socket{Kind: kind, LocalAddr: local, Send: send, Recv: recv, fd: fd}
}

// FD returns the raw descriptor backing this socket, or -1 if none.
func (s *Socket) FD() int { return s.fd }
