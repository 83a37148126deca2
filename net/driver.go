package net

import "time"

// Driver is the I/O-driver abstraction called for in spec.md §9 DESIGN
// NOTES: it replaces conditional compilation (WITH_LWIP, WITH_CONTIKI,
// EPOLL) with two concrete implementations that the codec and state
// machines never need to distinguish between.
//
// Register/Deregister track which sockets participate in Wait. Wait blocks
// up to timeout waiting for any registered socket to become ready, then
// returns the subset that is (its Readiness field reports which of
// CanRead/CanWrite/CanAccept/CanConnect apply).
type Driver interface {
	Register(s *Socket)
	Deregister(s *Socket)
	Wait(timeout time.Duration) ([]*Socket, error)
}

// NoWait and IOWait mirror the COAP_IO_NO_WAIT / COAP_IO_WAIT constants
// from spec.md §4.J: NoWait returns immediately after draining whatever is
// already ready, IOWait blocks until the next action.
const (
	NoWait time.Duration = 0
	IOWait time.Duration = -1
)
