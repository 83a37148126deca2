package net

import "time"

// PortableDriver is the embedded/non-epoll Driver: it polls each registered
// socket's Recv capability on a fixed tick instead of asking the OS for
// readiness notifications. It has no dependency on any OS-specific API, so
// it is the right choice for the embedded-timer targets spec.md §9 calls
// out (WITH_LWIP/WITH_CONTIKI analogues) as well as for tests that wire in
// fake sockets.
type PortableDriver struct {
	PollInterval time.Duration
	sockets      []*Socket
}

// NewPortableDriver returns a PortableDriver polling at the given interval;
// a zero interval defaults to 10ms, a reasonable compromise between CPU
// burn and responsiveness on constrained hardware with no interrupt-driven
// readiness source.
func NewPortableDriver(pollInterval time.Duration) *PortableDriver {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	return &PortableDriver{PollInterval: pollInterval}
}

func (d *PortableDriver) Register(s *Socket) {
	for _, existing := range d.sockets {
		if existing == s {
			return
		}
	}
	d.sockets = append(d.sockets, s)
}

func (d *PortableDriver) Deregister(s *Socket) {
	for i, existing := range d.sockets {
		if existing == s {
			d.sockets = append(d.sockets[:i], d.sockets[i+1:]...)
			return
		}
	}
}

// Wait polls every registered socket's Recv once per tick until one
// produces data, timeout elapses, or timeout is IOWait (wait indefinitely,
// one tick at a time, for the first ready socket).
func (d *PortableDriver) Wait(timeout time.Duration) ([]*Socket, error) {
	deadline := time.Time{}
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		var ready []*Socket
		for _, s := range d.sockets {
			if s.Recv == nil {
				continue
			}
			n, pkt, err := s.Recv()
			if err != nil {
				continue
			}
			if n > 0 {
				cp := *s
				cp.Readiness = CanRead
				cp.LastPacket = pkt
				ready = append(ready, &cp)
			}
		}
		if len(ready) > 0 {
			return ready, nil
		}
		if timeout == NoWait {
			return nil, nil
		}
		if timeout >= 0 && time.Now().After(deadline) {
			return nil, nil
		}
		time.Sleep(d.PollInterval)
	}
}
