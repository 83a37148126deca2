//go:build linux

package net

import (
	"net"
	"time"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// PosixDriver is the epoll-backed Driver used on Linux, satisfying §6's
// get_coap_fd/epoll integration point and §9's call for a POSIX readiness
// driver distinct from the embedded/portable one. Each registered Socket's
// raw file descriptor is added to a single epoll instance; Wait blocks in
// EpollWait and maps ready events back to Sockets.
type PosixDriver struct {
	epfd    int
	sockets map[int]*Socket
}

// NewPosixDriver creates a new epoll instance. It only compiles on linux;
// non-linux builds fall back to PortableDriver (see driver_portable.go),
// matching the driver split spec.md §9 calls for.
func NewPosixDriver() (*PosixDriver, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &PosixDriver{epfd: fd, sockets: make(map[int]*Socket)}, nil
}

// FDFromConn extracts the raw descriptor backing a net.Conn/net.PacketConn
// using netfd, for callers constructing a Socket to register with
// PosixDriver. Returns -1 if the descriptor cannot be determined, in which
// case the caller should use PortableDriver for that socket instead.
func FDFromConn(c interface{}) int {
	type fdConn interface {
		Fd() int
	}
	if fc, ok := c.(fdConn); ok {
		return fc.Fd()
	}
	switch v := c.(type) {
	case *net.UDPConn:
		fd, err := netfd.GetFdFromConn(v)
		if err != nil {
			return -1
		}
		return int(fd)
	case *net.TCPConn:
		fd, err := netfd.GetFdFromConn(v)
		if err != nil {
			return -1
		}
		return int(fd)
	default:
		return -1
	}
}

func (d *PosixDriver) Register(s *Socket) {
	if s.fd < 0 {
		return
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(s.fd)}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, s.fd, &ev); err != nil {
		return
	}
	d.sockets[s.fd] = s
}

func (d *PosixDriver) Deregister(s *Socket) {
	if s.fd < 0 {
		return
	}
	_ = unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, s.fd, nil)
	delete(d.sockets, s.fd)
}

func (d *PosixDriver) Wait(timeout time.Duration) ([]*Socket, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	events := make([]unix.EpollEvent, len(d.sockets))
	if len(events) == 0 {
		events = make([]unix.EpollEvent, 1)
	}
	n, err := unix.EpollWait(d.epfd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	ready := make([]*Socket, 0, n)
	for i := 0; i < n; i++ {
		s, ok := d.sockets[int(events[i].Fd)]
		if !ok {
			continue
		}
		cp := *s
		cp.Readiness = CanRead
		ready = append(ready, &cp)
	}
	return ready, nil
}

// Close releases the epoll instance's file descriptor.
func (d *PosixDriver) Close() error {
	return unix.Close(d.epfd)
}
