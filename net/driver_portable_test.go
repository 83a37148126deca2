package net

import (
	"testing"
	"time"
)

func TestPortableDriverWaitReturnsReadySocket(t *testing.T) {
	calls := 0
	s := &Socket{
		Kind: KindUDP,
		Recv: func() (int, Packet, error) {
			calls++
			if calls < 2 {
				return 0, Packet{}, nil
			}
			return 3, Packet{Data: []byte("hi!")}, nil
		},
	}
	d := NewPortableDriver(time.Millisecond)
	d.Register(s)

	ready, err := d.Wait(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 1 {
		t.Fatalf("got %d ready sockets want 1", len(ready))
	}
	if string(ready[0].LastPacket.Data) != "hi!" {
		t.Fatalf("got %q want %q", ready[0].LastPacket.Data, "hi!")
	}
}

func TestPortableDriverWaitTimesOut(t *testing.T) {
	s := &Socket{Recv: func() (int, Packet, error) { return 0, Packet{}, nil }}
	d := NewPortableDriver(time.Millisecond)
	d.Register(s)
	ready, err := d.Wait(5 * time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("got %d ready sockets want 0", len(ready))
	}
}

func TestPortableDriverDeregister(t *testing.T) {
	s := &Socket{}
	d := NewPortableDriver(time.Millisecond)
	d.Register(s)
	d.Register(s) // idempotent
	if len(d.sockets) != 1 {
		t.Fatalf("got %d sockets want 1", len(d.sockets))
	}
	d.Deregister(s)
	if len(d.sockets) != 0 {
		t.Fatalf("got %d sockets want 0", len(d.sockets))
	}
}

func TestPeerAddrEqual(t *testing.T) {
	a := PeerAddr{Kind: KindUDP, Remote: mustAddr("1.2.3.4:5")}
	b := PeerAddr{Kind: KindUDP, Remote: mustAddr("1.2.3.4:5")}
	c := PeerAddr{Kind: KindTCP, Remote: mustAddr("1.2.3.4:5")}
	if !a.Equal(b) {
		t.Fatalf("expected equal")
	}
	if a.Equal(c) {
		t.Fatalf("expected not equal across kinds")
	}
}

type testAddr string

func (t testAddr) Network() string { return "test" }
func (t testAddr) String() string  { return string(t) }

func mustAddr(s string) testAddr { return testAddr(s) }
