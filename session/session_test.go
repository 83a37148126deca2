package session

import (
	"testing"

	coapnet "github.com/arcemit/coap/net"
	"github.com/arcemit/coap/txqueue"
)

func newTestSession() *Session {
	return New(Config{
		ID:             1,
		Kind:           coapnet.KindUDP,
		TransmissionParams: txqueue.DefaultTransmissionParams(1000),
		SessionTimeout: 1000,
	})
}

func TestNewMessageIDIncrementsAndWraps(t *testing.T) {
	s := newTestSession()
	first := s.NewMessageID()
	second := s.NewMessageID()
	if second != first+1 {
		t.Fatalf("expected monotonic increment, got %d then %d", first, second)
	}
}

func TestNewTokenDefaultLength(t *testing.T) {
	s := newTestSession()
	tok := s.NewToken()
	if len(tok) != 8 {
		t.Fatalf("len(token) = %d want 8", len(tok))
	}
	tok2 := s.NewToken()
	if tok.Equal(tok2) {
		t.Fatalf("two tokens should not collide in practice")
	}
}

func TestCheckInactivityTransitions(t *testing.T) {
	s := newTestSession()
	s.SetState(StateEstablished)
	s.Touch(0)

	if got := s.CheckInactivity(500, false); got != StateEstablished {
		t.Fatalf("got %v want ESTABLISHED before timeout", got)
	}
	if got := s.CheckInactivity(1000, false); got != StateClosing {
		t.Fatalf("got %v want CLOSING at timeout", got)
	}
	s.Touch(1000) // CheckInactivity doesn't touch; reset idle clock manually
	if got := s.CheckInactivity(2000, false); got != StateDisconnected {
		t.Fatalf("got %v want DISCONNECTED after a further idle period", got)
	}
}

func TestCheckInactivitySkippedWithOutstandingWork(t *testing.T) {
	s := newTestSession()
	s.SetState(StateEstablished)
	s.Touch(0)
	if got := s.CheckInactivity(10000, true); got != StateEstablished {
		t.Fatalf("got %v want ESTABLISHED while work is outstanding", got)
	}
}

func TestNegotiateBlockSizeNeverUpgrades(t *testing.T) {
	s := newTestSession()
	s.NegotiateBlockSize(1024)
	if s.NegotiatedBlockSize() != 1024 {
		t.Fatalf("first negotiation should be accepted outright")
	}
	s.NegotiateBlockSize(64)
	if s.NegotiatedBlockSize() != 64 {
		t.Fatalf("downgrade should be accepted")
	}
	s.NegotiateBlockSize(512)
	if s.NegotiatedBlockSize() != 64 {
		t.Fatalf("must never upgrade mid-transfer, got %d", s.NegotiatedBlockSize())
	}
}

func TestRefCounting(t *testing.T) {
	s := newTestSession()
	s.Ref()
	s.Ref()
	if s.RefCount() != 2 {
		t.Fatalf("RefCount() = %d want 2", s.RefCount())
	}
	s.Unref()
	if s.RefCount() != 1 {
		t.Fatalf("RefCount() = %d want 1", s.RefCount())
	}
}
