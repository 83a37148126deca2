package coap

import (
	"testing"
	"time"

	"github.com/arcemit/coap/message"
	"github.com/arcemit/coap/message/codes"
	coapnet "github.com/arcemit/coap/net"
	"github.com/arcemit/coap/resource"
)

func TestDispatchRequestRejectsBlock1WhenDisabled(t *testing.T) {
	reg := resource.NewRegistry()
	cfg := NewConfig(WithBlockwise(false, 6, 1<<20))
	c := NewContext(cfg, coapnet.NewPortableDriver(time.Millisecond), reg)
	lb := newLoopback()
	c.AddSocket(lb.serverSocket())

	s := c.Session(coapnet.KindUDP, coapnet.PeerAddr{Kind: coapnet.KindUDP, Remote: fakeAddr("peer")})

	var opts message.Options
	opts = opts.SetPath("/upload")
	opts = opts.Add(message.Block1, message.EncodeBlockValue(message.BlockValue{Num: 0, More: true, SZX: 2}))
	req := &message.Message{Type: message.Confirmable, Code: codes.POST, MessageID: 7, Token: message.Token("t"), Options: opts, Payload: []byte("partial")}

	c.dispatchRequest(s, req)

	select {
	case raw := <-lb.toClient:
		resp, err := message.DecodeUDP(raw)
		if err != nil {
			t.Fatalf("DecodeUDP: %v", err)
		}
		if resp.Code != codes.BadOption {
			t.Fatalf("Code = %v want %v", resp.Code, codes.BadOption)
		}
	default:
		t.Fatal("no response was sent for a disallowed Block1 request")
	}
}

func TestRespondWithBlock2NeverUpgradesNegotiatedSize(t *testing.T) {
	reg := resource.NewRegistry()
	cfg := NewConfig(WithBlockwise(true, message.SZXForSize(1024), 1<<20))
	c := NewContext(cfg, coapnet.NewPortableDriver(time.Millisecond), reg)
	lb := newLoopback()
	c.AddSocket(lb.serverSocket())

	s := c.Session(coapnet.KindUDP, coapnet.PeerAddr{Kind: coapnet.KindUDP, Remote: fakeAddr("peer")})
	s.NegotiateBlockSize(64)

	large := make([]byte, 200)
	req := &message.Message{Type: message.Confirmable, Code: codes.GET, MessageID: 1, Token: message.Token("t")}
	resp := &message.Message{Code: codes.Content, Payload: large}

	c.respondWithBlock2(s, req, resp)

	raw := <-lb.toClient
	decoded, err := message.DecodeUDP(raw)
	if err != nil {
		t.Fatalf("DecodeUDP: %v", err)
	}
	blk, ok := decoded.Options.Find(message.Block2)
	if !ok {
		t.Fatal("expected a Block2 option on an oversized response once a smaller size is negotiated")
	}
	bv, err := message.DecodeBlockValue(blk)
	if err != nil {
		t.Fatalf("DecodeBlockValue: %v", err)
	}
	if bv.Size() > 64 {
		t.Fatalf("block size %d exceeds the session's negotiated ceiling of 64", bv.Size())
	}

	// Sending the response must not upgrade the session's negotiated size.
	if s.NegotiatedBlockSize() > 64 {
		t.Fatalf("NegotiatedBlockSize() = %d want <= 64 (must never upgrade mid-transfer)", s.NegotiatedBlockSize())
	}
}

func TestSessionHasOutstandingWorkReflectsSubscriptions(t *testing.T) {
	reg := resource.NewRegistry()
	reg.Register(&resource.Resource{
		Path:       "/obs",
		Observable: true,
		Handlers:   map[codes.Code]resource.HandlerFunc{},
	})
	c := NewContext(NewConfig(), coapnet.NewPortableDriver(time.Millisecond), reg)
	s := c.Session(coapnet.KindUDP, coapnet.PeerAddr{Kind: coapnet.KindUDP, Remote: fakeAddr("peer")})

	if c.sessionHasOutstandingWork(s) {
		t.Fatal("a fresh session with no handshake, queue entry, or subscription should not be outstanding work")
	}

	res, ok := reg.Lookup("/obs")
	if !ok {
		t.Fatal("resource not registered")
	}
	res.Register(s.ID(), message.Token("t"), 0)

	if !c.sessionHasOutstandingWork(s) {
		t.Fatal("an active Observe subscription must count as outstanding work")
	}
}
