package coap

import (
	"fmt"
	"time"

	"github.com/arcemit/coap/block"
	"github.com/arcemit/coap/clock"
	"github.com/arcemit/coap/event"
	"github.com/arcemit/coap/message"
	"github.com/arcemit/coap/message/codes"
	coapnet "github.com/arcemit/coap/net"
	"github.com/arcemit/coap/resource"
	"github.com/arcemit/coap/security"
	"github.com/arcemit/coap/session"
)

// secureSession pairs a session mid-or-post handshake with its Handle, so
// do_io knows whether inbound bytes are handshake traffic or PDU
// ciphertext (spec.md §6).
type secureSession struct {
	session *session.Session
	handle  security.Handle
}

// secHandles is looked up by session ID; stored alongside Context rather
// than on Session itself, since Session (spec.md §4.D) is transport-kind
// agnostic and security.Handle is only relevant to DTLS/TLS kinds.
type secureSessions map[uint64]*secureSession

// DialSecure starts an outbound DTLS/TLS handshake toward remote and
// returns the Session once registered (handshake completion is reported
// asynchronously via Handlers.OnEvent(EventConnected)).
func (c *Context) DialSecure(kind coapnet.Kind, remote coapnet.PeerAddr, credential interface{}, psk security.PSKCallbacks) (*session.Session, error) {
	if c.cfg.Security == nil {
		return nil, errNoSecurityProvider
	}
	handle, err := c.cfg.Security.NewClientSession(remote, credential, psk)
	if err != nil {
		return nil, err
	}
	s := c.Session(kind, remote)
	s.SetState(session.StateHandshake)
	c.secure(s, handle)
	c.driveHandshake(s, nil)
	return s, nil
}

// acceptSecure is invoked from do_io on the first datagram from an
// unrecognized peer on a secure listening socket.
func (c *Context) acceptSecure(kind coapnet.Kind, remote coapnet.PeerAddr, inbound []byte) (*session.Session, error) {
	handle, err := c.cfg.Security.NewServerSession(remote, c.cfg.ServerCredential, c.cfg.PSK)
	if err != nil {
		return nil, err
	}
	s := c.Session(kind, remote)
	s.SetState(session.StateHandshake)
	c.secure(s, handle)
	c.driveHandshake(s, inbound)
	return s, nil
}

func (c *Context) secure(s *session.Session, h security.Handle) {
	if c.secHandles == nil {
		c.secHandles = make(secureSessions)
	}
	c.secHandles[s.ID()] = &secureSession{session: s, handle: h}
}

var errNoSecurityProvider = fmt.Errorf("coap: no security.Provider configured")

// driveHandshake feeds inbound ciphertext (nil if none) to a session's
// handshake and writes any resulting bytes to the wire, per spec.md §6.
func (c *Context) driveHandshake(s *session.Session, inbound []byte) {
	entry := c.secHandles[s.ID()]
	if entry == nil {
		return
	}
	outbound, status, kind := entry.handle.HandshakeStep(inbound)
	if len(outbound) > 0 {
		if sock := c.findSocket(s.Kind); sock != nil {
			_, _ = sock.Send(s.Remote.Remote, outbound)
		}
	}
	switch status {
	case security.Done:
		s.SetState(session.StateEstablished)
		s.Touch(c.lastTick)
		if c.cfg.Handlers.OnEvent != nil {
			c.cfg.Handlers.OnEvent(s.ID(), event.EventConnected)
		}
	case security.Failed:
		_ = entry.handle.Close()
		delete(c.secHandles, s.ID())
		if c.cfg.Handlers.OnEvent != nil {
			c.cfg.Handlers.OnEvent(s.ID(), event.EventConnectFailed)
		}
		c.reportError(fmt.Errorf("coap: handshake with %s failed: %s", s.Remote, kind))
		c.closeSession(s, event.EventConnectFailed)
	default: // WantRead, WantWrite: stay in StateHandshake
	}
}

// Process drives one iteration of the scheduler: firing due retransmits
// and keepalives, waiting on the I/O driver, and dispatching whatever
// arrived, per spec.md §4.J's process(ctx, timeout_ms). It returns the
// elapsed time actually spent, mirroring coap_io_process's return
// convention (elapsed_ms, or -1 meaning "no work and no timeout wait was
// requested").
func (c *Context) Process(timeout time.Duration) (time.Duration, error) {
	start := time.Now()
	now := c.cfg.TickSource.Now()
	c.lastTick = now

	c.fireDueRetransmits(now)
	c.driveHandshakeTimers(now)
	c.runKeepalives(now)

	ready, err := c.driver.Wait(c.nextWait(now, timeout))
	if err != nil {
		return time.Since(start), err
	}
	for _, sock := range ready {
		c.doIO(sock)
	}

	c.requestCache.Expire(now)
	c.dedupTbl.Prune(now)

	if len(ready) == 0 && timeout == coapnet.NoWait {
		return -1, nil
	}
	return time.Since(start), nil
}

// nextWait bounds the driver's blocking wait by the next timer this
// context cares about (send-queue retransmit, DTLS handshake timeout),
// so Process(IOWait) still returns promptly when a timer is soonest.
func (c *Context) nextWait(now clock.Tick, requested time.Duration) time.Duration {
	if requested == coapnet.NoWait {
		return coapnet.NoWait
	}
	rate := c.cfg.TickSource.Rate()
	var soonest clock.Tick = -1
	if head := c.queue.Peek(); head != nil {
		if soonest < 0 || head.T < soonest {
			soonest = head.T
		}
	}
	for _, ss := range c.secHandles {
		if to := ss.handle.GetTimeout(); to > 0 {
			rel := to - now
			if soonest < 0 || rel < soonest {
				soonest = rel
			}
		}
	}
	if soonest < 0 {
		return requested
	}
	d := soonest.ToDuration(rate)
	if requested >= 0 && requested < d {
		return requested
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (c *Context) driveHandshakeTimers(now clock.Tick) {
	for _, ss := range c.secHandles {
		if to := ss.handle.GetTimeout(); to > 0 && now >= to {
			c.driveHandshake(ss.session, nil)
		}
	}
}

// fireDueRetransmits rebases the send queue to now and resends or NACKs
// every entry whose timer has elapsed, per spec.md §4.E.
func (c *Context) fireDueRetransmits(now clock.Tick) {
	c.queue.AdjustBasetime(now)
	for {
		head := c.queue.Peek()
		if head == nil || head.T > 0 {
			return
		}
		n := c.queue.Pop()
		s, ok := n.Session.(*session.Session)
		if !ok {
			continue
		}
		if n.RetransmitCount >= c.queue.MaxRetransmit() {
			c.nack(s, n, event.NackTimeout)
			continue
		}
		buf, err := c.encode(s, n.PDU)
		if err != nil {
			c.reportError(err)
			continue
		}
		if sock := c.findSocket(s.Kind); sock != nil {
			_, _ = sock.Send(s.Remote.Remote, buf)
		}
		if c.metrics != nil {
			c.metrics.IncRetransmit()
		}
		n.RetransmitCount++
		n.CurrentTimeout = c.queue.NextTimeout(n.CurrentTimeout)
		n.T = n.CurrentTimeout
		c.queue.Insert(n)
	}
}

// runKeepalives pings idle sessions and evicts ones whose inactivity
// timeout has expired (spec.md §4.D).
func (c *Context) runKeepalives(now clock.Tick) {
	for _, s := range c.sessions {
		outstanding := c.sessionHasOutstandingWork(s)
		if s.State() == session.StateEstablished || s.State() == session.StateClosing {
			prev := s.State()
			next := s.CheckInactivity(now, outstanding)
			if prev != next && c.cfg.Handlers.OnEvent != nil {
				switch next {
				case session.StateClosing:
					c.cfg.Handlers.OnEvent(s.ID(), event.EventDisconnected)
				case session.StateDisconnected:
					c.closeSession(s, event.EventSessionClosed)
					continue
				}
			}
		}
		if s.PingTimeout > 0 && !s.Keepalive.Pending && now-s.LastActivity() >= s.PingTimeout {
			c.sendPing(s)
		}
	}
}

// sessionHasOutstandingWork feeds CheckInactivity (spec.md §4.D): a
// session with a live handshake, a pending retransmit, a client-side
// response exchange still tracked in c.waiting, or an active Observe
// subscription is not idle even if no bytes have crossed the wire
// recently.
func (c *Context) sessionHasOutstandingWork(s *session.Session) bool {
	for _, ss := range c.secHandles {
		if ss.session == s {
			return true
		}
	}
	if c.queue.HasSession(s) {
		return true
	}
	for _, w := range c.waiting {
		if w.ticket.sessionID == s.ID() {
			return true
		}
	}
	return c.resources.SessionHasSubscriptions(s.ID())
}

func (c *Context) sendPing(s *session.Session) {
	mid := s.NewMessageID()
	ping := &message.Message{Type: message.Confirmable, Code: codes.Empty, MessageID: mid}
	buf, err := c.encode(s, ping)
	if err != nil {
		c.reportError(err)
		return
	}
	sock := c.findSocket(s.Kind)
	if sock == nil {
		return
	}
	if _, err := sock.Send(s.Remote.Remote, buf); err != nil {
		c.reportError(err)
		return
	}
	s.Keepalive.Pending = true
	s.Keepalive.SentMID = mid
}

// doIO drains one socket's readiness, decoding and dispatching every
// packet currently available (spec.md §4.J's do_io).
func (c *Context) doIO(sock *coapnet.Socket) {
	if sock.LastPacket.Data != nil {
		c.handlePacket(sock, sock.LastPacket)
		sock.LastPacket = coapnet.Packet{}
	}
	for {
		n, pkt, err := sock.Recv()
		if err != nil {
			c.reportError(fmt.Errorf("coap: recv on %s: %w", sock.Kind, err))
			return
		}
		if n == 0 {
			return
		}
		c.handlePacket(sock, pkt)
	}
}

func (c *Context) handlePacket(sock *coapnet.Socket, pkt coapnet.Packet) {
	remote := coapnet.PeerAddr{Kind: sock.Kind, Remote: pkt.From}

	if sock.Kind.IsSecure() {
		s, existing := c.sessionByPeer[remote.String()]
		if existing && s.State() == session.StateHandshake {
			c.driveHandshake(s, pkt.Data)
			return
		}
		if !existing {
			if _, err := c.acceptSecure(sock.Kind, remote, pkt.Data); err != nil {
				c.reportError(err)
			}
			return
		}
		entry := c.secHandles[s.ID()]
		if entry == nil {
			c.reportError(fmt.Errorf("coap: no handshake handle for established secure session %s", remote))
			return
		}
		plain, err := entry.handle.Decrypt(pkt.Data)
		if err != nil {
			c.reportError(fmt.Errorf("coap: decrypting inbound PDU from %s: %w", remote, err))
			return
		}
		c.handleDecoded(s, plain)
		return
	}

	s := c.Session(sock.Kind, remote)
	c.handleDecoded(s, pkt.Data)
}

func (c *Context) handleDecoded(s *session.Session, raw []byte) {
	var msg *message.Message
	var err error
	if s.Kind.IsDatagram() {
		msg, err = message.DecodeUDP(raw)
	} else {
		msg, _, err = message.DecodeTCP(raw)
	}
	if err != nil {
		// spec.md §7: "codec errors are recovered locally (drop and log)".
		c.reportError(fmt.Errorf("coap: decoding PDU from %s: %w", s.Remote, err))
		return
	}
	s.Touch(c.lastTick)
	c.dispatch(s, msg)
}

func (c *Context) dispatch(s *session.Session, msg *message.Message) {
	switch {
	case msg.Code == codes.Empty:
		c.dispatchEmpty(s, msg)
	case msg.Code.IsRequest():
		c.dispatchRequest(s, msg)
	case msg.Code.IsResponse():
		c.dispatchResponse(s, msg)
	default:
		// signalling/unknown class: not in scope beyond being ignored.
	}
}

func (c *Context) dispatchEmpty(s *session.Session, msg *message.Message) {
	switch msg.Type {
	case message.Confirmable:
		// Empty CON: a ping (spec.md §8 scenario 1). Reply Empty RST with
		// the same message id.
		rst := &message.Message{Type: message.Reset, Code: codes.Empty, MessageID: msg.MessageID}
		_, _ = c.Send(s, rst)
		if c.cfg.Handlers.OnPing != nil {
			c.cfg.Handlers.OnPing(s.Remote)
		}
	case message.Reset:
		if s.Keepalive.Pending && s.Keepalive.SentMID == msg.MessageID {
			s.Keepalive.Pending = false
			s.Keepalive.Failures = 0
			if c.cfg.Handlers.OnPong != nil {
				c.cfg.Handlers.OnPong(s.Remote)
			}
			return
		}
		if n, ok := c.queue.CancelByMID(s, msg.MessageID); ok {
			c.nack(s, n, event.NackRST)
		}
	case message.Acknowledgement:
		// Bare ACK: response deferred; stop retransmitting the CON. The
		// separate response is matched by token when it arrives.
		c.queue.CancelByMID(s, msg.MessageID)
	}
}

// dispatchRequest implements the server path of spec.md §4.F/§4.G/§4.H/§4.I:
// dedup, critical-option check, Block1 reassembly, cache lookup, resource
// dispatch, Block2 split, Observe registration, and the piggybacked ACK.
func (c *Context) dispatchRequest(s *session.Session, req *message.Message) {
	if req.Type == message.Confirmable {
		if cached, dup := c.dedupTbl.Observe(s.ID(), req.MessageID, c.lastTick); dup {
			if c.metrics != nil {
				c.metrics.IncDedupHit()
			}
			if cached != nil {
				resp := cached.Clone()
				resp.MessageID = req.MessageID
				resp.Token = req.Token
				_, _ = c.Send(s, resp)
			}
			return
		}
	}

	if num, ok := req.Options.UnknownCriticalOption(c.criticalOptions); ok {
		c.respond(s, req, errorResponse(req, codes.BadOption, fmt.Errorf("coap: unrecognized critical option %d", num).Error()))
		return
	}

	if _, ok := req.Options.Find(message.Block1); ok && !c.cfg.BlockwiseEnabled {
		c.respond(s, req, errorResponse(req, codes.BadOption, "coap: block-wise transfer not enabled"))
		return
	}

	if blk, ok := req.Options.Find(message.Block1); ok && c.cfg.BlockwiseEnabled {
		bv, berr := message.DecodeBlockValue(blk)
		if berr != nil {
			c.respond(s, req, errorResponse(req, codes.BadRequest, berr.Error()))
			return
		}
		payload, complete, aerr := c.blockUp.Accept(s.ID(), req.Token, message.Block1, bv, req.Payload)
		if aerr != nil {
			c.respond(s, req, errorResponse(req, codes.RequestEntityIncomplete, aerr.Error()))
			return
		}
		if !complete {
			cont := &message.Message{Type: ackType(req), Code: codes.Continue, MessageID: req.MessageID, Token: req.Token}
			cont.Options = cont.Options.Add(message.Block1, message.EncodeBlockValue(message.BlockValue{Num: bv.Num, More: true, SZX: bv.SZX}))
			c.respond(s, req, cont)
			return
		}
		req.Payload = payload
	}

	method := req.Code
	fp := c.requestCache.Fingerprint(method, req.Options)
	if method == codes.GET || method == codes.FETCH {
		if resp, building, hit := c.requestCache.Lookup(fp, c.lastTick); hit {
			if c.metrics != nil {
				c.metrics.IncCacheHit()
			}
			if building {
				c.requestCache.AddWaiter(fp, func(cached *message.Message) {
					if cached == nil {
						c.respond(s, req, errorResponse(req, codes.ServiceUnavailable, "cache build aborted"))
						return
					}
					out := cached.Clone()
					out.MessageID = req.MessageID
					out.Token = req.Token
					c.respond(s, req, out)
				})
				return
			}
			out := resp.Clone()
			out.MessageID = req.MessageID
			out.Token = req.Token
			c.respond(s, req, out)
			return
		}
		if c.metrics != nil {
			c.metrics.IncCacheMiss()
		}
		c.requestCache.BeginBuild(fp)
	}

	resp, err := c.resources.Dispatch(req)
	if err != nil {
		c.reportError(err)
		if method == codes.GET || method == codes.FETCH {
			c.requestCache.AbortBuild(fp)
		}
		resp = errorResponse(req, codes.InternalServerError, err.Error())
	}

	if (method == codes.GET || method == codes.FETCH) && resp != nil {
		if maxAge, ok := resp.Options.Find(message.MaxAge); ok {
			c.requestCache.CompleteBuild(fp, resp, clock.Tick(message.DecodeUint(maxAge))*clock.Tick(c.cfg.TickSource.Rate()), c.lastTick)
		} else {
			c.requestCache.AbortBuild(fp)
		}
	}

	c.handleObserveRegistration(s, req, resp)
	c.respondWithBlock2(s, req, resp)
}

func (c *Context) handleObserveRegistration(s *session.Session, req *message.Message, resp *message.Message) {
	if resp == nil || req.Code != codes.GET {
		return
	}
	obsVal, ok := req.Options.Find(message.Observe)
	if !ok {
		return
	}
	res, found := c.resources.Lookup(req.Options.Path())
	if !found || !res.Observable {
		return
	}
	if message.DecodeUint(obsVal) == 1 {
		res.Deregister(s.ID(), req.Token)
		return
	}
	res.Register(s.ID(), req.Token, c.lastTick)
	if seq, ok := res.NextSequence(s.ID(), req.Token); ok {
		resp.Options = resp.Options.Set(message.Observe, message.EncodeUint(seq))
	}
	if c.metrics != nil {
		c.metrics.SetObserverCount(len(res.Subscriptions()))
	}
}

// respondWithBlock2 splits resp into Block2 pieces if it exceeds the
// session's negotiated block size and blockwise transfer is enabled,
// otherwise sends the whole response piggybacked in one ACK.
func (c *Context) respondWithBlock2(s *session.Session, req *message.Message, resp *message.Message) {
	if resp == nil {
		return
	}
	resp.MessageID = req.MessageID
	resp.Token = req.Token
	resp.Type = ackType(req)

	if !c.cfg.BlockwiseEnabled {
		c.respond(s, req, resp)
		return
	}
	szx := c.cfg.BlockwiseMaxSZX
	size := message.BlockValue{SZX: szx}.Size()
	if neg := s.NegotiatedBlockSize(); neg > 0 && neg < size {
		size = neg
		szx = message.SZXForSize(neg)
	}
	if len(resp.Payload) <= size {
		c.respond(s, req, resp)
		return
	}
	wantBlock, _ := req.Options.Find(message.Block2)
	num := uint32(0)
	if len(wantBlock) > 0 {
		bv, _ := message.DecodeBlockValue(wantBlock)
		num = bv.Num
		if dsz := (message.BlockValue{SZX: bv.SZX}).Size(); dsz < size {
			size = dsz
			szx = bv.SZX
		}
		// spec.md §4.G: the session's negotiated size never upgrades
		// mid-transfer, so record whatever the client settled on too.
		s.NegotiateBlockSize(size)
	}
	chunk, more, err := block.SplitPayload(resp.Payload, num, szx)
	if err != nil {
		c.respond(s, req, errorResponse(req, codes.BadOption, err.Error()))
		return
	}
	piece := resp.Clone()
	piece.Payload = chunk
	piece.Options = piece.Options.Set(message.Block2, message.EncodeBlockValue(message.BlockValue{Num: num, More: more, SZX: szx}))
	if !more && c.metrics != nil {
		c.metrics.IncBlockTransferComplete()
	}
	c.respond(s, req, piece)
}

// respond sends resp as the final disposition for req (an ACK, or if resp
// is nil, a bare Empty ACK meaning "processed, no body").
func (c *Context) respond(s *session.Session, req *message.Message, resp *message.Message) {
	if resp == nil {
		resp = &message.Message{Type: ackType(req), Code: codes.Empty, MessageID: req.MessageID, Token: req.Token}
	}
	if resp.MessageID == 0 {
		resp.MessageID = req.MessageID
	}
	if resp.Token == nil {
		resp.Token = req.Token
	}
	if req.Type == message.Confirmable {
		c.dedupTbl.Remember(s.ID(), req.MessageID, resp)
	}
	_, _ = c.Send(s, resp)
}

// dispatchResponse implements the client path: matching ACK/CON/NON
// responses to the original request by message id then token, Block2
// client-side reassembly with automatic continuation, and Observe
// sequence ordering (spec.md §4.G, §4.H, §8 scenario 5).
func (c *Context) dispatchResponse(s *session.Session, resp *message.Message) {
	// spec.md §7: "inbound request triggers 4.02 response; inbound
	// response triggers RST" for an unrecognized critical option. A
	// Confirmable response gets the RST in place of the ACK it would
	// otherwise have earned; a Non-confirmable one gets a bare RST.
	if num, ok := resp.Options.UnknownCriticalOption(c.criticalOptions); ok {
		c.reportError(fmt.Errorf("coap: unrecognized critical option %d on response from %s", num, s.Remote))
		if resp.Type == message.Confirmable || resp.Type == message.NonConfirmable {
			rst := &message.Message{Type: message.Reset, Code: codes.Empty, MessageID: resp.MessageID}
			_, _ = c.Send(s, rst)
		}
		delete(c.waiting, waitKey{session: s.ID(), token: string(resp.Token)})
		return
	}

	if resp.Type == message.Confirmable {
		ack := &message.Message{Type: message.Acknowledgement, Code: codes.Empty, MessageID: resp.MessageID}
		_, _ = c.Send(s, ack)
	}
	if resp.Type == message.Acknowledgement {
		// Piggybacked response: it answers the queued CON by message id.
		c.queue.CancelByMID(s, resp.MessageID)
	}

	key := waitKey{session: s.ID(), token: string(resp.Token)}
	wait := c.waiting[key]
	if wait == nil {
		wait = &clientWait{ticket: SendTicket{sessionID: s.ID(), token: resp.Token}}
		c.waiting[key] = wait
	}

	if blk, ok := resp.Options.Find(message.Block2); ok {
		bv, err := message.DecodeBlockValue(blk)
		if err != nil {
			c.reportError(err)
			return
		}
		payload, complete, err := c.blockDown.Accept(s.ID(), resp.Token, message.Block2, bv, resp.Payload)
		if err != nil {
			c.reportError(err)
			delete(c.waiting, key)
			return
		}
		if !complete {
			c.requestNextBlock(s, resp, bv)
			return
		}
		resp.Payload = payload
		if c.metrics != nil {
			c.metrics.IncBlockTransferComplete()
		}
	}

	if obsVal, ok := resp.Options.Find(message.Observe); ok {
		seq := message.DecodeUint(obsVal)
		if wait.hasSeq && !resource.SequenceGreater(wait.lastSeq, seq) {
			return // stale/reordered notification, drop per spec.md §8 scenario 5
		}
		wait.lastSeq = seq
		wait.hasSeq = true
	} else {
		delete(c.waiting, key)
	}

	if c.cfg.Handlers.OnResponse != nil {
		ticket := SendTicket{sessionID: s.ID(), messageID: resp.MessageID, token: resp.Token}
		c.cfg.Handlers.OnResponse(ticket, resp)
	}
}

// requestNextBlock issues the follow-on GET for the next Block2 number,
// the "automatic continuation" spec.md §4.G and §2 row G call for.
func (c *Context) requestNextBlock(s *session.Session, resp *message.Message, bv message.BlockValue) {
	next := &message.Message{
		Type:    message.Confirmable,
		Code:    codes.GET,
		Token:   resp.Token,
		Options: resp.Options,
	}
	next.Options = next.Options.Set(message.Block2, message.EncodeBlockValue(message.BlockValue{Num: bv.Num + 1, More: false, SZX: bv.SZX}))
	if _, err := c.Send(s, next); err != nil {
		c.reportError(err)
	}
}

func ackType(req *message.Message) message.Type {
	if req.Type == message.Confirmable {
		return message.Acknowledgement
	}
	return message.NonConfirmable
}

func errorResponse(req *message.Message, code codes.Code, detail string) *message.Message {
	return &message.Message{
		Type:    ackType(req),
		Code:    code,
		Payload: []byte(detail),
	}
}
