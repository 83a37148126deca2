// Package session implements spec.md §4.D: per-peer session state,
// message-id/token generation, inactivity timeout and keepalive.
package session

import (
	"crypto/rand"

	"go.uber.org/atomic"

	"github.com/arcemit/coap/clock"
	"github.com/arcemit/coap/message"
	coapnet "github.com/arcemit/coap/net"
	"github.com/arcemit/coap/txqueue"
)

// State is the session's protocol state, spec.md §3.
type State uint8

const (
	StateNone State = iota
	StateConnecting
	StateHandshake
	StateEstablished
	StateClosing
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateConnecting:
		return "CONNECTING"
	case StateHandshake:
		return "HANDSHAKE"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// KeepaliveState tracks an in-flight keepalive probe.
type KeepaliveState struct {
	Pending  bool
	SentMID  uint16
	Failures int
}

// Session multiplexes token-identified outstanding transactions with one
// peer, per spec.md §4.D. It satisfies txqueue.SessionRef.
type Session struct {
	id uint64

	Kind   coapnet.Kind
	Local  interface{}
	Remote coapnet.PeerAddr

	state State
	TransmissionParams txqueue.TransmissionParams

	txMID       atomic.Uint32 // wraps at 16 bits, see NewMessageID
	tokenLength int

	lastActivity clock.Tick
	sessionTimeout clock.Tick // ticks of inactivity before CLOSING

	negotiatedBlockSize int // bytes, powers of two 16..1024; 0 = not yet negotiated

	PingTimeout clock.Tick // 0 disables keepalive (spec.md §4.D)
	Keepalive   KeepaliveState

	refCount atomic.Int32
}

// Config bundles the construction-time parameters for a Session.
type Config struct {
	ID                 uint64
	Kind               coapnet.Kind
	Remote             coapnet.PeerAddr
	TransmissionParams txqueue.TransmissionParams
	TokenLength        int // default 8, per spec.md §4.D
	SessionTimeout     clock.Tick
	PingTimeout        clock.Tick
}

// New constructs a Session in state NONE.
func New(cfg Config) *Session {
	tokenLen := cfg.TokenLength
	if tokenLen <= 0 {
		tokenLen = message.MaxTokenSize
	}
	return &Session{
		id:                 cfg.ID,
		Kind:               cfg.Kind,
		Remote:             cfg.Remote,
		state:              StateNone,
		TransmissionParams: cfg.TransmissionParams,
		tokenLength:        tokenLen,
		sessionTimeout:     cfg.SessionTimeout,
		PingTimeout:        cfg.PingTimeout,
	}
}

// ID satisfies txqueue.SessionRef.
func (s *Session) ID() uint64 { return s.id }

// State returns the current protocol state.
func (s *Session) State() State { return s.state }

// SetState transitions the session's protocol state.
func (s *Session) SetState(st State) { s.state = st }

// NewMessageID returns a monotonically incremented 16-bit message id,
// wrapping as spec.md §4.D permits ("uniqueness required only across
// currently-outstanding CONs").
func (s *Session) NewMessageID() uint16 {
	return uint16(s.txMID.Inc())
}

// NewToken returns a cryptographically-random token of the session's
// configured length (default 8 bytes per spec.md §4.D).
func (s *Session) NewToken() message.Token {
	tok := make(message.Token, s.tokenLength)
	_, _ = rand.Read(tok)
	return tok
}

// Touch records inbound/outbound traffic at "now", resetting the
// inactivity timer.
func (s *Session) Touch(now clock.Tick) { s.lastActivity = now }

// LastActivity returns the tick of the most recent Touch.
func (s *Session) LastActivity() clock.Tick { return s.lastActivity }

// CheckInactivity transitions CLOSING->DISCONNECTED or
// ESTABLISHED->CLOSING once sessionTimeout ticks have elapsed with no
// traffic and no outstanding work, per spec.md §4.D. hasOutstandingWork is
// supplied by the caller (the context knows about pending send-queue
// entries and subscriptions; the session does not).
func (s *Session) CheckInactivity(now clock.Tick, hasOutstandingWork bool) State {
	if s.sessionTimeout <= 0 || hasOutstandingWork {
		return s.state
	}
	idle := now - s.lastActivity
	switch s.state {
	case StateEstablished:
		if idle >= s.sessionTimeout {
			s.state = StateClosing
		}
	case StateClosing:
		if idle >= s.sessionTimeout {
			s.state = StateDisconnected
		}
	}
	return s.state
}

// NegotiatedBlockSize returns the current negotiated block size in bytes,
// or 0 if none has been negotiated yet.
func (s *Session) NegotiatedBlockSize() int { return s.negotiatedBlockSize }

// NegotiateBlockSize downgrades the session's negotiated block size to at
// most want bytes; spec.md §4.G: "it never upgrades mid-transfer". The
// first call on a session (negotiatedBlockSize == 0) accepts want outright.
func (s *Session) NegotiateBlockSize(want int) {
	if s.negotiatedBlockSize == 0 || want < s.negotiatedBlockSize {
		s.negotiatedBlockSize = want
	}
}

// Ref increments the reference count (§3: contexts/resources/subscriptions
// hold non-owning back-references, but the session itself is reference
// counted so the owning context knows when it's safe to free).
func (s *Session) Ref() int32 { return s.refCount.Inc() }

// Unref decrements the reference count and returns the new value.
func (s *Session) Unref() int32 { return s.refCount.Dec() }

// RefCount reports the current reference count.
func (s *Session) RefCount() int32 { return s.refCount.Load() }
