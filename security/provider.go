// Package security defines the pluggable DTLS/TLS capability boundary from
// spec.md §6. The CORE never speaks a handshake protocol itself; it drives
// a Provider through a small state machine and treats ciphertext as opaque
// bytes on the wire.
package security

import (
	"errors"

	"github.com/arcemit/coap/clock"
	coapnet "github.com/arcemit/coap/net"
)

// FailureKind classifies a failed handshake, surfaced to the session layer
// as a NACK reason (event.NackTLSFailed).
type FailureKind uint8

const (
	FailureUnknown FailureKind = iota
	FailureHandshakeTimeout
	FailureAuthentication
	FailurePeerClosed
	FailureProtocol
)

func (k FailureKind) String() string {
	switch k {
	case FailureHandshakeTimeout:
		return "HANDSHAKE_TIMEOUT"
	case FailureAuthentication:
		return "AUTHENTICATION"
	case FailurePeerClosed:
		return "PEER_CLOSED"
	case FailureProtocol:
		return "PROTOCOL"
	default:
		return "UNKNOWN"
	}
}

// StepStatus is the result of one HandshakeStep, per spec.md §6:
// {Done, WantRead, WantWrite, Failed(kind)}.
type StepStatus uint8

const (
	Done StepStatus = iota
	WantRead
	WantWrite
	Failed
)

// ErrClosed is returned by Encrypt/Decrypt once Close has been called on
// the handle.
var ErrClosed = errors.New("coap/security: handle closed")

// PSKIdentityHint carries the optional hint a DTLS/TLS-PSK server may send
// during the handshake (RFC 4279 / RFC 7925).
type PSKIdentityHint []byte

// PSKCallbacks bundles the three PSK hooks from spec.md §6. Any of these
// may be nil if the provider does not use PSK ciphersuites.
type PSKCallbacks struct {
	// GetClientPSK returns the pre-shared key for identity, client side.
	GetClientPSK func(identity []byte) (key []byte, err error)
	// GetServerPSK returns the pre-shared key the server should use for an
	// inbound identity.
	GetServerPSK func(identity []byte) (key []byte, err error)
	// GetServerHint returns the identity hint the server advertises.
	GetServerHint func() PSKIdentityHint
}

// Handle is one in-progress or established secure session, opaque to the
// CORE beyond the Provider methods below.
type Handle interface {
	// HandshakeStep drives the handshake forward by one increment. Callers
	// feed it inbound ciphertext bytes (nil if none arrived since the last
	// call) and it returns bytes that must be written to the wire (nil if
	// none), alongside the current status.
	HandshakeStep(inbound []byte) (outbound []byte, status StepStatus, kind FailureKind)

	// Encrypt wraps plain application bytes for transmission.
	Encrypt(plain []byte) (cipher []byte, err error)

	// Decrypt unwraps inbound ciphertext into application bytes.
	Decrypt(cipher []byte) (plain []byte, err error)

	// Close releases the handle's resources. Idempotent.
	Close() error

	// GetTimeout reports the tick at which the caller should re-drive the
	// handshake even without new inbound bytes (DTLS retransmit timers),
	// or 0 if no timer is currently armed.
	GetTimeout() clock.Tick
}

// Provider is the injected security capability from spec.md §6. A Provider
// implementation owns exactly one DTLS or TLS library; this CORE ships no
// default implementation (see coap/dtls for the pion/dtls/v2-backed one).
type Provider interface {
	// NewClientSession starts an outbound handshake toward remote, with an
	// opaque credential blob (PSK identity+key pair, or a certificate
	// configuration) interpreted by the provider.
	NewClientSession(remote coapnet.PeerAddr, credential interface{}, psk PSKCallbacks) (Handle, error)

	// NewServerSession starts an inbound handshake from peer arriving on a
	// listening endpoint.
	NewServerSession(peer coapnet.PeerAddr, credential interface{}, psk PSKCallbacks) (Handle, error)
}
