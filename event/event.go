// Package event defines the handler dispatch vocabulary shared across the
// scheduler, send-queue, session and reliability components: NACK reasons
// (spec.md §4.E, §4.F, §7) and the session lifecycle/ping/pong events the
// context's handler table (spec.md §9 DESIGN NOTES) dispatches.
package event

// NackReason explains why a pending transmission or session was dropped.
type NackReason uint8

const (
	// NackTimeout: a CON exhausted MAX_RETRANSMIT retries without an ACK.
	NackTimeout NackReason = iota
	// NackRST: the peer replied with a Reset message.
	NackRST
	// NackCancelled: the application explicitly cancelled the message.
	NackCancelled
	// NackTLSFailed: the DTLS/TLS handshake or session teardown failed.
	NackTLSFailed
	// NackICMP: the transport reported an ICMP/connection-refused style
	// error for the destination.
	NackICMP
)

func (r NackReason) String() string {
	switch r {
	case NackTimeout:
		return "TIMEOUT"
	case NackRST:
		return "RST"
	case NackCancelled:
		return "CANCELLED"
	case NackTLSFailed:
		return "TLS_FAILED"
	case NackICMP:
		return "ICMP"
	default:
		return "UNKNOWN"
	}
}

// SessionEvent identifies a session lifecycle transition delivered to the
// context's event handler.
type SessionEvent uint8

const (
	EventConnected SessionEvent = iota
	EventConnectFailed
	EventDisconnected
	EventSessionClosed
)
