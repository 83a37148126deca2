package net

import "net"

// PeerAddr pairs a remote peer's address with the transport Kind it was
// reached over, the unit of identity a Session is keyed by.
type PeerAddr struct {
	Kind   Kind
	Remote net.Addr
}

func (p PeerAddr) String() string {
	if p.Remote == nil {
		return p.Kind.String() + ":<nil>"
	}
	return p.Kind.String() + ":" + p.Remote.String()
}

// Equal reports whether two PeerAddrs refer to the same kind+address.
func (p PeerAddr) Equal(o PeerAddr) bool {
	return p.Kind == o.Kind && p.Remote != nil && o.Remote != nil && p.Remote.String() == o.Remote.String()
}
