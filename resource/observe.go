package resource

import (
	"github.com/arcemit/coap/clock"
	"github.com/arcemit/coap/message"
)

// MaxFail is the number of consecutive NACKed notifications that evicts a
// subscription, per spec.md §4.H.
const MaxFail = 4

// seqMask keeps the Observe sequence number within its 24-bit field.
const seqMask = 0xFFFFFF

// Subscription is one observer's registration on a resource (spec.md §3):
// session (by id, a weak reference), token, last-sent sequence, whether a
// notification is currently awaiting ACK, and a consecutive-failure count.
type Subscription struct {
	SessionID    uint64
	Token        message.Token
	LastSeq      uint32
	Pending      bool
	FailCount    int
	Created      clock.Tick
}

// SequenceGreater implements spec.md §4.H's RFC 7641 §3.4 wraparound
// comparison: v2 is considered "greater than" (newer than) v1 iff
// (v1 < v2 and v2-v1 < 2^23) or (v1 > v2 and v1-v2 > 2^23).
func SequenceGreater(v1, v2 uint32) bool {
	v1 &= seqMask
	v2 &= seqMask
	return (v1 < v2 && v2-v1 < 1<<23) || (v1 > v2 && v1-v2 > 1<<23)
}

// subscriptionList holds every observer currently registered on one
// Resource, keyed by (session, token) per RFC 7641 §4.1's "entry in the
// list of observers is keyed by the client endpoint and the token".
type subscriptionList struct {
	byKey map[subKey]*Subscription
	order []subKey
}

type subKey struct {
	session uint64
	token   string
}

func newSubscriptionList() *subscriptionList {
	return &subscriptionList{byKey: make(map[subKey]*Subscription)}
}

// Register adds sessionID/token as an observer, or replaces the existing
// entry for the same key (RFC 7641 §4.1: reinforcing interest updates, not
// duplicates, the existing registration).
func (r *Resource) Register(sessionID uint64, token message.Token, now clock.Tick) {
	if r.subs == nil {
		r.subs = newSubscriptionList()
	}
	k := subKey{session: sessionID, token: string(token)}
	if _, ok := r.subs.byKey[k]; !ok {
		r.subs.order = append(r.subs.order, k)
	}
	r.subs.byKey[k] = &Subscription{SessionID: sessionID, Token: token, Created: now}
}

// Deregister removes sessionID/token's subscription, if any: Observe=1,
// RST-to-notification, and MAX_FAIL eviction all route through this.
func (r *Resource) Deregister(sessionID uint64, token message.Token) {
	if r.subs == nil {
		return
	}
	k := subKey{session: sessionID, token: string(token)}
	if _, ok := r.subs.byKey[k]; !ok {
		return
	}
	delete(r.subs.byKey, k)
	for i, o := range r.subs.order {
		if o == k {
			r.subs.order = append(r.subs.order[:i], r.subs.order[i+1:]...)
			break
		}
	}
}

// Subscriptions returns every currently-registered observer, in
// registration order.
func (r *Resource) Subscriptions() []*Subscription {
	if r.subs == nil {
		return nil
	}
	out := make([]*Subscription, 0, len(r.subs.order))
	for _, k := range r.subs.order {
		if s, ok := r.subs.byKey[k]; ok {
			out = append(out, s)
		}
	}
	return out
}

// NextSequence advances and returns the next Observe sequence number for
// sessionID/token's subscription, masked to 24 bits.
func (r *Resource) NextSequence(sessionID uint64, token message.Token) (uint32, bool) {
	if r.subs == nil {
		return 0, false
	}
	s, ok := r.subs.byKey[subKey{session: sessionID, token: string(token)}]
	if !ok {
		return 0, false
	}
	s.LastSeq = (s.LastSeq + 1) & seqMask
	s.Pending = true
	return s.LastSeq, true
}

// Acknowledge marks sessionID/token's pending notification delivered and
// resets its failure count.
func (r *Resource) Acknowledge(sessionID uint64, token message.Token) {
	if r.subs == nil {
		return
	}
	if s, ok := r.subs.byKey[subKey{session: sessionID, token: string(token)}]; ok {
		s.Pending = false
		s.FailCount = 0
	}
}

// Fail records a NACKed notification for sessionID/token, evicting the
// subscription once MaxFail consecutive failures accumulate. Returns true
// if the subscription was evicted.
func (r *Resource) Fail(sessionID uint64, token message.Token) bool {
	if r.subs == nil {
		return false
	}
	k := subKey{session: sessionID, token: string(token)}
	s, ok := r.subs.byKey[k]
	if !ok {
		return false
	}
	s.Pending = false
	s.FailCount++
	if s.FailCount >= MaxFail {
		r.Deregister(sessionID, token)
		return true
	}
	return false
}
