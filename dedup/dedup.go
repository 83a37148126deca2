// Package dedup implements spec.md §4.F: deduplication of inbound CON
// messages by (session, message-id) over EXCHANGE_LIFETIME, and matching
// of inbound ACK/RST against the send queue's pending CONs.
package dedup

import (
	"github.com/arcemit/coap/clock"
	"github.com/arcemit/coap/message"
)

// ExchangeLifetimeSeconds is the default window, in seconds, during which a message-id
// must not be reused on a given session, per spec.md §4.F.
const ExchangeLifetimeSeconds = 247

// key identifies an exchange by session identity and message id.
type key struct {
	session uint64
	mid     uint16
}

// entry records the first delivery's outcome so that duplicate CONs replay
// the same bytes instead of re-invoking the application.
type entry struct {
	expires  clock.Tick
	response *message.Message // nil until a response/ACK has been generated
}

// Table deduplicates inbound CONs per spec.md §4.F. It is context-local and
// must only be touched from the thread driving the owning context's
// process() call (spec.md §5).
type Table struct {
	lifetime clock.Tick
	entries  map[key]*entry
}

// New creates a Table whose entries expire after lifetime ticks
// (ExchangeLifetimeSeconds * tick rate, typically).
func New(lifetime clock.Tick) *Table {
	return &Table{lifetime: lifetime, entries: make(map[key]*entry)}
}

// Observe records that a CON with (session, mid) has been seen at "now".
// If this is the first time, it returns (nil, false) and the caller should
// process the message normally, then call Remember with the outcome.
// If it's a duplicate within the window, it returns (cachedResponse,
// true); cachedResponse is nil if the first copy hasn't produced a
// response yet, in which case the duplicate must be silently dropped
// (spec.md §4.F: "otherwise it is silently dropped").
func (t *Table) Observe(sessionID uint64, mid uint16, now clock.Tick) (cached *message.Message, duplicate bool) {
	k := key{sessionID, mid}
	e, ok := t.entries[k]
	if !ok || now >= e.expires {
		t.entries[k] = &entry{expires: now + t.lifetime}
		return nil, false
	}
	return e.response, true
}

// Remember attaches the response/ACK generated for (session, mid) so later
// duplicates can replay it verbatim (spec.md §8 scenario 6: "Same ACK
// bytes are transmitted in response to both").
func (t *Table) Remember(sessionID uint64, mid uint16, response *message.Message) {
	k := key{sessionID, mid}
	e, ok := t.entries[k]
	if !ok {
		return
	}
	e.response = response
}

// Prune drops entries whose EXCHANGE_LIFETIME window has elapsed, so the
// table doesn't grow unboundedly on a long-lived context.
func (t *Table) Prune(now clock.Tick) {
	for k, e := range t.entries {
		if now >= e.expires {
			delete(t.entries, k)
		}
	}
}

// Len reports the number of tracked exchanges, for metrics/tests.
func (t *Table) Len() int { return len(t.entries) }
