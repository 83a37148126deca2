// Package txqueue implements the send queue and retransmit engine from
// spec.md §4.E: a single ordered queue per context of pending Confirmable
// transmissions, with jittered exponential-backoff timeouts computed in
// fixed-point arithmetic so constrained targets never touch floating point.
package txqueue

import (
	"container/heap"
	"crypto/rand"
	"encoding/binary"

	"github.com/arcemit/coap/clock"
	"github.com/arcemit/coap/message"
)

// q16One is 1.0 in Q16.16 fixed point, the representation used for
// ACK_RANDOM_FACTOR and the per-node random fraction R so that
// T0 = ACK_TIMEOUT * (1 + (ACK_RANDOM_FACTOR-1)*R) never touches a float.
const q16One = 1 << 16

// TransmissionParams holds the per-session transmission parameters from
// spec.md §3, all expressed in Ticks/fixed-point so the engine never reads
// a wall-clock or a float.
type TransmissionParams struct {
	AckTimeout      clock.Tick // default 2s in ticks
	AckRandomFactorQ16 uint32  // default 1.5 -> 1.5*65536
	MaxRetransmit   int        // default 4
	NStart          int        // default 1
	DefaultLeisure  clock.Tick // default 5s in ticks
	ProbingRate     int        // bytes/sec, default 1
}

// DefaultTransmissionParams returns spec.md §3's stated defaults, at the
// given tick rate.
func DefaultTransmissionParams(rate int64) TransmissionParams {
	return TransmissionParams{
		AckTimeout:         clock.Tick(2 * rate),
		AckRandomFactorQ16: uint32(1.5 * float64(q16One)),
		MaxRetransmit:      4,
		NStart:             1,
		DefaultLeisure:     clock.Tick(5 * rate),
		ProbingRate:        1,
	}
}

// SessionRef is the minimal, non-owning view of a session a Node needs:
// just enough identity for matching and for the engine to hand back to the
// caller on NACK/send, without the queue ever owning or reaching into
// session internals (spec.md §5: "A session holds a non-owning
// back-reference to its context"; the reverse holds here too).
type SessionRef interface {
	ID() uint64
}

// Node is a single send-queue entry: spec.md §3's "Send-queue entry".
type Node struct {
	T               clock.Tick // relative to the queue's basetime
	RetransmitCount int
	CurrentTimeout  clock.Tick // the timeout that was active when this node last fired
	Session         SessionRef
	MessageID       uint16
	Token           message.Token
	PDU             *message.Message

	seq uint64 // insertion sequence, breaks ties in favor of FIFO order
}

// Queue is the single ordered per-context send queue described in
// spec.md §4.E. It is a min-heap keyed on (T, seq) rather than the
// original manual linked list, per spec.md §9 DESIGN NOTES, which removes
// the O(n) insert while preserving adjust_basetime's semantics.
type Queue struct {
	params   TransmissionParams
	basetime clock.Tick
	nextSeq  uint64
	h        nodeHeap
}

// New creates an empty Queue governed by params.
func New(params TransmissionParams) *Queue {
	return &Queue{params: params}
}

// Len reports how many entries are queued.
func (q *Queue) Len() int { return q.h.Len() }

// Insert places node at the unique position preserving ascending T with
// FIFO tie-break, per spec.md §4.E.
func (q *Queue) Insert(n *Node) {
	n.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.h, n)
}

// Peek returns the head of the queue (the next entry to fire) without
// removing it, or nil if empty.
func (q *Queue) Peek() *Node {
	if q.h.Len() == 0 {
		return nil
	}
	return q.h[0]
}

// Pop removes and returns the head of the queue, or nil if empty.
func (q *Queue) Pop() *Node {
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Node)
}

// AdjustBasetime rebases every entry's relative T so that "now" becomes the
// new basetime, and returns how many entries have already fired (T <= 0
// after rebasing). It preserves the set of entries and their relative
// ordering, the invariant spec.md §8 requires.
func (q *Queue) AdjustBasetime(now clock.Tick) int {
	delta := now - q.basetime
	q.basetime = now
	fired := 0
	for _, n := range q.h {
		n.T -= delta
		if n.T <= 0 {
			fired++
		}
	}
	heap.Init(&q.h)
	return fired
}

// CancelByMID removes the node matching (session, mid), if any, and
// reports whether one was removed. It never emits NACK_CANCELLED itself
// (spec.md §4.E: "token-based cancel does; mid-based cancel on successful
// ACK does not") — the caller decides whether to raise one.
func (q *Queue) CancelByMID(session SessionRef, mid uint16) (*Node, bool) {
	for i, n := range q.h {
		if n.Session == session && n.MessageID == mid {
			removed := heap.Remove(&q.h, i).(*Node)
			return removed, true
		}
	}
	return nil, false
}

// CancelByToken removes every node for session carrying token and returns
// them, for the caller to raise NACK_CANCELLED on each (spec.md §4.E,
// §5 cancel_all_messages).
func (q *Queue) CancelByToken(session SessionRef, token message.Token) []*Node {
	var removed []*Node
	kept := q.h[:0]
	for _, n := range q.h {
		if n.Session == session && n.Token.Equal(token) {
			removed = append(removed, n)
			continue
		}
		kept = append(kept, n)
	}
	for i := len(kept); i < len(q.h); i++ {
		q.h[i] = nil
	}
	q.h = kept
	heap.Init(&q.h)
	return removed
}

// CancelSession removes every node belonging to session, for
// cancel_session_messages (spec.md §5).
func (q *Queue) CancelSession(session SessionRef) []*Node {
	var removed []*Node
	kept := q.h[:0]
	for _, n := range q.h {
		if n.Session == session {
			removed = append(removed, n)
			continue
		}
		kept = append(kept, n)
	}
	for i := len(kept); i < len(q.h); i++ {
		q.h[i] = nil
	}
	q.h = kept
	heap.Init(&q.h)
	return removed
}

// HasSession reports whether any node belonging to session is still
// queued, without removing it; used to decide whether a session has
// outstanding work for inactivity purposes (spec.md §4.D).
func (q *Queue) HasSession(session SessionRef) bool {
	for i := 0; i < q.h.Len(); i++ {
		if q.h[i].Session == session {
			return true
		}
	}
	return false
}

// InitialTimeout computes T0 = ACK_TIMEOUT * (1 + (ACK_RANDOM_FACTOR-1)*R)
// in Q16.16 fixed point, where R is a fresh per-node random fraction in
// [0, 1).
func (q *Queue) InitialTimeout() clock.Tick {
	r := randomQ16()
	spread := q.params.AckRandomFactorQ16 - q16One // (ACK_RANDOM_FACTOR-1) in Q16
	factor := uint64(q16One) + uint64(spread)*uint64(r)/uint64(q16One)
	return clock.Tick(uint64(q.params.AckTimeout) * factor / q16One)
}

// NextTimeout doubles the previous timeout, for the exponential backoff
// schedule in spec.md §4.E.
func (q *Queue) NextTimeout(prev clock.Tick) clock.Tick { return prev * 2 }

// MaxRetransmit reports the configured retry budget.
func (q *Queue) MaxRetransmit() int { return q.params.MaxRetransmit }

func randomQ16() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	// Keep it within [0, 1) in Q16.16 by discarding everything above the
	// fractional 16 bits.
	return binary.BigEndian.Uint32(b[:]) & 0xffff
}

// nodeHeap implements container/heap.Interface, ordering by (T, seq).
type nodeHeap []*Node

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].T != h[j].T {
		return h[i].T < h[j].T
	}
	return h[i].seq < h[j].seq
}
func (h nodeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x interface{}) {
	*h = append(*h, x.(*Node))
}
func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
