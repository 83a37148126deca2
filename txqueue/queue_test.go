package txqueue

import (
	"testing"

	"github.com/arcemit/coap/clock"
)

type fakeSession struct{ id uint64 }

func (f *fakeSession) ID() uint64 { return f.id }

func TestInsertOrdersByTickThenFIFO(t *testing.T) {
	q := New(DefaultTransmissionParams(1000))
	s := &fakeSession{1}
	a := &Node{T: 10, Session: s, MessageID: 1}
	b := &Node{T: 5, Session: s, MessageID: 2}
	c := &Node{T: 10, Session: s, MessageID: 3} // same T as a, inserted after -> FIFO after a
	q.Insert(a)
	q.Insert(b)
	q.Insert(c)

	if got := q.Pop(); got != b {
		t.Fatalf("first pop: got mid %d want mid 2", got.MessageID)
	}
	if got := q.Pop(); got != a {
		t.Fatalf("second pop: got mid %d want mid 1 (FIFO tie-break)", got.MessageID)
	}
	if got := q.Pop(); got != c {
		t.Fatalf("third pop: got mid %d want mid 3", got.MessageID)
	}
}

func TestAdjustBasetimePreservesSetAndOrder(t *testing.T) {
	q := New(DefaultTransmissionParams(1000))
	s := &fakeSession{1}
	nodes := []*Node{
		{T: 100, Session: s, MessageID: 1},
		{T: 50, Session: s, MessageID: 2},
		{T: 200, Session: s, MessageID: 3},
	}
	for _, n := range nodes {
		q.Insert(n)
	}

	fired := q.AdjustBasetime(60)
	if fired != 1 { // only mid=2 (T=50) is now <= 0 after rebasing by 60
		t.Fatalf("fired = %d want 1", fired)
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d want 3 (adjust must not drop entries)", q.Len())
	}

	var order []uint16
	for q.Len() > 0 {
		order = append(order, q.Pop().MessageID)
	}
	want := []uint16{2, 1, 3}
	for i, mid := range want {
		if order[i] != mid {
			t.Fatalf("order = %v want %v", order, want)
		}
	}
}

func TestRetransmitSchedule(t *testing.T) {
	q := New(TransmissionParams{
		AckTimeout:         clock.Tick(2000), // 2s at 1000 ticks/sec
		AckRandomFactorQ16: 1 << 16,          // factor exactly 1.0: deterministic T0 == AckTimeout
		MaxRetransmit:      4,
	})
	t0 := q.InitialTimeout()
	if t0 != 2000 {
		t.Fatalf("T0 = %d want 2000 with AckRandomFactor pinned to 1.0", t0)
	}
	schedule := []clock.Tick{t0}
	cur := t0
	for i := 0; i < q.MaxRetransmit(); i++ {
		cur = q.NextTimeout(cur)
		schedule = append(schedule, cur)
	}
	want := []clock.Tick{2000, 4000, 8000, 16000, 32000}
	for i, w := range want {
		if schedule[i] != w {
			t.Fatalf("schedule[%d] = %d want %d", i, schedule[i], w)
		}
	}
}

func TestCancelByMIDDoesNotRequireCaller(t *testing.T) {
	q := New(DefaultTransmissionParams(1000))
	s := &fakeSession{1}
	n := &Node{T: 10, Session: s, MessageID: 42}
	q.Insert(n)
	removed, ok := q.CancelByMID(s, 42)
	if !ok || removed != n {
		t.Fatalf("expected to remove node")
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d want 0", q.Len())
	}
}

func TestCancelByTokenRemovesAllMatching(t *testing.T) {
	q := New(DefaultTransmissionParams(1000))
	s := &fakeSession{1}
	tok := []byte{1, 2, 3}
	q.Insert(&Node{T: 1, Session: s, Token: tok, MessageID: 1})
	q.Insert(&Node{T: 2, Session: s, Token: tok, MessageID: 2})
	q.Insert(&Node{T: 3, Session: s, Token: []byte{9}, MessageID: 3})

	removed := q.CancelByToken(s, tok)
	if len(removed) != 2 {
		t.Fatalf("removed %d want 2", len(removed))
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d want 1", q.Len())
	}
}
