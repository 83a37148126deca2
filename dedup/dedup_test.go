package dedup

import (
	"testing"

	"github.com/arcemit/coap/message"
	"github.com/arcemit/coap/message/codes"
)

func TestDuplicateWithinWindowReplaysFirstResponse(t *testing.T) {
	tbl := New(247000) // 247s at 1000 ticks/sec

	if _, dup := tbl.Observe(1, 0x1234, 0); dup {
		t.Fatalf("first delivery should not be a duplicate")
	}
	resp := &message.Message{Code: codes.Content, Payload: []byte("1234")}
	tbl.Remember(1, 0x1234, resp)

	cached, dup := tbl.Observe(1, 0x1234, 100)
	if !dup {
		t.Fatalf("second delivery within window should be a duplicate")
	}
	if cached != resp {
		t.Fatalf("expected the same cached response pointer")
	}
}

func TestDuplicateBeforeResponseGeneratedIsSilentlyDropped(t *testing.T) {
	tbl := New(247000)
	tbl.Observe(1, 1, 0)
	cached, dup := tbl.Observe(1, 1, 1)
	if !dup {
		t.Fatalf("expected duplicate")
	}
	if cached != nil {
		t.Fatalf("expected no cached response yet")
	}
}

func TestEntryExpiresAfterLifetime(t *testing.T) {
	tbl := New(100)
	tbl.Observe(1, 1, 0)
	if _, dup := tbl.Observe(1, 1, 150); dup {
		t.Fatalf("entry should have expired by tick 150")
	}
}

func TestPruneRemovesExpiredEntries(t *testing.T) {
	tbl := New(100)
	tbl.Observe(1, 1, 0)
	tbl.Observe(1, 2, 0)
	tbl.Prune(150)
	if tbl.Len() != 0 {
		t.Fatalf("Len() = %d want 0 after prune", tbl.Len())
	}
}

func TestDistinctSessionsDoNotCollide(t *testing.T) {
	tbl := New(247000)
	tbl.Observe(1, 1, 0)
	if _, dup := tbl.Observe(2, 1, 0); dup {
		t.Fatalf("same mid on a different session must not be treated as duplicate")
	}
}
