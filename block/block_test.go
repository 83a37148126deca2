package block

import (
	"bytes"
	"testing"

	"github.com/arcemit/coap/message"
)

func TestSplitPayloadBlock2SZX6(t *testing.T) {
	// spec.md §8 scenario 4: 2048-byte payload, szx=6 (1024 bytes/block).
	payload := bytes.Repeat([]byte{0xab}, 2048)

	chunk0, more0, err := SplitPayload(payload, 0, 6)
	if err != nil {
		t.Fatalf("SplitPayload(0): %v", err)
	}
	if len(chunk0) != 1024 || !more0 {
		t.Fatalf("block 0: len=%d more=%v want len=1024 more=true", len(chunk0), more0)
	}

	chunk1, more1, err := SplitPayload(payload, 1, 6)
	if err != nil {
		t.Fatalf("SplitPayload(1): %v", err)
	}
	if len(chunk1) != 1024 || more1 {
		t.Fatalf("block 1: len=%d more=%v want len=1024 more=false", len(chunk1), more1)
	}

	if NumBlocks(len(payload), 6) != 2 {
		t.Fatalf("NumBlocks = %d want 2", NumBlocks(len(payload), 6))
	}
}

func TestEngineAssemblesInOrderBlocks(t *testing.T) {
	e := NewEngine(0)
	payload := bytes.Repeat([]byte{0xcd}, 2048)
	token := message.Token{1, 2, 3}

	c0, _, _ := SplitPayload(payload, 0, 6)
	_, complete, err := e.Accept(1, token, message.Block2, message.BlockValue{Num: 0, More: true, SZX: 6}, c0)
	if err != nil || complete {
		t.Fatalf("first block: complete=%v err=%v", complete, err)
	}

	c1, _, _ := SplitPayload(payload, 1, 6)
	full, complete, err := e.Accept(1, token, message.Block2, message.BlockValue{Num: 1, More: false, SZX: 6}, c1)
	if err != nil {
		t.Fatalf("second block: %v", err)
	}
	if !complete {
		t.Fatalf("expected completion on final block")
	}
	if !bytes.Equal(full, payload) {
		t.Fatalf("reassembled payload mismatch, got %d bytes want %d", len(full), len(payload))
	}
	if e.Pending() != 0 {
		t.Fatalf("accumulator should be discarded after completion")
	}
}

func TestEngineRejectsOutOfOrderBlocks(t *testing.T) {
	e := NewEngine(0)
	token := message.Token{9}
	_, _, err := e.Accept(1, token, message.Block1, message.BlockValue{Num: 1, More: true, SZX: 6}, []byte("x"))
	if err != ErrOutOfOrder {
		t.Fatalf("got %v want ErrOutOfOrder", err)
	}

	// start a legitimate transfer, then skip a block number
	e.Accept(1, token, message.Block1, message.BlockValue{Num: 0, More: true, SZX: 6}, []byte("a"))
	_, _, err = e.Accept(1, token, message.Block1, message.BlockValue{Num: 2, More: true, SZX: 6}, []byte("b"))
	if err != ErrOutOfOrder {
		t.Fatalf("got %v want ErrOutOfOrder", err)
	}
}

func TestEngineRestartsWithFreshToken(t *testing.T) {
	e := NewEngine(0)
	tokenA := message.Token{1}
	tokenB := message.Token{2}

	e.Accept(1, tokenA, message.Block1, message.BlockValue{Num: 0, More: true, SZX: 6}, []byte("a"))
	// a different token is a brand new accumulator, not confused with tokenA's.
	_, complete, err := e.Accept(1, tokenB, message.Block1, message.BlockValue{Num: 0, More: false, SZX: 6}, []byte("b"))
	if err != nil || !complete {
		t.Fatalf("expected fresh accumulator to complete, err=%v complete=%v", err, complete)
	}
	if e.Pending() != 1 { // tokenA's transfer is still open
		t.Fatalf("Pending() = %d want 1", e.Pending())
	}
}

func TestEngineRejectsSZXUpgrade(t *testing.T) {
	e := NewEngine(0)
	token := message.Token{5}
	e.Accept(1, token, message.Block2, message.BlockValue{Num: 0, More: true, SZX: 2}, []byte("a"))
	_, _, err := e.Accept(1, token, message.Block2, message.BlockValue{Num: 1, More: true, SZX: 4}, []byte("b"))
	if err != ErrBlockUpgrade {
		t.Fatalf("got %v want ErrBlockUpgrade", err)
	}
}

func TestEngineResourceBusyWhenStagingExceedsLimit(t *testing.T) {
	e := NewEngine(4)
	token := message.Token{7}
	_, _, err := e.Accept(1, token, message.Block1, message.BlockValue{Num: 0, More: true, SZX: 6}, []byte("12345"))
	if err != ErrResourceBusy {
		t.Fatalf("got %v want ErrResourceBusy", err)
	}
}
