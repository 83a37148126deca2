// Package block implements spec.md §4.G: splitting outbound payloads that
// exceed the negotiated block size into Block1/Block2 pieces, and
// reassembling inbound block sequences keyed by (session, token, option
// kind).
package block

import (
	"errors"
	"fmt"

	"github.com/dsnet/golib/memfile"

	"github.com/arcemit/coap/message"
)

// ErrOutOfOrder corresponds to spec.md §4.G: "Out-of-order NUMs are
// rejected with 4.08 Request Entity Incomplete".
var ErrOutOfOrder = errors.New("coap: out-of-order block number")

// ErrResourceBusy corresponds to spec.md §7 ResourceBusy: the staging
// buffer is full.
var ErrResourceBusy = errors.New("coap: block-wise staging buffer full")

// ErrBlockUpgrade rejects a block whose SZX is larger than a previously
// seen one for the same transfer: spec.md §4.G: "it never upgrades
// mid-transfer".
var ErrBlockUpgrade = errors.New("coap: block size increased mid-transfer")

// SplitPayload returns the chunk of payload for block number num at size
// exponent szx, and whether more blocks follow.
func SplitPayload(payload []byte, num uint32, szx uint8) (chunk []byte, more bool, err error) {
	size := message.BlockValue{SZX: szx}.Size()
	start := int(num) * size
	if start > len(payload) {
		return nil, false, fmt.Errorf("coap: block number %d past end of payload", num)
	}
	end := start + size
	if end >= len(payload) {
		return payload[start:], false, nil
	}
	return payload[start:end], true, nil
}

// NumBlocks returns how many blocks of size 2^(szx+4) payload splits into.
func NumBlocks(payloadLen int, szx uint8) uint32 {
	size := message.BlockValue{SZX: szx}.Size()
	n := payloadLen / size
	if payloadLen%size != 0 || payloadLen == 0 {
		n++
	}
	return uint32(n)
}

// key identifies one in-flight inbound block sequence.
type key struct {
	session uint64
	token   string
	kind    message.OptionNumber // Block1 or Block2
}

// accumulator is the staging buffer for a single in-flight reassembly,
// backed by an in-memory random-access file (dsnet/golib/memfile) rather
// than a growable slice, so ResourceBusy can be raised from a bounded
// allocation instead of letting a single malicious/broken peer grow memory
// without limit.
type accumulator struct {
	buf         *memfile.File
	expectedNum uint32
	szx         uint8
	szxPinned   bool
	written     int
}

// Engine reassembles inbound block-wise transfers, per spec.md §4.G.
type Engine struct {
	maxStagingBytes int
	accumulators    map[key]*accumulator
}

// NewEngine creates a reassembly Engine. maxStagingBytes bounds any single
// transfer's staging buffer; a transfer exceeding it fails with
// ErrResourceBusy.
func NewEngine(maxStagingBytes int) *Engine {
	if maxStagingBytes <= 0 {
		maxStagingBytes = 1 << 20 // 1 MiB default ceiling
	}
	return &Engine{maxStagingBytes: maxStagingBytes, accumulators: make(map[key]*accumulator)}
}

// Accept feeds one inbound block into the reassembly for (sessionID,
// token, kind). On the final block (More == false) it returns the
// complete, concatenated payload and complete=true; the accumulator is
// then discarded. A fresh token always starts a new accumulator
// (spec.md §4.G: "The engine is restartable").
func (e *Engine) Accept(sessionID uint64, token message.Token, kind message.OptionNumber, blk message.BlockValue, chunk []byte) (payload []byte, complete bool, err error) {
	k := key{session: sessionID, token: string(token), kind: kind}
	acc, ok := e.accumulators[k]
	if !ok {
		if blk.Num != 0 {
			return nil, false, ErrOutOfOrder
		}
		acc = &accumulator{buf: memfile.New(nil), szx: blk.SZX}
		e.accumulators[k] = acc
	}

	if blk.Num != acc.expectedNum {
		delete(e.accumulators, k)
		return nil, false, ErrOutOfOrder
	}
	if acc.szxPinned && blk.SZX > acc.szx {
		delete(e.accumulators, k)
		return nil, false, ErrBlockUpgrade
	}
	acc.szx = blk.SZX // downgrade allowed, recorded unconditionally
	acc.szxPinned = true

	if acc.written+len(chunk) > e.maxStagingBytes {
		delete(e.accumulators, k)
		return nil, false, ErrResourceBusy
	}

	offset := int64(acc.expectedNum) * int64(blk.Size())
	if _, werr := acc.buf.WriteAt(chunk, offset); werr != nil {
		delete(e.accumulators, k)
		return nil, false, fmt.Errorf("coap: writing block to staging buffer: %w", werr)
	}
	acc.written += len(chunk)
	acc.expectedNum++

	if blk.More {
		return nil, false, nil
	}

	full := make([]byte, acc.written)
	if _, rerr := acc.buf.ReadAt(full, 0); rerr != nil {
		delete(e.accumulators, k)
		return nil, false, fmt.Errorf("coap: reading staging buffer: %w", rerr)
	}
	delete(e.accumulators, k)
	return full, true, nil
}

// Abandon discards any in-flight accumulator for (sessionID, token, kind),
// e.g. when the surrounding exchange is cancelled.
func (e *Engine) Abandon(sessionID uint64, token message.Token, kind message.OptionNumber) {
	delete(e.accumulators, key{session: sessionID, token: string(token), kind: kind})
}

// Pending reports how many reassemblies are currently in flight, for
// metrics/tests.
func (e *Engine) Pending() int { return len(e.accumulators) }
