// Package dtls implements security.Provider on top of pion/dtls/v2, the
// DTLS library the teacher repo's cmd/proxy and cmd/coap tools already
// depend on (as piondtls.Config/Client/Server).
//
// pion's Client/Server block until the handshake completes, driving I/O
// through a net.Conn. The CORE scheduler instead wants a non-blocking
// handshake_step it can call from process(timeout_ms) alongside every
// other socket. This package bridges the two: each Handle runs pion's
// blocking handshake in its own goroutine against an in-memory pipeConn,
// and HandshakeStep feeds/drains that pipe's buffers without blocking the
// caller.
package dtls

import (
	"errors"
	"net"
	"sync"
	"time"

	piondtls "github.com/pion/dtls/v2"

	"github.com/arcemit/coap/clock"
	coapnet "github.com/arcemit/coap/net"
	"github.com/arcemit/coap/security"
)

// pipeConn adapts the push/drain shape HandshakeStep needs onto the
// net.Conn shape pion/dtls/v2 expects. It never touches a real socket;
// the CORE's own transport layer is the one doing actual I/O.
type pipeConn struct {
	mu      sync.Mutex
	inQueue [][]byte
	wake    chan struct{}

	outMu  sync.Mutex
	outBuf []byte

	closed  bool
	closeCh chan struct{}
}

var _ net.Conn = (*pipeConn)(nil)

func newPipeConn() *pipeConn {
	return &pipeConn{wake: make(chan struct{}, 1), closeCh: make(chan struct{})}
}

// push makes inbound ciphertext available to the next Read call.
func (p *pipeConn) push(b []byte) {
	if len(b) == 0 {
		return
	}
	cp := append([]byte(nil), b...)
	p.mu.Lock()
	p.inQueue = append(p.inQueue, cp)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *pipeConn) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if len(p.inQueue) > 0 {
			chunk := p.inQueue[0]
			n := copy(b, chunk)
			if n < len(chunk) {
				p.inQueue[0] = chunk[n:]
			} else {
				p.inQueue = p.inQueue[1:]
			}
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()
		select {
		case <-p.wake:
			continue
		case <-p.closeCh:
			return 0, errors.New("coap/dtls: pipe closed")
		}
	}
}

func (p *pipeConn) Write(b []byte) (int, error) {
	p.outMu.Lock()
	p.outBuf = append(p.outBuf, b...)
	p.outMu.Unlock()
	return len(b), nil
}

// drain returns and clears whatever bytes pion has queued to send since
// the last drain.
func (p *pipeConn) drain() []byte {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	if len(p.outBuf) == 0 {
		return nil
	}
	out := p.outBuf
	p.outBuf = nil
	return out
}

func (p *pipeConn) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.closeCh)
	}
	p.mu.Unlock()
	return nil
}

func (p *pipeConn) LocalAddr() net.Addr  { return pipeAddr{} }
func (p *pipeConn) RemoteAddr() net.Addr { return pipeAddr{} }

// SetDeadline and friends are no-ops: the pipe never blocks on a real
// network round trip, so pion's deadline-based retransmit logic has
// nothing to time out against here (see Handle.GetTimeout).
func (p *pipeConn) SetDeadline(t time.Time) error      { return nil }
func (p *pipeConn) SetReadDeadline(t time.Time) error  { return nil }
func (p *pipeConn) SetWriteDeadline(t time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "coap-dtls-pipe" }
func (pipeAddr) String() string  { return "coap-dtls-pipe" }

type handshakeResult struct {
	conn *piondtls.Conn
	err  error
}

// handle implements security.Handle around one pion/dtls/v2 connection.
type handle struct {
	pipe     *pipeConn
	resultCh chan handshakeResult
	conn     *piondtls.Conn
}

func newHandle(isClient bool, cfg *piondtls.Config) *handle {
	h := &handle{pipe: newPipeConn(), resultCh: make(chan handshakeResult, 1)}
	go func() {
		var conn *piondtls.Conn
		var err error
		if isClient {
			conn, err = piondtls.Client(h.pipe, cfg)
		} else {
			conn, err = piondtls.Server(h.pipe, cfg)
		}
		h.resultCh <- handshakeResult{conn: conn, err: err}
	}()
	return h
}

// HandshakeStep implements security.Handle. inbound is fed to pion's side
// of the pipe; whatever pion queued to send in response is drained and
// returned as outbound.
func (h *handle) HandshakeStep(inbound []byte) (outbound []byte, status security.StepStatus, kind security.FailureKind) {
	h.pipe.push(inbound)

	if h.conn != nil {
		return h.pipe.drain(), security.Done, 0
	}

	select {
	case res := <-h.resultCh:
		if res.err != nil {
			return h.pipe.drain(), security.Failed, security.FailureProtocol
		}
		h.conn = res.conn
		return h.pipe.drain(), security.Done, 0
	default:
	}

	if out := h.pipe.drain(); out != nil {
		return out, security.WantRead, 0
	}
	return nil, security.WantRead, 0
}

// Encrypt implements security.Handle by round-tripping plain through the
// established pion connection's record layer.
func (h *handle) Encrypt(plain []byte) ([]byte, error) {
	if h.conn == nil {
		return nil, errors.New("coap/dtls: handshake not complete")
	}
	if _, err := h.conn.Write(plain); err != nil {
		return nil, err
	}
	return h.pipe.drain(), nil
}

// Decrypt implements security.Handle: cipher is pushed into the pipe and
// read back out through the DTLS record layer as plaintext.
func (h *handle) Decrypt(cipher []byte) ([]byte, error) {
	if h.conn == nil {
		return nil, errors.New("coap/dtls: handshake not complete")
	}
	h.pipe.push(cipher)
	buf := make([]byte, 16384)
	n, err := h.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (h *handle) Close() error {
	h.pipe.Close()
	if h.conn != nil {
		return h.conn.Close()
	}
	return nil
}

// GetTimeout always reports 0: this adapter's pipe never blocks pion on a
// real network round trip, so pion's own flight-retransmit timers never
// have anything to wait on. A provider backed by a real non-blocking DTLS
// stack would report its next retransmit tick here instead.
func (h *handle) GetTimeout() clock.Tick { return 0 }

// Provider implements security.Provider on pion/dtls/v2.
type Provider struct {
	base piondtls.Config
}

// New builds a Provider from a base pion/dtls/v2 configuration (ciphers,
// certificates, InsecureSkipVerify, KeyLogWriter) shared across sessions.
func New(base piondtls.Config) *Provider {
	return &Provider{base: base}
}

func (p *Provider) configFor(psk security.PSKCallbacks, isClient bool) piondtls.Config {
	cfg := p.base
	if isClient && psk.GetClientPSK != nil {
		cfg.PSK = func(hint []byte) ([]byte, error) { return psk.GetClientPSK(hint) }
	}
	if !isClient && psk.GetServerPSK != nil {
		cfg.PSK = func(hint []byte) ([]byte, error) { return psk.GetServerPSK(hint) }
	}
	if !isClient && psk.GetServerHint != nil {
		cfg.PSKIdentityHint = psk.GetServerHint()
	}
	return cfg
}

// NewClientSession implements security.Provider.
func (p *Provider) NewClientSession(remote coapnet.PeerAddr, credential interface{}, psk security.PSKCallbacks) (security.Handle, error) {
	cfg := p.configFor(psk, true)
	if identity, ok := credential.([]byte); ok {
		cfg.PSKIdentityHint = identity
	}
	return newHandle(true, &cfg), nil
}

// NewServerSession implements security.Provider.
func (p *Provider) NewServerSession(peer coapnet.PeerAddr, credential interface{}, psk security.PSKCallbacks) (security.Handle, error) {
	cfg := p.configFor(psk, false)
	return newHandle(false, &cfg), nil
}
