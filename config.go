// Package coap wires the PDU codec, session, send-queue, reliability,
// block-wise, resource/observer and cache components into the scheduler
// described in spec.md §4.J: a single cooperative event loop per endpoint,
// driven by repeated calls to (*Context).Process.
package coap

import (
	"time"

	"github.com/rs/xid"

	"github.com/arcemit/coap/clock"
	"github.com/arcemit/coap/event"
	"github.com/arcemit/coap/message"
	coapnet "github.com/arcemit/coap/net"
	"github.com/arcemit/coap/security"
	"github.com/arcemit/coap/txqueue"
)

// Logger is the optional debug/event sink, matching the teacher's
// Logger interface (coap_http.go): "entirely optional, in which case
// errors are silent."
type Logger interface {
	Printf(format string, v ...interface{})
}

// nopLogger discards everything; used when Config.Logger is nil so call
// sites never need a nil check.
type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}

// Handlers bundles the context's callback table (spec.md §9: "Callback
// pointers in context (response/NACK/ping/pong/event) become variants of
// a handler trait or a polymorphic dispatch table; the context owns the
// handlers by value, not by address").
type Handlers struct {
	// OnResponse fires once per completed exchange: a piggybacked ACK
	// carrying a response, or a separate response PDU matched to a
	// client request by token.
	OnResponse func(ticket SendTicket, resp *message.Message)
	// OnNACK fires when a pending CON is abandoned: retransmit
	// exhaustion, peer RST, explicit cancel, or TLS/ICMP failure
	// (spec.md §4.E/§4.F/§7).
	OnNACK func(ticket SendTicket, reason event.NackReason)
	// OnPing fires when this endpoint receives an Empty CON and has
	// replied with an Empty RST (spec.md §8 scenario 1).
	OnPing func(peer coapnet.PeerAddr)
	// OnPong fires when an Empty CON this endpoint sent for keepalive
	// purposes is answered with an Empty RST.
	OnPong func(peer coapnet.PeerAddr)
	// OnEvent fires on session lifecycle transitions (spec.md §4.D).
	OnEvent func(sessionID uint64, ev event.SessionEvent)
	// OnError fires for recovered errors the policy in spec.md §7 says
	// to "drop and log via event handler" (malformed PDUs, unknown
	// critical options on responses, cache-build failures).
	OnError func(err error)
}

// Config bundles a Context's construction-time parameters, built with
// functional options in the shape of the teacher's
// dtls.NewServer(dtls.WithHandlerFunc(...), dtls.WithBlockwise(...))
// call (cmd/proxy/proxy.go).
type Config struct {
	Logger Logger

	TickSource clock.Source

	Transmission txqueue.TransmissionParams

	TokenLength    int
	SessionTimeout clock.Tick
	PingTimeout    clock.Tick

	ExchangeLifetime clock.Tick

	BlockwiseEnabled    bool
	BlockwiseMaxSZX     uint8
	BlockwiseStageBytes int
	WaitBeforeACK       clock.Tick

	CacheIgnore *message.Filter

	Security security.Provider
	// ServerCredential is handed to Provider.NewServerSession verbatim for
	// every inbound handshake this context accepts (a certificate
	// configuration, or nil for PSK-only setups).
	ServerCredential interface{}
	// PSK supplies the pre-shared-key callbacks (spec.md §6) used for
	// every inbound handshake this context accepts.
	PSK security.PSKCallbacks

	Handlers Handlers

	// NewCorrelationID names a fresh per-request trace id, defaulting to
	// xid.New().String(), the way request-scoped ids are minted in
	// logging middleware across the pack. Exposed so tests can swap it
	// in for determinism.
	NewCorrelationID func() string

	// durations are staged in raw time.Duration form by the With*
	// options below and resolved to Ticks once TickSource is known, so
	// every Tick-typed field above is ready to use the moment NewConfig
	// returns.
	pingTimeoutDuration    time.Duration
	sessionTimeoutDuration time.Duration
	waitBeforeACKDuration  time.Duration
}

// Option configures a Config, mirroring the teacher's dtls.Option call
// shape.
type Option func(*Config)

// WithLogger sets the optional debug logger.
func WithLogger(l Logger) Option { return func(c *Config) { c.Logger = l } }

// WithTickSource overrides the monotonic tick source (spec.md §6; default
// is a real wall-clock source at 1000 ticks/sec if never set).
func WithTickSource(s clock.Source) Option { return func(c *Config) { c.TickSource = s } }

// WithTransmission overrides the CON retransmission parameters
// (spec.md §3); DefaultTransmissionParams at the chosen tick rate is
// used otherwise.
func WithTransmission(p txqueue.TransmissionParams) Option {
	return func(c *Config) { c.Transmission = p }
}

// WithKeepAlive sets the per-session ping timeout; 0 (the default)
// disables keepalive probing (spec.md §4.D).
func WithKeepAlive(pingTimeout time.Duration) Option {
	return func(c *Config) { c.pingTimeoutDuration = pingTimeout }
}

// WithSessionTimeout sets the inactivity window before an established
// session transitions to CLOSING then DISCONNECTED (spec.md §4.D).
func WithSessionTimeout(d time.Duration) Option {
	return func(c *Config) { c.sessionTimeoutDuration = d }
}

// WithBlockwise enables block-wise transfer with the given maximum SZX
// and staging-buffer ceiling per in-flight transfer (spec.md §4.G),
// matching the teacher's
// dtls.WithBlockwise(true, blockwise.SZX1024, 2*time.Minute) call shape.
func WithBlockwise(enabled bool, maxSZX uint8, stageBytes int) Option {
	return func(c *Config) {
		c.BlockwiseEnabled = enabled
		c.BlockwiseMaxSZX = maxSZX
		c.BlockwiseStageBytes = stageBytes
	}
}

// WithWaitBeforeACK sets Config.WaitBeforeACK (default 2s). The scheduler
// does not read this value: Process runs each server handler to
// completion and sends its result piggybacked on the ACK; no separate
// empty ACK is sent while a handler runs.
func WithWaitBeforeACK(d time.Duration) Option {
	return func(c *Config) { c.waitBeforeACKDuration = d }
}

// WithCacheIgnore sets which option numbers are excluded from the
// request-cache fingerprint beyond the built-in NoCacheKey class
// (spec.md §4.I).
func WithCacheIgnore(f *message.Filter) Option { return func(c *Config) { c.CacheIgnore = f } }

// WithSecurity installs the DTLS/TLS provider (spec.md §6); nil (the
// default) means only plaintext UDP/TCP sessions may be created.
func WithSecurity(p security.Provider) Option { return func(c *Config) { c.Security = p } }

// WithServerCredential sets the credential blob passed to
// Provider.NewServerSession for every inbound handshake this context
// accepts (a certificate configuration, or nil for PSK-only setups).
func WithServerCredential(credential interface{}) Option {
	return func(c *Config) { c.ServerCredential = credential }
}

// WithPSK installs the pre-shared-key callbacks (spec.md §6) used for
// every inbound handshake this context accepts.
func WithPSK(psk security.PSKCallbacks) Option { return func(c *Config) { c.PSK = psk } }

// WithHandlers installs the context's response/NACK/ping/pong/event/error
// dispatch table (spec.md §9).
func WithHandlers(h Handlers) Option { return func(c *Config) { c.Handlers = h } }

// WithTokenLength overrides the default 8-byte client token length
// (spec.md §4.D).
func WithTokenLength(n int) Option { return func(c *Config) { c.TokenLength = n } }

// WithCorrelationIDFunc overrides how fresh trace/correlation ids are
// minted; defaults to xid.New().String().
func WithCorrelationIDFunc(f func() string) Option {
	return func(c *Config) { c.NewCorrelationID = f }
}

// NewConfig builds a Config from functional options, defaulting every
// field spec.md §3 gives a default for.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		Logger:              nopLogger{},
		TickSource:          clock.NewReal(1000),
		TokenLength:         message.MaxTokenSize,
		BlockwiseMaxSZX:     6, // 1024 bytes, RFC 7959's largest SZX
		BlockwiseStageBytes: 1 << 20,
		NewCorrelationID:    func() string { return xid.New().String() },
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	if cfg.NewCorrelationID == nil {
		cfg.NewCorrelationID = func() string { return xid.New().String() }
	}
	rate := cfg.TickSource.Rate()
	if cfg.Transmission == (txqueue.TransmissionParams{}) {
		cfg.Transmission = txqueue.DefaultTransmissionParams(rate)
	}
	if cfg.ExchangeLifetime == 0 {
		cfg.ExchangeLifetime = clock.FromDuration(247*time.Second, rate)
	}
	if cfg.pingTimeoutDuration > 0 {
		cfg.PingTimeout = clock.FromDuration(cfg.pingTimeoutDuration, rate)
	}
	if cfg.sessionTimeoutDuration > 0 {
		cfg.SessionTimeout = clock.FromDuration(cfg.sessionTimeoutDuration, rate)
	}
	if cfg.waitBeforeACKDuration > 0 {
		cfg.WaitBeforeACK = clock.FromDuration(cfg.waitBeforeACKDuration, rate)
	} else {
		cfg.WaitBeforeACK = clock.FromDuration(2*time.Second, rate)
	}
	return cfg
}
