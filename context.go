package coap

import (
	"fmt"

	"github.com/arcemit/coap/block"
	"github.com/arcemit/coap/cache"
	"github.com/arcemit/coap/clock"
	"github.com/arcemit/coap/dedup"
	"github.com/arcemit/coap/event"
	"github.com/arcemit/coap/message"
	"github.com/arcemit/coap/message/codes"
	"github.com/arcemit/coap/metrics"
	coapnet "github.com/arcemit/coap/net"
	"github.com/arcemit/coap/resource"
	"github.com/arcemit/coap/session"
	"github.com/arcemit/coap/txqueue"
)

// SendTicket is the opaque handle returned by Send, per spec.md §9's Open
// Question decision: "the design chooses to make the send call consume
// the PDU and return an opaque send-ticket carrying the message id; no
// post-send access to the PDU is permitted." No field is exported for
// mutation; callers compare tickets or pass them back into Cancel.
type SendTicket struct {
	sessionID uint64
	messageID uint16
	token     message.Token
}

func (t SendTicket) String() string {
	return fmt.Sprintf("ticket(session=%d mid=%d token=%s)", t.sessionID, t.messageID, t.token)
}

// clientWait tracks a client-side response exchange by token (a Block2
// transfer or an Observe stream in progress). dispatchResponse creates it
// when the first response for a token arrives; Send does not create one.
type clientWait struct {
	ticket  SendTicket
	request *message.Message
	lastSeq uint32
	hasSeq  bool
}

type waitKey struct {
	session uint64
	token   string
}

// Context is a single cooperative-scheduler endpoint (spec.md §4.J): it
// owns one send queue, one dedup table, one block-wise engine, one
// request cache and one resource registry, and is driven exclusively by
// repeated calls to Process from a single goroutine (spec.md §5).
type Context struct {
	cfg    *Config
	driver coapnet.Driver

	sockets []*coapnet.Socket

	sessions      map[uint64]*session.Session
	sessionByPeer map[string]*session.Session
	nextSessionID uint64

	queue      *txqueue.Queue
	dedupTbl   *dedup.Table
	blockUp    *block.Engine // reassembles inbound Block1 (request bodies)
	blockDown  *block.Engine // reassembles inbound Block2 (response bodies, client side)
	requestCache *cache.Cache
	resources  *resource.Registry

	metrics *metrics.Metrics

	waiting map[waitKey]*clientWait

	criticalOptions *message.Filter

	secHandles secureSessions

	lastTick clock.Tick
}

// NewContext constructs a Context bound to driver, dispatching server
// requests through resources and client responses through cfg.Handlers.
// resources may be nil for a pure client context.
func NewContext(cfg *Config, driver coapnet.Driver, resources *resource.Registry) *Context {
	if cfg == nil {
		cfg = NewConfig()
	}
	if resources == nil {
		resources = resource.NewRegistry()
	}
	return &Context{
		cfg:           cfg,
		driver:        driver,
		sessions:      make(map[uint64]*session.Session),
		sessionByPeer: make(map[string]*session.Session),
		queue:         txqueue.New(cfg.Transmission),
		dedupTbl:      dedup.New(cfg.ExchangeLifetime),
		blockUp:       block.NewEngine(cfg.BlockwiseStageBytes),
		blockDown:     block.NewEngine(cfg.BlockwiseStageBytes),
		requestCache:  cache.New(cfg.CacheIgnore),
		resources:     resources,
		waiting:       make(map[waitKey]*clientWait),
	}
}

// WithMetrics installs a metrics sink; nil disables metrics (the default).
func (c *Context) WithMetrics(m *metrics.Metrics) *Context {
	c.metrics = m
	return c
}

// Resources returns the server-side resource registry, for Register calls
// before the first Process.
func (c *Context) Resources() *resource.Registry { return c.resources }

// AddSocket registers a transport socket with the I/O driver (spec.md
// §4.C/§4.J).
func (c *Context) AddSocket(s *coapnet.Socket) {
	c.sockets = append(c.sockets, s)
	c.driver.Register(s)
}

// newSessionID allocates a context-unique session identity.
func (c *Context) newSessionID() uint64 {
	c.nextSessionID++
	return c.nextSessionID
}

// Session returns (creating if necessary) the session for a given kind +
// peer address, the unit of identity spec.md §4.D describes.
func (c *Context) Session(kind coapnet.Kind, remote coapnet.PeerAddr) *session.Session {
	key := remote.String()
	if s, ok := c.sessionByPeer[key]; ok {
		return s
	}
	s := session.New(session.Config{
		ID:                 c.newSessionID(),
		Kind:               kind,
		Remote:             remote,
		TransmissionParams: c.cfg.Transmission,
		TokenLength:        c.cfg.TokenLength,
		SessionTimeout:     c.cfg.SessionTimeout,
		PingTimeout:        c.cfg.PingTimeout,
	})
	s.SetState(session.StateEstablished)
	c.sessions[s.ID()] = s
	c.sessionByPeer[key] = s
	return s
}

// closeSession tears a session down and cancels every queue entry still
// outstanding for it, raising NACK_CANCELLED on each (spec.md §5
// cancel_session_messages).
func (c *Context) closeSession(s *session.Session, ev event.SessionEvent) {
	for _, n := range c.queue.CancelSession(s) {
		c.nack(s, n, event.NackCancelled)
	}
	delete(c.sessions, s.ID())
	delete(c.sessionByPeer, s.Remote.String())
	if c.cfg.Handlers.OnEvent != nil {
		c.cfg.Handlers.OnEvent(s.ID(), ev)
	}
}

func (c *Context) findSocket(kind coapnet.Kind) *coapnet.Socket {
	for _, s := range c.sockets {
		if s.Kind == kind {
			return s
		}
	}
	return nil
}

func (c *Context) encode(s *session.Session, m *message.Message) ([]byte, error) {
	if s.Kind.IsDatagram() {
		return message.EncodeUDP(m)
	}
	return message.EncodeTCP(m)
}

// Send transmits m to s, enqueuing it for retransmission if Confirmable
// (spec.md §4.E). Zero-valued MessageID/Token fields are populated from
// the session's generators. Per spec.md §9, Send consumes m: the caller
// must not touch it again, and gets back only the opaque SendTicket.
func (c *Context) Send(s *session.Session, m *message.Message) (SendTicket, error) {
	if s.Kind.IsDatagram() && m.MessageID == 0 {
		m.MessageID = s.NewMessageID()
	}
	if m.Token == nil && m.Code != codes.Empty {
		m.Token = s.NewToken()
	}
	ticket := SendTicket{sessionID: s.ID(), messageID: m.MessageID, token: m.Token}

	buf, err := c.encode(s, m)
	if err != nil {
		return ticket, fmt.Errorf("coap: encoding outbound PDU: %w", err)
	}

	sock := c.findSocket(s.Kind)
	if sock == nil {
		return ticket, fmt.Errorf("coap: no socket registered for transport kind %s", s.Kind)
	}
	if _, err := sock.Send(s.Remote.Remote, buf); err != nil {
		return ticket, fmt.Errorf("coap: sending PDU: %w", err)
	}
	s.Touch(c.lastTick)

	if m.Type == message.Confirmable {
		t0 := c.queue.InitialTimeout()
		c.queue.Insert(&txqueue.Node{
			T:              t0,
			CurrentTimeout: t0,
			Session:        s,
			MessageID:      m.MessageID,
			Token:          m.Token,
			PDU:            m,
		})
	}
	if c.metrics != nil {
		c.metrics.SetSendQueueDepth(c.queue.Len())
	}
	return ticket, nil
}

// Cancel withdraws every pending CON carrying token on s and raises
// NACK_CANCELLED on each, per spec.md §5's cancel_all_messages semantics
// ("drops all queued transmissions sharing token and invokes NACK with
// reason CANCELLED").
func (c *Context) Cancel(s *session.Session, token message.Token) {
	for _, n := range c.queue.CancelByToken(s, token) {
		c.nack(s, n, event.NackCancelled)
	}
	if c.metrics != nil {
		c.metrics.SetSendQueueDepth(c.queue.Len())
	}
}

func (c *Context) nack(s *session.Session, n *txqueue.Node, reason event.NackReason) {
	if c.metrics != nil {
		c.metrics.IncNack(reason.String())
	}
	if c.cfg.Handlers.OnNACK != nil {
		c.cfg.Handlers.OnNACK(SendTicket{sessionID: s.ID(), messageID: n.MessageID, token: n.Token}, reason)
	}
	delete(c.waiting, waitKey{session: s.ID(), token: string(n.Token)})
}

func (c *Context) logf(format string, args ...interface{}) {
	c.cfg.Logger.Printf(format, args...)
}

func (c *Context) reportError(err error) {
	c.logf("coap: %v", err)
	if c.cfg.Handlers.OnError != nil {
		c.cfg.Handlers.OnError(err)
	}
}

// sessionCount is exposed for metrics/tests.
func (c *Context) sessionCount() int { return len(c.sessions) }
