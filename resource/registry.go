// Package resource implements spec.md §4.H: the server-side resource
// tree, method dispatch, .well-known/core discovery, and observe
// subscriptions (the latter in observe.go).
package resource

import (
	"sort"
	"strings"

	"github.com/arcemit/coap/message"
	"github.com/arcemit/coap/message/codes"
)

// HandlerFunc answers one request for a resource with a given method. req
// is the (already block-reassembled) request PDU; the returned Message is
// the response payload/options the caller should send back, wrapped in a
// CON/ACK/NON envelope by the scheduler.
type HandlerFunc func(req *message.Message) (*message.Message, error)

// Attribute is one Link-Format parameter, e.g. rt="temperature" or if="sensor".
type Attribute struct {
	Key   string
	Value string
}

// Resource is one entry in the flat URI-path-keyed set from spec.md §4.H.
type Resource struct {
	Path         string
	Observable   bool
	Discoverable bool
	Attributes   []Attribute
	Handlers     map[codes.Code]HandlerFunc

	subs *subscriptionList
}

// Link renders this resource's Link-Format tuple, e.g.
// `</sensors/temp>;obs;rt="temperature"`.
func (r *Resource) Link() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteByte('/')
	b.WriteString(strings.TrimPrefix(r.Path, "/"))
	b.WriteByte('>')
	if r.Observable {
		b.WriteString(";obs")
	}
	for _, a := range r.Attributes {
		b.WriteByte(';')
		b.WriteString(a.Key)
		if a.Value != "" {
			b.WriteString(`="`)
			b.WriteString(a.Value)
			b.WriteByte('"')
		}
	}
	return b.String()
}

// Registry is the server-side resource tree from spec.md §4.H: a flat set
// keyed by exact URI-path match, plus an "unknown-URI" wildcard handler and
// a "proxy-URI" wildcard handler.
type Registry struct {
	byPath  map[string]*Resource
	unknown HandlerFunc
	proxy   HandlerFunc
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byPath: make(map[string]*Resource)}
}

// Register adds or replaces a resource at its Path, normalized to start
// with "/" and have no trailing slash (except the root).
func (reg *Registry) Register(r *Resource) {
	r.Path = normalizePath(r.Path)
	if r.subs == nil {
		r.subs = newSubscriptionList()
	}
	reg.byPath[r.Path] = r
}

// Unregister removes the resource at path, if any, dropping its subscriptions.
func (reg *Registry) Unregister(path string) {
	delete(reg.byPath, normalizePath(path))
}

// SetUnknownHandler installs the wildcard handler used when no exact-path
// resource matches (spec.md §4.H dispatch order: exact-path -> unknown ->
// proxy -> 4.04).
func (reg *Registry) SetUnknownHandler(h HandlerFunc) { reg.unknown = h }

// SetProxyHandler installs the wildcard proxy-URI handler, tried after the
// unknown handler declines (or is absent).
func (reg *Registry) SetProxyHandler(h HandlerFunc) { reg.proxy = h }

// Lookup returns the resource registered at path, if any.
func (reg *Registry) Lookup(path string) (*Resource, bool) {
	r, ok := reg.byPath[normalizePath(path)]
	return r, ok
}

// SessionHasSubscriptions reports whether sessionID holds any Observe
// registration on any resource in the registry, feeding the scheduler's
// inactivity check (spec.md §4.D): an observer is outstanding work even
// while silent between notifications.
func (reg *Registry) SessionHasSubscriptions(sessionID uint64) bool {
	for _, r := range reg.byPath {
		for _, sub := range r.Subscriptions() {
			if sub.SessionID == sessionID {
				return true
			}
		}
	}
	return false
}

// Dispatch routes req per spec.md §4.H's order: exact-path match first (by
// method handler on that resource); if no resource matches, the unknown
// handler; if that declines (returns nil, nil) or is unset, the proxy
// handler; if that also declines, a 4.04 Not Found.
func (reg *Registry) Dispatch(req *message.Message) (*message.Message, error) {
	path := req.Options.Path()

	if path == "/.well-known/core" && req.Code == codes.GET {
		return reg.wellKnownCore(req), nil
	}

	if r, ok := reg.byPath[normalizePath(path)]; ok {
		if h, ok := r.Handlers[req.Code]; ok {
			return h(req)
		}
		return notFound(req, codes.MethodNotAllowed), nil
	}

	if reg.unknown != nil {
		resp, err := reg.unknown(req)
		if err != nil || resp != nil {
			return resp, err
		}
	}

	if reg.proxy != nil {
		resp, err := reg.proxy(req)
		if err != nil || resp != nil {
			return resp, err
		}
	}

	return notFound(req, codes.NotFound), nil
}

func notFound(req *message.Message, code codes.Code) *message.Message {
	return &message.Message{Type: ackTypeFor(req), Code: code, Token: req.Token, MessageID: req.MessageID}
}

func ackTypeFor(req *message.Message) message.Type {
	if req.Type == message.Confirmable {
		return message.Acknowledgement
	}
	return message.NonConfirmable
}

// wellKnownCore synthesizes the Link-Format discovery document listing
// every Discoverable resource, per spec.md §4.H. It is resynthesized on
// every call; the scheduler's request cache (package cache) is what
// spares repeat callers the cost, not an internal cache here.
func (reg *Registry) wellKnownCore(req *message.Message) *message.Message {
	paths := make([]string, 0, len(reg.byPath))
	for p, r := range reg.byPath {
		if r.Discoverable {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var b strings.Builder
	for i, p := range paths {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(reg.byPath[p].Link())
	}

	var opts message.Options
	opts = opts.Set(message.ContentFormat, message.EncodeUint(uint32(message.AppLinkFormat)))
	return &message.Message{
		Type:    ackTypeFor(req),
		Code:    codes.Content,
		Token:   req.Token,
		Options: opts,
		Payload: []byte(b.String()),
	}
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
