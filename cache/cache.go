// Package cache implements spec.md §4.I: a fingerprint->cached-response
// map with at-most-one concurrent build per fingerprint (single-flight
// coalescing of duplicate requests).
package cache

import (
	"hash/fnv"
	"sort"

	"github.com/arcemit/coap/clock"
	"github.com/arcemit/coap/message"
	"github.com/arcemit/coap/message/codes"
)

// entry is one cached response, or an in-flight build with waiters.
type entry struct {
	building bool
	waiters  []func(*message.Message)
	response *message.Message
	expires  clock.Tick
	generation uint64
}

// Cache is the context-local request-coalescing cache from spec.md §4.I.
// Like every other context-owned structure it is only safe to touch from
// the thread driving process() (spec.md §5).
type Cache struct {
	ignore     *message.Filter
	entries    map[uint64]*entry
	generation uint64
}

// New creates a Cache. ignore lists cache-key option numbers to exclude
// from the fingerprint (e.g. a proxy's hop-specific options), per
// spec.md §4.I's "all cache-key options not in the configured ignore set".
func New(ignore *message.Filter) *Cache {
	return &Cache{ignore: ignore, entries: make(map[uint64]*entry)}
}

// Fingerprint hashes the cache key: method, path segments in order, query
// segments sorted, Accept, ETag if present, and all cache-key options not
// in the ignore set. Cache-key options are those that are not
// "no-cache-key" (RFC 7252 §5.4.6) — see message.OptionNumber.IsNoCacheKey.
func (c *Cache) Fingerprint(method codes.Code, opts message.Options) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte{byte(method)})

	for _, v := range opts.FindAll(message.URIPath) {
		_, _ = h.Write([]byte{'/'})
		_, _ = h.Write(v)
	}

	query := opts.FindAll(message.URIQuery)
	sortedQuery := make([]string, len(query))
	for i, q := range query {
		sortedQuery[i] = string(q)
	}
	sort.Strings(sortedQuery)
	for _, q := range sortedQuery {
		_, _ = h.Write([]byte{'?'})
		_, _ = h.Write([]byte(q))
	}

	if v, ok := opts.Find(message.Accept); ok {
		_, _ = h.Write([]byte{'A'})
		_, _ = h.Write(v)
	}
	if v, ok := opts.Find(message.ETag); ok {
		_, _ = h.Write([]byte{'E'})
		_, _ = h.Write(v)
	}

	for _, opt := range opts {
		switch opt.Number {
		case message.URIPath, message.URIQuery, message.Accept, message.ETag:
			continue // already folded in above, in canonical order
		}
		if opt.Number.IsNoCacheKey() {
			continue
		}
		if c.ignore.Has(opt.Number) {
			continue
		}
		_, _ = h.Write([]byte{byte(opt.Number >> 8), byte(opt.Number)})
		_, _ = h.Write(opt.Value)
	}

	return h.Sum64()
}

// Lookup returns the cached response for fp if one exists and has not
// expired, and whether the entry is still mid-build (building=true means
// the caller must call AddWaiter rather than treat this as a miss).
func (c *Cache) Lookup(fp uint64, now clock.Tick) (resp *message.Message, building bool, hit bool) {
	e, ok := c.entries[fp]
	if !ok {
		return nil, false, false
	}
	if e.building {
		return nil, true, true
	}
	if now >= e.expires {
		delete(c.entries, fp)
		return nil, false, false
	}
	return e.response, false, true
}

// BeginBuild marks fp as under construction so concurrent duplicate
// requests coalesce onto it, per spec.md §4.I's at-most-one-build
// guarantee. Must only be called after Lookup reported a miss.
func (c *Cache) BeginBuild(fp uint64) {
	c.entries[fp] = &entry{building: true}
}

// AddWaiter attaches fn to be invoked with the eventual response once the
// in-flight build for fp completes. If fp is not currently building, fn is
// never called — the caller should have checked Lookup first.
func (c *Cache) AddWaiter(fp uint64, fn func(*message.Message)) {
	e, ok := c.entries[fp]
	if !ok || !e.building {
		return
	}
	e.waiters = append(e.waiters, fn)
}

// CompleteBuild stores resp as the cached response for fp with the given
// Max-Age (in ticks from now), and notifies every waiter that coalesced
// onto this build.
func (c *Cache) CompleteBuild(fp uint64, resp *message.Message, maxAge clock.Tick, now clock.Tick) {
	e, ok := c.entries[fp]
	if !ok {
		e = &entry{}
		c.entries[fp] = e
	}
	waiters := e.waiters
	c.generation++
	*e = entry{
		response:   resp,
		expires:    now + maxAge,
		generation: c.generation,
	}
	for _, w := range waiters {
		w(resp)
	}
}

// AbortBuild discards an in-flight build without caching a response (e.g.
// the handler errored), notifying waiters with a nil response so they can
// fall through to building their own.
func (c *Cache) AbortBuild(fp uint64) {
	e, ok := c.entries[fp]
	if !ok {
		return
	}
	waiters := e.waiters
	delete(c.entries, fp)
	for _, w := range waiters {
		w(nil)
	}
}

// Expire drops every entry whose Max-Age has elapsed.
func (c *Cache) Expire(now clock.Tick) {
	for fp, e := range c.entries {
		if !e.building && now >= e.expires {
			delete(c.entries, fp)
		}
	}
}

// Len reports how many entries (built or in-flight) the cache currently
// holds, for metrics/tests.
func (c *Cache) Len() int { return len(c.entries) }
