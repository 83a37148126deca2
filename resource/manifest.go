package resource

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/arcemit/coap/message/codes"
)

// ManifestEntry describes one resource to register, as loaded from a JSON
// manifest document: `[{"path":"/sensors/temp","observable":true,
// "discoverable":true,"attrs":{"rt":"temperature"},"proxy_uri":"coap://..."}]`.
type ManifestEntry struct {
	Path         string
	Observable   bool
	Discoverable bool
	Attributes   []Attribute
	ProxyURI     string
}

// LoadManifest parses a JSON resource manifest into ManifestEntry values.
// It uses gjson rather than encoding/json so malformed/extra fields in an
// individual entry don't abort parsing the rest of the document — a
// manifest is operator-edited config, not a protocol wire format, and one
// bad entry shouldn't take every other resource down with it.
func LoadManifest(data []byte) ([]ManifestEntry, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("resource: manifest is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("resource: manifest root must be a JSON array")
	}

	var entries []ManifestEntry
	var parseErr error
	root.ForEach(func(_, item gjson.Result) bool {
		path := item.Get("path").String()
		if path == "" {
			parseErr = fmt.Errorf("resource: manifest entry missing \"path\"")
			return false
		}
		e := ManifestEntry{
			Path:         path,
			Observable:   item.Get("observable").Bool(),
			Discoverable: item.Get("discoverable").Bool(),
			ProxyURI:     item.Get("proxy_uri").String(),
		}
		item.Get("attrs").ForEach(func(key, val gjson.Result) bool {
			e.Attributes = append(e.Attributes, Attribute{Key: key.String(), Value: val.String()})
			return true
		})
		entries = append(entries, e)
		return true
	})
	return entries, parseErr
}

// RewriteProxyURIs rewrites every entry's "proxy_uri" field in a raw
// manifest document to newBase, returning the updated document bytes
// unparsed. This generalizes the teacher's advertise-URL substitution in
// cmd/proxy/proxy.go (gjson.GetBytes to find each occurrence of a
// forwarding URL, sjson.SetBytes to replace it) from a single
// Matrix-specific JSON key to every resource entry's proxy target, so a
// manifest authored against one advertised address can be re-pointed at
// deploy time without re-authoring it.
func RewriteProxyURIs(data []byte, newBase string) ([]byte, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("resource: manifest is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("resource: manifest root must be a JSON array")
	}

	out := data
	for i, item := range root.Array() {
		if !item.Get("proxy_uri").Exists() {
			continue
		}
		path := fmt.Sprintf("%d.proxy_uri", i)
		updated, err := sjson.SetBytes(out, path, newBase)
		if err != nil {
			return nil, fmt.Errorf("resource: rewriting %s: %w", path, err)
		}
		out = updated
	}
	return out, nil
}

// RegisterManifest registers a HandlerFunc-less Resource for each
// ManifestEntry (method handlers and proxy dispatch are wired separately
// by the caller, since the manifest only describes static resource shape).
func (reg *Registry) RegisterManifest(entries []ManifestEntry) {
	for _, e := range entries {
		reg.Register(&Resource{
			Path:         e.Path,
			Observable:   e.Observable,
			Discoverable: e.Discoverable,
			Attributes:   e.Attributes,
			Handlers:     make(map[codes.Code]HandlerFunc),
		})
	}
}
