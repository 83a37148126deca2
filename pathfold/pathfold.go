// Package pathfold folds long URI paths (as found in Proxy-Uri targets or
// verbose resource hierarchies) down to short numeric CoAP URI-Path
// segments, and unfolds them back. Every static path segment collapses
// into one byte on the wire; dynamic segments are overlaid in the order
// they appear in the long-form template. This trades a small
// registration-time table for meaningfully shorter PDUs on the
// bandwidth-constrained links this CORE targets.
package pathfold

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Folder maps between short CoAP paths (e.g. "/7") and long-form path
// templates (e.g. "/_matrix/client/r0/sync" or
// "/things/{id}/properties/{prop}").
type Folder struct {
	shortToTemplate map[string]string
	templateToShort map[string]string
	regexpsToShort  map[*routeRegexp]string
}

// New builds a Folder from short-code -> template mappings. Templates may
// contain "{name}" placeholders for dynamic segments, filled positionally
// from the long path's remaining segments.
func New(mappings map[string]string) (*Folder, error) {
	f := &Folder{
		shortToTemplate: mappings,
		templateToShort: make(map[string]string),
		regexpsToShort:  make(map[*routeRegexp]string),
	}
	for short, tpl := range mappings {
		if _, ok := f.templateToShort[tpl]; ok {
			return nil, fmt.Errorf("pathfold: template already mapped: %s", tpl)
		}
		f.templateToShort[tpl] = short

		rxp, err := newRouteRegexp(tpl)
		if err != nil {
			return nil, fmt.Errorf("pathfold: compiling template %q: %w", tpl, err)
		}
		f.regexpsToShort[rxp] = short
	}
	return f, nil
}

// Unfold expands a short CoAP path like "/7" or "/7/foo/bar" back into its
// long-form path, substituting dynamic segments into the template in
// order. Returns p unchanged if it isn't a recognized short path.
func (f *Folder) Unfold(p string) string {
	path := p
	if !strings.HasPrefix(p, "/") {
		path = "/" + p
	}
	segments := strings.Split(path, "/")
	if len(segments) < 2 {
		return p
	}
	tpl := f.shortToTemplate[segments[1]]
	if tpl == "" {
		return p
	}
	if len(segments) <= 2 {
		return tpl
	}

	tplSegments := strings.Split(tpl, "/")
	longIdx := 2
	for i := range tplSegments {
		if longIdx >= len(segments) {
			break
		}
		if strings.HasPrefix(tplSegments[i], "{") {
			tplSegments[i] = url.PathEscape(segments[longIdx])
			longIdx++
		}
	}
	return strings.Join(tplSegments, "/")
}

// Fold compresses a long-form path down to its short CoAP path, extracting
// dynamic segments as trailing path components. Returns p unchanged if no
// template matches.
func (f *Folder) Fold(p string) string {
	path := p
	if !strings.HasPrefix(p, "/") {
		path = "/" + p
	}
	for r, short := range f.regexpsToShort {
		if !r.regexp.MatchString(path) {
			continue
		}
		matches := r.regexp.FindStringSubmatchIndex(path)
		var params []string
		if len(matches) > 2 {
			for i := 2; i < len(matches); i += 2 {
				params = append(params, path[matches[i]:matches[i+1]])
			}
		}
		if len(params) > 0 {
			return "/" + short + "/" + strings.Join(params, "/")
		}
		return "/" + short
	}
	return p
}

// ==================================================================
// Path-template regexp compilation, adapted from gorilla/mux's route
// matcher (https://github.com/gorilla/mux/blob/v1.8.0/regexp.go), kept to
// just the path-template parsing this package needs.
// ==================================================================

type routeRegexp struct {
	template string
	regexp   *regexp.Regexp
}

func newRouteRegexp(tpl string) (*routeRegexp, error) {
	idxs, err := braceIndices(tpl)
	if err != nil {
		return nil, err
	}
	template := tpl

	defaultPattern := "[^/]+"
	endSlash := strings.HasSuffix(tpl, "/")
	if endSlash {
		tpl = tpl[:len(tpl)-1]
	}

	pattern := bytes.NewBufferString("^")
	var end int
	for i := 0; i < len(idxs); i += 2 {
		raw := tpl[end:idxs[i]]
		end = idxs[i+1]
		parts := strings.SplitN(tpl[idxs[i]+1:end-1], ":", 2)
		name := parts[0]
		patt := defaultPattern
		if len(parts) == 2 {
			patt = parts[1]
		}
		if name == "" || patt == "" {
			return nil, fmt.Errorf("pathfold: missing name or pattern in %q", tpl[idxs[i]:end])
		}
		fmt.Fprintf(pattern, "%s(?P<%s>%s)", regexp.QuoteMeta(raw), varGroupName(i/2), patt)
	}
	raw := tpl[end:]
	pattern.WriteString(regexp.QuoteMeta(raw))
	pattern.WriteString("[/]?$")

	reg, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, err
	}
	if reg.NumSubexp() != len(idxs)/2 {
		return nil, fmt.Errorf("pathfold: template %q has capturing groups; use (?:pattern) instead of (pattern)", template)
	}
	return &routeRegexp{template: template, regexp: reg}, nil
}

func braceIndices(s string) ([]int, error) {
	var level, idx int
	var idxs []int
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			if level++; level == 1 {
				idx = i
			}
		case '}':
			if level--; level == 0 {
				idxs = append(idxs, idx, i+1)
			} else if level < 0 {
				return nil, fmt.Errorf("pathfold: unbalanced braces in %q", s)
			}
		}
	}
	if level != 0 {
		return nil, fmt.Errorf("pathfold: unbalanced braces in %q", s)
	}
	return idxs, nil
}

func varGroupName(idx int) string {
	return "v" + strconv.Itoa(idx)
}
