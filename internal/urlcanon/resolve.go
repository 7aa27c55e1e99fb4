// Package urlcanon resolves relative references and builds the canonical
// string forms the spider uses as frontier keys.
package urlcanon

import (
	"errors"
	"strings"
)

// ErrMissingBase is returned when Resolve is called without a base URL.
var ErrMissingBase = errors.New("base url is required")

// reference is a URL split into its RFC 1808 components. The has* flags
// distinguish an absent component from an empty one.
type reference struct {
	scheme   string
	location string
	path     string
	params   string
	query    string
	fragment string

	hasScheme   bool
	hasLocation bool
	hasPath     bool
	hasParams   bool
	hasQuery    bool
	hasFragment bool
}

// parseReference splits raw following RFC 1808 section 2.4. It never fails;
// malformed input is split on a best-effort basis.
func parseReference(raw string) reference {
	var ref reference
	start, end := 0, len(raw)

	if i := strings.IndexByte(raw, '#'); i >= 0 {
		ref.fragment, ref.hasFragment = raw[i+1:], true
		end = i
	}

	if i := strings.IndexByte(raw[start:end], ':'); i > 0 && validScheme(raw[:i]) {
		ref.scheme, ref.hasScheme = raw[:i], true
		start = i + 1
	}

	locStart, locEnd := -1, -1
	if strings.HasPrefix(raw[start:end], "//") {
		locStart = start + 2
		if i := strings.IndexByte(raw[locStart:end], '/'); i >= 0 {
			locEnd = locStart + i
			start = locEnd
		}
	}

	if i := strings.IndexByte(raw[start:end], '?'); i >= 0 {
		q := start + i
		if locStart >= 0 && locEnd < 0 {
			locEnd, start = q, q
		}
		ref.query, ref.hasQuery = raw[q+1:end], true
		end = q
	}

	if i := strings.IndexByte(raw[start:end], ';'); i >= 0 {
		s := start + i
		if locStart >= 0 && locEnd < 0 {
			locEnd, start = s, s
		}
		ref.params, ref.hasParams = raw[s+1:end], true
		end = s
	}

	if locStart >= 0 && locEnd < 0 {
		locEnd = end
	} else if start < end {
		ref.path, ref.hasPath = raw[start:end], true
	}
	if locStart >= 0 {
		ref.location, ref.hasLocation = raw[locStart:locEnd], true
	}
	return ref
}

// validScheme reports whether s is a scheme token: a letter followed by
// letters, digits, '+', '-' or '.'.
func validScheme(s string) bool {
	if s == "" || !isLetter(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if !isLetter(c) && !isDigit(c) && c != '+' && c != '-' && c != '.' {
			return false
		}
	}
	return true
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (r reference) String() string {
	var b strings.Builder
	if r.hasScheme {
		b.WriteString(r.scheme)
		b.WriteByte(':')
	}
	if r.hasLocation {
		b.WriteString("//")
		b.WriteString(r.location)
	}
	if r.hasPath {
		b.WriteString(r.path)
	}
	if r.hasParams {
		b.WriteByte(';')
		b.WriteString(r.params)
	}
	if r.hasQuery {
		b.WriteByte('?')
		b.WriteString(r.query)
	}
	if r.hasFragment {
		b.WriteByte('#')
		b.WriteString(r.fragment)
	}
	return b.String()
}

// Resolve resolves ref against base using the RFC 1808 algorithm. Two
// browser deviations apply: ".." segments never climb above the authority
// root, and a leading "/.." on an absolute path is dropped.
//
// An empty ref yields base unchanged and a ref with its own scheme is
// returned as is, opaque forms such as "mailto:" included.
func Resolve(base, ref string) (string, error) {
	base = strings.TrimSpace(base)
	ref = strings.TrimSpace(ref)
	if base == "" {
		return "", ErrMissingBase
	}
	if ref == "" {
		return base, nil
	}
	return merge(parseReference(base), parseReference(ref)).String(), nil
}

func merge(base, rel reference) reference {
	if rel.hasScheme {
		return rel
	}
	rel.scheme, rel.hasScheme = base.scheme, base.hasScheme
	if rel.hasLocation {
		return rel
	}
	rel.location, rel.hasLocation = base.location, base.hasLocation

	if rel.hasPath && strings.HasPrefix(rel.path, "/") {
		rel.path = clampRoot(rel.path)
		return rel
	}

	if !rel.hasPath {
		rel.path, rel.hasPath = base.path, base.hasPath
		if rel.hasParams {
			return rel
		}
		rel.params, rel.hasParams = base.params, base.hasParams
		if rel.hasQuery {
			return rel
		}
		rel.query, rel.hasQuery = base.query, base.hasQuery
		return rel
	}

	dir := "/"
	if base.hasPath {
		dir = ""
		if i := strings.LastIndexByte(base.path, '/'); i >= 0 {
			dir = base.path[:i+1]
		}
	}
	rel.path = clampRoot(removeDotSegments(dir + rel.path))
	return rel
}

// removeDotSegments drops "." segments and resolves ".." against the
// preceding segment. A ".." with nothing left to consume is discarded, which
// clamps the path at the root.
func removeDotSegments(p string) string {
	in := p
	var out strings.Builder
	out.Grow(len(p))
	for in != "" {
		switch {
		case strings.HasPrefix(in, "../"):
			in = in[3:]
		case strings.HasPrefix(in, "./"):
			in = in[2:]
		case strings.HasPrefix(in, "/./"):
			in = in[2:]
		case in == "/.":
			in = "/"
		case strings.HasPrefix(in, "/../"):
			in = in[3:]
			trimLastSegment(&out)
		case in == "/..":
			in = "/"
			trimLastSegment(&out)
		case in == "." || in == "..":
			in = ""
		default:
			from := 0
			if in[0] == '/' {
				from = 1
			}
			i := strings.IndexByte(in[from:], '/')
			if i < 0 {
				out.WriteString(in)
				in = ""
			} else {
				out.WriteString(in[:from+i])
				in = in[from+i:]
			}
		}
	}
	return out.String()
}

func trimLastSegment(b *strings.Builder) {
	s := b.String()
	i := strings.LastIndexByte(s, '/')
	if i < 0 {
		i = 0
	}
	trimmed := s[:i]
	b.Reset()
	b.WriteString(trimmed)
}

// clampRoot drops leading "/.." segments from an absolute path.
func clampRoot(p string) string {
	for {
		switch {
		case p == "/..":
			return "/"
		case strings.HasPrefix(p, "/../"):
			p = p[3:]
		default:
			return p
		}
	}
}
