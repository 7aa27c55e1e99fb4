package urlcanon

import (
	"sort"
	"strings"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Canonicalize returns the canonical form of raw, resolved against base when
// base is non-empty. The scheme and host are lowercased, default ports and
// fragments are dropped, dot segments and empty segments are removed, an
// empty path becomes "/" and query parameters are sorted by name then value.
// Duplicate parameters are kept. Percent-encoding is preserved verbatim.
//
// The boolean is false when the URL has no network authority (mailto:,
// javascript: and the like); such URLs are not crawlable.
func Canonicalize(raw, base string) (string, bool) {
	resolved := strings.TrimSpace(raw)
	if strings.TrimSpace(base) != "" {
		r, err := Resolve(base, raw)
		if err != nil {
			return "", false
		}
		resolved = r
	}

	ref := parseReference(resolved)
	if !ref.hasScheme || !ref.hasLocation {
		return "", false
	}
	host, port, ok := splitAuthority(ref.location)
	if !ok {
		return "", false
	}
	scheme := strings.ToLower(ref.scheme)
	host = strings.ToLower(host)
	if defaultPorts[scheme] == port {
		port = ""
	}

	path := ref.path
	if ref.hasParams {
		path += ";" + ref.params
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	if port != "" {
		b.WriteByte(':')
		b.WriteString(port)
	}
	b.WriteString(normalizePath(path))
	if q := sortQuery(ref.query); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String(), true
}

// splitAuthority extracts host and port from an authority, discarding any
// user information. ok is false for an empty host or a non-numeric port.
func splitAuthority(authority string) (host, port string, ok bool) {
	if i := strings.LastIndexByte(authority, '@'); i >= 0 {
		authority = authority[i+1:]
	}
	host = authority
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		host = authority[:end+1]
		rest := authority[end+1:]
		if rest != "" {
			if rest[0] != ':' {
				return "", "", false
			}
			port = rest[1:]
		}
	} else if i := strings.LastIndexByte(authority, ':'); i >= 0 {
		host, port = authority[:i], authority[i+1:]
	}
	for i := 0; i < len(port); i++ {
		if !isDigit(port[i]) {
			return "", "", false
		}
	}
	return host, port, host != ""
}

func normalizePath(p string) string {
	p = removeDotSegments(p)
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	p = strings.TrimSpace(clampRoot(p))
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		return "/" + p
	}
	return p
}

type queryParam struct {
	name  string
	value string
}

func parseQuery(raw string) []queryParam {
	if raw == "" {
		return nil
	}
	var params []queryParam
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		if name == "" && value == "" {
			continue
		}
		params = append(params, queryParam{name: name, value: value})
	}
	return params
}

func sortQuery(raw string) string {
	params := parseQuery(raw)
	if len(params) == 0 {
		return ""
	}
	sort.SliceStable(params, func(i, j int) bool {
		if params[i].name != params[j].name {
			return params[i].name < params[j].name
		}
		return params[i].value < params[j].value
	})
	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p.value == "" {
			parts = append(parts, p.name)
			continue
		}
		parts = append(parts, p.name+"="+p.value)
	}
	return strings.Join(parts, "&")
}
