package urlcanon

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ParamHandling selects how query parameters contribute to a frontier key.
type ParamHandling int

// Supported parameter handling modes.
const (
	// UseAll keeps the query exactly as parsed.
	UseAll ParamHandling = iota
	// IgnoreValue keeps only the distinct parameter names, sorted.
	IgnoreValue
	// IgnoreCompletely drops the query.
	IgnoreCompletely
)

func (h ParamHandling) String() string {
	switch h {
	case UseAll:
		return "use_all"
	case IgnoreValue:
		return "ignore_value"
	case IgnoreCompletely:
		return "ignore_completely"
	default:
		return fmt.Sprintf("ParamHandling(%d)", int(h))
	}
}

// ParseParamHandling maps a configuration value onto a ParamHandling.
func ParseParamHandling(s string) (ParamHandling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "use_all":
		return UseAll, nil
	case "ignore_value":
		return IgnoreValue, nil
	case "ignore_completely":
		return IgnoreCompletely, nil
	default:
		return UseAll, fmt.Errorf("unknown parameter handling %q", s)
	}
}

var odataSegment = regexp.MustCompile(`^([\w%]*)\((.*)\)$`)

var odataLiteral = regexp.MustCompile(`^[\w']*$`)

// CleanParameters rewrites uri according to mode. UseAll returns uri
// untouched. IgnoreValue reduces the query to its distinct parameter names,
// sorted. IgnoreCompletely removes the query.
//
// With odata set, path segments shaped like Name(key) or
// Name(k1=v1,k2=v2) are treated as resource identifiers: IgnoreCompletely
// empties the parentheses and IgnoreValue keeps the key names only. A single
// unkeyed literal collapses to Name() under both modes.
func CleanParameters(uri string, mode ParamHandling, odata bool) string {
	if mode == UseAll {
		return uri
	}
	ref := parseReference(uri)
	if !ref.hasScheme || !ref.hasLocation {
		return uri
	}

	var b strings.Builder
	b.WriteString(ref.scheme)
	b.WriteString("://")
	location := ref.location
	if i := strings.LastIndexByte(location, '@'); i >= 0 {
		location = location[i+1:]
	}
	b.WriteString(location)

	path := ref.path
	if ref.hasParams {
		path += ";" + ref.params
	}
	if odata {
		path = cleanODataPath(path, mode)
	}
	b.WriteString(path)

	if mode == IgnoreValue {
		if names := parameterNames(ref.query); len(names) > 0 {
			b.WriteByte('?')
			b.WriteString(strings.Join(names, "&"))
		}
	}
	return b.String()
}

func parameterNames(raw string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, p := range parseQuery(raw) {
		if p.name == "" {
			continue
		}
		if _, dup := seen[p.name]; dup {
			continue
		}
		seen[p.name] = struct{}{}
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

func cleanODataPath(path string, mode ParamHandling) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		m := odataSegment.FindStringSubmatch(seg)
		if m == nil {
			continue
		}
		name, keys := m[1], m[2]
		if mode == IgnoreCompletely || odataLiteral.MatchString(keys) {
			segments[i] = name + "()"
			continue
		}
		var kept []string
		for _, pair := range strings.Split(keys, ",") {
			key, _, keyed := strings.Cut(pair, "=")
			if keyed {
				kept = append(kept, strings.TrimSpace(key))
			}
		}
		segments[i] = name + "(" + strings.Join(kept, ",") + ")"
	}
	return strings.Join(segments, "/")
}

// Canonicalizer produces frontier keys: the canonical form of a URL with the
// configured parameter handling applied.
type Canonicalizer struct {
	Handling   ParamHandling
	ODataAware bool
}

// Key canonicalizes raw against base and applies the parameter handling.
// ok is false for URLs that are not crawlable.
func (c Canonicalizer) Key(raw, base string) (string, bool) {
	canonical, ok := Canonicalize(raw, base)
	if !ok {
		return "", false
	}
	return CleanParameters(canonical, c.Handling, c.ODataAware), true
}
