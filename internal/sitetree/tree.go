// Package sitetree keeps the hierarchy of URLs known to the spider. Nodes are
// keyed by canonical URL and arranged site, then path segment, then leaf.
package sitetree

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/JakeFAU/webspider/internal/spider"
	"github.com/JakeFAU/webspider/internal/urlcanon"
)

// Tree is a concurrency-safe site tree. Accessors hand out copies of nodes.
type Tree struct {
	mu       sync.RWMutex
	root     spider.Node
	nodes    map[string]*spider.Node
	children map[string][]string
	order    []string
	includes []*regexp.Regexp
	excludes []*regexp.Regexp
}

// New builds an empty Tree. An empty include list puts every URL in scope;
// exclude patterns always win.
func New(includes, excludes []string) (*Tree, error) {
	inc, err := compileAll(includes)
	if err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	exc, err := compileAll(excludes)
	if err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}
	return &Tree{
		root:     spider.Node{Root: true},
		nodes:    make(map[string]*spider.Node),
		children: make(map[string][]string),
		includes: inc,
		excludes: exc,
	}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Root returns the root node.
func (t *Tree) Root() *spider.Node {
	n := t.root
	return &n
}

// Add inserts uri with its ancestors and attaches ref to the leaf when ref
// is positive. It returns the leaf node, or false when uri is not a
// crawlable URL.
func (t *Tree) Add(uri string, ref int64) (*spider.Node, bool) {
	chain, ok := ancestry(uri)
	if !ok {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	parent := ""
	var leaf *spider.Node
	for _, key := range chain {
		node, exists := t.nodes[key]
		if !exists {
			node = &spider.Node{URI: key}
			t.nodes[key] = node
			t.children[parent] = append(t.children[parent], key)
			t.order = append(t.order, key)
		}
		parent = key
		leaf = node
	}
	if ref > 0 {
		leaf.MessageRef = ref
	}
	out := *leaf
	return &out, true
}

// ancestry returns the canonical keys from the site node down to uri.
func ancestry(uri string) ([]string, bool) {
	canonical, ok := urlcanon.Canonicalize(uri, "")
	if !ok {
		return nil, false
	}
	schemeEnd := strings.Index(canonical, "://") + 3
	slash := strings.IndexByte(canonical[schemeEnd:], '/')
	site := canonical[:schemeEnd+slash+1]

	chain := []string{site}
	rest := strings.TrimPrefix(canonical, site)
	pathPart := rest
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		pathPart = rest[:i]
	}
	segments := strings.Split(strings.Trim(pathPart, "/"), "/")
	prefix := site
	for i := 0; i < len(segments)-1; i++ {
		if segments[i] == "" {
			continue
		}
		prefix += segments[i]
		chain = append(chain, prefix)
		prefix += "/"
	}
	if canonical != site {
		chain = append(chain, canonical)
	}
	return chain, true
}

// FindNode looks up uri by its canonical form. The empty string finds the
// root.
func (t *Tree) FindNode(uri string) (*spider.Node, bool) {
	if uri == "" {
		return t.Root(), true
	}
	key, ok := urlcanon.Canonicalize(uri, "")
	if !ok {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[key]
	if !ok {
		return nil, false
	}
	out := *node
	return &out, true
}

// Children returns the direct children of uri in insertion order. The root's
// children are the site nodes.
func (t *Tree) Children(uri string) []*spider.Node {
	key := ""
	if uri != "" {
		c, ok := urlcanon.Canonicalize(uri, "")
		if !ok {
			return nil
		}
		key = c
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := t.children[key]
	out := make([]*spider.Node, 0, len(keys))
	for _, k := range keys {
		n := *t.nodes[k]
		out = append(out, &n)
	}
	return out
}

// InScopeNodes returns every non-root node in scope, in insertion order.
func (t *Tree) InScopeNodes() []*spider.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*spider.Node
	for _, k := range t.order {
		if !t.inScopeLocked(k) {
			continue
		}
		n := *t.nodes[k]
		out = append(out, &n)
	}
	return out
}

// InScope reports whether uri matches an include pattern and no exclude
// pattern.
func (t *Tree) InScope(uri string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inScopeLocked(uri)
}

func (t *Tree) inScopeLocked(uri string) bool {
	if matchAny(t.excludes, uri) {
		return false
	}
	return len(t.includes) == 0 || matchAny(t.includes, uri)
}

// Excluded reports whether uri matches an exclude pattern.
func (t *Tree) Excluded(uri string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return matchAny(t.excludes, uri)
}

// Len returns the number of non-root nodes.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

func matchAny(patterns []*regexp.Regexp, uri string) bool {
	for _, re := range patterns {
		if re.MatchString(uri) {
			return true
		}
	}
	return false
}
