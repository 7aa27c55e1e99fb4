// Package spider runs concurrent crawl jobs. A Controller registers Scans, each
// Scan drives a ScanWorker through a guarded lifecycle, and the worker adapts a
// Target onto an opaque fetch Engine.
package spider

import (
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"
)

// State is the lifecycle state of a Scan.
type State string

// Scan lifecycle states. FINISHED is absorbing.
const (
	StateNotStarted State = "NOT_STARTED"
	StateRunning    State = "RUNNING"
	StatePaused     State = "PAUSED"
	StateFinished   State = "FINISHED"
)

// FetchStatus classifies a URI discovered by the engine.
type FetchStatus int

// Fetch classifications reported through EngineListener.FoundURI.
const (
	FetchValid FetchStatus = iota
	FetchSeed
	FetchOutOfScope
	FetchOutOfContext
	FetchUserRules
	FetchIllegalProtocol
)

func (s FetchStatus) String() string {
	switch s {
	case FetchValid:
		return "VALID"
	case FetchSeed:
		return "SEED"
	case FetchOutOfScope:
		return "OUT_OF_SCOPE"
	case FetchOutOfContext:
		return "OUT_OF_CONTEXT"
	case FetchUserRules:
		return "USER_RULES"
	case FetchIllegalProtocol:
		return "ILLEGAL_PROTOCOL"
	default:
		return "UNKNOWN"
	}
}

// InScope reports whether URIs with this status belong to the found set.
func (s FetchStatus) InScope() bool {
	return s == FetchValid || s == FetchSeed
}

// OutOfScope reports whether URIs with this status belong to the
// out-of-scope set.
func (s FetchStatus) OutOfScope() bool {
	switch s {
	case FetchOutOfScope, FetchOutOfContext, FetchUserRules:
		return true
	default:
		return false
	}
}

// Message is a stored HTTP request/response pair. Ref is assigned by the
// MessageStore; zero means the message has not been persisted.
type Message struct {
	Ref         int64       `json:"ref"`
	Method      string      `json:"method"`
	URI         string      `json:"uri"`
	StatusCode  int         `json:"status_code"`
	Reason      string      `json:"reason"`
	ContentType string      `json:"content_type"`
	Header      http.Header `json:"header,omitempty"`
	Body        []byte      `json:"body,omitempty"`
	FetchedAt   time.Time   `json:"fetched_at"`
}

// HasResponse reports whether the message carries a response.
func (m Message) HasResponse() bool {
	return m.StatusCode > 0
}

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {},
	".ico": {}, ".svg": {}, ".webp": {}, ".tif": {}, ".tiff": {},
}

// IsImage reports whether the response is an image, judged by content type
// first and then by the path extension.
func (m Message) IsImage() bool {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(m.ContentType)), "image/") {
		return true
	}
	p := m.URI
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	_, ok := imageExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

// Node is an entry of the site tree.
type Node struct {
	URI        string `json:"uri"`
	MessageRef int64  `json:"message_ref,omitempty"`
	Root       bool   `json:"root,omitempty"`
}

// HasMessage reports whether a stored message backs the node.
func (n *Node) HasMessage() bool {
	return n != nil && n.MessageRef > 0
}

// Context narrows a scan to URIs matching at least one include pattern. An
// empty include list matches everything.
type Context struct {
	Name    string
	Include []*regexp.Regexp
}

// Contains reports whether uri belongs to the context.
func (c *Context) Contains(uri string) bool {
	if c == nil || len(c.Include) == 0 {
		return true
	}
	for _, re := range c.Include {
		if re.MatchString(uri) {
			return true
		}
	}
	return false
}

// User identifies who a scan runs as.
type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Target describes where a scan starts. A Target is copied into the Scan and
// never mutated afterwards.
type Target struct {
	StartNode *Node
	Context   *Context
	User      *User
	Recurse   bool
	// InScopeOnly seeds the scan from every in-scope node of the site tree.
	InScopeOnly bool
}

// Resource summarizes a message read during a scan.
type Resource struct {
	Method     string `json:"method"`
	URI        string `json:"uri"`
	StatusCode int    `json:"status_code"`
	Reason     string `json:"reason"`
	MessageRef int64  `json:"message_ref"`
}

// ResultRow is a Resource delivered through a live results Feed.
type ResultRow struct {
	Index    int      `json:"index"`
	Resource Resource `json:"resource"`
}

// Summary is a point-in-time view of a Scan.
type Summary struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	User            string `json:"user,omitempty"`
	State           State  `json:"state"`
	Progress        int    `json:"progress"`
	FoundCount      int64  `json:"found_count"`
	InScopeCount    int    `json:"in_scope_count"`
	OutOfScopeCount int    `json:"out_of_scope_count"`
	ResourceCount   int    `json:"resource_count"`
}
