package spider

import (
	"context"
	"errors"
)

// ErrNoStartNode is returned when a scan has neither a start node nor the
// in-scope-only flag.
var ErrNoStartNode = errors.New("no start node and not scanning all in scope")

// EngineListener receives discovery callbacks from an Engine. Callbacks may
// arrive on any goroutine.
type EngineListener interface {
	SpiderComplete(successful bool)
	SpiderProgress(percent, done, todo int)
	FoundURI(uri, method string, status FetchStatus)
	ReadURI(msg Message)
}

// Engine is the fetch/parse engine behind a scan. Control methods are
// non-blocking signals.
type Engine interface {
	Start() error
	Pause()
	Resume()
	Stop()
	IsStopped() bool
	AddSeed(msg Message)
	AddListener(l EngineListener)
}

// EngineParams is everything an EngineFactory needs to build an engine for
// one scan.
type EngineParams struct {
	ScanID  int
	Target  Target
	Options Options
}

// EngineFactory builds the engine for a scan. It is called once, on the
// scan's worker goroutine.
type EngineFactory func(params EngineParams) (Engine, error)

// SiteTree exposes the nodes a scan can seed from.
type SiteTree interface {
	Root() *Node
	FindNode(uri string) (*Node, bool)
	Children(uri string) []*Node
	InScopeNodes() []*Node
}

// MessageStore persists the messages backing site tree nodes.
type MessageStore interface {
	Save(ctx context.Context, msg Message) (int64, error)
	Load(ctx context.Context, ref int64) (Message, error)
}

// ResultsObserver receives live result rows. Calls for one scan are made
// from a single goroutine, in order, and ResultsComplete is always last.
type ResultsObserver interface {
	RowAppended(scanID int, row ResultRow)
	ResultsComplete(scanID int)
}

// Listener is notified of scan lifecycle changes.
type Listener interface {
	ScanStarted(scanID int)
	ScanProgress(scanID, current, maximum int)
	ScanFinished(scanID int)
}
