package sitetree

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/webspider/internal/spider"
	"github.com/JakeFAU/webspider/internal/urlcanon"
)

// ErrNotCrawlable reports a URL that is not absolute http(s).
var ErrNotCrawlable = errors.New("not a crawlable URL")

// Fetcher retrieves a single page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (spider.Message, error)
}

// Registrar adds sites to the tree by fetching their start page once, so
// scans have a stored message to seed from.
type Registrar struct {
	fetcher  Fetcher
	recorder *Recorder
	tree     *Tree
}

// NewRegistrar constructs a Registrar.
func NewRegistrar(fetcher Fetcher, recorder *Recorder, tree *Tree) *Registrar {
	return &Registrar{fetcher: fetcher, recorder: recorder, tree: tree}
}

// Register fetches rawURL, records the response and returns its node.
func (r *Registrar) Register(ctx context.Context, rawURL string) (*spider.Node, error) {
	canonical, ok := urlcanon.Canonicalize(rawURL, "")
	if !ok {
		return nil, fmt.Errorf("register %q: %w", rawURL, ErrNotCrawlable)
	}
	msg, err := r.fetcher.Fetch(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", canonical, err)
	}
	msg, err = r.recorder.Record(ctx, msg)
	if err != nil {
		return nil, err
	}
	node, ok := r.tree.FindNode(msg.URI)
	if !ok {
		return nil, fmt.Errorf("register %s: node missing after record", canonical)
	}
	return node, nil
}

// FindNode looks up a registered node.
func (r *Registrar) FindNode(rawURL string) (*spider.Node, bool) {
	return r.tree.FindNode(rawURL)
}
