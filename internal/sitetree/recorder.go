package sitetree

import (
	"context"
	"fmt"

	"github.com/JakeFAU/webspider/internal/spider"
)

// Recorder persists messages and files them into a Tree.
type Recorder struct {
	store spider.MessageStore
	tree  *Tree
}

// NewRecorder constructs a Recorder.
func NewRecorder(store spider.MessageStore, tree *Tree) *Recorder {
	return &Recorder{store: store, tree: tree}
}

// Record saves msg and adds its URI to the tree. The returned message carries
// the assigned ref.
func (r *Recorder) Record(ctx context.Context, msg spider.Message) (spider.Message, error) {
	ref, err := r.store.Save(ctx, msg)
	if err != nil {
		return msg, fmt.Errorf("save %s: %w", msg.URI, err)
	}
	msg.Ref = ref
	r.tree.Add(msg.URI, ref)
	return msg, nil
}
