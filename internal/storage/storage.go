// Package storage defines the message store contract shared by the backends
// in its subpackages. Scans persist every HTTP message they read so that site
// tree nodes can be re-seeded later.
package storage

import (
	"errors"

	"github.com/JakeFAU/webspider/internal/spider"
)

// ErrMessageNotFound is returned by Load when no message has the given ref.
var ErrMessageNotFound = errors.New("message not found")

// MessageStore is a spider.MessageStore that owns resources.
type MessageStore interface {
	spider.MessageStore
	Close() error
}
