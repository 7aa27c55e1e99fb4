// Package bolt persists messages in an embedded bbolt database.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/JakeFAU/webspider/internal/spider"
	"github.com/JakeFAU/webspider/internal/storage"
)

const (
	bucketMessages = "messages"
	bucketURIIndex = "uri_index"
)

// MessageStore wraps a bbolt database. Refs come from the messages bucket
// sequence, so they increase monotonically across restarts.
type MessageStore struct {
	db *bbolt.DB
}

// NewMessageStore opens the database at path and creates the buckets.
func NewMessageStore(path string) (*MessageStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketMessages, bucketURIIndex} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &MessageStore{db: db}, nil
}

// Close closes the database.
func (s *MessageStore) Close() error {
	return s.db.Close()
}

// Save stores msg and records it as the latest message for its URI.
func (s *MessageStore) Save(_ context.Context, msg spider.Message) (int64, error) {
	var ref int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		messages := tx.Bucket([]byte(bucketMessages))
		seq, err := messages.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		ref = int64(seq)
		msg.Ref = ref

		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if err := messages.Put(itob(ref), data); err != nil {
			return fmt.Errorf("put message: %w", err)
		}
		return tx.Bucket([]byte(bucketURIIndex)).Put([]byte(msg.URI), itob(ref))
	})
	if err != nil {
		return 0, err
	}
	return ref, nil
}

// Load returns the message stored under ref.
func (s *MessageStore) Load(_ context.Context, ref int64) (spider.Message, error) {
	var msg spider.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketMessages)).Get(itob(ref))
		if data == nil {
			return fmt.Errorf("load %d: %w", ref, storage.ErrMessageNotFound)
		}
		return json.Unmarshal(data, &msg)
	})
	if err != nil {
		return spider.Message{}, err
	}
	return msg, nil
}

// EachLatest calls fn with every stored URI and the ref of the most recent
// message saved for it. Iteration stops at the first error fn returns.
func (s *MessageStore) EachLatest(fn func(uri string, ref int64) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketURIIndex)).ForEach(func(k, v []byte) error {
			if len(v) != 8 {
				return nil
			}
			return fn(string(k), int64(binary.BigEndian.Uint64(v)))
		})
	})
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
