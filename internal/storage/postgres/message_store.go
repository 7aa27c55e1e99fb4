// Package postgres provides a Postgres-backed message store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webspider/internal/spider"
	"github.com/JakeFAU/webspider/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "spider_messages"

// MessageStoreConfig controls the Postgres connection pool.
type MessageStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// MessageStore writes messages into a single Postgres table.
type MessageStore struct {
	pool  pool
	table string
}

// NewMessageStore connects to Postgres using cfg.
func NewMessageStore(ctx context.Context, cfg MessageStoreConfig) (*MessageStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &MessageStore{pool: p, table: table}, nil
}

// NewMessageStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewMessageStoreWithPool(p pool, table string) (*MessageStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &MessageStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *MessageStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// EnsureSchema creates the message table when it does not exist.
func (s *MessageStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           BIGSERIAL PRIMARY KEY,
	method       TEXT NOT NULL,
	uri          TEXT NOT NULL,
	status_code  INTEGER NOT NULL,
	reason       TEXT NOT NULL,
	content_type TEXT NOT NULL,
	headers      JSONB NOT NULL,
	body         BYTEA,
	fetched_at   TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Save inserts msg and returns the generated id as its ref.
func (s *MessageStore) Save(ctx context.Context, msg spider.Message) (int64, error) {
	headersJSON, err := json.Marshal(normalizeHeaders(msg.Header))
	if err != nil {
		return 0, fmt.Errorf("marshal headers: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	method,
	uri,
	status_code,
	reason,
	content_type,
	headers,
	body,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
) RETURNING id`, s.table)

	var ref int64
	err = s.pool.QueryRow(ctx, query,
		msg.Method,
		msg.URI,
		msg.StatusCode,
		msg.Reason,
		msg.ContentType,
		headersJSON,
		msg.Body,
		msg.FetchedAt,
	).Scan(&ref)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return ref, nil
}

// Load reads the message with id ref.
func (s *MessageStore) Load(ctx context.Context, ref int64) (spider.Message, error) {
	query := fmt.Sprintf(`
SELECT method, uri, status_code, reason, content_type, headers, body, fetched_at
FROM %s
WHERE id = $1`, s.table)

	msg := spider.Message{Ref: ref}
	var headersJSON []byte
	err := s.pool.QueryRow(ctx, query, ref).Scan(
		&msg.Method,
		&msg.URI,
		&msg.StatusCode,
		&msg.Reason,
		&msg.ContentType,
		&headersJSON,
		&msg.Body,
		&msg.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return spider.Message{}, fmt.Errorf("load %d: %w", ref, storage.ErrMessageNotFound)
		}
		return spider.Message{}, fmt.Errorf("load message %d: %w", ref, err)
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &msg.Header); err != nil {
			return spider.Message{}, fmt.Errorf("decode headers: %w", err)
		}
	}
	return msg, nil
}

func normalizeHeaders(h http.Header) map[string][]string {
	if len(h) == 0 {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
