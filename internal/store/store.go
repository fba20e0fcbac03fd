// Package store holds the shared cache collaborators of the pipeline: the
// opaque key-value contract used for persisted queries and data sources, and
// the typed document store consulted before parsing.
//
// All implementations here are safe for concurrent use and capacity bounded.
// Callers treat read failures as misses; nothing in this package is allowed
// to fail a request.
package store

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gqlgate/gqlgate/internal/language"
)

// KV is the opaque shared cache contract. Implementations own their own
// eviction and expiry policy.
type KV interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key. Writes are best-effort from the caller's
	// point of view.
	Set(ctx context.Context, key, value string) error
}

// InMemoryLRU is a capacity-bounded in-process KV.
type InMemoryLRU struct {
	c *lru.Cache[string, string]
}

func NewInMemoryLRU(size int) (*InMemoryLRU, error) {
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &InMemoryLRU{c: c}, nil
}

func (s *InMemoryLRU) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.c.Get(key)
	return v, ok, nil
}

func (s *InMemoryLRU) Set(_ context.Context, key, value string) error {
	s.c.Add(key, value)
	return nil
}

// ExpirableLRU is a capacity-bounded KV whose entries expire after a TTL.
// Used as the default persisted-query store.
type ExpirableLRU struct {
	c *expirable.LRU[string, string]
}

func NewExpirableLRU(size int, ttl time.Duration) *ExpirableLRU {
	return &ExpirableLRU{c: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (s *ExpirableLRU) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.c.Get(key)
	return v, ok, nil
}

func (s *ExpirableLRU) Set(_ context.Context, key, value string) error {
	s.c.Add(key, value)
	return nil
}

// Prefixed decorates a KV with a key prefix so multiple concerns can share
// one backing store without colliding.
type Prefixed struct {
	prefix string
	kv     KV
}

func WithPrefix(kv KV, prefix string) *Prefixed {
	return &Prefixed{prefix: prefix, kv: kv}
}

func (p *Prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.kv.Get(ctx, p.prefix+key)
}

func (p *Prefixed) Set(ctx context.Context, key, value string) error {
	return p.kv.Set(ctx, p.prefix+key, value)
}

// DocumentStore maps query hashes to parsed-and-validated documents. An entry
// is written only after validation succeeded with zero errors and is assumed
// immutable under its hash.
type DocumentStore interface {
	Get(hash string) (*language.QueryDocument, bool)
	Set(hash string, doc *language.QueryDocument)
}

// LRUDocumentStore is the default capacity-bounded document store.
type LRUDocumentStore struct {
	c *lru.Cache[string, *language.QueryDocument]
}

func NewLRUDocumentStore(size int) (*LRUDocumentStore, error) {
	c, err := lru.New[string, *language.QueryDocument](size)
	if err != nil {
		return nil, err
	}
	return &LRUDocumentStore{c: c}, nil
}

func (s *LRUDocumentStore) Get(hash string) (*language.QueryDocument, bool) {
	return s.c.Get(hash)
}

func (s *LRUDocumentStore) Set(hash string, doc *language.QueryDocument) {
	s.c.Add(hash, doc)
}
