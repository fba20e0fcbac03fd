// Package apq resolves query identity: it maps a request to a stable SHA-256
// hash and implements the automatic persisted query exchange, letting clients
// register query text under its hash once and reference it by hash afterward.
package apq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/gqlgate/gqlgate/internal/gqlerr"
	"github.com/gqlgate/gqlgate/internal/store"
)

// Prefix namespaces persisted-query entries in the shared KV store.
const Prefix = "apq:"

// SupportedVersion is the only persisted-query protocol version accepted.
const SupportedVersion = 1

// Extension is the persistedQuery request extension.
type Extension struct {
	Version    int    `json:"version"`
	SHA256Hash string `json:"sha256Hash"`
}

// Identity is the resolved identity of a request's query.
type Identity struct {
	// Source is the resolved query text.
	Source string
	// Hash is the hex SHA-256 digest of Source.
	Hash string
	// Hit is set when the text was supplied by the persisted-query store.
	Hit bool
	// Register is set when the caller should write the (hash, text) entry
	// after pre-execution hooks accept the request. The write is deliberately
	// deferred so rejected requests never pollute the store.
	Register bool
}

// Hash computes the content hash of a query string.
func Hash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// Resolve produces the query identity for (query, ext). kv is the
// persisted-query store, nil when the feature is disabled. Read failures
// degrade to a miss; they are logged, never surfaced.
func Resolve(ctx context.Context, kv store.KV, log *slog.Logger, query string, ext *Extension) (Identity, *gqlerr.Error) {
	if ext == nil {
		if query == "" {
			return Identity{}, gqlerr.MissingQuery()
		}
		return Identity{Source: query, Hash: Hash(query)}, nil
	}

	if kv == nil {
		return Identity{}, gqlerr.PersistedQueriesNotSupported()
	}
	if ext.Version != SupportedVersion {
		return Identity{}, gqlerr.UnsupportedPersistedQueryVersion(ext.Version)
	}

	if query == "" {
		text, ok, err := kv.Get(ctx, ext.SHA256Hash)
		if err != nil {
			log.WarnContext(ctx, "persisted query read failed, treating as miss",
				"hash", ext.SHA256Hash, "error", err)
			ok = false
		}
		if !ok {
			return Identity{}, gqlerr.PersistedQueryNotFound()
		}
		return Identity{Source: text, Hash: ext.SHA256Hash, Hit: true}, nil
	}

	hash := Hash(query)
	if hash != ext.SHA256Hash {
		return Identity{}, gqlerr.PersistedQueryMismatch()
	}
	return Identity{Source: query, Hash: hash, Register: true}, nil
}

// Store wraps kv with the persisted-query key namespace.
func Store(kv store.KV) store.KV {
	if kv == nil {
		return nil
	}
	return store.WithPrefix(kv, Prefix)
}
