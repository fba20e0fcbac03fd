// Package datasource defines the per-request collaborator contract: named
// instances constructed fresh for every request and initialized with the
// request's user context and the shared cache before any pipeline phase runs.
package datasource

import (
	"context"

	"github.com/gqlgate/gqlgate/internal/store"
)

// InitializeParams is handed to each data source once per request.
type InitializeParams struct {
	// Context is the request's user-supplied context value.
	Context any
	// Cache is the shared key-value cache. Data sources namespace their own
	// keys; see store.WithPrefix.
	Cache store.KV
}

// DataSource is a request-scoped backend collaborator.
type DataSource interface {
	Initialize(ctx context.Context, params InitializeParams) error
}

// Factory produces the named data-source instances for one request. It is
// invoked once per request so instances are never shared across requests.
type Factory func() map[string]DataSource
