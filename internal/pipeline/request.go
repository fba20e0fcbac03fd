package pipeline

import (
	"time"

	"github.com/gqlgate/gqlgate/internal/apq"
	"github.com/gqlgate/gqlgate/internal/datasource"
	"github.com/gqlgate/gqlgate/internal/executor"
	"github.com/gqlgate/gqlgate/internal/gqlerr"
	"github.com/gqlgate/gqlgate/internal/language"
)

// Request is the immutable inbound request.
type Request struct {
	Query         string         `json:"query,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`

	// PersistedQuery is the decoded extensions.persistedQuery descriptor.
	PersistedQuery *apq.Extension `json:"-"`
}

// Metrics accumulates per-request observations.
type Metrics struct {
	PersistedQueryHit      bool
	PersistedQueryRegister bool
	DocumentCacheHit       bool
	ParseDuration          time.Duration
	ValidateDuration       time.Duration
	ExecuteDuration        time.Duration
}

// RequestContext is the mutable state threaded through every phase of one
// request. It is touched by exactly one logical control flow at a time and
// discarded once the response is returned.
type RequestContext struct {
	Request Request

	// Context is the user-supplied context value handed to data sources.
	Context any

	// DataSources holds the initialized per-request collaborator instances.
	DataSources map[string]datasource.DataSource

	// QueryHash is the hex SHA-256 digest of the resolved query text. Set
	// once by identity resolution, immutable thereafter.
	QueryHash string

	// Source is the resolved query text, whether sent inline or recovered
	// from the persisted-query store.
	Source string

	// Document is the parsed document, from cache or a fresh parse. Set at
	// most once per request.
	Document *language.QueryDocument

	// Operation is the selected operation definition.
	Operation *language.OperationDefinition

	// OperationName is the effective operation name; empty for anonymous
	// operations.
	OperationName string

	// Errors collects every failure reported for this request.
	Errors []*gqlerr.Error

	Metrics Metrics

	// Response is the outgoing response. Phases mutate it in place; only the
	// final formatting step replaces it.
	Response *executor.Response
}
