package pipeline

import (
	"context"

	"github.com/gqlgate/gqlgate/internal/executor"
	"github.com/gqlgate/gqlgate/internal/gqlerr"
	"github.com/gqlgate/gqlgate/internal/schema"
)

// Plugin observes or influences request processing. RequestDidStart runs once
// per request, in registration order, and returns the listener for that
// request; a nil listener opts the plugin out of this request entirely.
type Plugin interface {
	RequestDidStart(ctx context.Context, rc *RequestContext) (Listener, error)
}

// PluginFunc adapts a function to the Plugin interface.
type PluginFunc func(ctx context.Context, rc *RequestContext) (Listener, error)

func (f PluginFunc) RequestDidStart(ctx context.Context, rc *RequestContext) (Listener, error) {
	return f(ctx, rc)
}

// Listener is a per-request plugin instance. A listener declares which phases
// it cares about by implementing the capability interfaces below; the
// dispatcher sorts listeners into typed per-phase lists at request start
// rather than probing for methods at call time.
type Listener any

// EndFunc concludes a started phase. It receives the phase error, nil on
// success.
type EndFunc func(err error)

// ParsingListener brackets the parse phase. The returned EndFunc, when
// non-nil, is guaranteed to run once the phase concludes, even when a later
// listener's start fails.
type ParsingListener interface {
	ParsingDidStart(ctx context.Context, rc *RequestContext) (EndFunc, error)
}

// ValidationListener brackets the validation phase.
type ValidationListener interface {
	ValidationDidStart(ctx context.Context, rc *RequestContext) (EndFunc, error)
}

// ExecutionListener brackets the execution phase.
type ExecutionListener interface {
	ExecutionDidStart(ctx context.Context, rc *RequestContext) (EndFunc, error)
}

// OperationListener runs after the operation is selected and before any
// persisted-query registration or execution. Listeners run strictly in
// registration order; an error aborts the remaining listeners and rejects the
// request.
type OperationListener interface {
	DidResolveOperation(ctx context.Context, rc *RequestContext) error
}

// ResponseListener runs last before formatting, for success and error
// responses alike. It may mutate rc.Response in place.
type ResponseListener interface {
	WillSendResponse(ctx context.Context, rc *RequestContext) error
}

// ErrorListener observes every failed request exactly once, before the error
// response is built or the transport signal returned.
type ErrorListener interface {
	DidEncounterErrors(ctx context.Context, rc *RequestContext, errs []*gqlerr.Error) error
}

// OperationResponder may answer the operation without executing it. Listeners
// run in registration order; the first non-nil response wins and skips both
// the remaining responders and the engine.
type OperationResponder interface {
	ResponseForOperation(ctx context.Context, rc *RequestContext) (*executor.Response, error)
}

// FieldListener receives the per-field begin/end hook, invoked inline with
// field resolution.
type FieldListener interface {
	WillResolveField(p schema.ResolveParams) schema.FieldEndFunc
}
