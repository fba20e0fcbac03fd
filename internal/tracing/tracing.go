// Package tracing is the built-in observability plugin: one span per request
// with child spans for the parse, validation and execution phases and for
// individual field resolutions.
package tracing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gqlgate/gqlgate/internal/gqlerr"
	"github.com/gqlgate/gqlgate/internal/pipeline"
	"github.com/gqlgate/gqlgate/internal/schema"
)

const tracerName = "gqlgate"

// Plugin emits OpenTelemetry spans for every request.
type Plugin struct {
	tracer trace.Tracer
	fields bool
}

type Option func(*Plugin)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Plugin) { p.tracer = tp.Tracer(tracerName) }
}

// WithoutFieldSpans disables per-field spans, which can dominate trace volume
// on large selection sets.
func WithoutFieldSpans() Option {
	return func(p *Plugin) { p.fields = false }
}

func New(opts ...Option) *Plugin {
	p := &Plugin{fields: true}
	for _, o := range opts {
		o(p)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p
}

func (p *Plugin) RequestDidStart(ctx context.Context, rc *pipeline.RequestContext) (pipeline.Listener, error) {
	spanCtx, span := p.tracer.Start(ctx, "graphql.request")
	l := &listener{tracer: p.tracer, ctx: spanCtx, span: span}
	if !p.fields {
		return noFieldListener{l}, nil
	}
	return l, nil
}

type listener struct {
	tracer trace.Tracer
	ctx    context.Context
	span   trace.Span

	mu       sync.Mutex
	errCount int
	ended    bool
}

// noFieldListener forwards everything except WillResolveField so the
// dispatcher never registers the field capability. It must not embed
// *listener: embedding would promote WillResolveField right back.
type noFieldListener struct {
	l *listener
}

func (n noFieldListener) ParsingDidStart(ctx context.Context, rc *pipeline.RequestContext) (pipeline.EndFunc, error) {
	return n.l.ParsingDidStart(ctx, rc)
}

func (n noFieldListener) ValidationDidStart(ctx context.Context, rc *pipeline.RequestContext) (pipeline.EndFunc, error) {
	return n.l.ValidationDidStart(ctx, rc)
}

func (n noFieldListener) ExecutionDidStart(ctx context.Context, rc *pipeline.RequestContext) (pipeline.EndFunc, error) {
	return n.l.ExecutionDidStart(ctx, rc)
}

func (n noFieldListener) DidResolveOperation(ctx context.Context, rc *pipeline.RequestContext) error {
	return n.l.DidResolveOperation(ctx, rc)
}

func (n noFieldListener) DidEncounterErrors(ctx context.Context, rc *pipeline.RequestContext, errs []*gqlerr.Error) error {
	return n.l.DidEncounterErrors(ctx, rc, errs)
}

func (n noFieldListener) WillSendResponse(ctx context.Context, rc *pipeline.RequestContext) error {
	return n.l.WillSendResponse(ctx, rc)
}

func (l *listener) phaseSpan(name string) pipeline.EndFunc {
	_, span := l.tracer.Start(l.ctx, name)
	return func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

func (l *listener) ParsingDidStart(ctx context.Context, rc *pipeline.RequestContext) (pipeline.EndFunc, error) {
	return l.phaseSpan("graphql.parse"), nil
}

func (l *listener) ValidationDidStart(ctx context.Context, rc *pipeline.RequestContext) (pipeline.EndFunc, error) {
	return l.phaseSpan("graphql.validate"), nil
}

func (l *listener) ExecutionDidStart(ctx context.Context, rc *pipeline.RequestContext) (pipeline.EndFunc, error) {
	return l.phaseSpan("graphql.execute"), nil
}

func (l *listener) DidResolveOperation(ctx context.Context, rc *pipeline.RequestContext) error {
	l.span.SetAttributes(
		attribute.String("graphql.operation.name", rc.OperationName),
		attribute.String("graphql.operation.type", string(rc.Operation.Operation)),
		attribute.String("graphql.document.hash", rc.QueryHash),
	)
	return nil
}

func (l *listener) DidEncounterErrors(ctx context.Context, rc *pipeline.RequestContext, errs []*gqlerr.Error) error {
	l.mu.Lock()
	l.errCount += len(errs)
	l.mu.Unlock()
	for _, e := range errs {
		l.span.RecordError(e)
	}
	// Transport-signal failures never reach willSendResponse, so the request
	// span has to close here.
	if gqlerr.AsTransport(errs) != nil {
		l.finish()
	}
	return nil
}

func (l *listener) WillSendResponse(ctx context.Context, rc *pipeline.RequestContext) error {
	l.finish()
	return nil
}

func (l *listener) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ended {
		return
	}
	l.ended = true
	l.span.SetAttributes(attribute.Int("graphql.error_count", l.errCount))
	l.span.End()
}

func (l *listener) WillResolveField(p schema.ResolveParams) schema.FieldEndFunc {
	_, span := l.tracer.Start(l.ctx, p.Info.ParentType+"."+p.Info.FieldName)
	span.SetAttributes(attribute.String("graphql.field.path", pathString(p.Info.Path)))
	return func(result any, err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

func pathString(node *schema.PathNode) string {
	var b strings.Builder
	for i, elem := range node.Path() {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(v)
		default:
			fmt.Fprintf(&b, "[%v]", v)
		}
	}
	return b.String()
}
