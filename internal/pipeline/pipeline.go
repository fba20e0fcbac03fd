// Package pipeline orchestrates request processing: query identity
// resolution, cached parse and validation, the plugin lifecycle, execution,
// and response formatting.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/gqlgate/gqlgate/internal/apq"
	"github.com/gqlgate/gqlgate/internal/datasource"
	"github.com/gqlgate/gqlgate/internal/executor"
	"github.com/gqlgate/gqlgate/internal/gqlerr"
	"github.com/gqlgate/gqlgate/internal/language"
	"github.com/gqlgate/gqlgate/internal/schema"
	"github.com/gqlgate/gqlgate/internal/store"
)

const (
	defaultDocumentStoreSize  = 1024
	defaultPersistedQuerySize = 1024
)

// ValidationRule is an extra validation pass merged with the engine's default
// rules. Returned errors reject the request as validation failures.
type ValidationRule func(s *language.Schema, doc *language.QueryDocument) []*gqlerr.Error

// ExecutorFunc overrides the default execution call.
type ExecutorFunc func(ctx context.Context, rc *RequestContext) (*executor.Response, error)

// FormatResponseFunc is the final response transformation, applied after
// error formatting.
type FormatResponseFunc func(resp *executor.Response, rc *RequestContext) *executor.Response

// PersistedQueryOptions configures the automatic persisted query store.
type PersistedQueryOptions struct {
	// Cache backs the store. Defaults to an in-process expirable LRU.
	Cache store.KV
	// TTL bounds entry lifetime in the default cache. Zero means no expiry.
	// External caches own their own expiry policy.
	TTL time.Duration
	// Disabled turns the persisted-query protocol off; requests referencing
	// one are rejected as unsupported.
	Disabled bool
}

// Options is the pipeline configuration surface.
type Options struct {
	RootValue        any
	ValidationRules  []ValidationRule
	Executor         ExecutorFunc
	FieldResolver    schema.FieldResolver
	DataSources      datasource.Factory
	ContextValue     func(ctx context.Context) any
	PersistedQueries PersistedQueryOptions
	FormatError      gqlerr.FormatFunc
	FormatResponse   FormatResponseFunc
	Plugins          []Plugin
	DocumentStore    store.DocumentStore
	Logger           *slog.Logger
	Debug            bool
}

type Option func(*Options)

func WithRootValue(v any) Option { return func(o *Options) { o.RootValue = v } }
func WithValidationRules(rules ...ValidationRule) Option {
	return func(o *Options) { o.ValidationRules = append(o.ValidationRules, rules...) }
}
func WithExecutor(fn ExecutorFunc) Option { return func(o *Options) { o.Executor = fn } }
func WithFieldResolver(r schema.FieldResolver) Option {
	return func(o *Options) { o.FieldResolver = r }
}
func WithDataSources(f datasource.Factory) Option { return func(o *Options) { o.DataSources = f } }
func WithContextValue(f func(ctx context.Context) any) Option {
	return func(o *Options) { o.ContextValue = f }
}
func WithPersistedQueries(pq PersistedQueryOptions) Option {
	return func(o *Options) { o.PersistedQueries = pq }
}
func WithoutPersistedQueries() Option {
	return func(o *Options) { o.PersistedQueries.Disabled = true }
}
func WithFormatError(f gqlerr.FormatFunc) Option { return func(o *Options) { o.FormatError = f } }
func WithFormatResponse(f FormatResponseFunc) Option {
	return func(o *Options) { o.FormatResponse = f }
}
func WithPlugins(plugins ...Plugin) Option {
	return func(o *Options) { o.Plugins = append(o.Plugins, plugins...) }
}
func WithDocumentStore(ds store.DocumentStore) Option {
	return func(o *Options) { o.DocumentStore = ds }
}
func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }
func WithDebug(debug bool) Option      { return func(o *Options) { o.Debug = debug } }

// Pipeline drives one request from raw input to formatted response.
type Pipeline struct {
	schema *schema.Schema
	opt    Options

	// cache is the shared KV injected into data sources; pq is its
	// persisted-query view ("apq:" namespace), nil when APQ is disabled.
	cache store.KV
	pq    store.KV
	docs  store.DocumentStore
	log   *slog.Logger
}

// New builds a pipeline over s. The schema's field resolvers are instrumented
// here, once; passing the same schema to a second pipeline reuses the
// existing instrumentation.
func New(s *schema.Schema, opts ...Option) (*Pipeline, error) {
	var o Options
	for _, f := range opts {
		f(&o)
	}

	p := &Pipeline{schema: s, opt: o, docs: o.DocumentStore, log: o.Logger}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.docs == nil {
		docs, err := store.NewLRUDocumentStore(defaultDocumentStoreSize)
		if err != nil {
			return nil, err
		}
		p.docs = docs
	}

	p.cache = o.PersistedQueries.Cache
	if p.cache == nil {
		p.cache = store.NewExpirableLRU(defaultPersistedQuerySize, o.PersistedQueries.TTL)
	}
	if !o.PersistedQueries.Disabled {
		p.pq = apq.Store(p.cache)
	}

	if o.FieldResolver != nil {
		s.SetDefaultResolver(o.FieldResolver)
	}
	executor.Instrument(s)
	return p, nil
}

// ProcessRequest runs one request through the full state machine. The
// returned error is non-nil only for the transport-signal case: an error
// carrying an HTTP status that the transport must translate itself instead
// of sending the usual response envelope.
func (p *Pipeline) ProcessRequest(ctx context.Context, req Request) (*executor.Response, error) {
	rc := &RequestContext{Request: req, OperationName: req.OperationName}
	if p.opt.ContextValue != nil {
		rc.Context = p.opt.ContextValue(ctx)
	}

	if p.opt.DataSources != nil {
		rc.DataSources = p.opt.DataSources()
		for name, ds := range rc.DataSources {
			if err := ds.Initialize(ctx, datasource.InitializeParams{Context: rc.Context, Cache: p.cache}); err != nil {
				p.log.ErrorContext(ctx, "data source initialization failed", "source", name, "error", err)
				d, _ := newDispatcher(ctx, rc, nil)
				return p.fail(ctx, d, rc, gqlerr.Internal(err))
			}
		}
	}

	d, err := newDispatcher(ctx, rc, p.opt.Plugins)
	if err != nil {
		d, _ = newDispatcher(ctx, rc, nil)
		return p.fail(ctx, d, rc, gqlerr.Internal(err))
	}

	// Identity resolution runs before any phase hook, but its failures still
	// reach didEncounterErrors so observers see every rejected request.
	id, gerr := apq.Resolve(ctx, p.pq, p.log, req.Query, req.PersistedQuery)
	if gerr != nil {
		return p.fail(ctx, d, rc, gerr)
	}
	rc.Source = id.Source
	rc.QueryHash = id.Hash
	rc.Metrics.PersistedQueryHit = id.Hit
	rc.Metrics.PersistedQueryRegister = id.Register

	if cached, ok := p.docs.Get(rc.QueryHash); ok {
		// Cached documents were validated with zero errors when stored, so
		// the parse and validation phases (and their hooks) are skipped.
		rc.Document = cached
		rc.Metrics.DocumentCacheHit = true
	} else {
		doc, failResp, failErr, failed := p.parseAndValidate(ctx, d, rc)
		if failed {
			return failResp, failErr
		}
		rc.Document = doc
		p.docs.Set(rc.QueryHash, doc)
	}

	op, gerr := executor.Operation(rc.Document, req.OperationName)
	if gerr != nil {
		return p.fail(ctx, d, rc, gerr)
	}
	rc.Operation = op
	if op.Name != "" {
		rc.OperationName = op.Name
	}

	if err := d.didResolveOperation(ctx, rc); err != nil {
		return p.fail(ctx, d, rc, gqlerr.Internal(err))
	}

	// The persisted-query entry is written only now, after every
	// pre-execution hook accepted the request. Fire-and-forget: a failed
	// write is logged and the response is unaffected.
	if id.Register && p.pq != nil {
		go func(hash, source string) {
			if err := p.pq.Set(context.WithoutCancel(ctx), hash, source); err != nil {
				p.log.WarnContext(ctx, "persisted query write failed", "hash", hash, "error", err)
			}
		}(id.Hash, id.Source)
	}

	if resp, err := d.responseForOperation(ctx, rc); err != nil {
		return p.fail(ctx, d, rc, gqlerr.Internal(err))
	} else if resp != nil {
		rc.Response = resp
		return p.finish(ctx, d, rc)
	}

	endExec, err := d.executionDidStart(ctx, rc)
	if err != nil {
		return p.fail(ctx, d, rc, gqlerr.Internal(err))
	}

	start := time.Now()
	var resp *executor.Response
	if p.opt.Executor != nil {
		r, err := p.opt.Executor(ctx, rc)
		if err != nil {
			r = &executor.Response{Errors: []*gqlerr.Error{gqlerr.Internal(err)}}
		}
		resp = r
	} else {
		resp = executor.Execute(ctx, executor.Args{
			Schema:        p.schema,
			Document:      rc.Document,
			OperationName: req.OperationName,
			Variables:     req.Variables,
			RootValue:     p.opt.RootValue,
			Observer:      d.fieldObserver(),
		})
	}
	rc.Metrics.ExecuteDuration = time.Since(start)

	if len(resp.Errors) > 0 {
		endExec(resp.Errors[0])
		rc.Errors = append(rc.Errors, resp.Errors...)
		if err := d.didEncounterErrors(ctx, rc, resp.Errors); err != nil {
			p.log.WarnContext(ctx, "error listener failed", "error", err)
		}
	} else {
		endExec(nil)
	}

	rc.Response = resp
	return p.finish(ctx, d, rc)
}

// parseAndValidate runs the parse and validation phases with their hooks.
// failed=true means the request was rejected and (failResp, failErr) is the
// final outcome.
func (p *Pipeline) parseAndValidate(ctx context.Context, d *dispatcher, rc *RequestContext) (doc *language.QueryDocument, failResp *executor.Response, failErr error, failed bool) {
	endParse, err := d.parsingDidStart(ctx, rc)
	if err != nil {
		r, e := p.fail(ctx, d, rc, gqlerr.Internal(err))
		return nil, r, e, true
	}
	start := time.Now()
	doc, perr := language.ParseQuery(rc.Source)
	rc.Metrics.ParseDuration = time.Since(start)
	if perr != nil {
		ge := gqlerr.Syntax(perr)
		endParse(ge)
		r, e := p.fail(ctx, d, rc, ge)
		return nil, r, e, true
	}
	endParse(nil)

	endValidate, err := d.validationDidStart(ctx, rc)
	if err != nil {
		r, e := p.fail(ctx, d, rc, gqlerr.Internal(err))
		return nil, r, e, true
	}
	start = time.Now()
	verrs := gqlerr.Validation(language.Validate(p.schema.AST(), doc))
	for _, rule := range p.opt.ValidationRules {
		verrs = append(verrs, rule(p.schema.AST(), doc)...)
	}
	rc.Metrics.ValidateDuration = time.Since(start)
	if len(verrs) > 0 {
		endValidate(verrs[0])
		r, e := p.fail(ctx, d, rc, verrs...)
		return nil, r, e, true
	}
	endValidate(nil)
	return doc, nil, nil, false
}

// fail reports errs through didEncounterErrors exactly once, then either
// returns the transport signal or builds the error response through the
// normal finishing path.
func (p *Pipeline) fail(ctx context.Context, d *dispatcher, rc *RequestContext, errs ...*gqlerr.Error) (*executor.Response, error) {
	rc.Errors = append(rc.Errors, errs...)
	if err := d.didEncounterErrors(ctx, rc, errs); err != nil {
		p.log.WarnContext(ctx, "error listener failed", "error", err)
	}
	if t := gqlerr.AsTransport(errs); t != nil {
		return nil, t
	}
	rc.Response = &executor.Response{Errors: errs}
	return p.finish(ctx, d, rc)
}

// finish runs willSendResponse, then the single formatting pass every
// client-visible error goes through.
func (p *Pipeline) finish(ctx context.Context, d *dispatcher, rc *RequestContext) (*executor.Response, error) {
	if err := d.willSendResponse(ctx, rc); err != nil {
		p.log.WarnContext(ctx, "response listener failed", "error", err)
	}
	resp := rc.Response
	resp.Errors = gqlerr.Format(resp.Errors, p.opt.Debug, p.opt.FormatError)
	if p.opt.FormatResponse != nil {
		resp = p.opt.FormatResponse(resp, rc)
	}
	return resp, nil
}
