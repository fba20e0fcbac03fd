package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gqlgate/gqlgate/internal/apq"
	"github.com/gqlgate/gqlgate/internal/datasource"
	"github.com/gqlgate/gqlgate/internal/executor"
	"github.com/gqlgate/gqlgate/internal/gqlerr"
	"github.com/gqlgate/gqlgate/internal/language"
	"github.com/gqlgate/gqlgate/internal/schema"
)

func buildSchema(t *testing.T, sdl string) *schema.Schema {
	t.Helper()
	s, err := schema.Build("test.graphql", sdl)
	require.NoError(t, err)
	return s
}

func helloSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := buildSchema(t, `type Query { hello: String }`)
	s.RegisterResolver("Query", "hello", func(p schema.ResolveParams) (any, error) { return "world", nil })
	return s
}

// hookRec records lifecycle events in invocation order.
type hookRec struct {
	mu     sync.Mutex
	events []string
}

func (h *hookRec) add(ev string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *hookRec) all() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *hookRec) count(ev string) int {
	n := 0
	for _, e := range h.all() {
		if e == ev {
			n++
		}
	}
	return n
}

// testListener implements every phase capability and records each call.
type testListener struct {
	name       string
	rec        *hookRec
	respond    func(rc *RequestContext) *executor.Response
	onResponse func(rc *RequestContext)
}

func (l *testListener) ParsingDidStart(ctx context.Context, rc *RequestContext) (EndFunc, error) {
	l.rec.add(l.name + ":parse.start")
	return func(error) { l.rec.add(l.name + ":parse.end") }, nil
}

func (l *testListener) ValidationDidStart(ctx context.Context, rc *RequestContext) (EndFunc, error) {
	l.rec.add(l.name + ":validate.start")
	return func(error) { l.rec.add(l.name + ":validate.end") }, nil
}

func (l *testListener) ExecutionDidStart(ctx context.Context, rc *RequestContext) (EndFunc, error) {
	l.rec.add(l.name + ":exec.start")
	return func(error) { l.rec.add(l.name + ":exec.end") }, nil
}

func (l *testListener) DidResolveOperation(ctx context.Context, rc *RequestContext) error {
	l.rec.add(l.name + ":op")
	return nil
}

func (l *testListener) WillSendResponse(ctx context.Context, rc *RequestContext) error {
	l.rec.add(l.name + ":response")
	if l.onResponse != nil {
		l.onResponse(rc)
	}
	return nil
}

func (l *testListener) DidEncounterErrors(ctx context.Context, rc *RequestContext, errs []*gqlerr.Error) error {
	l.rec.add(l.name + ":errors")
	return nil
}

func (l *testListener) ResponseForOperation(ctx context.Context, rc *RequestContext) (*executor.Response, error) {
	l.rec.add(l.name + ":respond")
	if l.respond != nil {
		return l.respond(rc), nil
	}
	return nil, nil
}

func listenerPlugin(l Listener) Plugin {
	return PluginFunc(func(ctx context.Context, rc *RequestContext) (Listener, error) {
		return l, nil
	})
}

// capturePlugin exposes the RequestContext of each processed request.
func capturePlugin(rcs *[]*RequestContext) Plugin {
	return PluginFunc(func(ctx context.Context, rc *RequestContext) (Listener, error) {
		*rcs = append(*rcs, rc)
		return nil, nil
	})
}

func TestProcessSimpleQuery(t *testing.T) {
	p, err := New(helloSchema(t))
	require.NoError(t, err)

	resp, err := p.ProcessRequest(context.Background(), Request{Query: `{ hello }`})
	require.NoError(t, err)
	require.Empty(t, resp.Errors)
	require.Equal(t, map[string]any{"hello": "world"}, resp.Data)
}

func TestLifecycleHookOrder(t *testing.T) {
	rec := &hookRec{}
	a := &testListener{name: "a", rec: rec}
	b := &testListener{name: "b", rec: rec}
	p, err := New(helloSchema(t), WithPlugins(listenerPlugin(a), listenerPlugin(b)))
	require.NoError(t, err)

	_, err = p.ProcessRequest(context.Background(), Request{Query: `{ hello }`})
	require.NoError(t, err)

	want := []string{
		"a:parse.start", "b:parse.start", "b:parse.end", "a:parse.end",
		"a:validate.start", "b:validate.start", "b:validate.end", "a:validate.end",
		"a:op", "b:op",
		"a:respond", "b:respond",
		"a:exec.start", "b:exec.start", "b:exec.end", "a:exec.end",
		"a:response", "b:response",
	}
	require.Equal(t, want, rec.all(), "starts in registration order, ends reversed")
}

func TestDocumentCacheSkipsReparse(t *testing.T) {
	rec := &hookRec{}
	var rcs []*RequestContext
	p, err := New(helloSchema(t),
		WithPlugins(capturePlugin(&rcs), listenerPlugin(&testListener{name: "a", rec: rec})))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = p.ProcessRequest(ctx, Request{Query: `{ hello }`})
	require.NoError(t, err)
	_, err = p.ProcessRequest(ctx, Request{Query: `{ hello }`})
	require.NoError(t, err)

	require.Equal(t, 1, rec.count("a:parse.start"), "second request must reuse the cached document")
	require.Equal(t, 1, rec.count("a:validate.start"))
	require.Len(t, rcs, 2)
	require.False(t, rcs[0].Metrics.DocumentCacheHit)
	require.True(t, rcs[1].Metrics.DocumentCacheHit)
	require.Same(t, rcs[0].Document, rcs[1].Document, "cached document is the one produced by the fresh parse")
}

func TestAPQRoundTrip(t *testing.T) {
	var rcs []*RequestContext
	p, err := New(helloSchema(t), WithPlugins(capturePlugin(&rcs)))
	require.NoError(t, err)

	ctx := context.Background()
	query := `{ hello }`
	hash := apq.Hash(query)
	ref := &apq.Extension{Version: 1, SHA256Hash: hash}

	// Hash before registration: not found.
	resp, err := p.ProcessRequest(ctx, Request{PersistedQuery: ref})
	require.NoError(t, err)
	require.Len(t, resp.Errors, 1)
	require.Equal(t, gqlerr.CodePersistedQueryNotFound, resp.Errors[0].Code())

	// Full text with matching hash: executes and registers.
	resp, err = p.ProcessRequest(ctx, Request{Query: query, PersistedQuery: ref})
	require.NoError(t, err)
	require.Empty(t, resp.Errors)
	require.True(t, rcs[len(rcs)-1].Metrics.PersistedQueryRegister)

	// Registration is written asynchronously after acceptance.
	require.Eventually(t, func() bool {
		resp, err := p.ProcessRequest(ctx, Request{PersistedQuery: ref})
		return err == nil && len(resp.Errors) == 0
	}, time.Second, 10*time.Millisecond)
	require.True(t, rcs[len(rcs)-1].Metrics.PersistedQueryHit)
}

func TestAPQMismatchDoesNotRegister(t *testing.T) {
	p, err := New(helloSchema(t))
	require.NoError(t, err)

	ctx := context.Background()
	hash := apq.Hash(`{ hello }`)
	ref := &apq.Extension{Version: 1, SHA256Hash: hash}

	resp, err := p.ProcessRequest(ctx, Request{Query: `{ __typename }`, PersistedQuery: ref})
	require.NoError(t, err)
	require.Len(t, resp.Errors, 1)
	require.Equal(t, gqlerr.CodeBadRequest, resp.Errors[0].Code())

	// The mismatching exchange must not have stored anything under the hash.
	resp, err = p.ProcessRequest(ctx, Request{PersistedQuery: ref})
	require.NoError(t, err)
	require.Len(t, resp.Errors, 1)
	require.Equal(t, gqlerr.CodePersistedQueryNotFound, resp.Errors[0].Code())
}

func TestPersistedQueriesDisabled(t *testing.T) {
	p, err := New(helloSchema(t), WithoutPersistedQueries())
	require.NoError(t, err)

	resp, err := p.ProcessRequest(context.Background(), Request{
		Query:          `{ hello }`,
		PersistedQuery: &apq.Extension{Version: 1, SHA256Hash: apq.Hash(`{ hello }`)},
	})
	require.NoError(t, err)
	require.Len(t, resp.Errors, 1)
	require.Equal(t, gqlerr.CodePersistedQueryNotSupport, resp.Errors[0].Code())
}

func TestMissingQueryIsTransportError(t *testing.T) {
	rec := &hookRec{}
	p, err := New(helloSchema(t), WithPlugins(listenerPlugin(&testListener{name: "a", rec: rec})))
	require.NoError(t, err)

	resp, err := p.ProcessRequest(context.Background(), Request{})
	require.Nil(t, resp)

	var te *gqlerr.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, 400, te.StatusCode)
	require.Equal(t, 1, rec.count("a:errors"), "observers see the rejection before the signal is returned")
	require.Equal(t, 0, rec.count("a:response"), "no response envelope for the transport-signal case")
}

func TestSyntaxErrorRejectsRequest(t *testing.T) {
	rec := &hookRec{}
	p, err := New(helloSchema(t), WithPlugins(listenerPlugin(&testListener{name: "a", rec: rec})))
	require.NoError(t, err)

	resp, err := p.ProcessRequest(context.Background(), Request{Query: `{ hello`})
	require.NoError(t, err)
	require.Nil(t, resp.Data)
	require.Len(t, resp.Errors, 1)
	require.Equal(t, gqlerr.CodeParseFailed, resp.Errors[0].Code())
	require.NotEmpty(t, resp.Errors[0].Locations)
	require.Equal(t, []string{
		"a:parse.start", "a:parse.end", "a:errors", "a:response",
	}, rec.all(), "parse end and error hook both fire, then the error response still goes through willSendResponse")
}

func TestValidationFailureReportsOnce(t *testing.T) {
	rec := &hookRec{}
	p, err := New(helloSchema(t), WithPlugins(listenerPlugin(&testListener{name: "a", rec: rec})))
	require.NoError(t, err)

	resp, err := p.ProcessRequest(context.Background(), Request{Query: `{ nope }`})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Errors)
	require.Equal(t, gqlerr.CodeValidationFailed, resp.Errors[0].Code())
	require.Equal(t, 1, rec.count("a:errors"))
	require.Equal(t, 1, rec.count("a:validate.end"))
	require.Equal(t, 0, rec.count("a:exec.start"))
}

func TestExtraValidationRule(t *testing.T) {
	s := helloSchema(t)
	rule := func(_ *language.Schema, doc *language.QueryDocument) []*gqlerr.Error {
		for _, op := range doc.Operations {
			for _, sel := range op.SelectionSet {
				if f, ok := sel.(*language.Field); ok && f.Name == "hello" {
					return []*gqlerr.Error{gqlerr.New(gqlerr.CodeValidationFailed, "hello is off limits")}
				}
			}
		}
		return nil
	}
	p, err := New(s, WithValidationRules(rule))
	require.NoError(t, err)

	resp, err := p.ProcessRequest(context.Background(), Request{Query: `{ hello }`})
	require.NoError(t, err)
	require.Len(t, resp.Errors, 1)
	require.Equal(t, "hello is off limits", resp.Errors[0].Message)

	resp, err = p.ProcessRequest(context.Background(), Request{Query: `{ __typename }`})
	require.NoError(t, err)
	require.Empty(t, resp.Errors)
}

func TestResponseForOperationShortCircuits(t *testing.T) {
	rec := &hookRec{}
	var resolved int
	s := buildSchema(t, `type Query { hello: String }`)
	s.RegisterResolver("Query", "hello", func(p schema.ResolveParams) (any, error) {
		resolved++
		return "world", nil
	})

	short := &executor.Response{Data: map[string]any{"hello": "cached"}}
	a := &testListener{name: "a", rec: rec}
	b := &testListener{name: "b", rec: rec, respond: func(*RequestContext) *executor.Response { return short }}
	c := &testListener{name: "c", rec: rec}
	p, err := New(s, WithPlugins(listenerPlugin(a), listenerPlugin(b), listenerPlugin(c)))
	require.NoError(t, err)

	resp, err := p.ProcessRequest(context.Background(), Request{Query: `{ hello }`})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"hello": "cached"}, resp.Data)
	require.Equal(t, 0, resolved, "engine execution must be skipped")
	require.Equal(t, 0, rec.count("c:respond"), "responders after the winner never run")
	require.Equal(t, 0, rec.count("a:exec.start"))
	require.Equal(t, 1, rec.count("a:response"))
}

func TestWillSendResponseMutatesResponse(t *testing.T) {
	a := &testListener{name: "a", rec: &hookRec{}, onResponse: func(rc *RequestContext) {
		if rc.Response.Extensions == nil {
			rc.Response.Extensions = map[string]any{}
		}
		rc.Response.Extensions["traceId"] = "t-1"
	}}
	p, err := New(helloSchema(t), WithPlugins(listenerPlugin(a)))
	require.NoError(t, err)

	resp, err := p.ProcessRequest(context.Background(), Request{Query: `{ hello }`})
	require.NoError(t, err)
	require.Equal(t, "t-1", resp.Extensions["traceId"])
}

func TestExecutionErrorsReachErrorListener(t *testing.T) {
	rec := &hookRec{}
	s := buildSchema(t, `type Query { boom: String }`)
	s.RegisterResolver("Query", "boom", func(p schema.ResolveParams) (any, error) {
		return nil, errors.New("kaboom")
	})
	p, err := New(s, WithPlugins(listenerPlugin(&testListener{name: "a", rec: rec})))
	require.NoError(t, err)

	resp, err := p.ProcessRequest(context.Background(), Request{Query: `{ boom }`})
	require.NoError(t, err)
	require.Len(t, resp.Errors, 1)
	require.Equal(t, 1, rec.count("a:errors"))
	require.Equal(t, 1, rec.count("a:exec.end"))
	require.Equal(t, 1, rec.count("a:response"))
}

func TestDebugAndFormatError(t *testing.T) {
	s := buildSchema(t, `type Query { boom: String }`)
	s.RegisterResolver("Query", "boom", func(p schema.ResolveParams) (any, error) {
		return nil, errors.New("connection refused to db-1")
	})

	p, err := New(s, WithDebug(true), WithFormatError(func(e *gqlerr.Error) *gqlerr.Error {
		e.Message = "internal error"
		return e
	}))
	require.NoError(t, err)

	resp, err := p.ProcessRequest(context.Background(), Request{Query: `{ boom }`})
	require.NoError(t, err)
	require.Len(t, resp.Errors, 1)
	require.Equal(t, "internal error", resp.Errors[0].Message)
	require.Equal(t, "connection refused to db-1", resp.Errors[0].Extensions["exception"])
}

func TestFormatResponse(t *testing.T) {
	p, err := New(helloSchema(t), WithFormatResponse(func(resp *executor.Response, rc *RequestContext) *executor.Response {
		resp.Extensions = map[string]any{"hash": rc.QueryHash}
		return resp
	}))
	require.NoError(t, err)

	resp, err := p.ProcessRequest(context.Background(), Request{Query: `{ hello }`})
	require.NoError(t, err)
	require.Equal(t, apq.Hash(`{ hello }`), resp.Extensions["hash"])
}

func TestExecutorOverride(t *testing.T) {
	var resolved int
	s := buildSchema(t, `type Query { hello: String }`)
	s.RegisterResolver("Query", "hello", func(p schema.ResolveParams) (any, error) {
		resolved++
		return "world", nil
	})
	p, err := New(s, WithExecutor(func(ctx context.Context, rc *RequestContext) (*executor.Response, error) {
		return &executor.Response{Data: map[string]any{"hello": "override"}}, nil
	}))
	require.NoError(t, err)

	resp, err := p.ProcessRequest(context.Background(), Request{Query: `{ hello }`})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"hello": "override"}, resp.Data)
	require.Equal(t, 0, resolved)
}

type fakeSource struct {
	mu     sync.Mutex
	inits  int
	params datasource.InitializeParams
}

func (f *fakeSource) Initialize(ctx context.Context, params datasource.InitializeParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	f.params = params
	return nil
}

func TestDataSourcesInitializedPerRequest(t *testing.T) {
	ds := &fakeSource{}
	p, err := New(helloSchema(t),
		WithContextValue(func(ctx context.Context) any { return "user-7" }),
		WithDataSources(func() map[string]datasource.DataSource {
			return map[string]datasource.DataSource{"backend": ds}
		}))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = p.ProcessRequest(ctx, Request{Query: `{ hello }`})
	require.NoError(t, err)
	_, err = p.ProcessRequest(ctx, Request{Query: `{ hello }`})
	require.NoError(t, err)

	require.Equal(t, 2, ds.inits, "initialization runs once per request")
	require.Equal(t, "user-7", ds.params.Context)
	require.NotNil(t, ds.params.Cache, "data sources share the pipeline cache")
}
