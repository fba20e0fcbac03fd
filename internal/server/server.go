// Package server is the HTTP transport over the request pipeline.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/gqlgate/gqlgate/internal/apq"
	"github.com/gqlgate/gqlgate/internal/executor"
	"github.com/gqlgate/gqlgate/internal/gqlerr"
	"github.com/gqlgate/gqlgate/internal/pipeline"
	"github.com/gqlgate/gqlgate/internal/reqid"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler is an http.Handler that serves a GraphQL endpoint. It parses
// requests, drives the pipeline, and writes response envelopes; the only
// non-200 GraphQL outcome is the pipeline's transport-signal error.
type Handler struct {
	pipe *pipeline.Pipeline
	opt  Options
	log  *slog.Logger
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// GraphiQL enables the in-browser IDE when true.
	GraphiQL bool

	Logger *slog.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithGraphiQL(enable bool) Option  { return func(o *Options) { o.GraphiQL = enable } }
func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a GraphQL HTTP handler over the given pipeline.
func New(pipe *pipeline.Pipeline, opts ...Option) (*Handler, error) {
	op := Options{Timeout: 10 * time.Second, GraphiQL: true}
	for _, f := range opts {
		f(&op)
	}
	log := op.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{pipe: pipe, opt: op, log: log}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.NewContext(ctx)
	w.Header().Set("X-Request-Id", rid)

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		h.writeErrors(w, http.StatusMethodNotAllowed, gqlerr.New(gqlerr.CodeBadRequest, "method not allowed"))
		return
	}

	// Serve GraphiQL IDE when enabled and the client expects HTML.
	if r.Method == http.MethodGet && h.opt.GraphiQL && acceptsHTML(r.Header.Get("Accept")) &&
		r.URL.Query().Get("query") == "" && r.URL.Query().Get("extensions") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(graphiqlPage)
		return
	}

	req, batch, status, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		h.writeErrors(w, status, berr)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if batch != nil {
		// A batched request always answers 200; per-item failures become
		// per-item error envelopes.
		out := make([]any, len(batch))
		for i := range batch {
			resp, _ := h.executeOne(ctx, batch[i])
			out[i] = resp
		}
		h.writeJSON(w, http.StatusOK, out)
		return
	}

	resp, status := h.executeOne(ctx, req)
	h.writeJSON(w, status, resp)
}

// executeOne runs one request and maps the transport-signal error, if any, to
// its HTTP status.
func (h *Handler) executeOne(ctx context.Context, req pipeline.Request) (*executor.Response, int) {
	resp, err := h.pipe.ProcessRequest(ctx, req)
	if err != nil {
		var te *gqlerr.TransportError
		if errors.As(err, &te) {
			return &executor.Response{Errors: []*gqlerr.Error{te.Err}}, te.StatusCode
		}
		h.log.ErrorContext(ctx, "request processing failed", "error", err)
		return &executor.Response{Errors: []*gqlerr.Error{gqlerr.Internal(err)}}, http.StatusInternalServerError
	}
	return resp, http.StatusOK
}

// ------------------ Request parsing ------------------

const errBodyTooLargeMessage = "body too large"

func parseRequest(r *http.Request, maxBody int64) (pipeline.Request, []pipeline.Request, int, *gqlerr.Error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req := pipeline.Request{
			Query:         q.Get("query"),
			OperationName: q.Get("operationName"),
		}
		if v := q.Get("variables"); v != "" {
			if err := json.UnmarshalFromString(v, &req.Variables); err != nil {
				return pipeline.Request{}, nil, http.StatusBadRequest, gqlerr.New(gqlerr.CodeBadRequest, "invalid 'variables' JSON")
			}
		}
		if e := q.Get("extensions"); e != "" {
			if err := json.UnmarshalFromString(e, &req.Extensions); err != nil {
				return pipeline.Request{}, nil, http.StatusBadRequest, gqlerr.New(gqlerr.CodeBadRequest, "invalid 'extensions' JSON")
			}
			req.PersistedQuery = persistedQueryExtension(req.Extensions)
		}
		return req, nil, 0, nil
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return pipeline.Request{}, nil, http.StatusBadRequest, gqlerr.New(gqlerr.CodeBadRequest, "unsupported Content-Type")
	}

	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return pipeline.Request{}, nil, http.StatusBadRequest, gqlerr.New(gqlerr.CodeBadRequest, "failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return pipeline.Request{}, nil, http.StatusRequestEntityTooLarge, gqlerr.New(gqlerr.CodeBadRequest, errBodyTooLargeMessage)
	}

	// Try array (batch)
	if len(body) > 0 && body[0] == '[' {
		var arr []pipeline.Request
		if err := json.Unmarshal(body, &arr); err != nil {
			return pipeline.Request{}, nil, http.StatusBadRequest, gqlerr.New(gqlerr.CodeBadRequest, "invalid JSON")
		}
		if len(arr) == 0 {
			return pipeline.Request{}, nil, http.StatusBadRequest, gqlerr.New(gqlerr.CodeBadRequest, "empty batch")
		}
		for i := range arr {
			arr[i].PersistedQuery = persistedQueryExtension(arr[i].Extensions)
		}
		return pipeline.Request{}, arr, 0, nil
	}

	var req pipeline.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return pipeline.Request{}, nil, http.StatusBadRequest, gqlerr.New(gqlerr.CodeBadRequest, "invalid JSON")
	}
	req.PersistedQuery = persistedQueryExtension(req.Extensions)
	return req, nil, 0, nil
}

// persistedQueryExtension decodes extensions.persistedQuery, nil when absent.
func persistedQueryExtension(ext map[string]any) *apq.Extension {
	raw, ok := ext["persistedQuery"].(map[string]any)
	if !ok {
		return nil
	}
	pq := &apq.Extension{}
	if v, ok := raw["version"].(float64); ok {
		pq.Version = int(v)
	}
	if hash, ok := raw["sha256Hash"].(string); ok {
		pq.SHA256Hash = hash
	}
	return pq
}

// ------------------ Response writing ------------------

func (h *Handler) writeErrors(w http.ResponseWriter, status int, errs ...*gqlerr.Error) {
	h.writeJSON(w, status, &executor.Response{Errors: errs})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if h.opt.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		h.log.Error("response encoding failed", "error", err)
	}
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	wildcard := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			wildcard = true
		}
		if o == "*" || o == origin {
			allowed = true
		}
	}
	if !allowed {
		return
	}
	if wildcard {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func acceptsHTML(accept string) bool {
	for _, p := range strings.Split(accept, ",") {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "text/html") || p == "*/*" {
			return true
		}
	}
	return false
}
