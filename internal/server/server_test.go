package server

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gqlgate/gqlgate/internal/apq"
	"github.com/gqlgate/gqlgate/internal/pipeline"
	"github.com/gqlgate/gqlgate/internal/schema"
)

func newTestHandler(t *testing.T, opts ...Option) *Handler {
	t.Helper()
	sch, err := schema.Build("test.graphql", `type Query { hello: String }`)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	sch.RegisterResolver("Query", "hello", func(p schema.ResolveParams) (any, error) {
		return "world", nil
	})
	pipe, err := pipeline.New(sch)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	h, err := New(pipe, opts...)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return h
}

func postJSON(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPostQuery(t *testing.T) {
	h := newTestHandler(t)
	w := postJSON(t, h, `{"query":"{ hello }"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); !strings.Contains(got, `"hello":"world"`) {
		t.Fatalf("unexpected body: %s", got)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestGetQuery(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest("GET", "/?query="+url.QueryEscape(`{ hello }`), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); !strings.Contains(got, `"hello":"world"`) {
		t.Fatalf("unexpected body: %s", got)
	}
}

func TestMissingQueryMapsToBadRequest(t *testing.T) {
	h := newTestHandler(t)
	w := postJSON(t, h, `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); !strings.Contains(got, "BAD_REQUEST") {
		t.Fatalf("unexpected body: %s", got)
	}
}

func TestPersistedQueryOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	query := `{ hello }`
	hash := apq.Hash(query)

	ext := fmt.Sprintf(`{"persistedQuery":{"version":1,"sha256Hash":%q}}`, hash)

	// Hash only, before registration.
	w := postJSON(t, h, fmt.Sprintf(`{"extensions":%s}`, ext))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := w.Body.String(); !strings.Contains(got, "PERSISTED_QUERY_NOT_FOUND") {
		t.Fatalf("expected not-found error, got: %s", got)
	}

	// Register with full text.
	w = postJSON(t, h, fmt.Sprintf(`{"query":%q,"extensions":%s}`, query, ext))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"hello":"world"`) {
		t.Fatalf("registration failed: %d %s", w.Code, w.Body.String())
	}

	// Hash only over GET, after registration. The write is asynchronous, so
	// poll briefly.
	target := "/?extensions=" + url.QueryEscape(ext)
	ok := false
	for i := 0; i < 100 && !ok; i++ {
		// Yield so the deferred store write's goroutine can run on GOMAXPROCS=1.
		time.Sleep(time.Millisecond)
		req := httptest.NewRequest("GET", target, nil)
		req.Header.Set("Accept", "application/json")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		ok = strings.Contains(w.Body.String(), `"hello":"world"`)
	}
	if !ok {
		t.Fatalf("hash-only request never succeeded after registration")
	}
}

func TestBatchRequests(t *testing.T) {
	h := newTestHandler(t)
	w := postJSON(t, h, `[{"query":"{ hello }"},{"query":"{ hello }"}]`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := strings.Count(w.Body.String(), `"hello":"world"`); got != 2 {
		t.Fatalf("expected 2 results, got %d in %s", got, w.Body.String())
	}
}

func TestCORSAndPreflight(t *testing.T) {
	h := newTestHandler(t, WithCORS("*"))

	// simple request
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"query":"{ hello }"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	// preflight
	pre := httptest.NewRequest("OPTIONS", "/", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	if pw.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", pw.Code)
	}
	if pw.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight missing CORS header")
	}
	if pw.Header().Get("Access-Control-Allow-Headers") != "X-Test" {
		t.Fatalf("preflight missing allow headers")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	h := newTestHandler(t, WithMaxBodyBytes(10))
	w := postJSON(t, h, `{"query":"{ hello }"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest("DELETE", "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestGraphiQLPage(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept", "text/html")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected HTML, got %s", ct)
	}
	if !strings.Contains(w.Body.String(), "GraphiQL") {
		t.Fatalf("not the IDE page")
	}

	h2 := newTestHandler(t, WithGraphiQL(false))
	w2 := httptest.NewRecorder()
	h2.ServeHTTP(w2, req.Clone(req.Context()))
	if strings.HasPrefix(w2.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("IDE should be disabled")
	}
}

func TestSyntaxErrorStaysHTTP200(t *testing.T) {
	h := newTestHandler(t)
	w := postJSON(t, h, `{"query":"{ hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("GraphQL errors ride a 200 envelope, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "GRAPHQL_PARSE_FAILED") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}
