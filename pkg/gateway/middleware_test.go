package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anilslabs/plugin-rest-cache/pkg/cache"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func newTestRouter(t *testing.T, strategy StrategyConfig) (*chi.Mux, *Gateway, *atomic.Int32) {
	t.Helper()

	store := cache.NewMemoryStore()
	logger := zerolog.Nop()
	gw, err := New(Config{
		Strategy:  strategy,
		Responses: cache.NewResponseStore(store),
		ETags:     cache.NewETagStore(store),
		Logger:    &logger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	calls := &atomic.Int32{}
	r := chi.NewRouter()
	r.With(gw.Middleware(articlesRoute)).Get("/api/articles", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "session=abc")
		w.Write([]byte(`[{"id":1}]`))
	})
	r.With(gw.Middleware(articlesRoute)).Get("/api/missing", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	})
	return r, gw, calls
}

func TestMiddleware_MissThenHit(t *testing.T) {
	router, gw, calls := newTestRouter(t, StrategyConfig{EnableEtag: true, EnableXCacheHeaders: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/articles", nil))
	gw.Wait()

	if rec.Code != http.StatusOK {
		t.Fatalf("miss status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get(HeaderXCache); got != "MISS" {
		t.Errorf("miss X-Cache = %q, want MISS", got)
	}
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("miss response has no ETag")
	}
	if got := rec.Header().Get("Content-Length"); got != "10" {
		t.Errorf("Content-Length = %q, want 10", got)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/articles", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != `[{"id":1}]` {
		t.Errorf("hit = %d %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(HeaderXCache); got != "HIT" {
		t.Errorf("hit X-Cache = %q, want HIT", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("hit Content-Type = %q", got)
	}
	if got := rec.Header().Get("Set-Cookie"); got != "" {
		t.Errorf("hit replayed Set-Cookie %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/articles", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotModified {
		t.Errorf("conditional status = %d, want 304", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("304 body = %q, want empty", rec.Body.String())
	}
	if rec.Header().Get("ETag") != etag {
		t.Errorf("304 ETag = %q, want %q", rec.Header().Get("ETag"), etag)
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("handler calls = %d, want 1", n)
	}
}

func TestMiddleware_NotFoundNotCached(t *testing.T) {
	router, gw, calls := newTestRouter(t, StrategyConfig{EnableXCacheHeaders: true})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/missing", nil))
		gw.Wait()
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("handler calls = %d, want 2", n)
	}
}

func TestMiddleware_Hitpass(t *testing.T) {
	router, gw, calls := newTestRouter(t, StrategyConfig{EnableXCacheHeaders: true})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/articles", nil)
		req.Header.Set("Authorization", "Bearer token")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if got := rec.Header().Get(HeaderXCache); got != "HITPASS" {
			t.Errorf("X-Cache = %q, want HITPASS", got)
		}
	}
	gw.Wait()
	if n := calls.Load(); n != 2 {
		t.Errorf("handler calls = %d, want 2", n)
	}
}

func TestMiddleware_KeyDerivationError(t *testing.T) {
	router, _, calls := newTestRouter(t, StrategyConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/articles", nil)
	req.URL.RawQuery = "page=%zz"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("handler calls = %d, want 0", n)
	}
}

func TestHandler_BackendError(t *testing.T) {
	logger := zerolog.Nop()
	gw, err := New(Config{Responses: cache.NewResponseStore(cache.NewMemoryStore()), Logger: &logger})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	h := gw.Handler(articlesRoute, func(*RequestContext) error { return io.ErrUnexpectedEOF })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/articles", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestRequestContext_WriteTo(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		status     int
		body       string
		wantBody   string
		wantLength string
	}{
		{"ok", http.MethodGet, http.StatusOK, "hello", "hello", "5"},
		{"default status", http.MethodGet, 0, "hello", "hello", "5"},
		{"head", http.MethodHead, http.StatusOK, "hello", "", "5"},
		{"head without body", http.MethodHead, http.StatusOK, "", "", ""},
		{"not modified", http.MethodGet, http.StatusNotModified, "", "", ""},
		{"no content", http.MethodGet, http.StatusNoContent, "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := NewRequestContext(httptest.NewRequest(tt.method, "/", nil), RouteConfig{})
			rc.StatusCode = tt.status
			rc.Body = []byte(tt.body)
			rc.Header.Set("Content-Type", "text/plain")

			rec := httptest.NewRecorder()
			if err := rc.WriteTo(rec); err != nil {
				t.Fatalf("WriteTo failed: %v", err)
			}

			wantStatus := tt.status
			if wantStatus == 0 {
				wantStatus = http.StatusOK
			}
			if rec.Code != wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if got := rec.Header().Get("Content-Length"); got != tt.wantLength {
				t.Errorf("Content-Length = %q, want %q", got, tt.wantLength)
			}
			if got := rec.Header().Get("Content-Type"); got != "text/plain" {
				t.Errorf("Content-Type = %q", got)
			}
		})
	}
}

func TestRequestContext_WriteToHeadKeepsDeclaredLength(t *testing.T) {
	rc := NewRequestContext(httptest.NewRequest(http.MethodHead, "/", nil), RouteConfig{})
	rc.StatusCode = http.StatusOK
	rc.Header.Set("Content-Length", "1234")

	rec := httptest.NewRecorder()
	if err := rc.WriteTo(rec); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	if got := rec.Header().Get("Content-Length"); got != "1234" {
		t.Errorf("Content-Length = %q, want 1234", got)
	}
}

func TestRecorder(t *testing.T) {
	rec := newRecorder()
	rec.Header().Set("Content-Length", "3")
	rec.Header().Set("X-Test", "1")
	rec.WriteHeader(http.StatusCreated)
	rec.WriteHeader(http.StatusTeapot)
	rec.Write([]byte("abc"))

	rc := NewRequestContext(httptest.NewRequest(http.MethodGet, "/", nil), RouteConfig{})
	rec.fill(rc)

	if rc.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", rc.StatusCode)
	}
	if string(rc.Body) != "abc" {
		t.Errorf("body = %q", rc.Body)
	}
	if rc.Header.Get("X-Test") != "1" || rc.Header.Get("Content-Length") != "" {
		t.Errorf("header = %v", rc.Header)
	}

	head := newRecorder()
	head.Header().Set("Content-Length", "42")
	head.WriteHeader(http.StatusOK)
	headRC := NewRequestContext(httptest.NewRequest(http.MethodHead, "/", nil), RouteConfig{})
	head.fill(headRC)
	if got := headRC.Header.Get("Content-Length"); got != "42" {
		t.Errorf("HEAD Content-Length = %q, want 42", got)
	}

	empty := newRecorder()
	empty.fill(rc)
	if rc.StatusCode != http.StatusOK || len(rc.Body) != 0 {
		t.Errorf("empty recorder filled %d %q, want 200 and no body", rc.StatusCode, rc.Body)
	}
}
