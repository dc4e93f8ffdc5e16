package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/anilslabs/plugin-rest-cache/internal/testutil"
	"github.com/anilslabs/plugin-rest-cache/pkg/cache"
	"github.com/anilslabs/plugin-rest-cache/pkg/config"
	"github.com/rs/zerolog"
)

const testPolicy = `
strategy:
  enableEtag: true
  enableXCacheHeaders: true
routes:
  - method: GET
    path: /api/articles
    maxAge: 60
    keys:
      useQueryParams: true
  - method: GET
    path: /api/articles/{id}
`

func testSettings(upstreamURL string) config.Settings {
	return config.Settings{
		Port:               "0",
		UpstreamURL:        upstreamURL,
		Store:              config.StoreMemory,
		UpstreamTimeout:    5 * time.Second,
		UpstreamMaxRetries: 1,
		PurgeInterval:      time.Minute,
	}
}

func newTestApp(t *testing.T, origin *testutil.MockOrigin) (*app, cache.Store) {
	t.Helper()

	policy, err := config.ParseFile([]byte(testPolicy))
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	store := cache.NewMemoryStore()
	a, err := newApp(testSettings(origin.URL()), policy, store, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	return a, store
}

func serve(a *app, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	a.gateway.Wait()
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	mr := miniredis.RunT(t)
	settings := testSettings("http://localhost:1337")
	settings.Store = config.StoreRedis
	settings.RedisURL = "redis://" + mr.Addr()

	store, err := openStore(context.Background(), settings)
	if err != nil {
		t.Fatalf("openStore failed: %v", err)
	}
	defer store.Close()

	handler := readyHandler(store)

	t.Run("ready", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})

	t.Run("not_ready_redis_down", func(t *testing.T) {
		mr.SetError("ERR injected failure")
		defer mr.SetError("")

		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", w.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	a, _ := newTestApp(t, origin)

	serve(a, http.MethodGet, "/api/articles", nil)
	rec := serve(a, http.MethodGet, "/metrics", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "# HELP") || !strings.Contains(body, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	for _, name := range []string{"rest_cache_requests_total", "rest_cache_upstream_requests_total", "rest_cache_store_writes_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}
}

func TestProxy_CachedRoute(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/api/articles", testutil.NewJSONResponse(`[{"id":1}]`))
	a, _ := newTestApp(t, origin)

	rec := serve(a, http.MethodGet, "/api/articles?page=1", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first request = %d %q, want 200 MISS", rec.Code, rec.Header().Get("X-Cache"))
	}
	etag := rec.Header().Get("ETag")

	rec = serve(a, http.MethodGet, "/api/articles?page=1", nil)
	if rec.Header().Get("X-Cache") != "HIT" || rec.Body.String() != `[{"id":1}]` {
		t.Errorf("second request = %q %s, want HIT", rec.Header().Get("X-Cache"), rec.Body.String())
	}

	rec = serve(a, http.MethodGet, "/api/articles?page=1", http.Header{"If-None-Match": {etag}})
	if rec.Code != http.StatusNotModified {
		t.Errorf("conditional request = %d, want 304", rec.Code)
	}

	rec = serve(a, http.MethodHead, "/api/articles?page=1", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "HIT" || rec.Body.Len() != 0 {
		t.Errorf("HEAD request = %d %q body %q, want 200 HIT without body", rec.Code, rec.Header().Get("X-Cache"), rec.Body.String())
	}

	rec = serve(a, http.MethodGet, "/api/articles?page=2", nil)
	if rec.Header().Get("X-Cache") != "MISS" {
		t.Errorf("other page = %q, want MISS", rec.Header().Get("X-Cache"))
	}

	rec = serve(a, http.MethodGet, "/api/articles?page=1", http.Header{"Authorization": {"Bearer token"}})
	if rec.Header().Get("X-Cache") != "HITPASS" {
		t.Errorf("authenticated request = %q, want HITPASS", rec.Header().Get("X-Cache"))
	}

	if n := origin.RequestCount(); n != 3 {
		t.Errorf("origin requests = %d, want 3", n)
	}
}

func TestProxy_PatternRoute(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	a, _ := newTestApp(t, origin)

	for _, want := range []string{"MISS", "HIT"} {
		rec := serve(a, http.MethodGet, "/api/articles/7", nil)
		if rec.Body.String() != `{"path":"/api/articles/7"}` || rec.Header().Get("X-Cache") != want {
			t.Errorf("response = %q %s, want %s", rec.Header().Get("X-Cache"), rec.Body.String(), want)
		}
	}
}

func TestProxy_Uncached(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	a, store := newTestApp(t, origin)

	tests := []struct {
		name   string
		method string
		target string
	}{
		{"unconfigured path", http.MethodGet, "/api/users"},
		{"write to cached path", http.MethodPost, "/api/articles"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin.Reset()
			for i := 0; i < 2; i++ {
				rec := serve(a, tt.method, tt.target, nil)
				if rec.Code != http.StatusOK {
					t.Errorf("status = %d, want 200", rec.Code)
				}
				if rec.Header().Get("X-Cache") != "" {
					t.Errorf("X-Cache = %q on uncached request", rec.Header().Get("X-Cache"))
				}
			}
			if n := origin.RequestCount(); n != 2 {
				t.Errorf("origin requests = %d, want 2", n)
			}
		})
	}

	if n := store.(*cache.MemoryStore).Len(); n != 0 {
		t.Errorf("stored entries = %d, want 0", n)
	}
}

func TestProxy_OriginDown(t *testing.T) {
	origin := testutil.NewMockOrigin()
	a, _ := newTestApp(t, origin)
	origin.Close()

	rec := serve(a, http.MethodGet, "/api/articles", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestOpenStore(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		modify  func(*config.Settings)
		wantErr bool
	}{
		{"memory", func(s *config.Settings) {}, false},
		{"sqlite", func(s *config.Settings) {
			s.Store = config.StoreSQLite
			s.SQLitePath = filepath.Join(t.TempDir(), "cache.db")
		}, false},
		{"redis url", func(s *config.Settings) {
			s.Store = config.StoreRedis
			s.RedisURL = "redis://" + mr.Addr()
			s.RedisDB = 1
		}, false},
		{"redis addr", func(s *config.Settings) {
			s.Store = config.StoreRedis
			s.RedisURL = mr.Addr()
		}, false},
		{"redis unreachable", func(s *config.Settings) {
			s.Store = config.StoreRedis
			s.RedisURL = "redis://127.0.0.1:1"
		}, true},
		{"unknown", func(s *config.Settings) { s.Store = "memcached" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings("http://localhost:1337")
			tt.modify(&settings)

			store, err := openStore(context.Background(), settings)
			if (err != nil) != tt.wantErr {
				t.Fatalf("openStore() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer store.Close()

			ctx := context.Background()
			if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if got, err := store.Get(ctx, "k"); err != nil || string(got) != "v" {
				t.Errorf("Get() = %q, %v", got, err)
			}
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	f, err := loadPolicy("")
	if err != nil || len(f.Routes) != 0 || !f.Strategy.EnableEtag {
		t.Errorf("loadPolicy(\"\") = %+v, %v, want default", f, err)
	}

	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(testPolicy), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	f, err = loadPolicy(path)
	if err != nil || len(f.Routes) != 2 {
		t.Errorf("loadPolicy(file) = %d routes, %v", len(f.Routes), err)
	}
}

func TestRunPurger(t *testing.T) {
	store := cache.NewMemoryStore()
	if err := store.Set(context.Background(), "short", []byte("v"), time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runPurger(ctx, store, 5*time.Millisecond, zerolog.Nop())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if n := store.Len(); n != 0 {
		t.Errorf("entries after purge = %d, want 0", n)
	}
}

func TestRun_Shutdown(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()

	settings := testSettings(origin.URL())
	settings.Port = "0"

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, settings, zerolog.Nop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}
