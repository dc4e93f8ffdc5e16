// Command rest-cache-proxy is a caching reverse proxy for a REST API.
//
// Configured routes are answered through the cache gateway (HIT, MISS,
// HITPASS, 304); every other request is forwarded to the origin unchanged.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anilslabs/plugin-rest-cache/pkg/cache"
	"github.com/anilslabs/plugin-rest-cache/pkg/config"
	"github.com/anilslabs/plugin-rest-cache/pkg/gateway"
	"github.com/anilslabs/plugin-rest-cache/pkg/logging"
	"github.com/anilslabs/plugin-rest-cache/pkg/metrics"
	"github.com/anilslabs/plugin-rest-cache/pkg/upstream"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	base := logging.Setup(logging.Config{
		Level:   logging.ParseLevel(settings.LogLevel),
		Pretty:  settings.LogPretty,
		Output:  os.Stderr,
		Service: "rest-cache-proxy",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, base); err != nil {
		fatal := logging.NewLogger("rest-cache-proxy")
		fatal.Fatal().Err(err).Msg("Proxy failed")
	}
}

// run serves until ctx is cancelled, then drains requests and pending cache
// writes before closing the store.
func run(ctx context.Context, settings config.Settings, base zerolog.Logger) error {
	logger := base.With().Str("component", "rest-cache-proxy").Logger()

	policy, err := loadPolicy(settings.ConfigFile)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("Closing store failed")
		}
	}()

	app, err := newApp(settings, policy, store, base)
	if err != nil {
		return err
	}

	if purger, ok := store.(purger); ok {
		go runPurger(ctx, purger, settings.PurgeInterval, logger)
	}

	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("upstream", settings.UpstreamURL).
			Str("store", settings.Store).
			Int("routes", len(policy.Routes)).
			Msg("Starting REST cache proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Graceful shutdown failed")
		}
	}

	app.gateway.Wait()
	logger.Info().Msg("Pending cache writes flushed")
	return nil
}

type app struct {
	router  *chi.Mux
	gateway *gateway.Gateway
}

// newApp wires the gateway, the upstream client and the router.
func newApp(settings config.Settings, policy config.File, store cache.Store, logger zerolog.Logger) (*app, error) {
	retry := upstream.DefaultRetryConfig()
	retry.MaxAttempts = settings.UpstreamMaxRetries

	client, err := upstream.New(upstream.Config{
		BaseURL: settings.UpstreamURL,
		Timeout: settings.UpstreamTimeout,
		Retry:   retry,
		Logger:  &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create upstream client: %w", err)
	}

	gw, err := gateway.New(gateway.Config{
		Strategy:  policy.Strategy.Gateway(),
		Responses: cache.NewResponseStore(store),
		ETags:     cache.NewETagStore(store),
		Logger:    &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware(logger))
	// HEAD requests are served by the GET route of the same path.
	r.Use(middleware.GetHead)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(store))
	r.Handle("/metrics", metrics.Handler())

	for _, route := range policy.Routes {
		rc := route.RouteConfig()
		r.Method(route.HTTPMethod(), route.Path, gw.Handler(rc, client.Invoke))
		logger.Debug().Str("route", rc.Name).Dur("max_age", rc.TTL()).Msg("Cached route registered")
	}

	r.NotFound(client.ServeHTTP)
	r.MethodNotAllowed(client.ServeHTTP)

	return &app{router: r, gateway: gw}, nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyCheckKey is read, never written, to check that the store answers.
const readyCheckKey = cache.KeyPrefix + ":ready-check"

// readyHandler answers 503 while the store cannot be read.
func readyHandler(store cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if _, err := store.Get(ctx, readyCheckKey); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

func loadPolicy(filename string) (config.File, error) {
	if filename == "" {
		return config.DefaultFile(), nil
	}
	return config.LoadFile(filename)
}

// openStore opens the store backend selected by settings.
func openStore(ctx context.Context, settings config.Settings) (cache.Store, error) {
	switch settings.Store {
	case config.StoreRedis:
		opts, err := redisOptions(settings.RedisURL)
		if err != nil {
			return nil, err
		}
		if settings.RedisDB > 0 {
			opts.DB = settings.RedisDB
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		return cache.NewRedisStore(client), nil
	case config.StoreSQLite:
		return cache.NewSQLiteStore(settings.SQLitePath)
	case config.StoreMemory:
		return cache.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", settings.Store)
	}
}

// redisOptions accepts a redis:// URL or a bare host:port address.
func redisOptions(redisURL string) (*redis.Options, error) {
	if !strings.Contains(redisURL, "://") {
		return &redis.Options{Addr: redisURL}, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return opts, nil
}

// purger is implemented by stores that do not expire entries on their own.
type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func runPurger(ctx context.Context, p purger, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("Purging expired entries failed")
				continue
			}
			if n > 0 {
				logger.Debug().Int64("purged", n).Msg("Purged expired entries")
			}
		}
	}
}
