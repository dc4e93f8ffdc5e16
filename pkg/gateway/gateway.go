// Package gateway implements the cache gateway: the per-request decision
// pipeline that serves HIT, Not Modified, MISS and HITPASS responses in front
// of a backend.
//
// Per request the gateway derives a cache key, decides whether the cache may
// be consulted, validates If-None-Match against the stored ETag, reads the
// response store and, on a miss, invokes the backend and stores a cacheable
// result in the background.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anilslabs/plugin-rest-cache/pkg/cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HeaderXCache is the diagnostic cache status header.
const HeaderXCache = "X-Cache"

// CacheStatus is the value of the X-Cache header.
type CacheStatus string

const (
	// StatusHit means the response was served from cache (including 304).
	StatusHit CacheStatus = "HIT"

	// StatusMiss means the backend produced the response.
	StatusMiss CacheStatus = "MISS"

	// StatusHitpass means the request bypassed the cache.
	StatusHitpass CacheStatus = "HITPASS"
)

// Next invokes the backend. It must fill the response slot of rc before
// returning.
type Next func(rc *RequestContext) error

// KeyDeriver computes the cache key of a request. It must not perform I/O.
type KeyDeriver func(r *http.Request, attrs cache.KeyAttributes) (string, error)

// LookupPredicate decides whether a request may be served from cache.
type LookupPredicate func(r *http.Request, hitpass HitpassPolicy) bool

// ETagGenerator returns the ETag of a response body stored under key.
type ETagGenerator func(body []byte, key string) string

// MatchChecker reports whether a request's conditional headers match etag.
type MatchChecker func(r *http.Request, etag string) bool

// ResponseStore is the response side of the cache.
// Get returns cache.ErrCacheMiss when no entry exists.
type ResponseStore interface {
	Get(ctx context.Context, key string) (*cache.Entry, error)
	Set(ctx context.Context, key string, entry *cache.Entry, ttl time.Duration) error
}

// ETagStore is the validator side of the cache.
// Get returns cache.ErrCacheMiss when no ETag exists.
type ETagStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, etag string, ttl time.Duration) error
}

// Config holds the gateway configuration.
type Config struct {
	// Strategy holds the process-wide toggles
	Strategy StrategyConfig

	// Responses stores response entries (required)
	Responses ResponseStore

	// ETags stores validators (required when Strategy.EnableEtag is set)
	ETags ETagStore

	// Collaborators. Defaults are used when nil.
	DeriveKey      KeyDeriver
	LookupEligible LookupPredicate
	GenerateETag   ETagGenerator
	MatchETag      MatchChecker

	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Gateway is the cache gateway. It is safe for concurrent use.
type Gateway struct {
	strategy       StrategyConfig
	responses      ResponseStore
	etags          ETagStore
	deriveKey      KeyDeriver
	lookupEligible LookupPredicate
	generateETag   ETagGenerator
	matchETag      MatchChecker
	logger         zerolog.Logger
	writer         *writer
}

// New creates a gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Responses == nil {
		return nil, fmt.Errorf("response store is required")
	}
	if cfg.Strategy.EnableEtag && cfg.ETags == nil {
		return nil, fmt.Errorf("etag store is required when etags are enabled")
	}

	logger := log.With().Str("component", "cache-gateway").Logger()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "cache-gateway").Logger()
	}

	g := &Gateway{
		strategy:       cfg.Strategy,
		responses:      cfg.Responses,
		etags:          cfg.ETags,
		deriveKey:      cfg.DeriveKey,
		lookupEligible: cfg.LookupEligible,
		generateETag:   cfg.GenerateETag,
		matchETag:      cfg.MatchETag,
		logger:         logger,
		writer:         &writer{logger: logger},
	}
	if g.deriveKey == nil {
		g.deriveKey = cache.DeriveKey
	}
	if g.lookupEligible == nil {
		g.lookupEligible = IsLookupEligible
	}
	if g.generateETag == nil {
		g.generateETag = cache.GenerateETag
	}
	if g.matchETag == nil {
		g.matchETag = cache.MatchesIfNoneMatch
	}
	return g, nil
}

// Process runs the cache pipeline for one request.
//
// Exactly one of three things happens: the response is served from cache
// (200 with the stored body), the request is answered 304 Not Modified, or
// next produces the response. Only the latter may dispatch store writes, and
// those never delay or fail the request.
//
// Process returns a *KeyDerivationError when no key can be derived (next is
// not invoked), and otherwise only the error returned by next.
func (g *Gateway) Process(rc *RequestContext, next Next) error {
	ctx := rc.Context()
	route := rc.Route

	key, err := g.deriveKey(rc.Request, route.Keys)
	if err != nil {
		requestsTotal.WithLabelValues(route.label(), "error").Inc()
		g.logger.Error().Err(err).Str("route", route.Name).Msg("Cache key derivation failed")
		return &KeyDerivationError{Route: route.Name, Err: err}
	}

	logger := g.logger.With().Str("route", route.Name).Str("cache_key", key).Logger()

	if !g.lookupEligible(rc.Request, route.Hitpass) {
		if err := g.invoke(rc, next); err != nil {
			return err
		}
		g.markStatus(rc, StatusHitpass)
		requestsTotal.WithLabelValues(route.label(), "hitpass").Inc()
		logger.Debug().Int("status_code", rc.StatusCode).Msg("Cache bypassed (hitpass)")
		return nil
	}

	var etag string
	if g.strategy.EnableEtag {
		etag = g.readETag(ctx, key, logger)
		if etag != "" && g.matchETag(rc.Request, etag) {
			rc.respondNotModified(etag)
			g.markStatus(rc, StatusHit)
			requestsTotal.WithLabelValues(route.label(), "not_modified").Inc()
			logger.Debug().Str("etag", etag).Msg("ETag matched, 304 Not Modified")
			return nil
		}
	}

	if entry := g.readEntry(ctx, key, logger); entry != nil {
		rc.respondCached(entry.Data, entry.Headers, etag)
		g.markStatus(rc, StatusHit)
		requestsTotal.WithLabelValues(route.label(), "hit").Inc()
		logger.Debug().Dur("age", entry.Age()).Msg("Cache hit")
		return nil
	}

	if err := g.invoke(rc, next); err != nil {
		return err
	}
	if ctx.Err() != nil {
		logger.Debug().Err(ctx.Err()).Msg("Request cancelled during backend call, skipping store")
		return nil
	}

	g.markStatus(rc, StatusMiss)
	requestsTotal.WithLabelValues(route.label(), "miss").Inc()

	if !Storable(rc.StatusCode, rc.Body) {
		logger.Debug().Int("status_code", rc.StatusCode).Msg("Cache miss, response not cacheable")
		return nil
	}

	ttl := route.TTL()
	if g.strategy.EnableEtag {
		fresh := g.generateETag(rc.Body, key)
		rc.Header.Set("ETag", fresh)
		g.writer.dispatch(ctx, "etag", key, func(ctx context.Context) error {
			return g.etags.Set(ctx, key, fresh, ttl)
		})
	}

	entry := cache.NewEntry(rc.Body, rc.Header)
	g.writer.dispatch(ctx, "response", key, func(ctx context.Context) error {
		return g.responses.Set(ctx, key, entry, ttl)
	})

	logger.Debug().Dur("ttl", ttl).Int("status_code", rc.StatusCode).Msg("Cache miss, storing response")
	return nil
}

// Wait blocks until all background store writes have completed.
func (g *Gateway) Wait() {
	g.writer.wait()
}

// Storable reports whether a backend response may be stored: a status in
// 200..300 inclusive and a non-empty body.
func Storable(statusCode int, body []byte) bool {
	return statusCode >= http.StatusOK && statusCode <= http.StatusMultipleChoices && len(body) > 0
}

func (g *Gateway) invoke(rc *RequestContext, next Next) error {
	if rc.Header == nil {
		rc.Header = http.Header{}
	}

	start := time.Now()
	err := next(rc)
	backendDuration.WithLabelValues(rc.Route.label()).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(rc.Route.label(), "error").Inc()
		return err
	}

	if rc.StatusCode == 0 {
		rc.StatusCode = http.StatusOK
	}
	return nil
}

// readETag returns the stored ETag for key, or "" when absent or unreadable.
func (g *Gateway) readETag(ctx context.Context, key string, logger zerolog.Logger) string {
	etag, err := safeRead(func() (string, error) { return g.etags.Get(ctx, key) })
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			storeReadFailures.WithLabelValues("etag").Inc()
			logger.Warn().Err(err).Msg("ETag read failed, treating as absent")
		}
		return ""
	}
	return etag
}

// readEntry returns the stored entry for key, or nil when absent or unreadable.
func (g *Gateway) readEntry(ctx context.Context, key string, logger zerolog.Logger) *cache.Entry {
	entry, err := safeRead(func() (*cache.Entry, error) { return g.responses.Get(ctx, key) })
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			storeReadFailures.WithLabelValues("response").Inc()
			logger.Warn().Err(err).Msg("Cache read failed, treating as miss")
		}
		return nil
	}
	if entry == nil {
		return nil
	}
	return entry
}

// safeRead turns a panicking store read into an error.
func safeRead[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in store read: %v", r)
		}
	}()
	return fn()
}

func (g *Gateway) markStatus(rc *RequestContext, status CacheStatus) {
	if !g.strategy.EnableXCacheHeaders {
		return
	}
	rc.Header.Set(HeaderXCache, string(status))
}
