package gateway

import (
	"net/http"
	"time"

	"github.com/anilslabs/plugin-rest-cache/pkg/cache"
)

// DefaultMaxAge is the TTL used when a route does not configure one.
const DefaultMaxAge = time.Hour

// HitpassPolicy reports whether a request must bypass the cache.
type HitpassPolicy func(r *http.Request) bool

// HitpassNever never bypasses the cache.
func HitpassNever(*http.Request) bool { return false }

// HitpassAlways bypasses the cache for every request.
func HitpassAlways(*http.Request) bool { return true }

// HitpassOnHeaders bypasses the cache when any of the named request headers
// is present.
func HitpassOnHeaders(names ...string) HitpassPolicy {
	return func(r *http.Request) bool {
		for _, name := range names {
			if len(r.Header.Values(name)) > 0 {
				return true
			}
		}
		return false
	}
}

// DefaultHitpass bypasses the cache for authenticated requests.
var DefaultHitpass = HitpassOnHeaders("Authorization")

// RouteConfig is the cache policy of one route.
// It is built at route registration time and never modified afterwards.
type RouteConfig struct {
	// Name identifies the route in logs and metrics (e.g. "GET /api/articles")
	Name string

	// Hitpass decides per request whether the cache is bypassed.
	// A nil policy never bypasses.
	Hitpass HitpassPolicy

	// MaxAge is the TTL of stored entries (DefaultMaxAge when zero)
	MaxAge time.Duration

	// Keys are the request attributes that participate in the cache key
	Keys cache.KeyAttributes
}

// TTL returns the effective lifetime of entries stored for this route.
func (rc RouteConfig) TTL() time.Duration {
	if rc.MaxAge <= 0 {
		return DefaultMaxAge
	}
	return rc.MaxAge
}

func (rc RouteConfig) label() string {
	if rc.Name == "" {
		return "unnamed"
	}
	return rc.Name
}

// StrategyConfig holds process-wide cache toggles.
type StrategyConfig struct {
	// EnableEtag turns on ETag generation and If-None-Match validation
	EnableEtag bool

	// EnableXCacheHeaders emits the X-Cache diagnostic header
	EnableXCacheHeaders bool
}
