// Package cache provides the storage side of the REST response cache.
//
// It contains the pieces the gateway consumes but does not own:
//
// - Deterministic cache key derivation from request attributes
// - Byte-oriented Store backends (Redis, SQLite, in-process memory)
// - ResponseStore and ETagStore adapters layered on a Store
// - ETag generation and If-None-Match matching
// - Prometheus metrics for store operations
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Wrap it in a store and build both adapters on top
//	store := cache.NewRedisStore(redisClient)
//	responses := cache.NewResponseStore(store)
//	etags := cache.NewETagStore(store)
//
//	// Derive a key for the request
//	key, err := cache.DeriveKey(req, cache.KeyAttributes{
//		UseQueryParams: true,
//		Headers:        []string{"Accept-Language"},
//	})
//
//	// Read a cached response
//	entry, err := responses.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// Cache miss - invoke the backend
//	}
//
// # ETags
//
// The ETag for a response is stored under its own key (the cache key plus
// "_etag", inside the "etag:" namespace) so that its lifecycle is independent
// from the response entry and no request path can derive the same key.
//
//	etag := cache.GenerateETag(body, key)
//	_ = etags.Set(ctx, key, etag, time.Hour)
//
//	if cache.MatchesIfNoneMatch(req, etag) {
//		// respond 304 Not Modified
//	}
//
// # Metrics
//
// Store backends export Prometheus metrics:
//
//   - rest_cache_store_hits_total{layer} - Store hits
//   - rest_cache_store_misses_total{layer} - Store misses (absent or expired)
//   - rest_cache_store_errors_total{layer,operation} - Store operation errors
//   - rest_cache_store_written_bytes_total{layer} - Bytes written to the store
package cache
