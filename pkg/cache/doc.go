// Package cache keeps decoded Admin API listings in Redis between requests.
//
// The catalog proxy uses it for the merged collection list so that
// /get_products does not page through every collection on each request.
// Entries expire after a fixed TTL; an expired entry read back before Redis
// evicts it counts as a miss and is deleted.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{Shop: "demo.myshopify.com", Resource: "collections"}
//
//	var collections []map[string]any
//	err := manager.Load(ctx, key, &collections)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// read from the Admin API, then:
//		_ = manager.Store(ctx, key, collections, 5*time.Minute)
//	}
//
// # Metrics
//
//   - shop_cache_hits_total - Cache hits
//   - shop_cache_misses_total - Cache misses (absent or expired)
//   - shop_cache_entry_bytes - Size of stored entries
//   - shop_cache_errors_total{operation} - Redis and encoding errors
package cache
