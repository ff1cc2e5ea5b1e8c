// Package security carries the cross-cutting protections around the
// protocol endpoints: audit logging, per-identifier rate limiting,
// response security headers, request correlation IDs, and client IP
// resolution behind proxies.
//
// The rate limiter is a per-identifier token bucket with a bounded
// tracking table. When the cap is reached the least recently seen
// identifier is evicted, and a background sweep drops identifiers idle
// for half an hour:
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//		// 429 + Retry-After
//	}
//
// GetStats exposes the tracking counters (Tracked, Capacity, Evictions,
// Sweeps) for capacity monitoring; a climbing eviction count usually
// means a scan across many source addresses.
package security
