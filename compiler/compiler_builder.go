package compiler

import "time"

// CompilerOption configures a Compiler during construction.
type CompilerOption func(*compiler)

// WithCacheTTL overrides how long memoized pass compilations stay fresh.
//
// Parameters:
//   - ttl: the cache entry lifetime; non-positive values are ignored
//
// Returns:
//   - CompilerOption: the option to pass to NewCompiler
func WithCacheTTL(ttl time.Duration) CompilerOption {
	return func(c *compiler) {
		if ttl > 0 {
			c.cache.ttl = ttl
		}
	}
}

// WithCacheCapacity overrides the memoization cache's entry bound.
//
// Parameters:
//   - capacity: the maximum cached passes; values below 1 are ignored
//
// Returns:
//   - CompilerOption: the option to pass to NewCompiler
func WithCacheCapacity(capacity int) CompilerOption {
	return func(c *compiler) {
		if capacity >= 1 {
			c.cache.cap = capacity
		}
	}
}
