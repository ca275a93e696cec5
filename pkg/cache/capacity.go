package cache

import "math"

const (
	baseCacheSize    = 75 << 20
	capacityExponent = 0.6
)

// CacheSize returns the cache capacity for a preload size of n chapters.
// Growth is sublinear:
//
//	preload  4 -> ~172 MiB
//	preload  6 -> ~220 MiB
//	preload 10 -> ~299 MiB
//	preload 20 -> ~452 MiB
func CacheSize(preload int) int64 {
	if preload < 1 {
		preload = 1
	}
	return int64(baseCacheSize * math.Pow(float64(preload), capacityExponent))
}
