package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// rateLimiters keeps one token bucket per device id so a chatty device
// can't starve the ingest path for everyone else.
type rateLimiters struct {
	mu      sync.Mutex
	perSec  rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func newRateLimiters(perSec float64, burst int) *rateLimiters {
	return &rateLimiters{
		perSec:  rate.Limit(perSec),
		burst:   burst,
		buckets: map[string]*rate.Limiter{},
	}
}

func (r *rateLimiters) allow(key string) bool {
	r.mu.Lock()
	lim, ok := r.buckets[key]
	if !ok {
		lim = rate.NewLimiter(r.perSec, r.burst)
		r.buckets[key] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}
