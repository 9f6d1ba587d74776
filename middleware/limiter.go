// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kpuvote/kpu-vote/session"
)

// limiterIdle is how long an unused limiter is kept
const limiterIdle = 10 * time.Minute

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// LimiterPool hands out one token bucket per key
type LimiterPool struct {
	mu    sync.Mutex
	m     map[string]*limiterEntry
	rps   float64
	burst int
	sweep time.Time
}

func NewLimiterPool(rps float64, burst int) *LimiterPool {
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 5
	}
	return &LimiterPool{m: make(map[string]*limiterEntry), rps: rps, burst: burst}
}

func (p *LimiterPool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if now.Sub(p.sweep) > limiterIdle {
		for k, e := range p.m {
			if now.Sub(e.lastSeen) > limiterIdle {
				delete(p.m, k)
			}
		}
		p.sweep = now
	}

	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: now}
	return l
}

// Allow reports whether key may act now
func (p *LimiterPool) Allow(key string) bool {
	now := time.Now()
	return p.get(key, now).AllowN(now, 1)
}

// RateLimit throttles requests per signed-in user, or per client IP for
// anonymous callers
func RateLimit(p *LimiterPool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + GetClientIP(r)
		if id := session.FromContext(r.Context()); id != nil {
			key = "user:" + id.ID
		}
		if !p.Allow(key) {
			w.Header().Set("Retry-After", "1")
			ErrorResponse(w, http.StatusTooManyRequests, "Too many requests, slow down")
			return
		}
		next(w, r)
	}
}
