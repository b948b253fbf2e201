// Package ratelimit gates LLM calls with a per-agent token bucket (spec
// §A.6 of the expanded spec), simplified from the teacher's
// scope/window/store-backed quota tracker
// (_examples/kadirpekel-hector/pkg/ratelimit/{types,limiter}.go) down to an
// in-memory limiter: distributed quota storage across processes is out of
// scope for a single-process orchestration core. The scope/usage/
// check-and-record vocabulary is kept (Limiter.Allow plays the role of the
// teacher's CheckAndRecord), but usage accounting is delegated entirely to
// golang.org/x/time/rate rather than hand-rolled windowed counters.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/corteximus/agentcore/pkg/agenterr"
)

// Config configures one agent's request-rate and (optionally separate)
// burst allowance, expressed as requests per second, matching
// golang.org/x/time/rate's own unit.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// Limiter is a per-agent-name token-bucket rate limiter. A zero Limiter
// with no per-agent configuration allows every request (rate limiting is
// opt-in per agent, same as the teacher's Config.Enabled flag).
type Limiter struct {
	mu       sync.Mutex
	defaults Config
	buckets  map[string]*rate.Limiter
}

// New builds a Limiter. defaults applies to any agent name not given its
// own Config via WithAgent; a zero-value Config (RequestsPerSecond == 0)
// means unlimited.
func New(defaults Config) *Limiter {
	return &Limiter{defaults: defaults, buckets: make(map[string]*rate.Limiter)}
}

// WithAgent installs a distinct Config for one agent name, overriding
// defaults for it.
func (l *Limiter) WithAgent(agentName string, cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[agentName] = newBucket(cfg)
}

func newBucket(cfg Config) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil // unlimited
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

func (l *Limiter) bucketFor(agentName string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[agentName]; ok {
		return b
	}
	b := newBucket(l.defaults)
	if l.buckets == nil {
		l.buckets = make(map[string]*rate.Limiter)
	}
	l.buckets[agentName] = b
	return b
}

// Allow reports whether agentName may proceed right now, consuming one
// token if so. A denial is never blocking — the caller decides whether to
// retry, per spec §7's Transient/rate_limit policy.
func (l *Limiter) Allow(agentName string) bool {
	b := l.bucketFor(agentName)
	if b == nil {
		return true
	}
	return b.Allow()
}

// Wait blocks until agentName's bucket admits a token or ctx is done,
// returning a structured Transient error on denial rather than the raw
// rate.Limiter error.
func (l *Limiter) Wait(ctx context.Context, agentName string) error {
	b := l.bucketFor(agentName)
	if b == nil {
		return nil
	}
	if err := b.Wait(ctx); err != nil {
		return agenterr.Wrap(agenterr.KindTransient, agenterr.ReasonRateLimit, "rate limit wait failed", err)
	}
	return nil
}
