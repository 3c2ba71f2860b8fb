package ratelimit

import (
	"context"

	"github.com/smallcrm/leadhook/internal/config"
)

const ingestKeyPrefix = "leadhook:ratelimit:webhook:"

// IngestLimiter throttles the inbound webhook endpoint per remote source.
// Disabled when no rate is configured.
type IngestLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewIngestLimiter(cfg config.Config, bucket *TokenBucket) *IngestLimiter {
	if cfg.Webhook.RateLimitRPS <= 0 || bucket == nil {
		return nil
	}
	burst := cfg.Webhook.RateLimitBurst
	if burst <= 0 {
		burst = int(cfg.Webhook.RateLimitRPS * 2)
	}
	if burst < 1 {
		burst = 1
	}
	return &IngestLimiter{
		bucket: bucket,
		rate:   cfg.Webhook.RateLimitRPS,
		burst:  burst,
	}
}

func (l *IngestLimiter) Enabled() bool { return l != nil }

func (l *IngestLimiter) Allow(ctx context.Context, source string) (*Result, error) {
	if l == nil {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, ingestKeyPrefix+source, l.rate, l.burst)
}
