package classifier

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Holds each call until the limiter admits it. Upstream quotas are per-minute, so this smooths bursts of new posts.
type RateLimited struct {
	Inner   Classifier
	Limiter *rate.Limiter
}

var _ Classifier = (*RateLimited)(nil)

// perSecond <= 0 means unlimited
func NewRateLimited(inner Classifier, perSecond float64, burst int) *RateLimited {
	lim := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return &RateLimited{
		Inner:   inner,
		Limiter: lim,
	}
}

func (rl *RateLimited) Classify(ctx context.Context, p Payload) (*Verdict, error) {
	if err := rl.Limiter.Wait(ctx); err != nil {
		classifierFailureCount.WithLabelValues(string(p.Kind), StageRequest).Inc()
		return nil, requestFailure(p.Kind, fmt.Errorf("waiting for classifier rate limit: %w", err))
	}
	return rl.Inner.Classify(ctx, p)
}
