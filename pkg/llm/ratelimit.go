package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Provider with a token-bucket limiter. The engine does
// not rate-limit endpoints itself; callers that need back-pressure wrap the
// provider before handing it to the executor.
type RateLimited struct {
	provider Provider
	limiter  *rate.Limiter
}

// NewRateLimited wraps p so that at most rps requests per second are issued,
// allowing bursts up to burst.
func NewRateLimited(p Provider, rps float64, burst int) *RateLimited {
	return &RateLimited{
		provider: p,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Name returns the underlying provider's name.
func (r *RateLimited) Name() string { return r.provider.Name() }

// Complete waits for limiter admission, then delegates.
func (r *RateLimited) Complete(ctx context.Context, messages []Message) (Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	return r.provider.Complete(ctx, messages)
}

// Compile-time interface check.
var _ Provider = (*RateLimited)(nil)
