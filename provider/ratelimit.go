package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps an adapter with a token-bucket limiter so bursts
// of workflow steps do not exceed the external service's quota.
// Callers block until a token is available or their context ends.
type RateLimited struct {
	inner   Invoker
	limiter *rate.Limiter
}

var _ Invoker = (*RateLimited)(nil)

// NewRateLimited wraps inner with a limiter of rps requests per
// second and the given burst.
func NewRateLimited(inner Invoker, rps float64, burst int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimited) Name() string {
	return r.inner.Name()
}

func (r *RateLimited) Capabilities() []Capability {
	return r.inner.Capabilities()
}

func (r *RateLimited) Invoke(ctx context.Context, capability Capability, parameters map[string]any) (*Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Invoke(ctx, capability, parameters)
}
