package imagery

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/landcover-cli/internal/geometry"
	"github.com/sells-group/landcover-cli/internal/resilience"
)

// rateLimited throttles Fetch calls to a shared limiter.
type rateLimited struct {
	src     Source
	limiter *rate.Limiter
}

// RateLimited wraps src so that each Fetch waits on limiter. Concurrent
// per-year builders share one limiter and therefore one request budget.
func RateLimited(src Source, limiter *rate.Limiter) Source {
	if limiter == nil {
		return src
	}
	return &rateLimited{src: src, limiter: limiter}
}

func (r *rateLimited) Fetch(ctx context.Context, sensorID string, dates DateRange, region *geometry.Region, bands []string) (*Collection, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "imagery: rate limiter wait")
	}
	return r.src.Fetch(ctx, sensorID, dates, region, bands)
}

// retrying retries transient Fetch failures.
type retrying struct {
	src Source
	cfg resilience.RetryConfig
}

// Retrying wraps src so that transient Fetch errors are retried per cfg.
func Retrying(src Source, cfg resilience.RetryConfig) Source {
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("imagery", "fetch")
	}
	return &retrying{src: src, cfg: cfg}
}

func (r *retrying) Fetch(ctx context.Context, sensorID string, dates DateRange, region *geometry.Region, bands []string) (*Collection, error) {
	return resilience.DoVal(ctx, r.cfg, func(ctx context.Context) (*Collection, error) {
		return r.src.Fetch(ctx, sensorID, dates, region, bands)
	})
}
