package extractor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// rateLimited delays calls to a Service so that no more than the configured
// number start per minute.
type rateLimited struct {
	Service
	limiter *rate.Limiter
}

// WithRateLimit wraps service so that at most perMinute calls start each
// minute. A non-positive perMinute returns service unchanged.
func WithRateLimit(service Service, perMinute int) Service {
	if perMinute <= 0 {
		return service
	}
	return &rateLimited{
		Service: service,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (r *rateLimited) Generate(ctx context.Context, systemInstruction, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for extraction rate limit: %w", err)
	}
	return r.Service.Generate(ctx, systemInstruction, prompt)
}
