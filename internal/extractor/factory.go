package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/edgard/bizcircle/internal/config"
	"github.com/edgard/bizcircle/internal/resilience"
)

// Provider names accepted in extractor.provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// NewService creates the Service selected by cfg.Provider, rate limited when
// cfg.RequestsPerMinute is set.
func NewService(ctx context.Context, cfg config.ExtractorConfig, log *slog.Logger) (Service, error) {
	if log == nil {
		log = slog.Default()
	}
	var (
		service Service
		err     error
	)
	switch cfg.Provider {
	case ProviderGemini:
		service, err = NewGeminiService(ctx, cfg, log)
	case ProviderOpenAI:
		service, err = NewOpenAIService(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported extractor provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithRateLimit(service, cfg.RequestsPerMinute), nil
}

func retryConfig(cfg config.ExtractorConfig, retryable func(error) bool, log *slog.Logger) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries: cfg.MaxRetries,
		Delay:      cfg.RetryDelay,
		Retryable:  retryable,
		Logger:     log,
	}
}

func breaker(name string, cfg config.ExtractorConfig, log *slog.Logger) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          name,
		MaxFailures:   cfg.BreakerFailures,
		Timeout:       cfg.Timeout,
		ResetInterval: cfg.BreakerReset,
		Logger:        log,
	})
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
