package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/genai"

	"github.com/edgard/bizcircle/internal/config"
	"github.com/edgard/bizcircle/internal/resilience"
)

// GeminiService calls the Gemini API in JSON mode.
type GeminiService struct {
	client      *genai.Client
	model       string
	temperature float32
	retry       resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
	log         *slog.Logger
}

// NewGeminiService creates a Gemini-backed Service.
func NewGeminiService(ctx context.Context, cfg config.ExtractorConfig, log *slog.Logger) (*GeminiService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger := log.With("component", "gemini_service")
	logger.Info("Gemini service initialized", "model", cfg.Model)
	return &GeminiService{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		retry:       retryConfig(cfg, isTransientGeminiError, logger),
		breaker:     breaker("gemini", cfg, logger),
		log:         logger,
	}, nil
}

// Generate sends prompt with systemInstruction and returns the response text.
func (s *GeminiService) Generate(ctx context.Context, systemInstruction, prompt string) (string, error) {
	temperature := s.temperature
	genCfg := &genai.GenerateContentConfig{
		Temperature:       &temperature,
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var text string
	err := resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, genCfg)
			if err != nil {
				return fmt.Errorf("gemini API call failed: %w", err)
			}
			text, err = responseText(resp)
			return err
		})
	})
	if err != nil {
		s.log.ErrorContext(ctx, "Gemini generation failed", "error", err)
		return "", err
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reason := string(resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}
		return "", fmt.Errorf("gemini request blocked: %s", reason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = string(resp.Candidates[0].FinishReason)
		}
		return "", fmt.Errorf("gemini returned no content, finish reason: %s", finishReason)
	}
	return resp.Text(), nil
}

func isTransientGeminiError(err error) bool {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.Code)
	}
	var apiErrValue genai.APIError
	if errors.As(err, &apiErrValue) {
		return transientStatus(apiErrValue.Code)
	}
	return errors.Is(err, resilience.ErrTimeout)
}
