package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/edgard/bizcircle/internal/config"
	"github.com/edgard/bizcircle/internal/resilience"
)

// ErrNoChoices is returned when a chat completion has no choices.
var ErrNoChoices = errors.New("no choices in chat completion response")

// OpenAIService calls an OpenAI-compatible chat completion API, such as
// DeepSeek, in JSON object mode.
type OpenAIService struct {
	client      *openai.Client
	model       string
	temperature float32
	retry       resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
	log         *slog.Logger
}

// NewOpenAIService creates an OpenAI-compatible Service.
func NewOpenAIService(cfg config.ExtractorConfig, log *slog.Logger) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	openAICfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openAICfg.BaseURL = cfg.BaseURL
	}
	openAICfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	// go-openai omits a zero temperature from the request, which servers read as 1.
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	logger := log.With("component", "openai_service")
	logger.Info("OpenAI service initialized", "model", cfg.Model, "base_url", openAICfg.BaseURL)
	return &OpenAIService{
		client:      openai.NewClientWithConfig(openAICfg),
		model:       cfg.Model,
		temperature: temperature,
		retry:       retryConfig(cfg, isTransientOpenAIError, logger),
		breaker:     breaker("openai", cfg, logger),
		log:         logger,
	}, nil
}

// Generate sends prompt with systemInstruction and returns the response text.
func (s *OpenAIService) Generate(ctx context.Context, systemInstruction, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: s.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var text string
	err := resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			resp, err := s.client.CreateChatCompletion(ctx, req)
			if err != nil {
				return fmt.Errorf("chat completion failed: %w", err)
			}
			if len(resp.Choices) == 0 {
				return ErrNoChoices
			}
			text = resp.Choices[0].Message.Content
			return nil
		})
	})
	if err != nil {
		s.log.ErrorContext(ctx, "OpenAI generation failed", "error", err)
		return "", err
	}
	return text, nil
}

func isTransientOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return transientStatus(reqErr.HTTPStatusCode)
	}
	return errors.Is(err, resilience.ErrTimeout)
}
