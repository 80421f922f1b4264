// Package anthropic adapts the Anthropic Messages API to the generation
// backend contract.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/metrics"
)

const provider = "anthropic"

// Config holds the Anthropic provider settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Logger      *zap.Logger
}

// Generator calls Messages.New. SDK retries are disabled: the orchestrator
// owns the deadline and generation is never retried.
type Generator struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	logger      *zap.Logger
}

// NewGenerator creates an Anthropic generation provider.
func NewGenerator(cfg *Config) *Generator {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &Generator{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   int64(maxTokens),
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}
}

// Generate implements domain.Generator.
func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt) (domain.GenerationResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	}
	if g.temperature > 0 {
		params.Temperature = anthropic.Float(g.temperature)
	}
	if prompt.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: prompt.System}}
	}

	start := time.Now()
	resp, err := g.client.Messages.New(ctx, params)
	duration := time.Since(start)

	if err != nil {
		mapped := mapError(ctx, err)
		metrics.GenerationRequestsTotal.WithLabelValues(provider, g.model, "error").Inc()
		metrics.GenerationErrorsTotal.WithLabelValues(provider, g.model, errorType(mapped)).Inc()
		return domain.GenerationResult{}, mapped
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		metrics.GenerationRequestsTotal.WithLabelValues(provider, g.model, "error").Inc()
		metrics.GenerationErrorsTotal.WithLabelValues(provider, g.model, "empty_response").Inc()
		return domain.GenerationResult{}, fmt.Errorf("empty message: %w", domain.ErrGenerationProviderError)
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	metrics.GenerationRequestsTotal.WithLabelValues(provider, g.model, "success").Inc()
	metrics.GenerationRequestDuration.WithLabelValues(provider, g.model).Observe(duration.Seconds())
	metrics.GenerationTokensTotal.WithLabelValues(provider, g.model, "prompt").Add(float64(in))
	metrics.GenerationTokensTotal.WithLabelValues(provider, g.model, "completion").Add(float64(out))

	if resp.StopReason == anthropic.StopReasonMaxTokens {
		g.logger.Warn("Message truncated by max tokens",
			zap.String("model", g.model),
			zap.Int64("max_tokens", g.maxTokens),
		)
	}

	return domain.GenerationResult{
		Text:             text.String(),
		PromptTokens:     in,
		CompletionTokens: out,
		TotalTokens:      in + out,
	}, nil
}

func mapError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return fmt.Errorf("anthropic: %w", ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("anthropic: %w", domain.ErrBackendTimeout)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		wrap := domain.ErrGenerationProviderError
		if s := apiErr.StatusCode; s >= 400 && s < 500 && s != http.StatusRequestTimeout && s != http.StatusTooManyRequests {
			wrap = domain.ErrBackendRejected
		}
		return fmt.Errorf("anthropic API error %d: %w", apiErr.StatusCode, wrap)
	}
	return fmt.Errorf("anthropic request failed: %v: %w", err, domain.ErrGenerationProviderError)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrBackendTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrBackendRejected):
		return "rejected"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "api_error"
	}
}
