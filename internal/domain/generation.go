package domain

import "context"

// Generator is the generation backend contract. Treated as a black box
// bounded only by the caller's context deadline.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (GenerationResult, error)
}

// Prompt is the input to a generation backend.
type Prompt struct {
	System string
	User   string
}

// GenerationResult carries the generated text and token usage.
type GenerationResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
