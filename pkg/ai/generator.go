package ai

import "context"

// TextGenerator generates text from a system prompt and user prompt.
// The insight service depends on this rather than a concrete provider
// so tests can substitute a stub.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
