package types

import "context"

// LLMClient defines the minimal interface phases use to call a text-generation
// provider. Implementations live in internal/llm; phases never depend on a
// concrete provider.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
