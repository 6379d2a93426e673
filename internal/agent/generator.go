package agent

import "context"

// Params tunes one generation request.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Generation is the result of one LLM call, with token usage for cost
// accounting.
type Generation struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Generator is the injected LLM collaborator. Implementations must respect
// the context deadline.
type Generator interface {
	Generate(ctx context.Context, systemMsg, userMsg string, params Params) (*Generation, error)
}
