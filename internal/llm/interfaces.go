// Package llm provides the client for the external memory-extraction
// collaborator, plus the prompt templates and the strict parser for its
// structured output.
package llm

import "context"

// TextGenerator is the interface for LLM text completion. The memory
// extraction prompt uses single-string completion style (not chat).
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}
