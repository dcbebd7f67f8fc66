// Package llm adapts LLM providers to the single call docsage needs: a
// system prompt, a user message and a document URL in, raw text out.
package llm

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = eris.New("llm: empty completion")

// Completer calls an LLM with a document attached.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage, documentURL string) (string, error)
	Name() string
}
