package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docsage/internal/resilience"
	"github.com/sells-group/docsage/pkg/mistral"
)

// MistralConfig tunes document requests to Mistral.
type MistralConfig struct {
	Model              string
	DocumentImageLimit int
	DocumentPageLimit  int
}

// Mistral is a Completer backed by Mistral chat completions. Responses are
// forced to a JSON object.
type Mistral struct {
	client mistral.Client
	cfg    MistralConfig
}

// NewMistral creates a Mistral completer.
func NewMistral(client mistral.Client, cfg MistralConfig) *Mistral {
	return &Mistral{client: client, cfg: cfg}
}

// Name returns "mistral".
func (m *Mistral) Name() string { return "mistral" }

func (m *Mistral) Complete(ctx context.Context, systemPrompt, userMessage, documentURL string) (string, error) {
	resp, err := m.client.ChatCompletion(ctx, mistral.ChatRequest{
		Model: m.cfg.Model,
		Messages: []mistral.Message{
			mistral.SystemMessage(systemPrompt),
			mistral.DocumentMessage(userMessage, documentURL),
		},
		ResponseFormat:     mistral.JSONObject,
		DocumentImageLimit: m.cfg.DocumentImageLimit,
		DocumentPageLimit:  m.cfg.DocumentPageLimit,
	})
	if err != nil {
		var apiErr *mistral.APIError
		if errors.As(err, &apiErr) {
			return "", resilience.NewStatusError(apiErr.StatusCode, err)
		}
		return "", err
	}

	zap.L().Debug("mistral completion",
		zap.String("model", resp.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", eris.Wrap(ErrEmptyCompletion, "mistral")
	}
	return text, nil
}
