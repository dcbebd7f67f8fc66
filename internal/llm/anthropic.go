package llm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docsage/internal/resilience"
	"github.com/sells-group/docsage/pkg/anthropic"
)

// AnthropicConfig tunes requests to Claude.
type AnthropicConfig struct {
	Model     string
	MaxTokens int64
}

// Anthropic is a Completer backed by the Anthropic Messages API. The system
// prompt is sent as a cached block.
type Anthropic struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropic creates an Anthropic completer.
func NewAnthropic(client anthropic.Client, cfg AnthropicConfig) *Anthropic {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &Anthropic{client: client, cfg: cfg}
}

// Name returns "anthropic".
func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Complete(ctx context.Context, systemPrompt, userMessage, documentURL string) (string, error) {
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System:    anthropic.CachedSystem(systemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: userMessage, DocumentURL: documentURL}},
	})
	if err != nil {
		if code := anthropic.StatusCode(err); code != 0 {
			return "", resilience.NewStatusError(code, err)
		}
		return "", err
	}

	resp.Usage.LogCost(a.cfg.Model, "complete")

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", eris.Wrap(ErrEmptyCompletion, "anthropic")
	}
	return text, nil
}
