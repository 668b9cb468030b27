package tools

import (
	"context"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/pkg/ids"
	"github.com/echogarden-io/echogarden/pkg/provider/embeddings"
)

// TextEmbed wraps an embeddings.Provider as the text_embed registry tool:
// text_embed({text}) -> {vector_ref}.
type TextEmbed struct {
	provider embeddings.Provider
}

// NewTextEmbed constructs the text_embed tool.
func NewTextEmbed(provider embeddings.Provider) *TextEmbed {
	return &TextEmbed{provider: provider}
}

func (t *TextEmbed) Name() string { return "text_embed" }

func (t *TextEmbed) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   []string{"text"},
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
	}
}

func (t *TextEmbed) OutputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   []string{"vector_ref"},
		"properties": map[string]any{"vector_ref": map[string]any{"type": "string"}},
	}
}

// Run embeds text and returns a vector_ref alongside the raw vector and
// dimensions, so the ingest orchestrator can persist the embedding without a
// second round-trip to the provider.
func (t *TextEmbed) Run(ctx context.Context, in map[string]any) (map[string]any, error) {
	text, _ := in["text"].(string)
	if text == "" {
		return nil, apperr.New(apperr.InvalidInput, "text_embed: text must not be empty")
	}

	vec, err := t.provider.Embed(ctx, text)
	if err != nil {
		return nil, apperr.Wrap(apperr.DependencyUnavailable, "text_embed: embed", err)
	}

	ref := ids.Prefixed("vec")
	return map[string]any{
		"vector_ref": ref,
		"vector":     vec,
		"dimensions": t.provider.Dimensions(),
		"model_id":   t.provider.ModelID(),
	}, nil
}
