package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/pkg/provider/llm"
	"github.com/echogarden-io/echogarden/pkg/types"
)

const maxSummaryChars = 400

// Summarizer implements the summarizer registry tool:
// summarizer({text}) -> {summary}, 1-3 sentences, at most 400 characters.
//
// When llmProvider is nil (no llm_url configured, or the LLM is
// dependency_unavailable) it falls back to a deterministic extractive
// summary: the first sentences of the input up to the character budget.
type Summarizer struct {
	llmProvider llm.Provider
	model       string
}

// NewSummarizer constructs the summarizer tool. llmProvider may be nil to
// always run in stub mode.
func NewSummarizer(llmProvider llm.Provider, model string) *Summarizer {
	return &Summarizer{llmProvider: llmProvider, model: model}
}

func (t *Summarizer) Name() string { return "summarizer" }

func (t *Summarizer) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   []string{"text"},
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
	}
}

func (t *Summarizer) OutputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   []string{"summary"},
		"properties": map[string]any{"summary": map[string]any{"type": "string"}},
	}
}

func (t *Summarizer) Run(ctx context.Context, in map[string]any) (map[string]any, error) {
	text, _ := in["text"].(string)
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.InvalidInput, "summarizer: text must not be empty")
	}

	if t.llmProvider != nil {
		if summary, err := t.summarizeWithLLM(ctx, text); err == nil {
			return map[string]any{"summary": truncate(summary, maxSummaryChars)}, nil
		}
		// LLM unavailable: degrade to the extractive stub rather than fail the
		// ingest pipeline, per the dependency_unavailable policy.
	}

	return map[string]any{"summary": extractiveSummary(text, maxSummaryChars)}, nil
}

func (t *Summarizer) summarizeWithLLM(ctx context.Context, text string) (string, error) {
	resp, err := t.llmProvider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "Summarize the user's text in 1 to 3 sentences, at most 400 characters. Output only the summary.",
		Messages:     []types.Message{{Role: "user", Content: text}},
		Temperature:  0.2,
		MaxTokens:    200,
	})
	if err != nil {
		return "", fmt.Errorf("summarizer: llm complete: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// extractiveSummary takes leading sentences of text up to maxChars.
func extractiveSummary(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxChars {
		return text
	}
	sentences := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
	var sb strings.Builder
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		candidate := sb.String()
		if candidate != "" {
			candidate += ". "
		}
		candidate += s + "."
		if len(candidate) > maxChars {
			break
		}
		sb.Reset()
		sb.WriteString(candidate)
	}
	if sb.Len() == 0 {
		return truncate(text, maxChars)
	}
	return sb.String()
}

func truncate(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	return strings.TrimSpace(s[:maxChars])
}
