package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/pkg/provider/llm"
	"github.com/echogarden-io/echogarden/pkg/types"
)

// Evidence is one retrieval hit handed to the weaver/verifier tools.
type Evidence struct {
	MemoryID string  `json:"memory_id"`
	Summary  string  `json:"summary"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
}

// Weaver implements the weaver registry tool:
// weaver({query, evidence}) -> {answer, cited_memory_ids}. The answer must
// cite evidence using "[title]" tokens; without an LLM configured it falls
// back to a bulleted digest of the top summaries with synthetic citations.
type Weaver struct {
	llmProvider llm.Provider
}

// NewWeaver constructs the weaver tool. llmProvider may be nil to always
// run in stub mode.
func NewWeaver(llmProvider llm.Provider) *Weaver {
	return &Weaver{llmProvider: llmProvider}
}

func (t *Weaver) Name() string { return "weaver" }

func (t *Weaver) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"query", "evidence"},
		"properties": map[string]any{
			"query":    map[string]any{"type": "string"},
			"evidence": map[string]any{"type": "array"},
		},
	}
}

func (t *Weaver) OutputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"answer", "cited_memory_ids"},
		"properties": map[string]any{
			"answer":           map[string]any{"type": "string"},
			"cited_memory_ids": map[string]any{"type": "array"},
		},
	}
}

func (t *Weaver) Run(ctx context.Context, in map[string]any) (map[string]any, error) {
	query, _ := in["query"].(string)
	if query == "" {
		return nil, apperr.New(apperr.InvalidInput, "weaver: query must not be empty")
	}
	evidence := parseEvidence(in["evidence"])

	if len(evidence) == 0 {
		return map[string]any{"answer": "", "cited_memory_ids": []string{}}, nil
	}

	if t.llmProvider != nil {
		if answer, cited, err := t.weaveWithLLM(ctx, query, evidence); err == nil {
			return map[string]any{"answer": answer, "cited_memory_ids": cited}, nil
		}
		// Fall through to the stub digest on dependency_unavailable.
	}

	answer, cited := stubDigest(evidence)
	return map[string]any{"answer": answer, "cited_memory_ids": cited}, nil
}

func (t *Weaver) weaveWithLLM(ctx context.Context, query string, evidence []Evidence) (answer string, cited []string, err error) {
	evidenceJSON, _ := json.Marshal(evidence)
	resp, err := t.llmProvider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "Answer the user's question using ONLY the evidence provided. Cite every claim with a " +
			`"[title]" token referencing the evidence item's summary. Do not state anything the evidence does not support.`,
		Messages: []types.Message{
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nEvidence: %s", query, evidenceJSON)},
		},
		Temperature: 0.2,
		MaxTokens:   500,
	})
	if err != nil {
		return "", nil, fmt.Errorf("weaver: llm complete: %w", err)
	}
	answer = strings.TrimSpace(resp.Content)
	return answer, citedMemoryIDs(answer, evidence), nil
}

// stubDigest renders a bulleted list of evidence summaries with a synthetic
// citation token per item, used when no LLM is configured.
func stubDigest(evidence []Evidence) (answer string, cited []string) {
	var sb strings.Builder
	sb.WriteString("Based on retrieved memories:\n")
	for _, e := range evidence {
		title := citationTitle(e)
		sb.WriteString(fmt.Sprintf("- %s [%s]\n", strings.TrimSpace(e.Summary), title))
		cited = append(cited, e.MemoryID)
	}
	return strings.TrimSpace(sb.String()), cited
}

// citedMemoryIDs matches "[title]" tokens in answer back to evidence items
// whose summary contains that title text.
func citedMemoryIDs(answer string, evidence []Evidence) []string {
	var cited []string
	for _, e := range evidence {
		title := citationTitle(e)
		if strings.Contains(answer, "["+title+"]") {
			cited = append(cited, e.MemoryID)
		}
	}
	return cited
}

func citationTitle(e Evidence) string {
	if e.Summary != "" {
		words := strings.Fields(e.Summary)
		if len(words) > 6 {
			words = words[:6]
		}
		return strings.Join(words, " ")
	}
	return e.MemoryID
}

func parseEvidence(raw any) []Evidence {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]Evidence, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		e := Evidence{}
		e.MemoryID, _ = m["memory_id"].(string)
		e.Summary, _ = m["summary"].(string)
		e.Snippet, _ = m["snippet"].(string)
		if score, ok := m["score"].(float64); ok {
			e.Score = score
		} else if score, ok := m["final_score"].(float64); ok {
			e.Score = score
		}
		out = append(out, e)
	}
	return out
}
