package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/pkg/provider/llm"
	"github.com/echogarden-io/echogarden/pkg/store"
	"github.com/echogarden-io/echogarden/pkg/types"
)

// Verifier implements the verifier registry tool:
// verifier({query, answer, evidence}) -> {verdict, revised_answer?, flagged_claims?}.
//
// Without an LLM configured it falls back to a cheap structural check:
// abstain when the answer is empty or uncited, pass otherwise.
type Verifier struct {
	llmProvider llm.Provider
}

// NewVerifier constructs the verifier tool. llmProvider may be nil.
func NewVerifier(llmProvider llm.Provider) *Verifier {
	return &Verifier{llmProvider: llmProvider}
}

func (t *Verifier) Name() string { return "verifier" }

func (t *Verifier) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"query", "answer", "evidence"},
		"properties": map[string]any{
			"query":    map[string]any{"type": "string"},
			"answer":   map[string]any{"type": "string"},
			"evidence": map[string]any{"type": "array"},
		},
	}
}

func (t *Verifier) OutputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"verdict"},
		"properties": map[string]any{
			"verdict":        map[string]any{"type": "string"},
			"revised_answer": map[string]any{"type": "string"},
			"flagged_claims": map[string]any{"type": "array"},
		},
	}
}

func (t *Verifier) Run(ctx context.Context, in map[string]any) (map[string]any, error) {
	query, _ := in["query"].(string)
	answer, _ := in["answer"].(string)
	evidence := parseEvidence(in["evidence"])

	if strings.TrimSpace(answer) == "" || len(evidence) == 0 {
		return map[string]any{"verdict": string(store.VerdictAbstain)}, nil
	}

	if t.llmProvider != nil {
		if out, err := t.verifyWithLLM(ctx, query, answer, evidence); err == nil {
			return out, nil
		}
		// Fall through to the structural stub check.
	}

	if !strings.Contains(answer, "[") || !strings.Contains(answer, "]") {
		return map[string]any{
			"verdict":        string(store.VerdictAbstain),
			"flagged_claims": []string{"answer contains no citation token"},
		}, nil
	}

	return map[string]any{"verdict": string(store.VerdictPass)}, nil
}

func (t *Verifier) verifyWithLLM(ctx context.Context, query, answer string, evidence []Evidence) (map[string]any, error) {
	evidenceJSON, _ := json.Marshal(evidence)
	resp, err := t.llmProvider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: `Check whether every claim in the answer is supported by the evidence. Respond with ONLY a JSON ` +
			`object of the shape {"verdict":"pass"|"revise"|"abstain","revised_answer":string,"flagged_claims":[string]}. ` +
			`Use "revise" with a corrected revised_answer when a claim is unsupported but fixable from the evidence. ` +
			`Use "abstain" when the evidence does not address the question at all.`,
		Messages: []types.Message{
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nAnswer: %s\n\nEvidence: %s", query, answer, evidenceJSON)},
		},
		Temperature: 0,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, fmt.Errorf("verifier: llm complete: %w", err)
	}

	var parsed struct {
		Verdict       string   `json:"verdict"`
		RevisedAnswer string   `json:"revised_answer"`
		FlaggedClaims []string `json:"flagged_claims"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("verifier: parse llm output: %w", err)
	}

	out := map[string]any{"verdict": parsed.Verdict}
	if parsed.RevisedAnswer != "" {
		out["revised_answer"] = parsed.RevisedAnswer
	}
	if len(parsed.FlaggedClaims) > 0 {
		out["flagged_claims"] = parsed.FlaggedClaims
	}
	return out, nil
}
