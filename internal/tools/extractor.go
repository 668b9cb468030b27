package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/pkg/provider/llm"
	"github.com/echogarden-io/echogarden/pkg/types"
)

const (
	maxEntities = 30
	maxTags     = 12
	maxActions  = 10
)

// extractedEntity mirrors the entities[] element of the extractor contract.
type extractedEntity struct {
	Canonical string `json:"canonical"`
	Type      string `json:"type"`
}

// Extractor implements the extractor registry tool:
// extractor({text}) -> {entities, tags, actions}, capped at 30/12/10.
//
// With an LLM configured it asks for structured JSON; otherwise it falls
// back to a deterministic heuristic extraction so the pipeline never stalls
// on a missing model.
type Extractor struct {
	llmProvider llm.Provider
}

// NewExtractor constructs the extractor tool. llmProvider may be nil.
func NewExtractor(llmProvider llm.Provider) *Extractor {
	return &Extractor{llmProvider: llmProvider}
}

func (t *Extractor) Name() string { return "extractor" }

func (t *Extractor) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   []string{"text"},
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
	}
}

func (t *Extractor) OutputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"entities", "tags", "actions"},
		"properties": map[string]any{
			"entities": map[string]any{"type": "array"},
			"tags":     map[string]any{"type": "array"},
			"actions":  map[string]any{"type": "array"},
		},
	}
}

func (t *Extractor) Run(ctx context.Context, in map[string]any) (map[string]any, error) {
	text, _ := in["text"].(string)
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.InvalidInput, "extractor: text must not be empty")
	}

	if t.llmProvider != nil {
		if entities, tags, actions, err := t.extractWithLLM(ctx, text); err == nil {
			return toOutput(entities, tags, actions), nil
		}
	}

	entities := heuristicEntities(text)
	tags := heuristicTags(text)
	actions := heuristicActions(text)
	return toOutput(entities, tags, actions), nil
}

func toOutput(entities []extractedEntity, tags, actions []string) map[string]any {
	if len(entities) > maxEntities {
		entities = entities[:maxEntities]
	}
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	if len(actions) > maxActions {
		actions = actions[:maxActions]
	}
	rawEntities := make([]map[string]any, len(entities))
	for i, e := range entities {
		rawEntities[i] = map[string]any{"canonical": e.Canonical, "type": e.Type}
	}
	return map[string]any{"entities": rawEntities, "tags": tags, "actions": actions}
}

func (t *Extractor) extractWithLLM(ctx context.Context, text string) (entities []extractedEntity, tags, actions []string, err error) {
	resp, err := t.llmProvider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: `Extract structured metadata from the user's text and respond with ONLY a JSON object of the shape ` +
			`{"entities":[{"canonical":string,"type":string}],"tags":[string],"actions":[string]}. ` +
			fmt.Sprintf("At most %d entities, %d tags, %d actions.", maxEntities, maxTags, maxActions),
		Messages:    []types.Message{{Role: "user", Content: text}},
		Temperature: 0,
		MaxTokens:   600,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("extractor: llm complete: %w", err)
	}

	var parsed struct {
		Entities []extractedEntity `json:"entities"`
		Tags     []string          `json:"tags"`
		Actions  []string          `json:"actions"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &parsed); err != nil {
		return nil, nil, nil, fmt.Errorf("extractor: parse llm output: %w", err)
	}
	return parsed.Entities, parsed.Tags, parsed.Actions, nil
}

var capitalizedRunRe = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*)*)\b`)

// heuristicEntities treats runs of capitalized words as candidate proper
// nouns, deduplicated in first-seen order.
func heuristicEntities(text string) []extractedEntity {
	seen := map[string]bool{}
	var out []extractedEntity
	for _, m := range capitalizedRunRe.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, extractedEntity{Canonical: m, Type: "Entity"})
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "to": true,
	"of": true, "in": true, "on": true, "for": true, "with": true, "at": true,
	"by": true, "from": true, "this": true, "that": true, "it": true, "as": true,
}

var wordRe = regexp.MustCompile(`[a-zA-Z']+`)

// heuristicTags ranks lowercase words (excluding stopwords) by frequency.
func heuristicTags(text string) []string {
	counts := map[string]int{}
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if len(w) < 4 || stopWords[w] {
			continue
		}
		counts[w]++
	}
	type kv struct {
		word  string
		count int
	}
	kvs := make([]kv, 0, len(counts))
	for w, c := range counts {
		kvs = append(kvs, kv{w, c})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].count != kvs[j].count {
			return kvs[i].count > kvs[j].count
		}
		return kvs[i].word < kvs[j].word
	})
	tags := make([]string, 0, maxTags)
	for _, e := range kvs {
		tags = append(tags, e.word)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

var actionVerbs = []string{"should", "need to", "must", "will", "todo", "remember to", "plan to"}

// heuristicActions picks sentences containing an imperative/action cue.
func heuristicActions(text string) []string {
	sentences := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' || r == '\n' })
	var out []string
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		lower := strings.ToLower(s)
		for _, verb := range actionVerbs {
			if strings.Contains(lower, verb) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
