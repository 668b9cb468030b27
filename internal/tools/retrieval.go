package tools

import (
	"context"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/internal/retrieval"
)

// Retrieval implements the retrieval registry tool:
// retrieval({query, top_k, filters?}) -> {results}.
type Retrieval struct {
	retriever *retrieval.Retriever
}

// NewRetrieval constructs the retrieval tool.
func NewRetrieval(retriever *retrieval.Retriever) *Retrieval {
	return &Retrieval{retriever: retriever}
}

func (t *Retrieval) Name() string { return "retrieval" }

func (t *Retrieval) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"query"},
		"properties": map[string]any{
			"query":   map[string]any{"type": "string"},
			"top_k":   map[string]any{"type": "integer"},
			"filters": map[string]any{"type": "object"},
		},
	}
}

func (t *Retrieval) OutputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   []string{"results"},
		"properties": map[string]any{"results": map[string]any{"type": "array"}},
	}
}

func (t *Retrieval) Run(ctx context.Context, in map[string]any) (map[string]any, error) {
	query, _ := in["query"].(string)
	if query == "" {
		return nil, apperr.New(apperr.InvalidInput, "retrieval: query must not be empty")
	}

	topK := 8
	if v, ok := in["top_k"].(float64); ok && v > 0 {
		topK = int(v)
	}

	var filters retrieval.Filters
	if raw, ok := in["filters"].(map[string]any); ok {
		filters.SourceType, _ = raw["source_type"].(string)
		filters.CardType, _ = raw["card_type"].(string)
	}

	result, err := t.retriever.Retrieve(ctx, query, topK, filters)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "retrieval: retrieve", err)
	}

	results := make([]map[string]any, len(result.Hits))
	for i, hit := range result.Hits {
		results[i] = map[string]any{
			"memory_id":   hit.MemoryID,
			"summary":     hit.Card.Summary,
			"snippet":     hit.Card.ContentText,
			"final_score": hit.FinalScore,
			"reasons":     hit.Reasons,
		}
	}

	return map[string]any{"results": results, "trace": result.Trace}, nil
}
