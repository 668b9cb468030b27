package tools_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echogarden-io/echogarden/internal/graphsvc"
	"github.com/echogarden-io/echogarden/internal/retrieval"
	"github.com/echogarden-io/echogarden/internal/tools"
	"github.com/echogarden-io/echogarden/pkg/store"
	"github.com/echogarden-io/echogarden/pkg/store/memstore"
)

func TestSummarizerStubModeTruncatesTo400Chars(t *testing.T) {
	s := tools.NewSummarizer(nil, "")
	longText := ""
	for i := 0; i < 100; i++ {
		longText += "EchoGarden keeps a local-first knowledge garden growing steadily. "
	}

	out, err := s.Run(context.Background(), map[string]any{"text": longText})
	require.NoError(t, err)
	summary, _ := out["summary"].(string)
	assert.LessOrEqual(t, len(summary), 400)
	assert.NotEmpty(t, summary)
}

func TestSummarizerRejectsEmptyText(t *testing.T) {
	s := tools.NewSummarizer(nil, "")
	_, err := s.Run(context.Background(), map[string]any{"text": ""})
	assert.Error(t, err)
}

func TestExtractorHeuristicCapsAllThreeLists(t *testing.T) {
	ex := tools.NewExtractor(nil)
	text := "Alice Johnson met Bob Smith at Acme Corp. I should remember to follow up. I must plan to reply."
	out, err := ex.Run(context.Background(), map[string]any{"text": text})
	require.NoError(t, err)

	entities, _ := out["entities"].([]map[string]any)
	tags, _ := out["tags"].([]string)
	actions, _ := out["actions"].([]string)
	assert.LessOrEqual(t, len(entities), 30)
	assert.LessOrEqual(t, len(tags), 12)
	assert.LessOrEqual(t, len(actions), 10)
	assert.NotEmpty(t, entities)
}

func TestWeaverStubDigestCitesEveryEvidenceItem(t *testing.T) {
	w := tools.NewWeaver(nil)
	out, err := w.Run(context.Background(), map[string]any{
		"query": "What is EchoGarden?",
		"evidence": []any{
			map[string]any{"memory_id": "mem1", "summary": "EchoGarden is a local-first knowledge garden.", "snippet": "..."},
		},
	})
	require.NoError(t, err)
	cited, _ := out["cited_memory_ids"].([]string)
	require.Len(t, cited, 1)
	assert.Equal(t, "mem1", cited[0])
	answer, _ := out["answer"].(string)
	assert.Contains(t, answer, "[")
}

func TestVerifierAbstainsWithNoEvidence(t *testing.T) {
	v := tools.NewVerifier(nil)
	out, err := v.Run(context.Background(), map[string]any{
		"query":    "anything",
		"answer":   "some answer",
		"evidence": []any{},
	})
	require.NoError(t, err)
	assert.Equal(t, "abstain", out["verdict"])
}

func TestVerifierPassesWhenAnswerCitesEvidence(t *testing.T) {
	v := tools.NewVerifier(nil)
	out, err := v.Run(context.Background(), map[string]any{
		"query":  "What is EchoGarden?",
		"answer": "EchoGarden is a knowledge garden [EchoGarden is a local-first knowledge].",
		"evidence": []any{
			map[string]any{"memory_id": "mem1", "summary": "EchoGarden is a local-first knowledge garden."},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "pass", out["verdict"])
}

func TestGraphBuilderUpsertsMemoryCardAndEntityNodes(t *testing.T) {
	ms := memstore.New()
	svc := graphsvc.New(ms.Graph())
	gb := tools.NewGraphBuilder(svc)

	out, err := gb.Run(context.Background(), map[string]any{
		"memory_id": "mem1",
		"entities": []any{
			map[string]any{"canonical": "Acme Corp", "type": "Organization"},
		},
	})
	require.NoError(t, err)
	nodes, _ := out["nodes"].([]map[string]any)
	edges, _ := out["edges"].([]map[string]any)
	assert.Len(t, nodes, 2) // mem: node + ent: node
	assert.Len(t, edges, 1)

	node, ok, err := ms.Graph().GetNode(context.Background(), "mem:mem1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.NodeMemoryCard, node.Type)
}

func TestRetrievalToolReturnsFTSOnlyWithoutEmbedder(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()

	_, err := ms.Cards().Upsert(ctx, store.MemoryCard{
		MemoryID:    "mem1",
		Summary:     "EchoGarden is a local-first knowledge garden.",
		ContentText: "EchoGarden is a local-first knowledge garden.",
		CreatedAt:   time.Now(),
		TraceID:     "t1",
	})
	require.NoError(t, err)

	retriever := retrieval.New(ms.Cards(), ms.Graph(), nil)
	r := tools.NewRetrieval(retriever)

	out, err := r.Run(ctx, map[string]any{"query": "knowledge garden", "top_k": float64(5)})
	require.NoError(t, err)
	assert.Equal(t, "fts_only", out["trace"])
	results, _ := out["results"].([]map[string]any)
	require.NotEmpty(t, results)
	assert.Equal(t, "mem1", results[0]["memory_id"])
}
