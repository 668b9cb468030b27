package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echogarden-io/echogarden/pkg/store"
)

func TestCardUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	card := store.MemoryCard{
		Type:    "document",
		Summary: "a note",
		TraceID: "trace-1",
		Metadata: store.CardMetadata{
			BlobID: "blob-1",
		},
	}

	first, err := s.Cards().Upsert(ctx, card)
	require.NoError(t, err)
	require.NotEmpty(t, first.MemoryID)

	second, err := s.Cards().Upsert(ctx, card)
	require.NoError(t, err)
	assert.Equal(t, first.MemoryID, second.MemoryID)

	all, err := s.Cards().List(ctx, store.CardFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCardUpsertDistinctTraceProducesNewCard(t *testing.T) {
	ctx := context.Background()
	s := New()

	base := store.MemoryCard{Metadata: store.CardMetadata{BlobID: "blob-1"}}

	a, err := s.Cards().Upsert(ctx, func() store.MemoryCard { c := base; c.TraceID = "t1"; return c }())
	require.NoError(t, err)
	b, err := s.Cards().Upsert(ctx, func() store.MemoryCard { c := base; c.TraceID = "t2"; return c }())
	require.NoError(t, err)

	assert.NotEqual(t, a.MemoryID, b.MemoryID)
}

func TestBlobFindBySHADedup(t *testing.T) {
	ctx := context.Background()
	s := New()

	b1, err := s.Blobs().InsertBlob(ctx, store.Blob{SHA256: "abc", Path: "/a"})
	require.NoError(t, err)

	found, ok, err := s.Blobs().FindBySHA(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b1.BlobID, found.BlobID)

	_, ok, err = s.Blobs().FindBySHA(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobLeaseFIFOAndBackoff(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	j1, err := s.Jobs().Enqueue(ctx, store.JobTypeIngestBlob, []byte(`{}`), "")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = s.Jobs().Enqueue(ctx, store.JobTypeIngestBlob, []byte(`{}`), "")
	require.NoError(t, err)

	leased, ok, err := s.Jobs().Lease(ctx, "worker-1", []store.JobType{store.JobTypeIngestBlob}, now.Add(time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, j1.JobID, leased.JobID, "lease must return the oldest due job first")

	err = s.Jobs().Fail(ctx, leased.JobID, "boom", now.Add(time.Hour), store.JobError, 1)
	require.NoError(t, err)

	_, ok, err = s.Jobs().Lease(ctx, "worker-1", []store.JobType{store.JobTypeIngestBlob}, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok, "second queued job should now be leasable")

	got, err := s.Jobs().Get(ctx, leased.JobID)
	require.NoError(t, err)
	assert.Equal(t, store.JobError, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestGraphExpandRespectsHopsAndLimits(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Graph().UpsertNodes(ctx, []store.GraphNode{
		{NodeID: "ent:a", Type: store.NodeEntity, Props: map[string]any{"label": "Alice"}},
		{NodeID: "ent:b", Type: store.NodeEntity, Props: map[string]any{"label": "Bob"}},
		{NodeID: "ent:c", Type: store.NodeEntity, Props: map[string]any{"label": "Carol"}},
	})
	require.NoError(t, err)

	_, err = s.Graph().UpsertEdges(ctx, []store.GraphEdge{
		{EdgeID: "e1", From: "ent:a", To: "ent:b", Type: store.EdgeRelatedTo, Weight: 0.9, ValidFrom: time.Now()},
		{EdgeID: "e2", From: "ent:b", To: "ent:c", Type: store.EdgeRelatedTo, Weight: 0.5, ValidFrom: time.Now()},
	})
	require.NoError(t, err)

	sub, err := s.Graph().Expand(ctx, store.ExpandQuery{
		Seeds:     []string{"ent:a"},
		Hops:      1,
		Direction: store.DirBoth,
		MaxNodes:  10,
		MaxEdges:  10,
	})
	require.NoError(t, err)
	assert.Len(t, sub.Edges, 1, "one hop from ent:a should only reach e1")

	sub2, err := s.Graph().Expand(ctx, store.ExpandQuery{
		Seeds:     []string{"ent:a"},
		Hops:      2,
		Direction: store.DirBoth,
		MaxNodes:  10,
		MaxEdges:  10,
	})
	require.NoError(t, err)
	assert.Len(t, sub2.Edges, 2, "two hops from ent:a should reach both edges")
}

func TestGraphEdgeUpsertAccumulatesWeightCappedAtOne(t *testing.T) {
	ctx := context.Background()
	s := New()

	edge := store.GraphEdge{EdgeID: "e1", From: "a", To: "b", Type: store.EdgeMentions, Weight: 0.7, ValidFrom: time.Now()}
	_, err := s.Graph().UpsertEdges(ctx, []store.GraphEdge{edge})
	require.NoError(t, err)
	_, err = s.Graph().UpsertEdges(ctx, []store.GraphEdge{edge})
	require.NoError(t, err)

	sub, err := s.Graph().Neighbors(ctx, "a", store.DirOut, 10)
	require.NoError(t, err)
	require.Len(t, sub.Edges, 1)
	assert.Equal(t, 1.0, sub.Edges[0].Weight)
}

func TestSemanticSearchOrdersByCosineWithDeterministicTieBreak(t *testing.T) {
	ctx := context.Background()
	s := New()

	mkCard := func(id string) store.MemoryCard {
		c, _ := s.Cards().Upsert(ctx, store.MemoryCard{TraceID: id, Metadata: store.CardMetadata{BlobID: id}})
		return c
	}
	a := mkCard("a")
	b := mkCard("b")

	require.NoError(t, s.Cards().InsertEmbeddings(ctx, a.MemoryID, []store.Embedding{
		{Modality: store.ModalityText, Vector: []float32{1, 0}},
	}))
	require.NoError(t, s.Cards().InsertEmbeddings(ctx, b.MemoryID, []store.Embedding{
		{Modality: store.ModalityText, Vector: []float32{1, 0}},
	}))

	results, err := s.Cards().SemanticSearch(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.InDelta(t, results[0].Score, results[1].Score, 1e-9)
	assert.True(t, results[0].Card.MemoryID < results[1].Card.MemoryID, "equal scores must tie-break by memory_id ascending")
}
