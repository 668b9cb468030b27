package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echogarden-io/echogarden/pkg/store"
	"github.com/echogarden-io/echogarden/pkg/store/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if ECHOGARDEN_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("ECHOGARDEN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ECHOGARDEN_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	st, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	return pool
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS chat_citations CASCADE",
		"DROP TABLE IF EXISTS turns CASCADE",
		"DROP TABLE IF EXISTS conversations CASCADE",
		"DROP TABLE IF EXISTS search_queries CASCADE",
		"DROP TABLE IF EXISTS tool_calls CASCADE",
		"DROP TABLE IF EXISTS exec_edges CASCADE",
		"DROP TABLE IF EXISTS exec_nodes CASCADE",
		"DROP TABLE IF EXISTS exec_traces CASCADE",
		"DROP TABLE IF EXISTS graph_edges CASCADE",
		"DROP TABLE IF EXISTS graph_nodes CASCADE",
		"DROP TABLE IF EXISTS embeddings CASCADE",
		"DROP TABLE IF EXISTS memory_cards CASCADE",
		"DROP TABLE IF EXISTS jobs CASCADE",
		"DROP TABLE IF EXISTS file_states CASCADE",
		"DROP TABLE IF EXISTS blobs CASCADE",
		"DROP TABLE IF EXISTS sources CASCADE",
	} {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err, stmt)
	}
}

func TestCardsUpsertIdempotentByBlobAndTrace(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	card := store.MemoryCard{
		Type:     "document",
		Summary:  "first pass",
		TraceID:  "trace-1",
		Metadata: store.CardMetadata{BlobID: "blob-1"},
	}

	first, err := st.Cards().Upsert(ctx, card)
	require.NoError(t, err)

	card.Summary = "second pass, should be ignored"
	second, err := st.Cards().Upsert(ctx, card)
	require.NoError(t, err)

	assert.Equal(t, first.MemoryID, second.MemoryID)
	assert.Equal(t, "first pass", second.Summary)
}

func TestBlobsFindBySHADeduplicates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	src, err := st.Blobs().InsertSource(ctx, store.Source{Type: store.SourceFilesystem, URI: "file:///watch"})
	require.NoError(t, err)

	b, err := st.Blobs().InsertBlob(ctx, store.Blob{SHA256: "deadbeef", Path: "/watch/a.txt", SourceID: src.SourceID})
	require.NoError(t, err)

	found, ok, err := st.Blobs().FindBySHA(ctx, "deadbeef")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b.BlobID, found.BlobID)
}

func TestJobsLeaseIsExclusiveUnderConcurrency(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Jobs().Enqueue(ctx, store.JobTypeIngestBlob, []byte(`{}`), "")
	require.NoError(t, err)

	now := time.Now().Add(time.Second)
	results := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, ok, err := st.Jobs().Lease(ctx, "worker", []store.JobType{store.JobTypeIngestBlob}, now)
			require.NoError(t, err)
			results <- ok
		}()
	}

	leased := 0
	for i := 0; i < 4; i++ {
		if <-results {
			leased++
		}
	}
	assert.Equal(t, 1, leased, "exactly one concurrent leaser should win the only queued job")
}

func TestGraphUpsertEdgeAccumulatesWeight(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Graph().UpsertNodes(ctx, []store.GraphNode{
		{NodeID: "ent:alice", Type: store.NodeEntity, Props: map[string]any{"label": "Alice"}},
		{NodeID: "ent:bob", Type: store.NodeEntity, Props: map[string]any{"label": "Bob"}},
	})
	require.NoError(t, err)

	edge := store.GraphEdge{EdgeID: "e1", From: "ent:alice", To: "ent:bob", Type: store.EdgeRelatedTo, Weight: 0.6, ValidFrom: time.Now()}
	_, err = st.Graph().UpsertEdges(ctx, []store.GraphEdge{edge})
	require.NoError(t, err)
	_, err = st.Graph().UpsertEdges(ctx, []store.GraphEdge{edge})
	require.NoError(t, err)

	sub, err := st.Graph().Neighbors(ctx, "ent:alice", store.DirOut, 10)
	require.NoError(t, err)
	require.Len(t, sub.Edges, 1)
	assert.Equal(t, 1.0, sub.Edges[0].Weight)
}

func TestConversationsAppendTurnPersistsCitations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conv, err := st.Conversations().GetOrCreate(ctx, "")
	require.NoError(t, err)

	_, err = st.Conversations().AppendTurn(ctx, store.Turn{
		ConversationID: conv.ConversationID,
		UserText:       "what did I capture yesterday?",
		AssistantText:  "you saved two notes [note-1]",
		Verdict:        store.VerdictPass,
	}, []store.ChatCitation{
		{MemoryID: "mem-1", Quote: "note-1"},
	})
	require.NoError(t, err)

	_, turns, err := st.Conversations().GetConversation(ctx, conv.ConversationID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, store.VerdictPass, turns[0].Verdict)
}
