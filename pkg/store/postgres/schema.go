// Package postgres provides a PostgreSQL + pgvector backed implementation of
// store.Store. A single pgxpool.Pool backs every repository; Migrate installs
// the pgvector extension and every table idempotently on startup.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { ... }
//	defer st.Close()
//
//	card, err := st.Cards().Upsert(ctx, card)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSourcesBlobs = `
CREATE TABLE IF NOT EXISTS sources (
    source_id   TEXT        PRIMARY KEY,
    source_type TEXT        NOT NULL,
    uri         TEXT        NOT NULL UNIQUE,
    created_ts  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS blobs (
    blob_id     TEXT        PRIMARY KEY,
    sha256      TEXT        NOT NULL,
    path        TEXT        NOT NULL,
    mime        TEXT        NOT NULL DEFAULT '',
    size_bytes  BIGINT      NOT NULL DEFAULT 0,
    source_id   TEXT        REFERENCES sources (source_id),
    created_ts  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_blobs_sha256 ON blobs (sha256);

CREATE TABLE IF NOT EXISTS file_states (
    path          TEXT        PRIMARY KEY,
    mtime_ns      BIGINT      NOT NULL,
    size_bytes    BIGINT      NOT NULL,
    sha256        TEXT        NOT NULL,
    last_seen_ts  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const ddlJobs = `
CREATE TABLE IF NOT EXISTS jobs (
    job_id       TEXT        PRIMARY KEY,
    type         TEXT        NOT NULL,
    status       TEXT        NOT NULL DEFAULT 'queued',
    attempts     INT         NOT NULL DEFAULT 0,
    next_run_ts  TIMESTAMPTZ NOT NULL DEFAULT now(),
    payload      JSONB       NOT NULL DEFAULT '{}',
    error_text   TEXT        NOT NULL DEFAULT '',
    trace_id     TEXT        NOT NULL DEFAULT '',
    created_ts   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_ts   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_lease
    ON jobs (type, status, next_run_ts, created_ts);
`

func ddlCards(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_cards (
    memory_id     TEXT        PRIMARY KEY,
    type          TEXT        NOT NULL,
    source_time   TIMESTAMPTZ NOT NULL DEFAULT now(),
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    summary       TEXT        NOT NULL DEFAULT '',
    content_text  TEXT        NOT NULL DEFAULT '',
    metadata      JSONB       NOT NULL DEFAULT '{}',
    blob_id       TEXT        NOT NULL DEFAULT '',
    trace_id      TEXT        NOT NULL DEFAULT '',
    fts           tsvector GENERATED ALWAYS AS (
                      to_tsvector('english', coalesce(summary, '') || ' ' || coalesce(content_text, ''))
                  ) STORED,
    UNIQUE (blob_id, trace_id)
);

CREATE INDEX IF NOT EXISTS idx_memory_cards_created_at ON memory_cards (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memory_cards_fts ON memory_cards USING GIN (fts);

CREATE TABLE IF NOT EXISTS embeddings (
    embedding_id TEXT        PRIMARY KEY,
    memory_id    TEXT        NOT NULL REFERENCES memory_cards (memory_id) ON DELETE CASCADE,
    modality     TEXT        NOT NULL,
    vector_ref   TEXT        NOT NULL DEFAULT '',
    vector       vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_embeddings_memory_id ON embeddings (memory_id);
CREATE INDEX IF NOT EXISTS idx_embeddings_vector
    ON embeddings USING hnsw (vector vector_cosine_ops);
`, embeddingDimensions)
}

const ddlGraph = `
CREATE TABLE IF NOT EXISTS graph_nodes (
    node_id    TEXT        PRIMARY KEY,
    node_type  TEXT        NOT NULL,
    props      JSONB       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_graph_nodes_type ON graph_nodes (node_type);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_label ON graph_nodes ((props->>'label'));

CREATE TABLE IF NOT EXISTS graph_edges (
    edge_id     TEXT        PRIMARY KEY,
    from_node   TEXT        NOT NULL REFERENCES graph_nodes (node_id),
    to_node     TEXT        NOT NULL REFERENCES graph_nodes (node_id),
    edge_type   TEXT        NOT NULL,
    weight      DOUBLE PRECISION NOT NULL DEFAULT 0,
    valid_from  TIMESTAMPTZ NOT NULL DEFAULT now(),
    valid_to    TIMESTAMPTZ,
    provenance  JSONB       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_graph_edges_from ON graph_edges (from_node);
CREATE INDEX IF NOT EXISTS idx_graph_edges_to ON graph_edges (to_node);
CREATE INDEX IF NOT EXISTS idx_graph_edges_type ON graph_edges (edge_type);
`

const ddlExec = `
CREATE TABLE IF NOT EXISTS exec_traces (
    trace_id     TEXT        PRIMARY KEY,
    started_ts   TIMESTAMPTZ NOT NULL DEFAULT now(),
    finished_ts  TIMESTAMPTZ,
    status       TEXT        NOT NULL DEFAULT 'running',
    root_call_id TEXT        NOT NULL DEFAULT '',
    metadata     JSONB       NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS exec_nodes (
    exec_node_id TEXT        PRIMARY KEY,
    trace_id     TEXT        NOT NULL REFERENCES exec_traces (trace_id),
    call_id      TEXT        NOT NULL DEFAULT '',
    state        TEXT        NOT NULL DEFAULT 'pending',
    attempt      INT         NOT NULL DEFAULT 1,
    timeout_ms   INT         NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_exec_nodes_trace ON exec_nodes (trace_id);

CREATE TABLE IF NOT EXISTS exec_edges (
    from_exec_node TEXT NOT NULL REFERENCES exec_nodes (exec_node_id),
    to_exec_node   TEXT NOT NULL REFERENCES exec_nodes (exec_node_id),
    condition      TEXT NOT NULL DEFAULT 'always',
    PRIMARY KEY (from_exec_node, to_exec_node)
);

CREATE TABLE IF NOT EXISTS tool_calls (
    call_id    TEXT        PRIMARY KEY,
    tool_name  TEXT        NOT NULL,
    ts         TIMESTAMPTZ NOT NULL DEFAULT now(),
    inputs     JSONB       NOT NULL DEFAULT '{}',
    outputs    JSONB       NOT NULL DEFAULT '{}',
    status     TEXT        NOT NULL DEFAULT 'ok',
    trace_id   TEXT        NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tool_calls_trace ON tool_calls (trace_id);
CREATE INDEX IF NOT EXISTS idx_tool_calls_ts ON tool_calls (ts DESC);
`

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    conversation_id TEXT        PRIMARY KEY,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    title           TEXT        NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS turns (
    turn_id         TEXT        PRIMARY KEY,
    conversation_id TEXT        NOT NULL REFERENCES conversations (conversation_id),
    user_text       TEXT        NOT NULL DEFAULT '',
    assistant_text  TEXT        NOT NULL DEFAULT '',
    verdict         TEXT        NOT NULL DEFAULT '',
    trace_id        TEXT        NOT NULL DEFAULT '',
    citations_json  JSONB       NOT NULL DEFAULT '[]',
    evidence_json   JSONB       NOT NULL DEFAULT '[]',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns (conversation_id, created_at);

CREATE TABLE IF NOT EXISTS chat_citations (
    citation_id TEXT    PRIMARY KEY,
    turn_id     TEXT    NOT NULL REFERENCES turns (turn_id),
    memory_id   TEXT    NOT NULL,
    quote       TEXT    NOT NULL DEFAULT '',
    span_start  INT     NOT NULL DEFAULT 0,
    span_end    INT     NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_chat_citations_turn ON chat_citations (turn_id);

CREATE TABLE IF NOT EXISTS search_queries (
    search_id     TEXT        PRIMARY KEY,
    query_text    TEXT        NOT NULL DEFAULT '',
    filters       JSONB       NOT NULL DEFAULT '{}',
    result_count  INT         NOT NULL DEFAULT 0,
    trace_id      TEXT        NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_search_queries_created_at ON search_queries (created_at DESC);
`

// Migrate creates every table and extension EchoGarden needs. It is
// idempotent and safe to call on every process start.
//
// embeddingDimensions must match the configured text-embedding model's
// output dimension (e.g. 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing it after the first migration requires a
// manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlSourcesBlobs,
		ddlJobs,
		ddlCards(embeddingDimensions),
		ddlGraph,
		ddlExec,
		ddlConversations,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
