package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/echogarden-io/echogarden/pkg/ids"
	"github.com/echogarden-io/echogarden/pkg/store"
)

type cardRepo struct{ pool *pgxpool.Pool }

// Upsert inserts card, relying on the (blob_id, trace_id) UNIQUE constraint
// to make repeated ingestion of the same blob within the same trace a no-op
// that returns the existing row rather than erroring.
func (r cardRepo) Upsert(ctx context.Context, card store.MemoryCard) (store.MemoryCard, error) {
	if card.MemoryID == "" {
		card.MemoryID = ids.Prefixed("mem")
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now()
	}
	if card.SourceTime.IsZero() {
		card.SourceTime = card.CreatedAt
	}

	metadata, err := json.Marshal(card.Metadata)
	if err != nil {
		return store.MemoryCard{}, fmt.Errorf("postgres: cards: marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO memory_cards
		    (memory_id, type, source_time, created_at, summary, content_text, metadata, blob_id, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (blob_id, trace_id) DO NOTHING
		RETURNING memory_id, type, source_time, created_at, summary, content_text, metadata, trace_id`

	row := r.pool.QueryRow(ctx, q,
		card.MemoryID, card.Type, card.SourceTime, card.CreatedAt,
		card.Summary, card.ContentText, metadata, card.Metadata.BlobID, card.TraceID,
	)

	inserted, err := scanCard(row)
	if err == nil {
		return inserted, nil
	}
	if err != pgx.ErrNoRows {
		return store.MemoryCard{}, fmt.Errorf("postgres: cards: upsert: %w", err)
	}

	// ON CONFLICT DO NOTHING produced no row: fetch the existing card.
	const sel = `
		SELECT memory_id, type, source_time, created_at, summary, content_text, metadata, trace_id
		FROM memory_cards WHERE blob_id = $1 AND trace_id = $2`
	existing, err := scanCard(r.pool.QueryRow(ctx, sel, card.Metadata.BlobID, card.TraceID))
	if err != nil {
		return store.MemoryCard{}, fmt.Errorf("postgres: cards: fetch existing: %w", err)
	}
	return existing, nil
}

func scanCard(row pgx.Row) (store.MemoryCard, error) {
	var (
		c        store.MemoryCard
		metadata []byte
	)
	if err := row.Scan(&c.MemoryID, &c.Type, &c.SourceTime, &c.CreatedAt, &c.Summary, &c.ContentText, &metadata, &c.TraceID); err != nil {
		return store.MemoryCard{}, err
	}
	if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
		return store.MemoryCard{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return c, nil
}

func (r cardRepo) Get(ctx context.Context, memoryID string) (store.MemoryCard, error) {
	const q = `
		SELECT memory_id, type, source_time, created_at, summary, content_text, metadata, trace_id
		FROM memory_cards WHERE memory_id = $1`
	c, err := scanCard(r.pool.QueryRow(ctx, q, memoryID))
	if err != nil {
		return store.MemoryCard{}, fmt.Errorf("postgres: cards: get: %w", err)
	}
	return c, nil
}

func (r cardRepo) List(ctx context.Context, filter store.CardFilter) ([]store.MemoryCard, error) {
	return r.query(ctx, "", filter)
}

func (r cardRepo) Search(ctx context.Context, query string, filter store.CardFilter) ([]store.MemoryCard, error) {
	return r.query(ctx, query, filter)
}

// query builds the shared List/Search implementation. When text is empty,
// no full-text predicate is applied.
func (r cardRepo) query(ctx context.Context, text string, filter store.CardFilter) ([]store.MemoryCard, error) {
	args := []any{}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if text != "" {
		conditions = append(conditions, "fts @@ plainto_tsquery('english', "+next(text)+")")
	}
	if filter.SourceType != "" {
		conditions = append(conditions, "metadata->>'source_type' = "+next(filter.SourceType))
	}
	if filter.CardType != "" {
		conditions = append(conditions, "type = "+next(filter.CardType))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	limitArg := fmt.Sprintf("$%d", len(args)-1)
	offsetArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT memory_id, type, source_time, created_at, summary, content_text, metadata, trace_id
		FROM memory_cards
		%s
		ORDER BY created_at DESC
		LIMIT %s OFFSET %s`, where, limitArg, offsetArg)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: cards: query: %w", err)
	}
	defer rows.Close()

	var out []store.MemoryCard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: cards: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r cardRepo) InsertEmbeddings(ctx context.Context, memoryID string, embeddings []store.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range embeddings {
		id := e.EmbeddingID
		if id == "" {
			id = ids.Prefixed("emb")
		}
		batch.Queue(`
			INSERT INTO embeddings (embedding_id, memory_id, modality, vector_ref, vector)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (embedding_id) DO UPDATE SET vector = EXCLUDED.vector`,
			id, memoryID, string(e.Modality), e.VectorRef, pgvector.NewVector(e.Vector))
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range embeddings {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: cards: insert embeddings: %w", err)
		}
	}
	return nil
}

// SemanticSearch returns the topK cards whose text embedding is nearest to
// queryVector, converting pgvector's cosine distance (0=identical) into the
// [0,1] similarity score the retriever expects.
func (r cardRepo) SemanticSearch(ctx context.Context, queryVector []float32, topK int) ([]store.ScoredCard, error) {
	const q = `
		SELECT c.memory_id, c.type, c.source_time, c.created_at, c.summary, c.content_text, c.metadata, c.trace_id,
		       1 - (e.vector <=> $1) AS similarity
		FROM embeddings e
		JOIN memory_cards c ON c.memory_id = e.memory_id
		WHERE e.modality = 'text'
		ORDER BY e.vector <=> $1
		LIMIT $2`

	rows, err := r.pool.Query(ctx, q, pgvector.NewVector(queryVector), topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: cards: semantic search: %w", err)
	}
	defer rows.Close()

	var out []store.ScoredCard
	for rows.Next() {
		var (
			c        store.MemoryCard
			metadata []byte
			score    float64
		)
		if err := rows.Scan(&c.MemoryID, &c.Type, &c.SourceTime, &c.CreatedAt, &c.Summary, &c.ContentText, &metadata, &c.TraceID, &score); err != nil {
			return nil, fmt.Errorf("postgres: cards: scan semantic: %w", err)
		}
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: cards: unmarshal metadata: %w", err)
		}
		out = append(out, store.ScoredCard{Card: c, Score: score})
	}
	return out, rows.Err()
}

func (r cardRepo) Delete(ctx context.Context, memoryID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: cards: delete: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM graph_edges WHERE from_node = $1 OR to_node = $1`, "mem:"+memoryID); err != nil {
		return fmt.Errorf("postgres: cards: delete: edges: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM graph_nodes WHERE node_id = $1`, "mem:"+memoryID); err != nil {
		return fmt.Errorf("postgres: cards: delete: node: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM memory_cards WHERE memory_id = $1`, memoryID); err != nil {
		return fmt.Errorf("postgres: cards: delete: card: %w", err)
	}
	return tx.Commit(ctx)
}
