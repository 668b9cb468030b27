package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echogarden-io/echogarden/pkg/ids"
	"github.com/echogarden-io/echogarden/pkg/store"
)

type conversationRepo struct{ pool *pgxpool.Pool }

func (r conversationRepo) GetOrCreate(ctx context.Context, conversationID string) (store.Conversation, error) {
	now := time.Now()
	if conversationID == "" {
		conversationID = ids.Prefixed("conv")
	}

	const q = `
		INSERT INTO conversations (conversation_id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (conversation_id) DO NOTHING
		RETURNING conversation_id, created_at, updated_at, title`
	c, err := scanConversation(r.pool.QueryRow(ctx, q, conversationID, now))
	if err == nil {
		return c, nil
	}
	if err != pgx.ErrNoRows {
		return store.Conversation{}, fmt.Errorf("postgres: conversations: get or create: %w", err)
	}

	const sel = `SELECT conversation_id, created_at, updated_at, title FROM conversations WHERE conversation_id = $1`
	existing, err := scanConversation(r.pool.QueryRow(ctx, sel, conversationID))
	if err != nil {
		return store.Conversation{}, fmt.Errorf("postgres: conversations: fetch existing: %w", err)
	}
	return existing, nil
}

func scanConversation(row pgx.Row) (store.Conversation, error) {
	var c store.Conversation
	if err := row.Scan(&c.ConversationID, &c.CreatedAt, &c.UpdatedAt, &c.Title); err != nil {
		return store.Conversation{}, err
	}
	return c, nil
}

func (r conversationRepo) AppendTurn(ctx context.Context, turn store.Turn, citations []store.ChatCitation) (store.Turn, error) {
	if turn.TurnID == "" {
		turn.TurnID = ids.Prefixed("turn")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return store.Turn{}, fmt.Errorf("postgres: conversations: append turn: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const insTurn = `
		INSERT INTO turns (turn_id, conversation_id, user_text, assistant_text, verdict, trace_id, citations_json, evidence_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := tx.Exec(ctx, insTurn, turn.TurnID, turn.ConversationID, turn.UserText, turn.AssistantText,
		string(turn.Verdict), turn.TraceID, defaultJSON(turn.CitationsJSON), defaultJSON(turn.EvidenceJSON), turn.CreatedAt); err != nil {
		return store.Turn{}, fmt.Errorf("postgres: conversations: insert turn: %w", err)
	}

	for i := range citations {
		if citations[i].CitationID == "" {
			citations[i].CitationID = ids.Prefixed("cite")
		}
		citations[i].TurnID = turn.TurnID
		const insCite = `
			INSERT INTO chat_citations (citation_id, turn_id, memory_id, quote, span_start, span_end)
			VALUES ($1, $2, $3, $4, $5, $6)`
		if _, err := tx.Exec(ctx, insCite, citations[i].CitationID, citations[i].TurnID, citations[i].MemoryID,
			citations[i].Quote, citations[i].SpanStart, citations[i].SpanEnd); err != nil {
			return store.Turn{}, fmt.Errorf("postgres: conversations: insert citation: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE conversation_id = $1`, turn.ConversationID, turn.CreatedAt); err != nil {
		return store.Turn{}, fmt.Errorf("postgres: conversations: touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return store.Turn{}, fmt.Errorf("postgres: conversations: append turn: commit: %w", err)
	}
	return turn, nil
}

func defaultJSON(b []byte) []byte {
	if len(b) == 0 {
		return []byte("[]")
	}
	return b
}

func (r conversationRepo) ListConversations(ctx context.Context, limit int) ([]store.Conversation, error) {
	const q = `SELECT conversation_id, created_at, updated_at, title FROM conversations ORDER BY updated_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, q, nonZeroOr(limit, 50))
	if err != nil {
		return nil, fmt.Errorf("postgres: conversations: list: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Conversation, error) {
		return scanConversation(row)
	})
}

func (r conversationRepo) GetConversation(ctx context.Context, conversationID string) (store.Conversation, []store.Turn, error) {
	const selC = `SELECT conversation_id, created_at, updated_at, title FROM conversations WHERE conversation_id = $1`
	c, err := scanConversation(r.pool.QueryRow(ctx, selC, conversationID))
	if err != nil {
		return store.Conversation{}, nil, fmt.Errorf("postgres: conversations: get: %w", err)
	}

	const selT = `
		SELECT turn_id, conversation_id, user_text, assistant_text, verdict, trace_id, citations_json, evidence_json, created_at
		FROM turns WHERE conversation_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, selT, conversationID)
	if err != nil {
		return store.Conversation{}, nil, fmt.Errorf("postgres: conversations: list turns: %w", err)
	}
	defer rows.Close()

	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Turn, error) {
		var t store.Turn
		var verdict string
		if err := row.Scan(&t.TurnID, &t.ConversationID, &t.UserText, &t.AssistantText, &verdict, &t.TraceID, &t.CitationsJSON, &t.EvidenceJSON, &t.CreatedAt); err != nil {
			return store.Turn{}, err
		}
		t.Verdict = store.Verdict(verdict)
		return t, nil
	})
	if err != nil {
		return store.Conversation{}, nil, fmt.Errorf("postgres: conversations: scan turns: %w", err)
	}
	return c, turns, nil
}

// search history

type searchHistoryRepo struct{ pool *pgxpool.Pool }

func (r searchHistoryRepo) Record(ctx context.Context, q store.SearchQuery) error {
	if q.SearchID == "" {
		q.SearchID = ids.Prefixed("search")
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	const ins = `
		INSERT INTO search_queries (search_id, query_text, filters, result_count, trace_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.pool.Exec(ctx, ins, q.SearchID, q.QueryText, defaultJSON(q.Filters), q.ResultCount, q.TraceID, q.CreatedAt); err != nil {
		return fmt.Errorf("postgres: search history: record: %w", err)
	}
	return nil
}

func (r searchHistoryRepo) Recent(ctx context.Context, limit int) ([]store.SearchQuery, error) {
	const q = `
		SELECT search_id, query_text, filters, result_count, trace_id, created_at
		FROM search_queries ORDER BY created_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, q, nonZeroOr(limit, 50))
	if err != nil {
		return nil, fmt.Errorf("postgres: search history: recent: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SearchQuery, error) {
		var sq store.SearchQuery
		if err := row.Scan(&sq.SearchID, &sq.QueryText, &sq.Filters, &sq.ResultCount, &sq.TraceID, &sq.CreatedAt); err != nil {
			return store.SearchQuery{}, err
		}
		return sq, nil
	})
}
