package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/echogarden-io/echogarden/pkg/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL-backed store.Store. A single pool is shared by
// every repository; each repo is a thin value type wrapping the pool, so
// construction is cheap and the repos never hold their own connections.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool to dsn, registers pgvector types on every
// connection, and runs Migrate before returning.
//
// embeddingDimensions must match the text-embedding model configured for
// this deployment (see Migrate).
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Cards() store.CardRepo                  { return cardRepo{s.pool} }
func (s *Store) Blobs() store.BlobRepo                  { return blobRepo{s.pool} }
func (s *Store) Graph() store.GraphRepo                 { return graphRepo{s.pool} }
func (s *Store) Exec() store.ExecRepo                   { return execRepo{s.pool} }
func (s *Store) Jobs() store.JobRepo                    { return jobRepo{s.pool} }
func (s *Store) Conversations() store.ConversationRepo  { return conversationRepo{s.pool} }
func (s *Store) SearchHistory() store.SearchHistoryRepo { return searchHistoryRepo{s.pool} }

// Close releases all connections held by the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks that the connection pool can still reach the database. Used by
// the HTTP readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
