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

type blobRepo struct{ pool *pgxpool.Pool }

func (r blobRepo) InsertSource(ctx context.Context, src store.Source) (store.Source, error) {
	if src.SourceID == "" {
		src.SourceID = ids.NewUUID()
	}
	if src.CreatedTs.IsZero() {
		src.CreatedTs = time.Now()
	}

	const q = `
		INSERT INTO sources (source_id, source_type, uri, created_ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (uri) DO NOTHING
		RETURNING source_id, source_type, uri, created_ts`

	row := r.pool.QueryRow(ctx, q, src.SourceID, string(src.Type), src.URI, src.CreatedTs)
	var out store.Source
	var sourceType string
	err := row.Scan(&out.SourceID, &sourceType, &out.URI, &out.CreatedTs)
	out.Type = store.SourceType(sourceType)
	if err == nil {
		return out, nil
	}
	if err != pgx.ErrNoRows {
		return store.Source{}, fmt.Errorf("postgres: blobs: insert source: %w", err)
	}

	const sel = `SELECT source_id, source_type, uri, created_ts FROM sources WHERE uri = $1`
	row = r.pool.QueryRow(ctx, sel, src.URI)
	if err := row.Scan(&out.SourceID, &sourceType, &out.URI, &out.CreatedTs); err != nil {
		return store.Source{}, fmt.Errorf("postgres: blobs: fetch existing source: %w", err)
	}
	out.Type = store.SourceType(sourceType)
	return out, nil
}

func (r blobRepo) InsertBlob(ctx context.Context, blob store.Blob) (store.Blob, error) {
	if blob.BlobID == "" {
		blob.BlobID = ids.NewUUID()
	}
	if blob.CreatedTs.IsZero() {
		blob.CreatedTs = time.Now()
	}

	const q = `
		INSERT INTO blobs (blob_id, sha256, path, mime, size_bytes, source_id, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.pool.Exec(ctx, q, blob.BlobID, blob.SHA256, blob.Path, blob.Mime, blob.SizeBytes, nullIfEmpty(blob.SourceID), blob.CreatedTs); err != nil {
		return store.Blob{}, fmt.Errorf("postgres: blobs: insert blob: %w", err)
	}
	return blob, nil
}

func (r blobRepo) FindBySHA(ctx context.Context, sha256 string) (store.Blob, bool, error) {
	const q = `
		SELECT blob_id, sha256, path, mime, size_bytes, coalesce(source_id, ''), created_ts
		FROM blobs WHERE sha256 = $1 ORDER BY created_ts ASC LIMIT 1`
	b, err := scanBlob(r.pool.QueryRow(ctx, q, sha256))
	if err == pgx.ErrNoRows {
		return store.Blob{}, false, nil
	}
	if err != nil {
		return store.Blob{}, false, fmt.Errorf("postgres: blobs: find by sha: %w", err)
	}
	return b, true, nil
}

func (r blobRepo) Get(ctx context.Context, blobID string) (store.Blob, error) {
	const q = `
		SELECT blob_id, sha256, path, mime, size_bytes, coalesce(source_id, ''), created_ts
		FROM blobs WHERE blob_id = $1`
	b, err := scanBlob(r.pool.QueryRow(ctx, q, blobID))
	if err != nil {
		return store.Blob{}, fmt.Errorf("postgres: blobs: get: %w", err)
	}
	return b, nil
}

func scanBlob(row pgx.Row) (store.Blob, error) {
	var b store.Blob
	if err := row.Scan(&b.BlobID, &b.SHA256, &b.Path, &b.Mime, &b.SizeBytes, &b.SourceID, &b.CreatedTs); err != nil {
		return store.Blob{}, err
	}
	return b, nil
}

func (r blobRepo) GetFileState(ctx context.Context, path string) (store.FileState, bool, error) {
	const q = `SELECT path, mtime_ns, size_bytes, sha256, last_seen_ts FROM file_states WHERE path = $1`
	var fs store.FileState
	err := r.pool.QueryRow(ctx, q, path).Scan(&fs.Path, &fs.MtimeNs, &fs.SizeBytes, &fs.SHA256, &fs.LastSeenTs)
	if err == pgx.ErrNoRows {
		return store.FileState{}, false, nil
	}
	if err != nil {
		return store.FileState{}, false, fmt.Errorf("postgres: blobs: get file state: %w", err)
	}
	return fs, true, nil
}

func (r blobRepo) UpsertFileState(ctx context.Context, fs store.FileState) error {
	const q = `
		INSERT INTO file_states (path, mtime_ns, size_bytes, sha256, last_seen_ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (path) DO UPDATE SET
		    mtime_ns = EXCLUDED.mtime_ns,
		    size_bytes = EXCLUDED.size_bytes,
		    sha256 = EXCLUDED.sha256,
		    last_seen_ts = EXCLUDED.last_seen_ts`
	if _, err := r.pool.Exec(ctx, q, fs.Path, fs.MtimeNs, fs.SizeBytes, fs.SHA256, fs.LastSeenTs); err != nil {
		return fmt.Errorf("postgres: blobs: upsert file state: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
