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

type jobRepo struct{ pool *pgxpool.Pool }

func (r jobRepo) Enqueue(ctx context.Context, jobType store.JobType, payload []byte, traceID string) (store.Job, error) {
	now := time.Now()
	job := store.Job{
		JobID:     ids.Prefixed("job"),
		Type:      jobType,
		Status:    store.JobQueued,
		Payload:   payload,
		TraceID:   traceID,
		NextRunTs: now,
		CreatedTs: now,
		UpdatedTs: now,
	}
	const q = `
		INSERT INTO jobs (job_id, type, status, attempts, next_run_ts, payload, error_text, trace_id, created_ts, updated_ts)
		VALUES ($1, $2, $3, 0, $4, $5, '', $6, $7, $7)`
	if _, err := r.pool.Exec(ctx, q, job.JobID, string(job.Type), string(job.Status), job.NextRunTs, job.Payload, job.TraceID, job.CreatedTs); err != nil {
		return store.Job{}, fmt.Errorf("postgres: jobs: enqueue: %w", err)
	}
	return job, nil
}

// Lease selects and marks running the oldest due job of one of the given
// types in a single statement, using SELECT ... FOR UPDATE SKIP LOCKED so
// that concurrent workers never double-lease the same row.
func (r jobRepo) Lease(ctx context.Context, workerID string, types []store.JobType, now time.Time) (store.Job, bool, error) {
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return store.Job{}, false, fmt.Errorf("postgres: jobs: lease: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const sel = `
		SELECT job_id FROM jobs
		WHERE (cardinality($1::text[]) = 0 OR type = ANY($1))
		  AND status IN ('queued', 'error')
		  AND next_run_ts <= $2
		ORDER BY created_ts ASC, job_id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var jobID string
	err = tx.QueryRow(ctx, sel, typeNames, now).Scan(&jobID)
	if err == pgx.ErrNoRows {
		return store.Job{}, false, nil
	}
	if err != nil {
		return store.Job{}, false, fmt.Errorf("postgres: jobs: lease: select: %w", err)
	}

	const upd = `
		UPDATE jobs SET status = 'running', updated_ts = $2 WHERE job_id = $1
		RETURNING job_id, type, status, attempts, next_run_ts, payload, error_text, trace_id, created_ts, updated_ts`
	job, err := scanJob(tx.QueryRow(ctx, upd, jobID, now))
	if err != nil {
		return store.Job{}, false, fmt.Errorf("postgres: jobs: lease: update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return store.Job{}, false, fmt.Errorf("postgres: jobs: lease: commit: %w", err)
	}
	return job, true, nil
}

func scanJob(row pgx.Row) (store.Job, error) {
	var (
		j      store.Job
		typ    string
		status string
	)
	if err := row.Scan(&j.JobID, &typ, &status, &j.Attempts, &j.NextRunTs, &j.Payload, &j.ErrorText, &j.TraceID, &j.CreatedTs, &j.UpdatedTs); err != nil {
		return store.Job{}, err
	}
	j.Type = store.JobType(typ)
	j.Status = store.JobStatus(status)
	return j, nil
}

func (r jobRepo) Complete(ctx context.Context, jobID string) error {
	const q = `UPDATE jobs SET status = 'done', updated_ts = now() WHERE job_id = $1`
	tag, err := r.pool.Exec(ctx, q, jobID)
	if err != nil {
		return fmt.Errorf("postgres: jobs: complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: jobs: complete: job %q not found", jobID)
	}
	return nil
}

func (r jobRepo) Fail(ctx context.Context, jobID string, errText string, nextRunTs time.Time, status store.JobStatus, attempts int) error {
	const q = `
		UPDATE jobs SET status = $2, error_text = $3, next_run_ts = $4, attempts = $5, updated_ts = now()
		WHERE job_id = $1`
	tag, err := r.pool.Exec(ctx, q, jobID, string(status), errText, nextRunTs, attempts)
	if err != nil {
		return fmt.Errorf("postgres: jobs: fail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: jobs: fail: job %q not found", jobID)
	}
	return nil
}

func (r jobRepo) Get(ctx context.Context, jobID string) (store.Job, error) {
	const q = `
		SELECT job_id, type, status, attempts, next_run_ts, payload, error_text, trace_id, created_ts, updated_ts
		FROM jobs WHERE job_id = $1`
	j, err := scanJob(r.pool.QueryRow(ctx, q, jobID))
	if err != nil {
		return store.Job{}, fmt.Errorf("postgres: jobs: get: %w", err)
	}
	return j, nil
}

func (r jobRepo) List(ctx context.Context, status store.JobStatus, limit int) ([]store.Job, error) {
	args := []any{}
	where := ""
	if status != "" {
		args = append(args, string(status))
		where = "WHERE status = $1"
	}
	args = append(args, nonZeroOr(limit, 50))
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT job_id, type, status, attempts, next_run_ts, payload, error_text, trace_id, created_ts, updated_ts
		FROM jobs %s ORDER BY created_ts DESC LIMIT %s`, where, limitArg)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: jobs: list: %w", err)
	}
	defer rows.Close()

	var out []store.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: jobs: scan: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
