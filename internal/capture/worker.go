package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/echogarden-io/echogarden/internal/ingest"
	"github.com/echogarden-io/echogarden/pkg/store"
)

const (
	defaultMaxAttempts  = 5
	defaultWorkerCount  = 2
	defaultLeaseBackoff = 250 * time.Millisecond
)

// WorkerPool leases ingest_blob jobs from the queue and runs them through
// the ingest orchestrator, applying exponential backoff on failure:
// next_run_ts = now + min(60s * 2^attempts, 1h).
type WorkerPool struct {
	jobs         store.JobRepo
	orchestrator *ingest.Orchestrator
	log          *slog.Logger

	workerCount int
	maxAttempts int

	wg sync.WaitGroup
}

// WorkerOption configures a WorkerPool.
type WorkerOption func(*WorkerPool)

// WithWorkerCount overrides the default worker count (2).
func WithWorkerCount(n int) WorkerOption {
	return func(p *WorkerPool) {
		if n > 0 {
			p.workerCount = n
		}
	}
}

// WithMaxAttempts overrides the default max attempts (5) before a job is
// marked dead.
func WithMaxAttempts(n int) WorkerOption {
	return func(p *WorkerPool) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// NewWorkerPool constructs a WorkerPool.
func NewWorkerPool(jobs store.JobRepo, orchestrator *ingest.Orchestrator, log *slog.Logger, opts ...WorkerOption) *WorkerPool {
	if log == nil {
		log = slog.Default()
	}
	p := &WorkerPool{
		jobs:         jobs,
		orchestrator: orchestrator,
		log:          log,
		workerCount:  defaultWorkerCount,
		maxAttempts:  defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches workerCount goroutines that lease and process jobs until
// ctx is cancelled. Call Wait after cancelling ctx to block until they exit.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go p.run(ctx, workerID)
	}
}

// Wait blocks until every worker goroutine has exited.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, workerID string) {
	defer p.wg.Done()

	ticker := time.NewTicker(defaultLeaseBackoff)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for p.leaseAndProcessOne(ctx, workerID) {
				// keep draining while jobs are due
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

// leaseAndProcessOne leases and processes at most one job, returning true if
// a job was found (so the caller can keep draining the queue).
func (p *WorkerPool) leaseAndProcessOne(ctx context.Context, workerID string) bool {
	job, ok, err := p.jobs.Lease(ctx, workerID, []store.JobType{store.JobTypeIngestBlob}, time.Now())
	if err != nil {
		p.log.Warn("capture: lease failed", "worker", workerID, "error", err)
		return false
	}
	if !ok {
		return false
	}

	if err := p.process(ctx, job); err != nil {
		p.fail(ctx, job, err)
		return true
	}

	if err := p.jobs.Complete(ctx, job.JobID); err != nil {
		p.log.Warn("capture: complete failed", "job_id", job.JobID, "error", err)
	}
	return true
}

func (p *WorkerPool) process(ctx context.Context, job store.Job) error {
	var payload store.IngestBlobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("capture: unmarshal job payload: %w", err)
	}

	_, err := p.orchestrator.IngestBlob(ctx, ingest.Payload{
		BlobID:    payload.BlobID,
		SHA256:    payload.SHA256,
		Mime:      payload.Mime,
		SizeBytes: payload.SizeBytes,
		TraceID:   payload.TraceID,
	})
	return err
}

func (p *WorkerPool) fail(ctx context.Context, job store.Job, cause error) {
	attempts := job.Attempts + 1
	status := store.JobError
	if attempts >= p.maxAttempts {
		status = store.JobDead
	}

	backoff := time.Duration(math.Min(float64(60*time.Second)*math.Pow(2, float64(attempts)), float64(time.Hour)))
	nextRunTs := time.Now().Add(backoff)

	if err := p.jobs.Fail(ctx, job.JobID, cause.Error(), nextRunTs, status, attempts); err != nil {
		p.log.Warn("capture: fail failed", "job_id", job.JobID, "error", err)
	}
	p.log.Warn("capture: job failed", "job_id", job.JobID, "attempts", attempts, "status", status, "error", cause)
}
